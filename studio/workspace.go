// Package studio 本地工作台：把本地存储、同步、写入管线、AI 与音频上传组装在一起
package studio

import (
	"context"
	"sync"

	"LongVideoAssistant/ai"
	"LongVideoAssistant/audio"
	"LongVideoAssistant/config"
	"LongVideoAssistant/localstore"
	"LongVideoAssistant/logger"
	"LongVideoAssistant/mutator"
	"LongVideoAssistant/remote"
	"LongVideoAssistant/syncer"
	"LongVideoAssistant/workflow"

	"github.com/spf13/afero"
)

// Workspace 一个数据目录对应一个工作台
type Workspace struct {
	Local     *localstore.Store
	Remote    *remote.Client
	Sync      *syncer.Controller
	Mutator   *mutator.Mutator
	AI        *ai.Client
	Assistant *workflow.Assistant
	Previews  *audio.Previews
	Activity  *syncer.ActivityTracker

	cfg *config.Config
	log *logger.Logger

	mu      sync.Mutex
	coords  map[string]*workflow.Coordinator
	ingests map[string]*audio.Ingest
	ui      UIState

	cancel context.CancelFunc
	done   chan struct{}
}

// Open 打开数据目录并组装各组件；同一目录只能被一个进程打开
func Open(cfg *config.Config, log *logger.Logger) (*Workspace, error) {
	if log == nil {
		log = logger.Nop()
	}
	local, err := localstore.Open(cfg.Studio.DataDir)
	if err != nil {
		return nil, err
	}
	rc := remote.New(cfg.Studio.RemoteBaseURL)
	return assemble(cfg, local, rc, log), nil
}

func assemble(cfg *config.Config, local *localstore.Store, rc *remote.Client, log *logger.Logger) *Workspace {
	sc := syncer.New(local, rc, log.With("component", "syncer"), syncer.WithBatchSize(cfg.Studio.PushBatchSize))
	m := mutator.New(local, sc, rc, log.With("component", "mutator"))
	client := ai.New(ai.Config{
		APIKey:     cfg.AI.APIKey,
		BaseURL:    cfg.AI.BaseURL,
		TextModel:  cfg.AI.TextModel,
		ImageModel: cfg.AI.ImageModel,
		RetryDelay: cfg.AI.RetryDelay,
		MaxRetries: cfg.AI.MaxRetries,
	}, local, log.With("component", "ai"))

	return &Workspace{
		Local:     local,
		Remote:    rc,
		Sync:      sc,
		Mutator:   m,
		AI:        client,
		Assistant: workflow.NewAssistant(client, m, sc, log.With("component", "assistant")),
		Previews:  audio.NewPreviews(afero.NewMemMapFs()),
		Activity:  syncer.NewActivityTracker(nil),
		cfg:       cfg,
		log:       log,
		coords:    make(map[string]*workflow.Coordinator),
		ingests:   make(map[string]*audio.Ingest),
	}
}

// Coordinator 返回项目的节点调度器，不存在时创建
func (w *Workspace) Coordinator(projectID string) *workflow.Coordinator {
	w.mu.Lock()
	defer w.mu.Unlock()
	c, ok := w.coords[projectID]
	if !ok {
		c = workflow.New(projectID, w.AI, w.Mutator, w.log.With("component", "workflow"),
			workflow.WithScriptModel(w.cfg.AI.ScriptModel))
		w.coords[projectID] = c
	}
	return c
}

// Ingest 返回项目的音频上传器，不存在时创建
func (w *Workspace) Ingest(projectID string) *audio.Ingest {
	w.mu.Lock()
	defer w.mu.Unlock()
	in, ok := w.ingests[projectID]
	if !ok {
		in = audio.NewIngest(projectID, w.Remote, w.Mutator, w.Previews, w.log.With("component", "audio"))
		w.ingests[projectID] = in
	}
	return in
}

// UIState 界面上报的忙碌状态：正在拖动画布，或打开了编辑面板
type UIState struct {
	Editing  bool `json:"editing"`
	Dragging bool `json:"dragging"`
}

// SetUIState 整体覆盖界面状态，界面关闭面板或结束拖动时需要再次上报
func (w *Workspace) SetUIState(s UIState) {
	w.mu.Lock()
	w.ui = s
	w.mu.Unlock()
}

func (w *Workspace) UIState() UIState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ui
}

// Busy 有节点生成、音频上传、推送进行中，或界面正在编辑与拖动
func (w *Workspace) Busy() bool {
	if w.Sync.Status().Get().State == syncer.StateSaving {
		return true
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ui.Editing || w.ui.Dragging {
		return true
	}
	for _, c := range w.coords {
		if c.Busy() {
			return true
		}
	}
	for _, in := range w.ingests {
		if in.Busy() {
			return true
		}
	}
	return false
}

// DeleteProject 删除项目并释放它的调度器与预览
func (w *Workspace) DeleteProject(ctx context.Context, id string) error {
	if err := w.Mutator.Delete(ctx, id); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.coords, id)
	if in, ok := w.ingests[id]; ok {
		in.Close()
		delete(w.ingests, id)
	}
	return nil
}

// IdleLoop 空闲同步调度，拉取过程通过同步状态发布
func (w *Workspace) IdleLoop() *syncer.IdleLoop {
	return syncer.NewIdleLoop(w.Sync.BackgroundPull, w.Busy, w.Activity, w.log.With("component", "idle"))
}

// Start 启动后台空闲同步
func (w *Workspace) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	loop := w.IdleLoop()
	go func() {
		defer close(w.done)
		loop.Run(ctx)
	}()
}

// Close 停止后台任务，等待推送结束后关闭本地存储
func (w *Workspace) Close() error {
	if w.cancel != nil {
		w.cancel()
		<-w.done
	}
	w.Sync.Flush()
	w.Mutator.Close()
	w.mu.Lock()
	for _, in := range w.ingests {
		in.Close()
	}
	w.mu.Unlock()
	return w.Local.Close()
}
