// Package workflow 画布节点的生成调度：依赖检查、单节点生成与一键并发生成
package workflow

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"LongVideoAssistant/apperr"
	"LongVideoAssistant/logger"
	"LongVideoAssistant/models"
	"LongVideoAssistant/mutator"
	"LongVideoAssistant/observe"

	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/sync/errgroup"
)

// Generator 大模型调用，ai.Client 实现该接口
type Generator interface {
	GenerateText(ctx context.Context, prompt, apiKey, model string) (string, error)
	GenerateJSON(ctx context.Context, prompt string, schema any, apiKey string, out any) error
}

// ProjectStore 项目读写，mutator.Mutator 实现该接口
type ProjectStore interface {
	Project(ctx context.Context, id string) (models.Project, bool, error)
	Update(ctx context.Context, id string, fn mutator.Transformer) (models.Project, error)
	Prompts(ctx context.Context) models.PromptBundle
}

// NodeState 节点的生成状态，两个列表均已排序
type NodeState struct {
	Generating []string `json:"generating"`
	Failed     []string `json:"failed"`
}

// OneClickResult 一键生成的结果，Failed 为任务 id 到用户可读错误的映射
type OneClickResult struct {
	Project models.Project    `json:"project"`
	Failed  map[string]string `json:"failed,omitempty"`
}

// Coordinator 单个项目的节点调度
type Coordinator struct {
	projectID   string
	gen         Generator
	store       ProjectStore
	log         *logger.Logger
	now         func() time.Time
	scriptModel string
	retryWait   time.Duration

	generating mapset.Set[string]
	failed     mapset.Set[string]
	stateMu    sync.Mutex
	state      *observe.Value[NodeState]
}

type Option func(*Coordinator)

// WithScriptModel 文案生成使用的模型，为空时用默认文本模型
func WithScriptModel(model string) Option {
	return func(c *Coordinator) { c.scriptModel = model }
}

// WithRetryWait 一键生成失败后重试前的等待
func WithRetryWait(d time.Duration) Option {
	return func(c *Coordinator) { c.retryWait = d }
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func New(projectID string, gen Generator, store ProjectStore, log *logger.Logger, opts ...Option) *Coordinator {
	if log == nil {
		log = logger.Nop()
	}
	c := &Coordinator{
		projectID:  projectID,
		gen:        gen,
		store:      store,
		log:        log.With("project_id", projectID),
		now:        time.Now,
		retryWait:  time.Second,
		generating: mapset.NewSet[string](),
		failed:     mapset.NewSet[string](),
		state:      observe.NewValue(NodeState{Generating: []string{}, Failed: []string{}}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) ProjectID() string { return c.projectID }

// State 节点状态的订阅源
func (c *Coordinator) State() *observe.Value[NodeState] { return c.state }

// Busy 是否有节点正在生成
func (c *Coordinator) Busy() bool { return c.generating.Cardinality() > 0 }

func (c *Coordinator) publish() {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	gen := c.generating.ToSlice()
	failed := c.failed.ToSlice()
	sort.Strings(gen)
	sort.Strings(failed)
	c.state.Set(NodeState{Generating: gen, Failed: failed})
}

func (c *Coordinator) start(task string) {
	c.generating.Add(task)
	c.failed.Remove(task)
	c.publish()
}

func (c *Coordinator) finish(task string, err error) {
	c.generating.Remove(task)
	if err != nil {
		c.failed.Add(task)
	}
	c.publish()
}

// patch 生成结果对项目的局部修改
type patch func(p *models.Project)

func (c *Coordinator) load(ctx context.Context) (models.Project, error) {
	p, found, err := c.store.Project(ctx, c.projectID)
	if err != nil {
		return models.Project{}, err
	}
	if !found {
		return models.Project{}, apperr.New(apperr.KindNotFound, "项目不存在或已被删除")
	}
	return p, nil
}

// HandleNodeAction 执行单个节点的生成并写回项目
func (c *Coordinator) HandleNodeAction(ctx context.Context, task string) (models.Project, error) {
	spec, ok := models.LookupTask(task)
	if !ok || !spec.Executable {
		return models.Project{}, apperr.New(apperr.KindValidation, "该节点不可执行: "+task)
	}
	if !spec.AI {
		return models.Project{}, apperr.New(apperr.KindValidation, "音频节点请通过上传完成")
	}
	if c.generating.Contains(task) {
		return models.Project{}, apperr.New(apperr.KindValidation, "该节点正在生成中")
	}
	p, err := c.load(ctx)
	if err != nil {
		return models.Project{}, err
	}
	if ok, msg := spec.DependsOn(p); !ok {
		return models.Project{}, apperr.New(apperr.KindDependencyUnmet, msg)
	}

	c.start(task)
	fix, err := c.generate(ctx, spec, p)
	if err != nil {
		c.finish(task, err)
		c.log.Warn("节点生成失败", "task", task, "error", err)
		return models.Project{}, err
	}
	at := c.now().UnixMilli()
	updated, err := c.store.Update(ctx, c.projectID, func(p models.Project) models.Project {
		fix(&p)
		p.Stamp(task, at)
		return p
	})
	c.finish(task, err)
	if err != nil {
		return models.Project{}, err
	}
	c.log.Info("节点生成完成", "task", task)
	return updated, nil
}

// OneClick 并发生成标题、简介与封面。失败的任务等待后重试一次，
// 成功的结果合并为一次写入，单个任务失败不影响其他任务
func (c *Coordinator) OneClick(ctx context.Context) (OneClickResult, error) {
	p, err := c.load(ctx)
	if err != nil {
		return OneClickResult{}, err
	}
	if strings.TrimSpace(p.Script) == "" {
		return OneClickResult{}, apperr.New(apperr.KindDependencyUnmet, "【一键启动】需要先生成视频文案。请先完成文案生成。")
	}
	tasks := models.FanOutTasks
	for _, t := range tasks {
		if c.generating.Contains(t) {
			return OneClickResult{}, apperr.New(apperr.KindValidation, "该节点正在生成中")
		}
	}
	c.generating.Append(tasks...)
	c.failed.RemoveAll(tasks...)
	c.publish()

	fixes := make([]patch, len(tasks))
	errs := make([]error, len(tasks))
	var g errgroup.Group
	for i, task := range tasks {
		i, task := i, task
		g.Go(func() error {
			spec, _ := models.LookupTask(task)
			fix, err := c.generate(ctx, spec, p)
			if err != nil && retryable(err) {
				c.log.Warn("模块第一次生成失败，正在重试", "task", task, "error", err)
				select {
				case <-time.After(c.retryWait):
					fix, err = c.generate(ctx, spec, p)
				case <-ctx.Done():
					err = ctx.Err()
				}
			}
			if err != nil {
				c.log.Error("模块生成失败", "task", task, "error", err)
				errs[i] = err
				c.finish(task, err)
				return nil
			}
			fixes[i] = fix
			return nil
		})
	}
	_ = g.Wait()

	res := OneClickResult{Project: p}
	var done []string
	for i, task := range tasks {
		if errs[i] != nil {
			if res.Failed == nil {
				res.Failed = make(map[string]string)
			}
			res.Failed[task] = apperr.UserMessage(errs[i])
			continue
		}
		done = append(done, task)
	}
	if len(done) == 0 {
		return res, nil
	}

	at := c.now().UnixMilli()
	updated, err := c.store.Update(ctx, c.projectID, func(p models.Project) models.Project {
		for i, task := range tasks {
			if fixes[i] == nil {
				continue
			}
			fixes[i](&p)
			p.Stamp(task, at)
		}
		return p
	})
	for _, task := range done {
		c.finish(task, err)
	}
	if err != nil {
		return res, err
	}
	res.Project = updated
	c.log.Info("一键生成完成", "succeeded", len(done), "failed", len(res.Failed))
	return res, nil
}

// retryable 凭据、提示词与依赖问题重试也不会成功
func retryable(err error) bool {
	if err == nil || err == context.Canceled || err == context.DeadlineExceeded {
		return false
	}
	switch apperr.KindOf(err) {
	case apperr.KindEmptyPrompt, apperr.KindMissingCredential, apperr.KindDependencyUnmet:
		return false
	}
	return true
}

func (c *Coordinator) template(ctx context.Context, key models.PromptKey) string {
	return c.store.Prompts(ctx)[key].Template
}

func projectVars(p models.Project) map[string]string {
	return map[string]string{
		"topic":    p.Inputs.Topic,
		"tone":     p.Inputs.Tone,
		"language": p.Inputs.Language,
		"title":    p.Title,
		"script":   p.Script,
	}
}

// generate 调用大模型，返回对项目的修改；不写入存储
func (c *Coordinator) generate(ctx context.Context, spec models.TaskSpec, p models.Project) (patch, error) {
	prompt := models.Interpolate(c.template(ctx, spec.Prompt), projectVars(p))
	switch spec.ID {
	case models.TaskScript:
		text, err := c.gen.GenerateText(ctx, prompt, "", c.scriptModel)
		if err != nil {
			return nil, err
		}
		return func(p *models.Project) { p.Script = text }, nil
	case models.TaskSummary:
		text, err := c.gen.GenerateText(ctx, prompt, "", "")
		if err != nil {
			return nil, err
		}
		return func(p *models.Project) { p.Summary = text }, nil
	case models.TaskTitles:
		var titles []models.TitleItem
		if err := c.gen.GenerateJSON(ctx, prompt, models.TitlesSchema, "", &titles); err != nil {
			return nil, err
		}
		if len(titles) == 0 {
			return nil, apperr.New(apperr.KindEmptyResponse, "AI 未返回任何标题，请重试。")
		}
		return func(p *models.Project) { p.Titles = titles }, nil
	case models.TaskCover:
		var covers []models.CoverOption
		if err := c.gen.GenerateJSON(ctx, prompt, models.CoverSchema, "", &covers); err != nil {
			return nil, err
		}
		if len(covers) == 0 {
			return nil, apperr.New(apperr.KindEmptyResponse, "AI 未返回任何封面方案，请重试。")
		}
		return func(p *models.Project) { p.CoverOptions = covers }, nil
	}
	return nil, apperr.New(apperr.KindValidation, "该节点不可执行: "+spec.ID)
}
