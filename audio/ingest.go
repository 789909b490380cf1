package audio

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"LongVideoAssistant/apperr"
	"LongVideoAssistant/logger"
	"LongVideoAssistant/models"
	"LongVideoAssistant/mutator"
	"LongVideoAssistant/observe"
	"LongVideoAssistant/remote"
)

// Uploader 文件上传，remote.Client 实现该接口
type Uploader interface {
	PutBlob(ctx context.Context, projectID, name string, body io.Reader, size int64, contentType string, onProgress remote.ProgressFunc) (string, error)
}

// ProjectStore mutator.Mutator 实现该接口
type ProjectStore interface {
	Update(ctx context.Context, id string, fn mutator.Transformer) (models.Project, error)
}

// State 上传状态，Progress 为 0-100
type State struct {
	Pending   *PreviewMeta `json:"pending"`
	Uploading bool         `json:"uploading"`
	Progress  int          `json:"progress"`
}

// Ingest 单个项目的音频选择与上传
type Ingest struct {
	projectID string
	up        Uploader
	store     ProjectStore
	previews  *Previews
	log       *logger.Logger
	now       func() time.Time

	mu        sync.Mutex
	pending   *PreviewMeta
	uploading bool
	state     *observe.Value[State]
}

func NewIngest(projectID string, up Uploader, store ProjectStore, previews *Previews, log *logger.Logger) *Ingest {
	if log == nil {
		log = logger.Nop()
	}
	if previews == nil {
		previews = NewPreviews(nil)
	}
	return &Ingest{
		projectID: projectID,
		up:        up,
		store:     store,
		previews:  previews,
		log:       log.With("project_id", projectID),
		now:       time.Now,
		state:     observe.NewValue(State{}),
	}
}

func (in *Ingest) State() *observe.Value[State] { return in.state }

// Busy 是否正在上传
func (in *Ingest) Busy() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.uploading
}

// Select 选择新文件：超过 100MB 直接拒绝，旧的预览被释放
func (in *Ingest) Select(name, contentType string, size int64, r io.Reader) (PreviewMeta, error) {
	if size > MaxSize {
		return PreviewMeta{}, errTooLarge()
	}
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return PreviewMeta{}, apperr.New(apperr.KindValidation, "文件名不能为空")
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.uploading {
		return PreviewMeta{}, apperr.New(apperr.KindValidation, "音频正在上传中")
	}
	meta, err := in.previews.Create(name, contentType, r)
	if err != nil {
		return PreviewMeta{}, err
	}
	if in.pending != nil {
		in.previews.Revoke(in.pending.Handle)
	}
	in.pending = &meta
	in.state.Set(State{Pending: &meta})
	in.log.Info("已选择音频文件", "name", name, "size", meta.Size)
	return meta, nil
}

// Upload 上传待处理文件并写入项目的 audioFile；失败时保留待处理文件以便重试
func (in *Ingest) Upload(ctx context.Context) (models.Project, error) {
	in.mu.Lock()
	if in.pending == nil {
		in.mu.Unlock()
		return models.Project{}, apperr.New(apperr.KindValidation, "请先选择音频文件")
	}
	if in.uploading {
		in.mu.Unlock()
		return models.Project{}, apperr.New(apperr.KindValidation, "音频正在上传中")
	}
	meta := *in.pending
	in.uploading = true
	in.mu.Unlock()
	in.state.Set(State{Pending: &meta, Uploading: true})

	p, err := in.upload(ctx, meta)

	in.mu.Lock()
	in.uploading = false
	if err == nil {
		in.pending = nil
	}
	in.mu.Unlock()

	if err != nil {
		in.log.Warn("音频上传失败", "name", meta.Name, "error", err)
		in.state.Set(State{Pending: &meta})
		return models.Project{}, err
	}
	in.previews.Revoke(meta.Handle)
	in.state.Set(State{Progress: 100})
	in.log.Info("音频上传完成", "name", meta.Name, "ref", p.AudioFile)
	return p, nil
}

func (in *Ingest) upload(ctx context.Context, meta PreviewMeta) (models.Project, error) {
	f, _, err := in.previews.Open(meta.Handle)
	if err != nil {
		return models.Project{}, err
	}
	defer f.Close()

	progress := func(sent, total int64) {
		if total <= 0 {
			return
		}
		pct := int(sent * 100 / total)
		if pct > 99 {
			// 写入项目后才算完成
			pct = 99
		}
		in.state.Update(func(s State) State {
			if pct > s.Progress {
				s.Progress = pct
			}
			return s
		})
	}
	ref, err := in.up.PutBlob(ctx, in.projectID, meta.Name, f, meta.Size, meta.ContentType, progress)
	if err != nil {
		return models.Project{}, err
	}
	at := in.now().UnixMilli()
	return in.store.Update(ctx, in.projectID, func(p models.Project) models.Project {
		p.AudioFile = ref
		p.Stamp(models.TaskAudioFile, at)
		return p
	})
}

// Close 释放未上传的预览
func (in *Ingest) Close() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.pending != nil {
		in.previews.Revoke(in.pending.Handle)
		in.pending = nil
	}
}
