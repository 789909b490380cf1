// Package mutator 项目写入管线：所有写操作在单个 goroutine 中按提交顺序执行
package mutator

import (
	"context"
	"sort"
	"strings"
	"time"

	"LongVideoAssistant/apperr"
	"LongVideoAssistant/localstore"
	"LongVideoAssistant/logger"
	"LongVideoAssistant/models"

	"github.com/google/uuid"
)

// Syncer 写入成功后的同步配合，syncer.Controller 实现该接口
type Syncer interface {
	TrackChange(ctx context.Context) error
	SchedulePush()
	// Exclusive 在项目上传之间执行 fn
	Exclusive(fn func())
}

// Remote 删除项目时用到的远端操作，remote.Client 实现该接口
type Remote interface {
	DeleteBlob(ctx context.Context, ref string) error
	DeleteProject(ctx context.Context, id string) error
	DeleteInspiration(ctx context.Context, id string) error
}

// Transformer 接收当前项目的副本并返回新值，不能回调 Mutator
type Transformer func(p models.Project) models.Project

type Mutator struct {
	local  *localstore.Store
	sync   Syncer
	remote Remote
	log    *logger.Logger
	now    func() time.Time

	ops  chan func()
	quit chan struct{}
	done chan struct{}
}

type Option func(*Mutator)

func WithClock(now func() time.Time) Option {
	return func(m *Mutator) { m.now = now }
}

func New(local *localstore.Store, sync Syncer, remote Remote, log *logger.Logger, opts ...Option) *Mutator {
	if log == nil {
		log = logger.Nop()
	}
	m := &Mutator{
		local:  local,
		sync:   sync,
		remote: remote,
		log:    log,
		now:    time.Now,
		ops:    make(chan func()),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	go m.loop()
	return m
}

func (m *Mutator) loop() {
	defer close(m.done)
	for {
		select {
		case op := <-m.ops:
			op()
		case <-m.quit:
			return
		}
	}
}

// Close 停止写入 goroutine，已在执行的操作会完成
func (m *Mutator) Close() {
	close(m.quit)
	<-m.done
}

type result struct {
	p   models.Project
	err error
}

// do 把操作投递到写入 goroutine 并等待结果
func (m *Mutator) do(ctx context.Context, fn func(ctx context.Context) (models.Project, error)) (models.Project, error) {
	ch := make(chan result, 1)
	op := func() {
		p, err := fn(ctx)
		ch <- result{p, err}
	}
	select {
	case m.ops <- op:
	case <-m.quit:
		return models.Project{}, apperr.New(apperr.KindLocalStoreUnavailable, "写入队列已关闭")
	}
	r := <-ch
	return r.p, r.err
}

// Projects 按更新时间倒序返回全部项目，读取失败时返回空列表
func (m *Mutator) Projects(ctx context.Context) []models.Project {
	ps, err := m.local.AllProjects(ctx)
	if err != nil {
		m.log.Error("读取项目列表失败", "error", err)
		return []models.Project{}
	}
	sort.SliceStable(ps, func(i, j int) bool { return ps[i].UpdatedAt > ps[j].UpdatedAt })
	return ps
}

func (m *Mutator) Project(ctx context.Context, id string) (models.Project, bool, error) {
	return m.local.GetProject(ctx, id)
}

// Create 新建草稿项目，initialTitle 同时作为主题
func (m *Mutator) Create(ctx context.Context, initialTitle string) (models.Project, error) {
	return m.do(ctx, func(ctx context.Context) (models.Project, error) {
		now := m.now().UnixMilli()
		title := strings.TrimSpace(initialTitle)
		p := models.Project{
			ID:        uuid.NewString(),
			Title:     title,
			CreatedAt: now,
			UpdatedAt: now,
			Status:    models.ProjectStatusDraft,
			Inputs: models.Inputs{
				Topic:    title,
				Tone:     models.DefaultTone,
				Language: models.DefaultLanguage,
			},
		}
		if p.Title == "" {
			p.Title = models.DefaultProjectTitle
		}
		if err := m.persist(ctx, p); err != nil {
			return models.Project{}, err
		}
		m.log.Info("项目已创建", "project_id", p.ID, "title", p.Title)
		return p, nil
	})
}

// Save 整体保存项目；已存在时按 Update 的规则处理状态与更新时间
func (m *Mutator) Save(ctx context.Context, p models.Project) (models.Project, error) {
	if p.ID == "" {
		return models.Project{}, apperr.New(apperr.KindValidation, "项目缺少 id")
	}
	return m.do(ctx, func(ctx context.Context) (models.Project, error) {
		cur, found, err := m.local.GetProject(ctx, p.ID)
		if err != nil {
			return models.Project{}, err
		}
		if found {
			return m.apply(ctx, cur, func(models.Project) models.Project { return p.Clone() })
		}
		next := p.Clone()
		now := m.now().UnixMilli()
		if next.CreatedAt == 0 {
			next.CreatedAt = now
		}
		if next.UpdatedAt < next.CreatedAt {
			next.UpdatedAt = next.CreatedAt
		}
		if next.Status != models.ProjectStatusArchived {
			next.Status = models.ProjectStatusDraft
			next.Status = models.DeriveStatus(next)
		}
		if err := m.persist(ctx, next); err != nil {
			return models.Project{}, err
		}
		return next, nil
	})
}

// Update 原子地读改写一个项目，项目不存在时返回 NotFound 且不写入
func (m *Mutator) Update(ctx context.Context, id string, fn Transformer) (models.Project, error) {
	return m.do(ctx, func(ctx context.Context) (models.Project, error) {
		cur, found, err := m.local.GetProject(ctx, id)
		if err != nil {
			return models.Project{}, err
		}
		if !found {
			m.log.Warn("项目不存在，丢弃写入", "project_id", id)
			return models.Project{}, apperr.New(apperr.KindNotFound, "项目不存在或已被删除")
		}
		return m.apply(ctx, cur, fn)
	})
}

// apply 运行变换并执行状态推导与更新时间递增，只在写入 goroutine 中调用
func (m *Mutator) apply(ctx context.Context, cur models.Project, fn Transformer) (models.Project, error) {
	next := fn(cur.Clone())
	next.ID = cur.ID
	next.CreatedAt = cur.CreatedAt
	// 状态不由调用方决定
	next.Status = cur.Status
	next.Status = models.DeriveStatus(next)
	next.UpdatedAt = m.bump(cur)
	if err := m.persist(ctx, next); err != nil {
		return models.Project{}, err
	}
	return next, nil
}

func (m *Mutator) bump(cur models.Project) int64 {
	ts := m.now().UnixMilli()
	if ts < cur.UpdatedAt {
		ts = cur.UpdatedAt
	}
	if ts < cur.CreatedAt {
		ts = cur.CreatedAt
	}
	return ts
}

func (m *Mutator) persist(ctx context.Context, p models.Project) error {
	if err := m.local.PutProject(ctx, p); err != nil {
		m.log.Error("项目写入失败", "project_id", p.ID, "error", err)
		return err
	}
	m.afterWrite(ctx)
	return nil
}

// afterWrite 标记未保存并在后台推送
func (m *Mutator) afterWrite(ctx context.Context) {
	if m.sync == nil {
		return
	}
	if err := m.sync.TrackChange(ctx); err != nil {
		m.log.Warn("记录修改时间失败", "error", err)
	}
	m.sync.SchedulePush()
}

func (m *Mutator) exclusive(fn func()) {
	if m.sync == nil {
		fn()
		return
	}
	m.sync.Exclusive(fn)
}

// Archive 归档后字段编辑不再改变状态
func (m *Mutator) Archive(ctx context.Context, id string) (models.Project, error) {
	return m.setStatus(ctx, id, models.ProjectStatusArchived)
}

// Unarchive 恢复为进行中，再交给状态推导重新计算
func (m *Mutator) Unarchive(ctx context.Context, id string) (models.Project, error) {
	return m.setStatus(ctx, id, models.ProjectStatusInProgress)
}

func (m *Mutator) setStatus(ctx context.Context, id, status string) (models.Project, error) {
	return m.do(ctx, func(ctx context.Context) (models.Project, error) {
		cur, found, err := m.local.GetProject(ctx, id)
		if err != nil {
			return models.Project{}, err
		}
		if !found {
			return models.Project{}, apperr.New(apperr.KindNotFound, "项目不存在或已被删除")
		}
		next := cur.Clone()
		next.Status = status
		next.Status = models.DeriveStatus(next)
		next.UpdatedAt = m.bump(cur)
		if err := m.persist(ctx, next); err != nil {
			return models.Project{}, err
		}
		m.log.Info("项目状态已变更", "project_id", id, "status", next.Status)
		return next, nil
	})
}

// Delete 依次删除项目持有的文件、本地记录与远端记录。
// 文件与远端删除失败只记日志，本地删除失败会返回错误
func (m *Mutator) Delete(ctx context.Context, id string) error {
	_, err := m.do(ctx, func(ctx context.Context) (models.Project, error) {
		cur, found, err := m.local.GetProject(ctx, id)
		if err != nil {
			m.log.Warn("读取待删除项目失败", "project_id", id, "error", err)
		}
		if found && m.remote != nil {
			for _, ref := range cur.BlobRefs() {
				if err := m.remote.DeleteBlob(ctx, ref); err != nil {
					m.log.Warn("删除项目文件失败", "project_id", id, "ref", ref, "error", err)
				}
			}
		}
		localErr := m.local.Delete(ctx, localstore.Projects, id)
		if localErr != nil {
			m.log.Error("删除本地项目失败", "project_id", id, "error", localErr)
		}
		if m.remote != nil {
			m.exclusive(func() {
				if err := m.remote.DeleteProject(ctx, id); err != nil && !apperr.Is(err, apperr.KindNotFound) {
					m.log.Warn("删除远端项目失败", "project_id", id, "error", err)
				}
			})
		}
		if localErr != nil {
			return models.Project{}, localErr
		}
		m.afterWrite(ctx)
		m.log.Info("项目已删除", "project_id", id)
		return models.Project{}, nil
	})
	return err
}
