// Package syncer 本地存储与远端同步服务之间的双向复制
package syncer

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"LongVideoAssistant/apperr"
	"LongVideoAssistant/localstore"
	"LongVideoAssistant/logger"
	"LongVideoAssistant/models"
	"LongVideoAssistant/observe"
)

// Remote 同步服务，remote.Client 实现该接口
type Remote interface {
	Pull(ctx context.Context) (models.PullResponse, error)
	Push(ctx context.Context, bundle models.SyncBundle) error
	GetProject(ctx context.Context, id string) (models.Project, bool, error)
	GetTool(ctx context.Context, id string) (json.RawMessage, error)
}

type State string

const (
	StateIdle   State = "idle"
	StateSaving State = "saving"
	StateSynced State = "synced"
	StateError  State = "error"
)

// Status 推送到界面的同步状态
type Status struct {
	State      State  `json:"state"`
	LastSyncAt int64  `json:"lastSyncAt,omitempty"`
	Message    string `json:"message,omitempty"`
}

const neverUploaded = "从未上传"

type Controller struct {
	local     *localstore.Store
	remote    Remote
	log       *logger.Logger
	batchSize int
	now       func() time.Time

	// clockMu 保护两个时钟的读改写
	clockMu sync.Mutex
	// pushMu 串行化项目上传与远端项目删除
	pushMu  sync.Mutex
	pending atomic.Bool
	wg      sync.WaitGroup

	status *observe.Value[Status]
}

type Option func(*Controller)

func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

func WithBatchSize(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

func New(local *localstore.Store, remote Remote, log *logger.Logger, opts ...Option) *Controller {
	if log == nil {
		log = logger.Nop()
	}
	c := &Controller{
		local:     local,
		remote:    remote,
		log:       log,
		batchSize: 20,
		now:       time.Now,
		status:    observe.NewValue(Status{State: StateIdle}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) Status() *observe.Value[Status] { return c.status }

func (c *Controller) nowMillis() int64 { return c.now().UnixMilli() }

// TrackChange 推进本地修改时钟，保证严格大于上次上传时间
func (c *Controller) TrackChange(ctx context.Context) error {
	c.clockMu.Lock()
	defer c.clockMu.Unlock()
	change, err := c.local.GetMillis(ctx, localstore.DocLastChangeTime)
	if err != nil {
		return err
	}
	upload, err := c.local.GetMillis(ctx, localstore.DocLastUploadTime)
	if err != nil {
		return err
	}
	next := c.nowMillis()
	if next <= change {
		next = change + 1
	}
	if next <= upload {
		next = upload + 1
	}
	return c.local.SetMillis(ctx, localstore.DocLastChangeTime, next)
}

type snapshot struct {
	at     int64
	change int64
}

func (c *Controller) takeSnapshot(ctx context.Context) (snapshot, error) {
	c.clockMu.Lock()
	defer c.clockMu.Unlock()
	change, err := c.local.GetMillis(ctx, localstore.DocLastChangeTime)
	if err != nil {
		return snapshot{}, err
	}
	return snapshot{at: c.nowMillis(), change: change}, nil
}

// markUploaded 上传成功后推进上传时钟；上传期间发生的修改仍保持为未保存
func (c *Controller) markUploaded(ctx context.Context, snap snapshot) error {
	c.clockMu.Lock()
	defer c.clockMu.Unlock()
	upload, err := c.local.GetMillis(ctx, localstore.DocLastUploadTime)
	if err != nil {
		return err
	}
	if snap.at <= upload {
		return nil
	}
	if err := c.local.SetMillis(ctx, localstore.DocLastUploadTime, snap.at); err != nil {
		return err
	}
	change, err := c.local.GetMillis(ctx, localstore.DocLastChangeTime)
	if err != nil {
		return err
	}
	if change != snap.change && change <= snap.at {
		return c.local.SetMillis(ctx, localstore.DocLastChangeTime, snap.at+1)
	}
	return nil
}

// HasUnsavedChanges 本地修改时间晚于上次上传
func (c *Controller) HasUnsavedChanges(ctx context.Context) bool {
	c.clockMu.Lock()
	defer c.clockMu.Unlock()
	change, err := c.local.GetMillis(ctx, localstore.DocLastChangeTime)
	if err != nil {
		return false
	}
	upload, err := c.local.GetMillis(ctx, localstore.DocLastUploadTime)
	if err != nil {
		return false
	}
	return change > upload
}

func (c *Controller) LastUploadTime(ctx context.Context) int64 {
	ms, _ := c.local.GetMillis(ctx, localstore.DocLastUploadTime)
	return ms
}

// LastUploadLabel 形如 2025年1月2日 / 03：04：05，从未上传时返回提示
func (c *Controller) LastUploadLabel(ctx context.Context) string {
	ms := c.LastUploadTime(ctx)
	if ms == 0 {
		return neverUploaded
	}
	return time.UnixMilli(ms).Local().Format("2006年1月2日 / 15：04：05")
}

// UploadProjects 上传全部项目，内联图片在发送前清除；任一批次失败不推进时钟
func (c *Controller) UploadProjects(ctx context.Context) error {
	c.pushMu.Lock()
	defer c.pushMu.Unlock()
	return c.uploadProjects(ctx)
}

// uploadProjects 调用方需持有 pushMu
func (c *Controller) uploadProjects(ctx context.Context) error {
	snap, err := c.takeSnapshot(ctx)
	if err != nil {
		return err
	}
	projects, err := c.local.AllProjects(ctx)
	if err != nil {
		return err
	}
	for start := 0; start < len(projects); start += c.batchSize {
		end := start + c.batchSize
		if end > len(projects) {
			end = len(projects)
		}
		batch := make([]models.Project, 0, end-start)
		for _, p := range projects[start:end] {
			batch = append(batch, p.Sanitized())
		}
		if err := c.remote.Push(ctx, models.SyncBundle{Projects: batch}); err != nil {
			c.log.Warn("项目上传失败", "batch_start", start, "error", err)
			return err
		}
	}
	c.log.Info("项目上传完成", "count", len(projects))
	return c.markUploaded(ctx, snap)
}

// Exclusive 在推送锁内执行 fn，fn 不会与任何项目上传交错。远端删除项目经由此处执行
func (c *Controller) Exclusive(fn func()) {
	c.pushMu.Lock()
	defer c.pushMu.Unlock()
	fn()
}

func (c *Controller) UploadInspirations(ctx context.Context) error {
	snap, err := c.takeSnapshot(ctx)
	if err != nil {
		return err
	}
	items, err := c.local.AllInspirations(ctx)
	if err != nil {
		return err
	}
	if len(items) > 0 {
		if err := c.remote.Push(ctx, models.SyncBundle{Inspirations: items}); err != nil {
			c.log.Warn("灵感上传失败", "error", err)
			return err
		}
	}
	c.log.Info("灵感上传完成", "count", len(items))
	return c.markUploaded(ctx, snap)
}

func (c *Controller) UploadPrompts(ctx context.Context) error {
	snap, err := c.takeSnapshot(ctx)
	if err != nil {
		return err
	}
	prompts, err := c.local.Prompts(ctx)
	if err != nil {
		return err
	}
	if err := c.remote.Push(ctx, models.SyncBundle{Prompts: prompts}); err != nil {
		c.log.Warn("提示词上传失败", "error", err)
		return err
	}
	c.log.Info("提示词上传完成")
	return c.markUploaded(ctx, snap)
}

func (c *Controller) UploadTools(ctx context.Context) error {
	snap, err := c.takeSnapshot(ctx)
	if err != nil {
		return err
	}
	tools, err := c.local.AllTools(ctx)
	if err != nil {
		return err
	}
	if len(tools) > 0 {
		if err := c.remote.Push(ctx, models.SyncBundle{Tools: tools}); err != nil {
			c.log.Warn("工具数据上传失败", "error", err)
			return err
		}
	}
	c.log.Info("工具数据上传完成", "count", len(tools))
	return c.markUploaded(ctx, snap)
}

// SaveTool 保存工具数据到本地并标记为未保存
func (c *Controller) SaveTool(ctx context.Context, id string, data json.RawMessage) error {
	if err := c.local.PutTool(ctx, models.ToolRecord{ID: id, Data: data}); err != nil {
		return err
	}
	return c.TrackChange(ctx)
}

// UploadTool 保存并立即推送单个工具，不推进上传时钟
func (c *Controller) UploadTool(ctx context.Context, id string, data json.RawMessage) error {
	if err := c.SaveTool(ctx, id, data); err != nil {
		return err
	}
	return c.remote.Push(ctx, models.SyncBundle{Tools: []models.ToolRecord{{ID: id, Data: data}}})
}

// FetchRemoteTool 拉取远端的工具数据并写入本地，远端没有时返回 nil
func (c *Controller) FetchRemoteTool(ctx context.Context, id string) (json.RawMessage, error) {
	data, err := c.remote.GetTool(ctx, id)
	if err != nil || data == nil {
		return nil, err
	}
	if err := c.local.PutTool(ctx, models.ToolRecord{ID: id, Data: data}); err != nil {
		return nil, err
	}
	return data, nil
}

// DownloadAllData 全量拉取并覆盖本地同 id 的记录，完成后两个时钟都置为当前时间。
// 本地写入在一个事务里完成，失败时本地数据与时钟都不变
func (c *Controller) DownloadAllData(ctx context.Context) error {
	data, err := c.remote.Pull(ctx)
	if err != nil {
		c.log.Warn("全量拉取失败", "error", err)
		return err
	}

	c.clockMu.Lock()
	defer c.clockMu.Unlock()
	if err := c.local.ApplyPull(ctx, data, c.nowMillis()); err != nil {
		c.log.Error("写入拉取结果失败", "error", err)
		return err
	}
	c.log.Info("全量拉取完成", "projects", len(data.Projects), "inspirations", len(data.Inspirations), "tools", len(data.Tools))
	return nil
}

// BackgroundPull 空闲时的全量拉取，过程与结果通过 Status 发布
func (c *Controller) BackgroundPull(ctx context.Context) error {
	c.setSaving()
	if err := c.DownloadAllData(ctx); err != nil {
		c.setFailed(err)
		return err
	}
	c.status.Set(Status{State: StateSynced, LastSyncAt: c.nowMillis()})
	return nil
}

func (c *Controller) setSaving() {
	c.status.Update(func(s Status) Status {
		return Status{State: StateSaving, LastSyncAt: s.LastSyncAt}
	})
}

func (c *Controller) setFailed(err error) {
	c.status.Update(func(s Status) Status {
		return Status{State: StateError, LastSyncAt: s.LastSyncAt, Message: apperr.UserMessage(err)}
	})
}

// SyncProject 远端版本更新时替换本地项目，返回是否替换
func (c *Controller) SyncProject(ctx context.Context, id string) (bool, error) {
	remoteP, found, err := c.remote.GetProject(ctx, id)
	if err != nil || !found {
		return false, err
	}
	localP, ok, err := c.local.GetProject(ctx, id)
	if err != nil {
		return false, err
	}
	if ok && remoteP.UpdatedAt <= localP.UpdatedAt {
		return false, nil
	}
	if err := c.local.PutProject(ctx, remoteP); err != nil {
		return false, err
	}
	c.log.Info("项目已从远端刷新", "project_id", id, "remote_updated_at", remoteP.UpdatedAt)
	return true, nil
}

// SchedulePush 后台上传全部项目，结果通过 Status 发布。
// 已有一次排队中的推送时不再重复排队，排队的那次会读取到最新数据
func (c *Controller) SchedulePush() {
	if c.pending.Swap(true) {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.pushMu.Lock()
		defer c.pushMu.Unlock()
		c.pending.Store(false)

		c.setSaving()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := c.uploadProjects(ctx); err != nil {
			c.log.Error("自动同步失败", "error", err)
			c.setFailed(err)
			return
		}
		c.status.Set(Status{State: StateSynced, LastSyncAt: c.nowMillis()})
	}()
}

// Flush 等待所有后台推送结束
func (c *Controller) Flush() {
	c.wg.Wait()
}
