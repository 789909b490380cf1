package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"LongVideoAssistant/logger"

	"github.com/hibiken/asynq"
)

const (
	// TypePurgeProject 删除项目后清理 <projectId>/ 下的全部文件
	TypePurgeProject = "blob:purge_project"
)

type PurgePayload struct {
	ProjectID string `json:"project_id"`
}

// Purger 投递清理任务；未配置 Redis 时在进程内执行
type Purger struct {
	client *asynq.Client
	store  BlobStore
	log    *logger.Logger
	wg     sync.WaitGroup
}

func NewPurger(redisAddr, redisPassword string, store BlobStore, log *logger.Logger) *Purger {
	if log == nil {
		log = logger.Nop()
	}
	p := &Purger{store: store, log: log}
	if redisAddr != "" {
		p.client = asynq.NewClient(asynq.RedisClientOpt{
			Addr:     redisAddr,
			Password: redisPassword,
		})
	}
	return p
}

// EnqueuePurge 投递清理任务
func (p *Purger) EnqueuePurge(projectID string) error {
	if projectID == "" {
		return fmt.Errorf("empty project id")
	}
	if p.client == nil {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			if err := purgeProject(ctx, p.store, p.log, projectID); err != nil {
				p.log.Warn("清理项目文件失败", "project_id", projectID, "error", err)
			}
		}()
		return nil
	}

	payload, err := json.Marshal(PurgePayload{ProjectID: projectID})
	if err != nil {
		return fmt.Errorf("marshal payload failed: %w", err)
	}
	task := asynq.NewTask(TypePurgeProject, payload,
		asynq.MaxRetry(3),
		asynq.Timeout(5*time.Minute),
		asynq.Retention(24*time.Hour),
	)
	info, err := p.client.Enqueue(task)
	if err != nil {
		return fmt.Errorf("enqueue failed: %w", err)
	}
	p.log.Info("清理任务已入队", "project_id", projectID, "task_id", info.ID)
	return nil
}

// Wait 等待进程内的清理结束
func (p *Purger) Wait() {
	p.wg.Wait()
}

func (p *Purger) Close() error {
	p.wg.Wait()
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}

func purgeProject(ctx context.Context, store BlobStore, log *logger.Logger, projectID string) error {
	n, err := store.DeletePrefix(ctx, projectID+"/")
	if err != nil {
		return err
	}
	log.Info("项目文件已清理", "project_id", projectID, "count", n)
	return nil
}
