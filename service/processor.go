package service

import (
	"context"
	"encoding/json"
	"fmt"

	"LongVideoAssistant/logger"

	"github.com/hibiken/asynq"
)

// Processor 消费清理任务
type Processor struct {
	store BlobStore
	log   *logger.Logger
	srv   *asynq.Server
}

func NewProcessor(store BlobStore, log *logger.Logger) *Processor {
	if log == nil {
		log = logger.Nop()
	}
	return &Processor{store: store, log: log}
}

// StartProcessor 启动任务消费者
func (p *Processor) StartProcessor(redisAddr, redisPassword string, concurrency int) {
	p.srv = asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     redisAddr,
			Password: redisPassword,
		},
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				"default": 1,
			},
		},
	)
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypePurgeProject, p.HandlePurgeProject)

	p.log.Info("清理任务消费者启动", "concurrency", concurrency)
	go func() {
		if err := p.srv.Run(mux); err != nil {
			p.log.Error("清理任务消费者退出", "error", err)
		}
	}()
}

func (p *Processor) Shutdown() {
	if p.srv != nil {
		p.srv.Shutdown()
	}
}

// HandlePurgeProject 删除项目前缀下的文件，失败时返回错误触发重试
func (p *Processor) HandlePurgeProject(ctx context.Context, t *asynq.Task) error {
	var payload PurgePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	if payload.ProjectID == "" {
		return fmt.Errorf("empty project id: %w", asynq.SkipRetry)
	}
	return purgeProject(ctx, p.store, p.log, payload.ProjectID)
}
