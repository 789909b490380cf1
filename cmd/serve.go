package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"LongVideoAssistant/logger"
	"LongVideoAssistant/models"
	"LongVideoAssistant/routers"
	"LongVideoAssistant/routers/api"
	"LongVideoAssistant/service"

	"github.com/spf13/cobra"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "启动远端同步服务（表存储 + 文件存储）",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := ctx.ensure()
			if err != nil {
				return err
			}
			if err := models.InitDB(); err != nil {
				return err
			}
			log.Info("数据库已初始化", "driver", cfg.Database.Driver)
			if err := service.InitBlobStore(); err != nil {
				return err
			}
			log.Info("文件存储已初始化", "backend", cfg.Blob.Backend)

			purger := service.NewPurger(cfg.Redis.Addr, cfg.Redis.Password, service.Blobs, log.With("component", "purger"))
			defer purger.Close()
			api.SetPurger(purger)
			if cfg.Redis.Addr != "" {
				processor := service.NewProcessor(service.Blobs, log.With("component", "processor"))
				processor.StartProcessor(cfg.Redis.Addr, cfg.Redis.Password, 5)
				defer processor.Shutdown()
			}

			r := routers.InitRouter(log, cfg.Server.AllowOrigins)
			return listen(cmd.Context(), cfg.Server.Port, r, log)
		},
	}
}

// listen 阻塞到收到退出信号，然后优雅关闭
func listen(parent context.Context, addr string, h http.Handler, log *logger.Logger) error {
	sigCtx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		log.Info("服务启动", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-sigCtx.Done():
	}
	log.Info("收到退出信号，正在关闭服务")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
