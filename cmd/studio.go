package cmd

import (
	"LongVideoAssistant/routers"
	"LongVideoAssistant/studio"

	"github.com/spf13/cobra"
)

func newStudioCommand(ctx *commandContext) *cobra.Command {
	var dataDir string
	cmd := &cobra.Command{
		Use:   "studio",
		Short: "启动本地工作台",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := ctx.ensure()
			if err != nil {
				return err
			}
			if dataDir != "" {
				cfg.Studio.DataDir = dataDir
			}
			ws, err := studio.Open(cfg, log)
			if err != nil {
				return err
			}
			defer func() {
				if err := ws.Close(); err != nil {
					log.Warn("关闭工作台失败", "error", err)
				}
			}()
			ws.Start(cmd.Context())
			log.Info("工作台已打开", "data_dir", cfg.Studio.DataDir, "remote", cfg.Studio.RemoteBaseURL)

			return listen(cmd.Context(), cfg.Studio.Port, routers.InitStudioRouter(ws, log), log)
		},
	}
	cmd.Flags().StringVar(&dataDir, "data", "", "本地数据目录，覆盖配置")
	return cmd
}
