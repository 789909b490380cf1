// Package cmd lva 命令行：serve 启动同步服务，studio 启动本地工作台
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"LongVideoAssistant/config"
	"LongVideoAssistant/logger"

	"github.com/spf13/cobra"
)

type commandContext struct {
	configPath string
	log        *logger.Logger
}

// ensure 读取配置并创建日志器，只执行一次
func (c *commandContext) ensure() (*config.Config, *logger.Logger, error) {
	if config.AppConfig == nil {
		if err := config.InitConfig(c.configPath); err != nil {
			return nil, nil, err
		}
	}
	if c.log == nil {
		l, err := logger.New(config.AppConfig.Log.Mode, config.AppConfig.Log.File)
		if err != nil {
			return nil, nil, fmt.Errorf("init logger: %w", err)
		}
		c.log = l
	}
	return config.AppConfig, c.log, nil
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "lva",
		Short:         "长视频助手：本地工作台与同步服务",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, _, err := ctx.ensure()
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if ctx.log != nil {
				ctx.log.Sync()
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&ctx.configPath, "config", "c", "config/config.yaml", "配置文件路径")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newStudioCommand(ctx))
	rootCmd.AddCommand(newProjectsCommand(ctx))
	return rootCmd
}

func Execute() {
	if err := newRootCommand().Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
