package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"sudooom.im.realtime/internal/config"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "realtime",
	Short: "Real-time conversation service: messaging, presence, typing and fanout",
	// 未指定子命令时直接启动服务
	RunE:          runServe,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute 执行根命令
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "config/config.yaml", "config file path")
}

// bootstrap 加载 .env 与配置并初始化日志
func bootstrap() (*config.Config, *slog.Logger, error) {
	// .env 不存在时忽略
	_ = godotenv.Load()

	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.App.SlogLevel(),
	})).With("service", cfg.App.Name, "node_id", cfg.App.NodeID)
	slog.SetDefault(logger)

	return cfg, logger, nil
}
