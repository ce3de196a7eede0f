package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"rollcall/internal/config"
	"rollcall/internal/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "rollcall",
		Short:         "Administer rollcall and mark attendance from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(migrateCmd(), addUserCmd(), exportCmd(), watchCmd(), markCmd())
	return root
}

// setup loads the environment config and a console logger.
func setup() (config.App, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.App{}, nil, err
	}
	zl, err := logger.New(cfg.LogLevel, "console")
	if err != nil {
		return config.App{}, nil, err
	}
	return cfg, zl, nil
}
