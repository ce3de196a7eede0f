package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"rollcall/internal/app"
	"rollcall/internal/config"
	"rollcall/internal/logger"
)

// Worker consumes attendance events, keeps course reports fresh and
// periodically re-warms reports for courses meeting today.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	zl, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.QueueBackend == "memory" {
		zl.Warn("memory queue selected: events published by the api process are not visible here")
	}

	a, err := app.Build(ctx, cfg, zl)
	if err != nil {
		zl.Fatal("startup failed", zap.Error(err))
	}
	defer a.Close()

	if err := a.Worker.Rewarm(ctx); err != nil {
		zl.Warn("initial report warm-up failed", zap.Error(err))
	}

	sched, err := a.Worker.Schedule(cfg.ReportCron)
	if err != nil {
		zl.Fatal("invalid report schedule", zap.String("spec", cfg.ReportCron), zap.Error(err))
	}
	sched.Start()
	defer func() { <-sched.Stop().Done() }()

	zl.Info("report schedule registered", zap.String("spec", cfg.ReportCron))
	if err := a.Worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		zl.Error("worker stopped", zap.Error(err))
	}
}
