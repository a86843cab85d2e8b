package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"billing/internal/app"
	"billing/internal/config"
	"billing/internal/logger"
	"billing/internal/scheduler"

	"go.uber.org/zap"
)

// Runs the renewal and expiration sweeps on BILLING_SWEEP_SCHEDULE,
// or exactly once when SCHEDULER_RUN_ONCE is set.
func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	zapLog, err := logger.New(cfg.AppEnv)
	if err != nil {
		log.Fatalf("Logger init failed: %v", err)
	}
	defer func() { _ = zapLog.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, zapLog, nil)
	if err != nil {
		zapLog.Fatal("startup failed", zap.Error(err))
	}
	defer a.Close()

	s := scheduler.New(a.Billing, cfg.BillingSweepSchedule, zapLog)

	if cfg.SchedulerRunOnce {
		if _, err := s.RunOnce(ctx); err != nil {
			a.Close()
			zapLog.Fatal("billing sweep failed", zap.Error(err))
		}
		return
	}

	if err := s.Start(); err != nil {
		a.Close()
		zapLog.Fatal("scheduler start failed", zap.Error(err))
	}
	zapLog.Info("scheduler started")

	<-ctx.Done()
	zapLog.Info("shutdown signal received, stopping scheduler")
	<-s.Stop().Done()
	zapLog.Info("scheduler stopped")
}
