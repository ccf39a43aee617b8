// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dkarim/approval-engine/internal/audit"
	"github.com/dkarim/approval-engine/internal/config"
	"github.com/dkarim/approval-engine/internal/engine"
	"github.com/dkarim/approval-engine/internal/logging"
	"github.com/dkarim/approval-engine/internal/notify"
	"github.com/dkarim/approval-engine/internal/persistence/postgres"
	"github.com/dkarim/approval-engine/internal/repository"
	"github.com/dkarim/approval-engine/internal/sweeper"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	logger := logging.NewLogger(cfg.Env, "sweeper")

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer pool.Close()

	if err := postgres.SchemaReady(ctx, pool); err != nil {
		log.Fatalf("schema not ready: %v", err)
	}

	manager := engine.NewAssignmentManager(engine.AssignmentManagerDeps{
		Store:       repository.NewAssignmentRepository(pool, logger),
		Users:       repository.NewUserRepository(pool, logger),
		Audit:       audit.NewSink(pool, logger),
		Notifier:    notify.NewOutboxSink(pool, logger),
		GracePeriod: cfg.AssignmentGracePeriod,
		Logger:      logger,
	})

	s := sweeper.New(sweeper.Deps{
		Manager:  manager,
		Logger:   logger,
		Interval: cfg.SweepInterval,
	})

	logger.Info("sweeper started", "interval", cfg.SweepInterval)

	if err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("sweeper stopped", "error", err)
		os.Exit(1)
	}

	logger.Info("sweeper shut down")
}
