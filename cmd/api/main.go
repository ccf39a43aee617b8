// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dkarim/approval-engine/internal/audit"
	"github.com/dkarim/approval-engine/internal/config"
	"github.com/dkarim/approval-engine/internal/engine"
	"github.com/dkarim/approval-engine/internal/logging"
	"github.com/dkarim/approval-engine/internal/notify"
	"github.com/dkarim/approval-engine/internal/persistence/postgres"
	"github.com/dkarim/approval-engine/internal/repository"
	httptransport "github.com/dkarim/approval-engine/internal/transport/http"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	logger := logging.NewLogger(cfg.Env, "api")

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer pool.Close()

	if cfg.AutoMigrate {
		if err := postgres.EnsureSchema(ctx, pool, logger); err != nil {
			log.Fatalf("schema bootstrap failed: %v", err)
		}
	}

	requestRepo := repository.NewRequestRepository(pool, logger)
	workflowRepo := repository.NewWorkflowRepository(pool, logger)
	assignmentRepo := repository.NewAssignmentRepository(pool, logger)
	userRepo := repository.NewUserRepository(pool, logger)
	idempotencyRepo := repository.NewIdempotencyRepository(pool, logger)
	auditSink := audit.NewSink(pool, logger)

	manager := engine.NewAssignmentManager(engine.AssignmentManagerDeps{
		Store:       assignmentRepo,
		Users:       userRepo,
		Audit:       auditSink,
		Notifier:    notify.NewOutboxSink(pool, logger),
		GracePeriod: cfg.AssignmentGracePeriod,
		Logger:      logger,
	})

	processor := engine.New(engine.Deps{
		Requests:    requestRepo,
		Workflows:   workflowRepo,
		Assignments: manager,
		Audit:       auditSink,
		Logger:      logger,
	})

	handler := httptransport.NewRouter(httptransport.Deps{
		Processor:     processor,
		Requests:      requestRepo,
		Workflows:     workflowRepo,
		Assignments:   assignmentRepo,
		Directory:     userRepo,
		TokenResolver: userRepo,
		Idempotency:   idempotencyRepo,
		Logger:        logger,
		AdminToken:    cfg.AdminToken,
		Version:       Version,
		Commit:        Commit,
		BuildDate:     BuildDate,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("api listening",
			"addr", cfg.HTTPAddr,
			"version", Version,
			"commit", Commit,
			"build_date", BuildDate,
		)

		if err := srv.ListenAndServe(); err != nil &&
			err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		5*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
}
