// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/dkarim/approval-engine/internal/auth"
	"github.com/dkarim/approval-engine/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

func TestNewRequestRepository(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var pool *pgxpool.Pool

	repo := NewRequestRepository(pool, logger)
	if repo == nil {
		t.Fatal("expected request repository instance")
	}
	if repo.pool != pool {
		t.Fatal("expected pool reference to be preserved")
	}
	if repo.logger != logger {
		t.Fatal("expected logger reference to be preserved")
	}
}

func TestNewWorkflowRepository(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var pool *pgxpool.Pool

	repo := NewWorkflowRepository(pool, logger)
	if repo == nil {
		t.Fatal("expected workflow repository instance")
	}
	if repo.pool != pool {
		t.Fatal("expected pool reference to be preserved")
	}
}

func TestNewRepositoriesDefaultLogger(t *testing.T) {
	if repo := NewAssignmentRepository(nil, nil); repo.logger == nil {
		t.Fatal("expected assignment repository to fall back to the default logger")
	}
	if repo := NewUserRepository(nil, nil); repo.logger == nil {
		t.Fatal("expected user repository to fall back to the default logger")
	}
	if repo := NewIdempotencyRepository(nil, nil); repo.logger == nil {
		t.Fatal("expected idempotency repository to fall back to the default logger")
	}
}

func TestTenantIDFromContext(t *testing.T) {
	if _, err := tenantIDFromContext(context.Background()); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden without tenant scope, got %v", err)
	}

	tenantID := uuid.New()
	ctx := auth.WithTenantID(context.Background(), tenantID)
	got, err := tenantIDFromContext(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != tenantID {
		t.Fatalf("expected tenant %s got %s", tenantID, got)
	}
}

func TestGenerateUserToken(t *testing.T) {
	token, hash, err := generateUserToken()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(token, "wk_live_") {
		t.Fatalf("expected token prefix wk_live_, got %q", token)
	}
	if hash != sha256Hex(token) {
		t.Fatal("expected stored hash to match the minted token")
	}

	other, _, err := generateUserToken()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if other == token {
		t.Fatal("expected tokens to be unique")
	}
}
