// SPDX-License-Identifier: Apache-2.0

// Package audit persists audit events. Sinks are fire-and-forget: a failed
// write is logged and swallowed, never surfaced to the caller.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Sink struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewSink(pool *pgxpool.Pool, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}

	return &Sink{
		pool:   pool,
		logger: logger,
	}
}

// Record writes one audit row. actorID is nil for system-driven events such
// as overdue sweeps and auto-approvals.
func (s *Sink) Record(ctx context.Context, entityType, entityID, action string, actorID *uuid.UUID, tenantID uuid.UUID, details map[string]any) {
	detailsJSON := []byte("{}")
	if details != nil {
		if encoded, err := json.Marshal(details); err == nil {
			detailsJSON = encoded
		}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_logs (id, entity_type, entity_id, action, actor_id, tenant_id, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		uuid.New(),
		entityType,
		entityID,
		action,
		actorID,
		tenantID,
		detailsJSON,
	)
	if err != nil {
		s.logger.Error("audit write failed",
			"entity_type", entityType,
			"entity_id", entityID,
			"action", action,
			"error", err,
		)
	}
}

// NopSink discards every event. Used where no audit store is configured.
type NopSink struct{}

func (NopSink) Record(ctx context.Context, entityType, entityID, action string, actorID *uuid.UUID, tenantID uuid.UUID, details map[string]any) {
}
