// SPDX-License-Identifier: Apache-2.0

// Package notify hands notification events to an outbox table for delivery
// by an external mailer. Same fire-and-forget guarantee as the audit sink.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/dkarim/approval-engine/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type OutboxSink struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewOutboxSink(pool *pgxpool.Pool, logger *slog.Logger) *OutboxSink {
	if logger == nil {
		logger = slog.Default()
	}

	return &OutboxSink{
		pool:   pool,
		logger: logger,
	}
}

func (s *OutboxSink) Notify(ctx context.Context, eventType string, recipient domain.User, metadata map[string]any) {
	metadataJSON := []byte("{}")
	if metadata != nil {
		if encoded, err := json.Marshal(metadata); err == nil {
			metadataJSON = encoded
		}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO notifications (id, tenant_id, recipient_id, recipient_email, event_type, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		uuid.New(),
		recipient.TenantID,
		recipient.ID,
		recipient.Email,
		eventType,
		metadataJSON,
	)
	if err != nil {
		s.logger.Error("notification write failed",
			"event_type", eventType,
			"recipient_id", recipient.ID,
			"error", err,
		)
	}
}

// LogSink just logs events, for environments without the outbox table.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Notify(ctx context.Context, eventType string, recipient domain.User, metadata map[string]any) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification",
		"event_type", eventType,
		"recipient", recipient.Email,
	)
}
