// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dkarim/approval-engine/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type IdempotencyRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewIdempotencyRepository(pool *pgxpool.Pool, logger *slog.Logger) *IdempotencyRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &IdempotencyRepository{
		pool:   pool,
		logger: logger,
	}
}

// Find returns the record stored under (key, ambient tenant), if any.
func (r *IdempotencyRepository) Find(ctx context.Context, key string) (domain.IdempotencyRecord, bool, error) {
	tenantID, err := tenantIDFromContext(ctx)
	if err != nil {
		return domain.IdempotencyRecord{}, false, err
	}

	var rec domain.IdempotencyRecord
	err = r.pool.QueryRow(ctx, `
		SELECT key, tenant_id, request_path, fingerprint, response_status, response_body, created_at
		FROM idempotency_keys
		WHERE key=$1 AND tenant_id=$2
	`, key, tenantID).Scan(
		&rec.Key,
		&rec.TenantID,
		&rec.RequestPath,
		&rec.Fingerprint,
		&rec.ResponseStatus,
		&rec.ResponseBody,
		&rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.IdempotencyRecord{}, false, nil
		}
		r.logger.Error("find idempotency key failed", "key", key, "error", err)
		return domain.IdempotencyRecord{}, false, err
	}

	return rec, true, nil
}

// Save persists the record append-once. A unique violation (two concurrent
// callers racing on the same key) surfaces as an error the guard logs and
// swallows.
func (r *IdempotencyRepository) Save(ctx context.Context, rec domain.IdempotencyRecord) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO idempotency_keys (key, tenant_id, request_path, fingerprint, response_status, response_body)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		rec.Key,
		rec.TenantID,
		rec.RequestPath,
		rec.Fingerprint,
		rec.ResponseStatus,
		rec.ResponseBody,
	)
	return err
}
