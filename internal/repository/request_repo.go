// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dkarim/approval-engine/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type RequestRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewRequestRepository(pool *pgxpool.Pool, logger *slog.Logger) *RequestRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &RequestRepository{
		pool:   pool,
		logger: logger,
	}
}

func (r *RequestRepository) Create(ctx context.Context, req domain.Request) (domain.Request, error) {
	tenantID, err := tenantIDFromContext(ctx)
	if err != nil {
		return domain.Request{}, err
	}
	if req.TenantID != tenantID {
		return domain.Request{}, fmt.Errorf("request tenant %s outside ambient scope: %w", req.TenantID, domain.ErrForbidden)
	}

	err = r.pool.QueryRow(ctx, `
		INSERT INTO requests (id, workflow_id, tenant_id, created_by, current_step_id, status, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`,
		req.ID,
		req.WorkflowID,
		req.TenantID,
		req.CreatedBy,
		req.CurrentStepID,
		req.Status,
		req.Payload,
	).Scan(&req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		r.logger.Error("insert request failed", "request_id", req.ID, "error", err)
		return domain.Request{}, err
	}

	r.logger.Info("request created", "request_id", req.ID, "workflow_id", req.WorkflowID)
	return req, nil
}

func (r *RequestRepository) Get(ctx context.Context, id uuid.UUID) (domain.Request, error) {
	tenantID, err := tenantIDFromContext(ctx)
	if err != nil {
		return domain.Request{}, err
	}

	var req domain.Request
	err = r.pool.QueryRow(ctx, `
		SELECT id, workflow_id, tenant_id, created_by, current_step_id, status, payload, created_at, updated_at
		FROM requests
		WHERE id=$1 AND tenant_id=$2
	`, id, tenantID).Scan(
		&req.ID,
		&req.WorkflowID,
		&req.TenantID,
		&req.CreatedBy,
		&req.CurrentStepID,
		&req.Status,
		&req.Payload,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Request{}, fmt.Errorf("request %s: %w", id, domain.ErrNotFound)
		}
		r.logger.Error("get request failed", "request_id", id, "error", err)
		return domain.Request{}, err
	}

	return req, nil
}

// ApplyTransition updates the request's status/step pointer and inserts the
// action row in one transaction.
func (r *RequestRepository) ApplyTransition(ctx context.Context, t domain.Transition) (domain.Request, error) {
	tenantID, err := tenantIDFromContext(ctx)
	if err != nil {
		return domain.Request{}, err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		r.logger.Error("begin tx failed", "error", err)
		return domain.Request{}, err
	}
	defer tx.Rollback(ctx)

	var req domain.Request
	err = tx.QueryRow(ctx, `
		UPDATE requests
		SET status=$3, current_step_id=$4, updated_at=NOW()
		WHERE id=$1 AND tenant_id=$2
		RETURNING id, workflow_id, tenant_id, created_by, current_step_id, status, payload, created_at, updated_at
	`,
		t.RequestID,
		tenantID,
		t.NewStatus,
		t.NewStepID,
	).Scan(
		&req.ID,
		&req.WorkflowID,
		&req.TenantID,
		&req.CreatedBy,
		&req.CurrentStepID,
		&req.Status,
		&req.Payload,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Request{}, fmt.Errorf("request %s: %w", t.RequestID, domain.ErrNotFound)
		}
		r.logger.Error("update request failed", "request_id", t.RequestID, "error", err)
		return domain.Request{}, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO request_actions (id, request_id, tenant_id, action_by, action_type, from_step_id, to_step_id, comments)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		uuid.New(),
		t.RequestID,
		tenantID,
		t.ActionBy,
		t.ActionType,
		t.FromStepID,
		t.ToStepID,
		t.Comments,
	)
	if err != nil {
		r.logger.Error("insert action failed", "request_id", t.RequestID, "error", err)
		return domain.Request{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		r.logger.Error("commit transition failed", "request_id", t.RequestID, "error", err)
		return domain.Request{}, err
	}

	r.logger.Info("request transition applied",
		"request_id", req.ID,
		"action_type", t.ActionType,
		"status", req.Status,
	)

	return req, nil
}

type ListRequestsParams struct {
	Status     domain.RequestStatus
	WorkflowID uuid.UUID
	CreatedBy  uuid.UUID
	Limit      int
	Offset     int
}

func (r *RequestRepository) List(ctx context.Context, params ListRequestsParams) ([]domain.Request, error) {
	tenantID, err := tenantIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	limit := params.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, workflow_id, tenant_id, created_by, current_step_id, status, payload, created_at, updated_at
		FROM requests
		WHERE tenant_id=$1
		  AND ($2 = '' OR status = $2)
		  AND ($3::uuid IS NULL OR workflow_id = $3)
		  AND ($4::uuid IS NULL OR created_by = $4)
		ORDER BY created_at DESC
		LIMIT $5 OFFSET $6
	`,
		tenantID,
		string(params.Status),
		nullableUUID(params.WorkflowID),
		nullableUUID(params.CreatedBy),
		limit,
		params.Offset,
	)
	if err != nil {
		r.logger.Error("list requests query failed", "error", err)
		return nil, err
	}
	defer rows.Close()

	return scanRequests(rows)
}

// PendingForRole returns in-progress requests whose current step requires
// the given role, the "my pending approvals" view.
func (r *RequestRepository) PendingForRole(ctx context.Context, role domain.Role) ([]domain.Request, error) {
	tenantID, err := tenantIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT rq.id, rq.workflow_id, rq.tenant_id, rq.created_by, rq.current_step_id, rq.status, rq.payload, rq.created_at, rq.updated_at
		FROM requests rq
		JOIN workflow_steps ws ON rq.current_step_id = ws.id
		WHERE rq.tenant_id=$1
		  AND rq.status=$2
		  AND ws.required_role=$3
		ORDER BY rq.created_at ASC
	`,
		tenantID,
		domain.RequestInProgress,
		role,
	)
	if err != nil {
		r.logger.Error("pending approvals query failed", "role", role, "error", err)
		return nil, err
	}
	defer rows.Close()

	return scanRequests(rows)
}

// History returns the append-only action trail for one request, oldest
// first.
func (r *RequestRepository) History(ctx context.Context, requestID uuid.UUID) ([]domain.Action, error) {
	tenantID, err := tenantIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, request_id, tenant_id, action_by, action_type, from_step_id, to_step_id, comments, action_time
		FROM request_actions
		WHERE request_id=$1 AND tenant_id=$2
		ORDER BY action_time ASC, id ASC
	`, requestID, tenantID)
	if err != nil {
		r.logger.Error("request history query failed", "request_id", requestID, "error", err)
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Action, 0, 8)
	for rows.Next() {
		var a domain.Action
		if err := rows.Scan(
			&a.ID,
			&a.RequestID,
			&a.TenantID,
			&a.ActionBy,
			&a.ActionType,
			&a.FromStepID,
			&a.ToStepID,
			&a.Comments,
			&a.ActionTime,
		); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

func scanRequests(rows pgx.Rows) ([]domain.Request, error) {
	out := make([]domain.Request, 0, 16)
	for rows.Next() {
		var req domain.Request
		if err := rows.Scan(
			&req.ID,
			&req.WorkflowID,
			&req.TenantID,
			&req.CreatedBy,
			&req.CurrentStepID,
			&req.Status,
			&req.Payload,
			&req.CreatedAt,
			&req.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func nullableUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
