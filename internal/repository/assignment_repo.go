// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dkarim/approval-engine/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type AssignmentRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewAssignmentRepository(pool *pgxpool.Pool, logger *slog.Logger) *AssignmentRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &AssignmentRepository{
		pool:   pool,
		logger: logger,
	}
}

func (r *AssignmentRepository) CreateBatch(ctx context.Context, assignments []domain.Assignment) error {
	if len(assignments) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		r.logger.Error("begin tx failed", "error", err)
		return err
	}
	defer tx.Rollback(ctx)

	for _, a := range assignments {
		if _, err := tx.Exec(ctx, `
			INSERT INTO request_assignments (id, request_id, step_id, tenant_id, assigned_to, assigned_at, due_at, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`,
			a.ID,
			a.RequestID,
			a.StepID,
			a.TenantID,
			a.AssignedTo,
			a.AssignedAt,
			a.DueAt,
			a.Status,
		); err != nil {
			r.logger.Error("insert assignment failed",
				"assignment_id", a.ID,
				"request_id", a.RequestID,
				"error", err,
			)
			return err
		}
	}

	return tx.Commit(ctx)
}

// CompleteLatest marks the user's most recently assigned ASSIGNED assignment
// for the request COMPLETED. False when nothing was outstanding.
func (r *AssignmentRepository) CompleteLatest(ctx context.Context, requestID, userID uuid.UUID) (domain.Assignment, bool, error) {
	tenantID, err := tenantIDFromContext(ctx)
	if err != nil {
		return domain.Assignment{}, false, err
	}

	var a domain.Assignment
	err = r.pool.QueryRow(ctx, `
		UPDATE request_assignments
		SET status=$1, updated_at=NOW()
		WHERE id = (
			SELECT id FROM request_assignments
			WHERE request_id=$2 AND assigned_to=$3 AND tenant_id=$4 AND status=$5
			ORDER BY assigned_at DESC
			LIMIT 1
		)
		RETURNING id, request_id, step_id, tenant_id, assigned_to, assigned_at, due_at, status
	`,
		domain.AssignmentCompleted,
		requestID,
		userID,
		tenantID,
		domain.AssignmentAssigned,
	).Scan(&a.ID, &a.RequestID, &a.StepID, &a.TenantID, &a.AssignedTo, &a.AssignedAt, &a.DueAt, &a.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Assignment{}, false, nil
		}
		r.logger.Error("complete assignment failed",
			"request_id", requestID,
			"user_id", userID,
			"error", err,
		)
		return domain.Assignment{}, false, err
	}

	return a, true, nil
}

// ListDue returns every ASSIGNED assignment past due. Deliberately
// cross-tenant: the sweeper processes all tenants in one pass and every row
// carries its own tenant id.
func (r *AssignmentRepository) ListDue(ctx context.Context, before time.Time) ([]domain.Assignment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, request_id, step_id, tenant_id, assigned_to, assigned_at, due_at, status
		FROM request_assignments
		WHERE status=$1 AND due_at < $2
		ORDER BY due_at ASC
	`, domain.AssignmentAssigned, before)
	if err != nil {
		r.logger.Error("list due assignments query failed", "error", err)
		return nil, err
	}
	defer rows.Close()

	return scanAssignments(rows)
}

// MarkOverdue flips one assignment ASSIGNED -> OVERDUE. The status guard in
// the WHERE clause makes the sweep race harmlessly with a concurrent human
// completion: a COMPLETED row is left alone and false is returned.
func (r *AssignmentRepository) MarkOverdue(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE request_assignments
		SET status=$2, updated_at=NOW()
		WHERE id=$1 AND status=$3
	`, id, domain.AssignmentOverdue, domain.AssignmentAssigned)
	if err != nil {
		r.logger.Error("mark overdue failed", "assignment_id", id, "error", err)
		return false, err
	}

	return tag.RowsAffected() > 0, nil
}

func (r *AssignmentRepository) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]domain.Assignment, error) {
	tenantID, err := tenantIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, request_id, step_id, tenant_id, assigned_to, assigned_at, due_at, status
		FROM request_assignments
		WHERE request_id=$1 AND tenant_id=$2
		ORDER BY assigned_at ASC
	`, requestID, tenantID)
	if err != nil {
		r.logger.Error("list assignments by request failed", "request_id", requestID, "error", err)
		return nil, err
	}
	defer rows.Close()

	return scanAssignments(rows)
}

func (r *AssignmentRepository) ListForUser(ctx context.Context, userID uuid.UUID) ([]domain.Assignment, error) {
	tenantID, err := tenantIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, request_id, step_id, tenant_id, assigned_to, assigned_at, due_at, status
		FROM request_assignments
		WHERE assigned_to=$1 AND tenant_id=$2
		ORDER BY assigned_at DESC
	`, userID, tenantID)
	if err != nil {
		r.logger.Error("list assignments for user failed", "user_id", userID, "error", err)
		return nil, err
	}
	defer rows.Close()

	return scanAssignments(rows)
}

func scanAssignments(rows pgx.Rows) ([]domain.Assignment, error) {
	out := make([]domain.Assignment, 0, 16)
	for rows.Next() {
		var a domain.Assignment
		if err := rows.Scan(
			&a.ID,
			&a.RequestID,
			&a.StepID,
			&a.TenantID,
			&a.AssignedTo,
			&a.AssignedAt,
			&a.DueAt,
			&a.Status,
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
