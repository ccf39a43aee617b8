// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dkarim/approval-engine/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type WorkflowRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewWorkflowRepository(pool *pgxpool.Pool, logger *slog.Logger) *WorkflowRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &WorkflowRepository{
		pool:   pool,
		logger: logger,
	}
}

type CreateWorkflowParams struct {
	Name        string
	Description string
	Steps       []CreateStepParams
}

type CreateStepParams struct {
	StepName     string
	RequiredRole domain.Role
	AutoApprove  bool
}

// CreateWorkflow inserts a workflow and its ordered steps in one
// transaction. Steps are immutable once created; only name, description and
// the active flag may change later.
func (r *WorkflowRepository) CreateWorkflow(ctx context.Context, params CreateWorkflowParams) (domain.Workflow, error) {
	tenantID, err := tenantIDFromContext(ctx)
	if err != nil {
		return domain.Workflow{}, err
	}

	name := strings.TrimSpace(params.Name)
	if name == "" {
		return domain.Workflow{}, fmt.Errorf("workflow name is required: %w", domain.ErrInvalidState)
	}
	if len(params.Steps) == 0 {
		return domain.Workflow{}, fmt.Errorf("workflow needs at least one step: %w", domain.ErrInvalidState)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		r.logger.Error("begin tx failed", "error", err)
		return domain.Workflow{}, err
	}
	defer tx.Rollback(ctx)

	workflow := domain.Workflow{
		ID:          uuid.New(),
		TenantID:    tenantID,
		Name:        name,
		Description: strings.TrimSpace(params.Description),
		Active:      true,
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO workflows (id, tenant_id, name, description, active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`,
		workflow.ID,
		workflow.TenantID,
		workflow.Name,
		workflow.Description,
		workflow.Active,
	).Scan(&workflow.CreatedAt)
	if err != nil {
		r.logger.Error("insert workflow failed", "name", name, "error", err)
		return domain.Workflow{}, err
	}

	for i, step := range params.Steps {
		if _, err := tx.Exec(ctx, `
			INSERT INTO workflow_steps (id, workflow_id, step_order, step_name, required_role, auto_approve)
			VALUES ($1, $2, $3, $4, $5, $6)
		`,
			uuid.New(),
			workflow.ID,
			i+1,
			strings.TrimSpace(step.StepName),
			step.RequiredRole,
			step.AutoApprove,
		); err != nil {
			r.logger.Error("insert workflow step failed",
				"workflow_id", workflow.ID,
				"step_order", i+1,
				"error", err,
			)
			return domain.Workflow{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		r.logger.Error("commit workflow failed", "workflow_id", workflow.ID, "error", err)
		return domain.Workflow{}, err
	}

	r.logger.Info("workflow created",
		"workflow_id", workflow.ID,
		"name", workflow.Name,
		"steps", len(params.Steps),
	)

	return workflow, nil
}

func (r *WorkflowRepository) Get(ctx context.Context, id uuid.UUID) (domain.Workflow, error) {
	tenantID, err := tenantIDFromContext(ctx)
	if err != nil {
		return domain.Workflow{}, err
	}

	var wf domain.Workflow
	err = r.pool.QueryRow(ctx, `
		SELECT id, tenant_id, name, description, active, created_at
		FROM workflows
		WHERE id=$1 AND tenant_id=$2
	`, id, tenantID).Scan(
		&wf.ID,
		&wf.TenantID,
		&wf.Name,
		&wf.Description,
		&wf.Active,
		&wf.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Workflow{}, fmt.Errorf("workflow %s: %w", id, domain.ErrNotFound)
		}
		r.logger.Error("get workflow failed", "workflow_id", id, "error", err)
		return domain.Workflow{}, err
	}

	return wf, nil
}

func (r *WorkflowRepository) List(ctx context.Context) ([]domain.Workflow, error) {
	tenantID, err := tenantIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, tenant_id, name, description, active, created_at
		FROM workflows
		WHERE tenant_id=$1
		ORDER BY created_at DESC
	`, tenantID)
	if err != nil {
		r.logger.Error("list workflows query failed", "error", err)
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Workflow, 0, 16)
	for rows.Next() {
		var wf domain.Workflow
		if err := rows.Scan(&wf.ID, &wf.TenantID, &wf.Name, &wf.Description, &wf.Active, &wf.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

// Steps returns the workflow's steps ordered by step_order ascending. The
// workflow's tenant is enforced through the join.
func (r *WorkflowRepository) Steps(ctx context.Context, workflowID uuid.UUID) ([]domain.WorkflowStep, error) {
	tenantID, err := tenantIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT ws.id, ws.workflow_id, ws.step_order, ws.step_name, ws.required_role, ws.auto_approve
		FROM workflow_steps ws
		JOIN workflows w ON ws.workflow_id = w.id
		WHERE ws.workflow_id=$1 AND w.tenant_id=$2
		ORDER BY ws.step_order ASC
	`, workflowID, tenantID)
	if err != nil {
		r.logger.Error("list workflow steps query failed", "workflow_id", workflowID, "error", err)
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.WorkflowStep, 0, 4)
	for rows.Next() {
		var step domain.WorkflowStep
		if err := rows.Scan(
			&step.ID,
			&step.WorkflowID,
			&step.StepOrder,
			&step.StepName,
			&step.RequiredRole,
			&step.AutoApprove,
		); err != nil {
			return nil, err
		}
		out = append(out, step)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}
