// SPDX-License-Identifier: Apache-2.0

// Package engine holds the workflow state machine and the assignment
// manager. It advances requests across workflow steps as actions occur,
// fans out assignments to eligible approvers, chains through auto-approve
// steps, and sweeps overdue assignments.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dkarim/approval-engine/internal/auth"
	"github.com/dkarim/approval-engine/internal/domain"
	"github.com/dkarim/approval-engine/internal/metrics"
	"github.com/google/uuid"
)

type RequestStore interface {
	Create(ctx context.Context, req domain.Request) (domain.Request, error)
	Get(ctx context.Context, id uuid.UUID) (domain.Request, error)

	// ApplyTransition performs the request status/pointer update and the
	// action insert in one atomic transaction.
	ApplyTransition(ctx context.Context, t domain.Transition) (domain.Request, error)
}

type WorkflowStore interface {
	Get(ctx context.Context, id uuid.UUID) (domain.Workflow, error)

	// Steps returns the workflow's steps ordered by step_order ascending.
	Steps(ctx context.Context, workflowID uuid.UUID) ([]domain.WorkflowStep, error)
}

// AuditSink records audit events. Implementations are fire-and-forget and
// must never propagate failures into the caller.
type AuditSink interface {
	Record(ctx context.Context, entityType, entityID, action string, actorID *uuid.UUID, tenantID uuid.UUID, details map[string]any)
}

// NotificationSink delivers notifications, same fire-and-forget guarantee as
// the audit sink.
type NotificationSink interface {
	Notify(ctx context.Context, eventType string, recipient domain.User, metadata map[string]any)
}

type Deps struct {
	Requests      RequestStore
	Workflows     WorkflowStore
	Assignments   *AssignmentManager
	Audit         AuditSink
	RoleSatisfies domain.RolePredicate
	Logger        *slog.Logger
}

type Engine struct {
	requests      RequestStore
	workflows     WorkflowStore
	assignments   *AssignmentManager
	audit         AuditSink
	roleSatisfies domain.RolePredicate
	logger        *slog.Logger
}

func New(deps Deps) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	roleSatisfies := deps.RoleSatisfies
	if roleSatisfies == nil {
		roleSatisfies = domain.DefaultRolePredicate
	}

	return &Engine{
		requests:      deps.Requests,
		workflows:     deps.Workflows,
		assignments:   deps.Assignments,
		audit:         deps.Audit,
		roleSatisfies: roleSatisfies,
		logger:        logger,
	}
}

type SubmitParams struct {
	WorkflowID uuid.UUID
	Payload    json.RawMessage
}

// Submit creates a request at the workflow's first step, then either
// advances straight through an auto-approve first step, assigns the creator
// when their role already satisfies the step, or fans out to every eligible
// approver.
func (e *Engine) Submit(ctx context.Context, params SubmitParams) (domain.Request, error) {
	principal, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return domain.Request{}, fmt.Errorf("submit without authenticated caller: %w", domain.ErrForbidden)
	}

	workflow, err := e.workflows.Get(ctx, params.WorkflowID)
	if err != nil {
		return domain.Request{}, err
	}
	if !workflow.Active {
		return domain.Request{}, fmt.Errorf("workflow %s is not active: %w", workflow.ID, domain.ErrInvalidState)
	}

	steps, err := e.workflows.Steps(ctx, workflow.ID)
	if err != nil {
		return domain.Request{}, err
	}
	if len(steps) == 0 {
		return domain.Request{}, fmt.Errorf("workflow %s has no steps: %w", workflow.ID, domain.ErrInvalidState)
	}
	firstStep := steps[0]

	request, err := e.requests.Create(ctx, domain.Request{
		ID:            uuid.New(),
		WorkflowID:    workflow.ID,
		TenantID:      principal.TenantID,
		CreatedBy:     principal.UserID,
		CurrentStepID: firstStep.ID,
		Status:        domain.RequestInProgress,
		Payload:       params.Payload,
	})
	if err != nil {
		return domain.Request{}, err
	}

	metrics.IncRequestStatus(string(domain.RequestInProgress))
	e.recordAudit(ctx, "REQUEST", request.ID, "REQUEST_CREATED", &principal.UserID, principal.TenantID, map[string]any{
		"workflow_id":   workflow.ID.String(),
		"workflow_name": workflow.Name,
	})

	if firstStep.AutoApprove {
		return e.advance(ctx, request, steps, domain.ActionAutoApprove, "auto-approved on submit", nil, domain.Role(""), 0)
	}

	// Self-serve: a creator whose role already satisfies the first step gets
	// a single assignment instead of a broadcast.
	if e.roleSatisfies(principal.Role, firstStep.RequiredRole) {
		if err := e.assignments.AssignTo(ctx, request, firstStep, principal.UserID); err != nil {
			e.logger.Error("self-serve assignment failed",
				"request_id", request.ID,
				"step_id", firstStep.ID,
				"error", err,
			)
		}
		return request, nil
	}

	if err := e.assignments.FanOut(ctx, request, firstStep); err != nil {
		e.logger.Error("assignment fan-out failed",
			"request_id", request.ID,
			"step_id", firstStep.ID,
			"error", err,
		)
	}

	return request, nil
}

// Act validates an approval or rejection, records the audit action, and
// advances or terminates the request. AUTO_APPROVE is a system action with
// no human actor and no role check; it is also what the engine recurses
// with when the next step is flagged auto-approve.
func (e *Engine) Act(ctx context.Context, requestID uuid.UUID, actionType domain.ActionType, comments string) (domain.Request, error) {
	var actorID *uuid.UUID
	var actorRole domain.Role

	if actionType != domain.ActionAutoApprove {
		principal, ok := auth.PrincipalFromContext(ctx)
		if !ok {
			return domain.Request{}, fmt.Errorf("action without authenticated caller: %w", domain.ErrForbidden)
		}
		actorID = &principal.UserID
		actorRole = principal.Role
	}

	request, err := e.requests.Get(ctx, requestID)
	if err != nil {
		return domain.Request{}, err
	}
	if request.Status != domain.RequestInProgress {
		return domain.Request{}, fmt.Errorf("request %s is %s: %w", request.ID, request.Status, domain.ErrInvalidState)
	}

	steps, err := e.workflows.Steps(ctx, request.WorkflowID)
	if err != nil {
		return domain.Request{}, err
	}

	return e.advance(ctx, request, steps, actionType, comments, actorID, actorRole, 0)
}

// advance applies one transition and recurses through auto-approve steps.
// Recursion terminates because step order is strictly increasing; the depth
// guard catches a misconfigured cyclic step order.
func (e *Engine) advance(
	ctx context.Context,
	request domain.Request,
	steps []domain.WorkflowStep,
	actionType domain.ActionType,
	comments string,
	actorID *uuid.UUID,
	actorRole domain.Role,
	depth int,
) (domain.Request, error) {
	if depth > len(steps) {
		return domain.Request{}, fmt.Errorf("auto-approve depth %d exceeds %d steps on request %s: %w",
			depth, len(steps), request.ID, domain.ErrInvalidState)
	}

	currentStep, ok := stepByID(steps, request.CurrentStepID)
	if !ok {
		return domain.Request{}, fmt.Errorf("request %s current step %s does not belong to workflow %s: %w",
			request.ID, request.CurrentStepID, request.WorkflowID, domain.ErrInvalidState)
	}

	if actionType != domain.ActionAutoApprove {
		if !e.roleSatisfies(actorRole, currentStep.RequiredRole) {
			return domain.Request{}, fmt.Errorf("role %s does not satisfy step requiring %s: %w",
				actorRole, currentStep.RequiredRole, domain.ErrForbidden)
		}

		// Best effort: AUTO_APPROVE has no human assignee and re-entrant
		// calls may find nothing outstanding.
		if err := e.assignments.Complete(ctx, request, *actorID); err != nil {
			e.logger.Error("complete assignment failed",
				"request_id", request.ID,
				"user_id", *actorID,
				"error", err,
			)
		}
	}

	if actionType == domain.ActionReject {
		updated, err := e.requests.ApplyTransition(ctx, domain.Transition{
			RequestID:  request.ID,
			NewStatus:  domain.RequestRejected,
			NewStepID:  currentStep.ID,
			ActionBy:   actorID,
			ActionType: domain.ActionReject,
			FromStepID: currentStep.ID,
			ToStepID:   nil,
			Comments:   comments,
		})
		if err != nil {
			return domain.Request{}, err
		}

		metrics.IncActionType(string(domain.ActionReject))
		metrics.IncRequestStatus(string(domain.RequestRejected))
		e.recordAudit(ctx, "REQUEST", request.ID, "REQUEST_REJECTED", actorID, request.TenantID, map[string]any{
			"step_id": currentStep.ID.String(),
		})

		return updated, nil
	}

	nextStep, hasNext := domain.NextStep(steps, currentStep)

	if !hasNext {
		updated, err := e.requests.ApplyTransition(ctx, domain.Transition{
			RequestID:  request.ID,
			NewStatus:  domain.RequestCompleted,
			NewStepID:  currentStep.ID,
			ActionBy:   actorID,
			ActionType: actionType,
			FromStepID: currentStep.ID,
			ToStepID:   nil,
			Comments:   comments,
		})
		if err != nil {
			return domain.Request{}, err
		}

		metrics.IncActionType(string(actionType))
		metrics.IncRequestStatus(string(domain.RequestCompleted))
		e.recordAudit(ctx, "REQUEST", request.ID, "REQUEST_COMPLETED", actorID, request.TenantID, map[string]any{
			"step_id": currentStep.ID.String(),
		})

		return updated, nil
	}

	updated, err := e.requests.ApplyTransition(ctx, domain.Transition{
		RequestID:  request.ID,
		NewStatus:  domain.RequestInProgress,
		NewStepID:  nextStep.ID,
		ActionBy:   actorID,
		ActionType: actionType,
		FromStepID: currentStep.ID,
		ToStepID:   &nextStep.ID,
		Comments:   comments,
	})
	if err != nil {
		return domain.Request{}, err
	}

	metrics.IncActionType(string(actionType))

	// Auto-approve steps advance immediately and never hold assignments, so
	// the fan-out is skipped for them.
	if nextStep.AutoApprove {
		return e.advance(ctx, updated, steps, domain.ActionAutoApprove, "auto-approved", nil, domain.Role(""), depth+1)
	}

	if err := e.assignments.FanOut(ctx, updated, nextStep); err != nil {
		e.logger.Error("assignment fan-out failed",
			"request_id", updated.ID,
			"step_id", nextStep.ID,
			"error", err,
		)
	}

	return updated, nil
}

func (e *Engine) recordAudit(ctx context.Context, entityType string, entityID uuid.UUID, action string, actorID *uuid.UUID, tenantID uuid.UUID, details map[string]any) {
	if e.audit == nil {
		return
	}
	e.audit.Record(ctx, entityType, entityID.String(), action, actorID, tenantID, details)
}

func stepByID(steps []domain.WorkflowStep, id uuid.UUID) (domain.WorkflowStep, bool) {
	for _, s := range steps {
		if s.ID == id {
			return s, true
		}
	}
	return domain.WorkflowStep{}, false
}
