// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dkarim/approval-engine/internal/domain"
	"github.com/dkarim/approval-engine/internal/metrics"
	"github.com/google/uuid"
)

const DefaultGracePeriod = 48 * time.Hour

type AssignmentStore interface {
	CreateBatch(ctx context.Context, assignments []domain.Assignment) error

	// CompleteLatest marks the user's most recently assigned ASSIGNED
	// assignment for the request COMPLETED. The boolean reports whether one
	// was found.
	CompleteLatest(ctx context.Context, requestID, userID uuid.UUID) (domain.Assignment, bool, error)

	// ListDue returns every ASSIGNED assignment past due across all
	// tenants. Every row carries its own tenant id.
	ListDue(ctx context.Context, before time.Time) ([]domain.Assignment, error)

	// MarkOverdue flips one assignment ASSIGNED -> OVERDUE. It reports
	// false when the row was concurrently completed, so a COMPLETED row is
	// never pushed back to OVERDUE.
	MarkOverdue(ctx context.Context, id uuid.UUID) (bool, error)
}

type UserDirectory interface {
	UsersWithRole(ctx context.Context, tenantID uuid.UUID, role domain.Role) ([]domain.User, error)
	Get(ctx context.Context, id uuid.UUID) (domain.User, error)
}

type AssignmentManagerDeps struct {
	Store       AssignmentStore
	Users       UserDirectory
	Audit       AuditSink
	Notifier    NotificationSink
	Logger      *slog.Logger
	GracePeriod time.Duration
	Now         func() time.Time
}

// AssignmentManager creates and fans out assignments for a step, completes
// them, and sweeps overdue ones.
type AssignmentManager struct {
	store    AssignmentStore
	users    UserDirectory
	audit    AuditSink
	notifier NotificationSink
	logger   *slog.Logger
	grace    time.Duration
	now      func() time.Time
}

func NewAssignmentManager(deps AssignmentManagerDeps) *AssignmentManager {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	grace := deps.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}

	now := deps.Now
	if now == nil {
		now = time.Now
	}

	return &AssignmentManager{
		store:    deps.Store,
		users:    deps.Users,
		audit:    deps.Audit,
		notifier: deps.Notifier,
		logger:   logger,
		grace:    grace,
		now:      now,
	}
}

// FanOut creates one ASSIGNED assignment per active user in the request's
// tenant holding the step's required role. Zero eligible users is not an
// error: auto-approve steps and mis-configured tenants simply get no
// pending assignees.
func (m *AssignmentManager) FanOut(ctx context.Context, request domain.Request, step domain.WorkflowStep) error {
	if request.Status.Terminal() {
		return fmt.Errorf("cannot assign terminal request %s (%s): %w", request.ID, request.Status, domain.ErrConflict)
	}

	eligible, err := m.users.UsersWithRole(ctx, request.TenantID, step.RequiredRole)
	if err != nil {
		return err
	}
	if len(eligible) == 0 {
		m.logger.Debug("no eligible assignees for step",
			"request_id", request.ID,
			"step_id", step.ID,
			"required_role", step.RequiredRole,
		)
		return nil
	}

	now := m.now()
	assignments := make([]domain.Assignment, 0, len(eligible))
	for _, user := range eligible {
		assignments = append(assignments, domain.Assignment{
			ID:         uuid.New(),
			RequestID:  request.ID,
			StepID:     step.ID,
			TenantID:   request.TenantID,
			AssignedTo: user.ID,
			AssignedAt: now,
			DueAt:      now.Add(m.grace),
			Status:     domain.AssignmentAssigned,
		})
	}

	if err := m.store.CreateBatch(ctx, assignments); err != nil {
		return err
	}

	for i, assignment := range assignments {
		metrics.IncAssignmentStatus(string(domain.AssignmentAssigned))
		m.recordAudit(ctx, assignment, "ASSIGNMENT_CREATED", nil)
		if m.notifier != nil {
			m.notifier.Notify(ctx, "REQUEST_ASSIGNED", eligible[i], map[string]any{
				"request_id": request.ID.String(),
				"step_id":    step.ID.String(),
				"due_at":     assignment.DueAt,
			})
		}
	}

	m.logger.Info("assignments fanned out",
		"request_id", request.ID,
		"step_id", step.ID,
		"assignees", len(assignments),
	)

	return nil
}

// AssignTo creates a single assignment for one user, used when the request
// creator already satisfies the first step.
func (m *AssignmentManager) AssignTo(ctx context.Context, request domain.Request, step domain.WorkflowStep, userID uuid.UUID) error {
	if request.Status.Terminal() {
		return fmt.Errorf("cannot assign terminal request %s (%s): %w", request.ID, request.Status, domain.ErrConflict)
	}

	now := m.now()
	assignment := domain.Assignment{
		ID:         uuid.New(),
		RequestID:  request.ID,
		StepID:     step.ID,
		TenantID:   request.TenantID,
		AssignedTo: userID,
		AssignedAt: now,
		DueAt:      now.Add(m.grace),
		Status:     domain.AssignmentAssigned,
	}

	if err := m.store.CreateBatch(ctx, []domain.Assignment{assignment}); err != nil {
		return err
	}

	metrics.IncAssignmentStatus(string(domain.AssignmentAssigned))
	m.recordAudit(ctx, assignment, "ASSIGNMENT_CREATED", nil)

	if m.notifier != nil {
		if user, err := m.users.Get(ctx, userID); err == nil {
			m.notifier.Notify(ctx, "REQUEST_ASSIGNED", user, map[string]any{
				"request_id": request.ID.String(),
				"step_id":    step.ID.String(),
				"due_at":     assignment.DueAt,
			})
		}
	}

	return nil
}

// Complete marks the user's outstanding ASSIGNED assignment for the request
// COMPLETED. Silent no-op when none exists, which covers auto-approve and
// re-entrant calls.
func (m *AssignmentManager) Complete(ctx context.Context, request domain.Request, userID uuid.UUID) error {
	assignment, found, err := m.store.CompleteLatest(ctx, request.ID, userID)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	metrics.IncAssignmentStatus(string(domain.AssignmentCompleted))
	m.recordAudit(ctx, assignment, "ASSIGNMENT_COMPLETED", &userID)

	return nil
}

// SweepOverdue flips every past-due ASSIGNED assignment to OVERDUE and emits
// one audit event per transition attributed to the system. Rows are
// processed independently: a failure on one row is logged and the rest of
// the batch continues.
func (m *AssignmentManager) SweepOverdue(ctx context.Context) (int, error) {
	started := m.now()

	due, err := m.store.ListDue(ctx, started)
	if err != nil {
		return 0, err
	}

	marked := 0
	for _, assignment := range due {
		ok, err := m.store.MarkOverdue(ctx, assignment.ID)
		if err != nil {
			m.logger.Error("mark overdue failed",
				"assignment_id", assignment.ID,
				"request_id", assignment.RequestID,
				"error", err,
			)
			continue
		}
		if !ok {
			// Raced with a human completing it. Skip.
			continue
		}

		marked++
		metrics.IncAssignmentStatus(string(domain.AssignmentOverdue))
		m.recordAudit(ctx, assignment, "ASSIGNMENT_OVERDUE", nil)
	}

	metrics.ObserveSweepDuration(time.Since(started))
	metrics.AddSweptAssignments(marked)

	if marked > 0 {
		m.logger.Info("overdue sweep complete",
			"scanned", len(due),
			"marked", marked,
		)
	}

	return marked, nil
}

func (m *AssignmentManager) recordAudit(ctx context.Context, assignment domain.Assignment, action string, actorID *uuid.UUID) {
	if m.audit == nil {
		return
	}
	m.audit.Record(ctx, "REQUEST_ASSIGNMENT", assignment.ID.String(), action, actorID, assignment.TenantID, map[string]any{
		"request_id":  assignment.RequestID.String(),
		"assigned_to": assignment.AssignedTo.String(),
	})
}
