// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dkarim/approval-engine/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAssignmentManagerDefaults(t *testing.T) {
	m := NewAssignmentManager(AssignmentManagerDeps{})

	if m.logger == nil {
		t.Fatal("expected default logger to be set")
	}
	if m.grace != DefaultGracePeriod {
		t.Fatalf("expected default grace period %s, got %s", DefaultGracePeriod, m.grace)
	}
	if m.now == nil {
		t.Fatal("expected default clock to be set")
	}
}

func TestFanOutOnTerminalRequestConflicts(t *testing.T) {
	h := newHarness(t)
	h.addUser(domain.RoleManager)

	request := domain.Request{
		ID:       uuid.New(),
		TenantID: h.tenantID,
		Status:   domain.RequestCompleted,
	}
	err := h.manager.FanOut(context.Background(), request, domain.WorkflowStep{ID: uuid.New(), RequiredRole: domain.RoleManager})
	require.ErrorIs(t, err, domain.ErrConflict)

	request.Status = domain.RequestRejected
	err = h.manager.FanOut(context.Background(), request, domain.WorkflowStep{ID: uuid.New(), RequiredRole: domain.RoleManager})
	require.ErrorIs(t, err, domain.ErrConflict)

	assert.Empty(t, h.assignments.byStatus(domain.AssignmentAssigned))
}

func TestFanOutZeroEligibleUsersIsNotAnError(t *testing.T) {
	h := newHarness(t)

	request := domain.Request{ID: uuid.New(), TenantID: h.tenantID, Status: domain.RequestInProgress}
	err := h.manager.FanOut(context.Background(), request, domain.WorkflowStep{ID: uuid.New(), RequiredRole: domain.RoleFinance})
	require.NoError(t, err)
	assert.Empty(t, h.assignments.byStatus(domain.AssignmentAssigned))
}

func TestFanOutSkipsInactiveUsers(t *testing.T) {
	h := newHarness(t)
	h.addUser(domain.RoleManager)
	inactive := h.addUser(domain.RoleManager)
	for i, u := range h.users.users {
		if u.ID == inactive.ID {
			h.users.users[i].Active = false
		}
	}

	request := domain.Request{ID: uuid.New(), TenantID: h.tenantID, Status: domain.RequestInProgress}
	err := h.manager.FanOut(context.Background(), request, domain.WorkflowStep{ID: uuid.New(), RequiredRole: domain.RoleManager})
	require.NoError(t, err)

	assigned := h.assignments.byStatus(domain.AssignmentAssigned)
	require.Len(t, assigned, 1)
	assert.NotEqual(t, inactive.ID, assigned[0].AssignedTo)
}

func TestCompleteIsSilentWhenNothingOutstanding(t *testing.T) {
	h := newHarness(t)

	request := domain.Request{ID: uuid.New(), TenantID: h.tenantID, Status: domain.RequestInProgress}
	err := h.manager.Complete(context.Background(), request, uuid.New())
	require.NoError(t, err)
}

func TestCompleteMarksMostRecentAssigned(t *testing.T) {
	h := newHarness(t)
	user := h.addUser(domain.RoleManager)

	request := domain.Request{ID: uuid.New(), TenantID: h.tenantID, Status: domain.RequestInProgress}
	older := domain.Assignment{
		ID: uuid.New(), RequestID: request.ID, TenantID: h.tenantID,
		AssignedTo: user.ID, AssignedAt: time.Now().Add(-time.Hour),
		DueAt: time.Now().Add(time.Hour), Status: domain.AssignmentAssigned,
	}
	newer := older
	newer.ID = uuid.New()
	newer.AssignedAt = time.Now()
	require.NoError(t, h.assignments.CreateBatch(context.Background(), []domain.Assignment{older, newer}))

	require.NoError(t, h.manager.Complete(context.Background(), request, user.ID))

	completed := h.assignments.byStatus(domain.AssignmentCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, newer.ID, completed[0].ID)
}

func TestSweepOverdueMarksPastDueOnly(t *testing.T) {
	h := newHarness(t)
	user := h.addUser(domain.RoleManager)

	now := time.Now()
	pastDue := domain.Assignment{
		ID: uuid.New(), RequestID: uuid.New(), TenantID: h.tenantID,
		AssignedTo: user.ID, AssignedAt: now.Add(-72 * time.Hour),
		DueAt: now.Add(-time.Hour), Status: domain.AssignmentAssigned,
	}
	fresh := domain.Assignment{
		ID: uuid.New(), RequestID: uuid.New(), TenantID: h.tenantID,
		AssignedTo: user.ID, AssignedAt: now,
		DueAt: now.Add(48 * time.Hour), Status: domain.AssignmentAssigned,
	}
	require.NoError(t, h.assignments.CreateBatch(context.Background(), []domain.Assignment{pastDue, fresh}))

	marked, err := h.manager.SweepOverdue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, marked)

	overdue := h.assignments.byStatus(domain.AssignmentOverdue)
	require.Len(t, overdue, 1)
	assert.Equal(t, pastDue.ID, overdue[0].ID)

	// System-attributed audit event per transition.
	events := h.audit.byAction("ASSIGNMENT_OVERDUE")
	require.Len(t, events, 1)
	assert.Nil(t, events[0].actorID)
}

func TestSweepOverdueSecondRunIsNoOp(t *testing.T) {
	h := newHarness(t)
	user := h.addUser(domain.RoleManager)

	now := time.Now()
	pastDue := domain.Assignment{
		ID: uuid.New(), RequestID: uuid.New(), TenantID: h.tenantID,
		AssignedTo: user.ID, AssignedAt: now.Add(-72 * time.Hour),
		DueAt: now.Add(-time.Hour), Status: domain.AssignmentAssigned,
	}
	require.NoError(t, h.assignments.CreateBatch(context.Background(), []domain.Assignment{pastDue}))

	first, err := h.manager.SweepOverdue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first)

	second, err := h.manager.SweepOverdue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second)
	require.Len(t, h.audit.byAction("ASSIGNMENT_OVERDUE"), 1)
}

func TestSweepOverdueSkipsConcurrentlyCompletedRow(t *testing.T) {
	h := newHarness(t)
	user := h.addUser(domain.RoleManager)

	now := time.Now()
	pastDue := domain.Assignment{
		ID: uuid.New(), RequestID: uuid.New(), TenantID: h.tenantID,
		AssignedTo: user.ID, AssignedAt: now.Add(-72 * time.Hour),
		DueAt: now.Add(-time.Hour), Status: domain.AssignmentAssigned,
	}

	store := &racingAssignmentStore{fakeAssignmentStore: h.assignments, completeBeforeMark: user.ID}
	manager := NewAssignmentManager(AssignmentManagerDeps{
		Store:  store,
		Users:  h.users,
		Audit:  h.audit,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, h.assignments.CreateBatch(context.Background(), []domain.Assignment{pastDue}))

	marked, err := manager.SweepOverdue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, marked)

	completed := h.assignments.byStatus(domain.AssignmentCompleted)
	require.Len(t, completed, 1, "a COMPLETED row must never be flipped back to OVERDUE")
}

// racingAssignmentStore completes the row between the sweep's scan and its
// guarded update, simulating a human acting mid-sweep.
type racingAssignmentStore struct {
	*fakeAssignmentStore
	completeBeforeMark uuid.UUID
}

func (s *racingAssignmentStore) MarkOverdue(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	a, ok := s.assignments[id]
	if ok && a.Status == domain.AssignmentAssigned {
		a.Status = domain.AssignmentCompleted
		s.assignments[id] = a
	}
	s.mu.Unlock()
	return s.fakeAssignmentStore.MarkOverdue(ctx, id)
}
