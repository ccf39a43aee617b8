// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"time"

	"github.com/google/uuid"
)

type AssignmentStatus string

const (
	AssignmentAssigned  AssignmentStatus = "ASSIGNED"
	AssignmentCompleted AssignmentStatus = "COMPLETED"
	AssignmentOverdue   AssignmentStatus = "OVERDUE"
)

// Assignment is one unit of pending work for one (request, step, user)
// combination. Status is the only field ever updated in place.
type Assignment struct {
	ID         uuid.UUID        `json:"id"`
	RequestID  uuid.UUID        `json:"request_id"`
	StepID     uuid.UUID        `json:"step_id"`
	TenantID   uuid.UUID        `json:"tenant_id"`
	AssignedTo uuid.UUID        `json:"assigned_to"`
	AssignedAt time.Time        `json:"assigned_at"`
	DueAt      time.Time        `json:"due_at"`
	Status     AssignmentStatus `json:"status"`
}
