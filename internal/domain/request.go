// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type RequestStatus string

const (
	RequestInProgress RequestStatus = "IN_PROGRESS"
	RequestCompleted  RequestStatus = "COMPLETED"
	RequestRejected   RequestStatus = "REJECTED"
)

// Terminal reports whether no further transitions are permitted.
func (s RequestStatus) Terminal() bool {
	return s == RequestCompleted || s == RequestRejected
}

type Request struct {
	ID            uuid.UUID       `json:"id"`
	WorkflowID    uuid.UUID       `json:"workflow_id"`
	TenantID      uuid.UUID       `json:"tenant_id"`
	CreatedBy     uuid.UUID       `json:"created_by"`
	CurrentStepID uuid.UUID       `json:"current_step_id"`
	Status        RequestStatus   `json:"status"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type ActionType string

const (
	ActionApprove     ActionType = "APPROVE"
	ActionReject      ActionType = "REJECT"
	ActionAutoApprove ActionType = "AUTO_APPROVE"
)

// Action is one append-only audit record of a state transition.
// ActionBy is nil for system-driven AUTO_APPROVE; ToStepID is nil when the
// transition is terminal.
type Action struct {
	ID         uuid.UUID  `json:"id"`
	RequestID  uuid.UUID  `json:"request_id"`
	TenantID   uuid.UUID  `json:"tenant_id"`
	ActionBy   *uuid.UUID `json:"action_by,omitempty"`
	ActionType ActionType `json:"action_type"`
	FromStepID uuid.UUID  `json:"from_step_id"`
	ToStepID   *uuid.UUID `json:"to_step_id,omitempty"`
	Comments   string     `json:"comments,omitempty"`
	ActionTime time.Time  `json:"action_time"`
}

// Transition is the atomic unit the request store applies in one transaction:
// the request's status/step pointer update together with the action insert.
type Transition struct {
	RequestID  uuid.UUID
	NewStatus  RequestStatus
	NewStepID  uuid.UUID
	ActionBy   *uuid.UUID
	ActionType ActionType
	FromStepID uuid.UUID
	ToStepID   *uuid.UUID
	Comments   string
}
