// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"time"

	"github.com/google/uuid"
)

type Workflow struct {
	ID          uuid.UUID `json:"id"`
	TenantID    uuid.UUID `json:"tenant_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

// WorkflowStep is one ordered stage of a workflow. StepOrder is a positive
// integer, unique within its workflow; steps form a strict total order.
type WorkflowStep struct {
	ID           uuid.UUID `json:"id"`
	WorkflowID   uuid.UUID `json:"workflow_id"`
	StepOrder    int       `json:"step_order"`
	StepName     string    `json:"step_name"`
	RequiredRole Role      `json:"required_role"`
	AutoApprove  bool      `json:"auto_approve"`
}

// NextStep returns the step with the smallest StepOrder strictly greater than
// current, or false when current is the last step. steps must be sorted by
// StepOrder ascending.
func NextStep(steps []WorkflowStep, current WorkflowStep) (WorkflowStep, bool) {
	for _, s := range steps {
		if s.StepOrder > current.StepOrder {
			return s, true
		}
	}
	return WorkflowStep{}, false
}
