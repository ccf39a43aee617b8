// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"context"

	"github.com/dkarim/approval-engine/internal/auth"
	"github.com/dkarim/approval-engine/internal/domain"
	"github.com/dkarim/approval-engine/internal/engine"
	"github.com/dkarim/approval-engine/internal/repository"
	"github.com/google/uuid"
)

type RequestProcessor interface {
	Submit(ctx context.Context, params engine.SubmitParams) (domain.Request, error)
	Act(ctx context.Context, requestID uuid.UUID, actionType domain.ActionType, comments string) (domain.Request, error)
}

type RequestReader interface {
	Get(ctx context.Context, id uuid.UUID) (domain.Request, error)
	List(ctx context.Context, params repository.ListRequestsParams) ([]domain.Request, error)
	PendingForRole(ctx context.Context, role domain.Role) ([]domain.Request, error)
	History(ctx context.Context, requestID uuid.UUID) ([]domain.Action, error)
}

type WorkflowManager interface {
	CreateWorkflow(ctx context.Context, params repository.CreateWorkflowParams) (domain.Workflow, error)
	Get(ctx context.Context, id uuid.UUID) (domain.Workflow, error)
	List(ctx context.Context) ([]domain.Workflow, error)
	Steps(ctx context.Context, workflowID uuid.UUID) ([]domain.WorkflowStep, error)
}

type AssignmentReader interface {
	ListByRequest(ctx context.Context, requestID uuid.UUID) ([]domain.Assignment, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]domain.Assignment, error)
}

type DirectoryAdmin interface {
	CreateTenant(ctx context.Context, name, adminUsername, adminEmail string) (domain.Tenant, repository.CreatedUser, error)
	CreateUser(ctx context.Context, params repository.CreateUserParams) (repository.CreatedUser, error)
}

type TokenResolver interface {
	ResolveToken(ctx context.Context, bearerToken string) (auth.Principal, bool, error)
}
