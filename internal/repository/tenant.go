// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"fmt"

	"github.com/dkarim/approval-engine/internal/auth"
	"github.com/dkarim/approval-engine/internal/domain"
	"github.com/google/uuid"
)

// tenantIDFromContext reads the ambient tenant scope every repository call
// is filtered by. Calls without one are rejected outright.
func tenantIDFromContext(ctx context.Context) (uuid.UUID, error) {
	id, ok := auth.TenantIDFromContext(ctx)
	if !ok {
		return uuid.Nil, fmt.Errorf("missing tenant scope in context: %w", domain.ErrForbidden)
	}
	return id, nil
}
