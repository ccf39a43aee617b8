// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleSuperAdmin  Role = "SUPER_ADMIN"
	RoleTenantAdmin Role = "TENANT_ADMIN"
	RoleManager     Role = "MANAGER"
	RoleFinance     Role = "FINANCE"
	RoleEmployee    Role = "EMPLOYEE"
)

type User struct {
	ID        uuid.UUID `json:"id"`
	TenantID  uuid.UUID `json:"tenant_id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// RolePredicate decides whether an actor's role satisfies a step's required
// role. The engine takes it as a dependency so tenant-specific hierarchies can
// be plugged in without touching the state machine.
type RolePredicate func(actorRole, requiredRole Role) bool

// DefaultRolePredicate is exact match, except administrative roles which
// satisfy any step.
func DefaultRolePredicate(actorRole, requiredRole Role) bool {
	if actorRole == RoleSuperAdmin || actorRole == RoleTenantAdmin {
		return true
	}
	return actorRole == requiredRole
}

type Tenant struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
