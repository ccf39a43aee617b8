// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"

	"github.com/dkarim/approval-engine/internal/domain"
	"github.com/google/uuid"
)

type principalContextKey struct{}
type tenantIDContextKey struct{}
type idempotencyKeyContextKey struct{}

var ctxPrincipalKey principalContextKey
var ctxTenantIDKey tenantIDContextKey
var ctxIdempotencyKey idempotencyKeyContextKey

// Principal is the authenticated caller: the user, the tenant every
// repository call is scoped to, and the role the permission check runs
// against.
type Principal struct {
	UserID   uuid.UUID
	TenantID uuid.UUID
	Role     domain.Role
}

// WithPrincipal stores the authenticated caller on the request context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	ctx = context.WithValue(ctx, ctxPrincipalKey, p)
	return context.WithValue(ctx, ctxTenantIDKey, p.TenantID)
}

// WithTenantID stores a bare tenant scope without a user, for system-driven
// operations such as the overdue sweep.
func WithTenantID(ctx context.Context, tenantID uuid.UUID) context.Context {
	return context.WithValue(ctx, ctxTenantIDKey, tenantID)
}

// PrincipalFromContext reads the authenticated caller from context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	v := ctx.Value(ctxPrincipalKey)
	p, ok := v.(Principal)
	if !ok || p.UserID == uuid.Nil {
		return Principal{}, false
	}
	return p, true
}

// TenantIDFromContext reads the ambient tenant scope from context.
func TenantIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	v := ctx.Value(ctxTenantIDKey)
	id, ok := v.(uuid.UUID)
	if !ok || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}

func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, ctxIdempotencyKey, key)
}

func IdempotencyKeyFromContext(ctx context.Context) (string, bool) {
	v := ctx.Value(ctxIdempotencyKey)
	key, ok := v.(string)
	if !ok || key == "" {
		return "", false
	}
	return key, true
}
