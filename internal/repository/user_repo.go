// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dkarim/approval-engine/internal/auth"
	"github.com/dkarim/approval-engine/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type UserRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewUserRepository(pool *pgxpool.Pool, logger *slog.Logger) *UserRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &UserRepository{
		pool:   pool,
		logger: logger,
	}
}

// ResolveToken maps an opaque bearer token to the authenticated principal.
// Tokens are stored hashed; inactive users do not resolve.
func (r *UserRepository) ResolveToken(ctx context.Context, bearerToken string) (auth.Principal, bool, error) {
	if bearerToken == "" {
		return auth.Principal{}, false, nil
	}
	tokenHash := sha256Hex(bearerToken)

	var p auth.Principal
	err := r.pool.QueryRow(ctx, `
		SELECT id, tenant_id, role
		FROM users
		WHERE token_hash=$1 AND active
	`, tokenHash).Scan(&p.UserID, &p.TenantID, &p.Role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return auth.Principal{}, false, nil
		}
		r.logger.Error("resolve token failed", "error", err)
		return auth.Principal{}, false, err
	}

	return p, true, nil
}

// UsersWithRole returns every active user in the tenant holding the role,
// the fan-out population for a step. The tenant id is explicit because the
// sweep-driven callers run outside an ambient tenant scope.
func (r *UserRepository) UsersWithRole(ctx context.Context, tenantID uuid.UUID, role domain.Role) ([]domain.User, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, tenant_id, username, email, role, active, created_at
		FROM users
		WHERE tenant_id=$1 AND role=$2 AND active
		ORDER BY username ASC
	`, tenantID, role)
	if err != nil {
		r.logger.Error("users with role query failed", "role", role, "error", err)
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.User, 0, 8)
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.TenantID, &u.Username, &u.Email, &u.Role, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

func (r *UserRepository) Get(ctx context.Context, id uuid.UUID) (domain.User, error) {
	var u domain.User
	err := r.pool.QueryRow(ctx, `
		SELECT id, tenant_id, username, email, role, active, created_at
		FROM users
		WHERE id=$1
	`, id).Scan(&u.ID, &u.TenantID, &u.Username, &u.Email, &u.Role, &u.Active, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, fmt.Errorf("user %s: %w", id, domain.ErrNotFound)
		}
		r.logger.Error("get user failed", "user_id", id, "error", err)
		return domain.User{}, err
	}

	return u, nil
}

type CreateUserParams struct {
	TenantID uuid.UUID
	Username string
	Email    string
	Role     domain.Role
}

type CreatedUser struct {
	User  domain.User
	Token string
}

// CreateUser inserts a user and mints their opaque bearer token. The token
// is returned exactly once; only its hash is stored.
func (r *UserRepository) CreateUser(ctx context.Context, params CreateUserParams) (CreatedUser, error) {
	username := strings.TrimSpace(params.Username)
	if username == "" {
		return CreatedUser{}, fmt.Errorf("username is required: %w", domain.ErrInvalidState)
	}

	token, tokenHash, err := generateUserToken()
	if err != nil {
		r.logger.Error("generate user token failed", "error", err)
		return CreatedUser{}, err
	}

	user := domain.User{
		ID:       uuid.New(),
		TenantID: params.TenantID,
		Username: username,
		Email:    strings.TrimSpace(params.Email),
		Role:     params.Role,
		Active:   true,
	}

	err = r.pool.QueryRow(ctx, `
		INSERT INTO users (id, tenant_id, username, email, role, token_hash, active)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE)
		RETURNING created_at
	`,
		user.ID,
		user.TenantID,
		user.Username,
		user.Email,
		user.Role,
		tokenHash,
	).Scan(&user.CreatedAt)
	if err != nil {
		r.logger.Error("create user failed", "username", username, "error", err)
		return CreatedUser{}, err
	}

	return CreatedUser{User: user, Token: token}, nil
}

// CreateTenant bootstraps a tenant together with its first admin user.
func (r *UserRepository) CreateTenant(ctx context.Context, name, adminUsername, adminEmail string) (domain.Tenant, CreatedUser, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Tenant{}, CreatedUser{}, fmt.Errorf("tenant name is required: %w", domain.ErrInvalidState)
	}

	token, tokenHash, err := generateUserToken()
	if err != nil {
		return domain.Tenant{}, CreatedUser{}, err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		r.logger.Error("begin tx failed", "error", err)
		return domain.Tenant{}, CreatedUser{}, err
	}
	defer tx.Rollback(ctx)

	tenant := domain.Tenant{ID: uuid.New(), Name: name}
	if err := tx.QueryRow(ctx, `
		INSERT INTO tenants (id, name) VALUES ($1, $2)
		RETURNING created_at
	`, tenant.ID, tenant.Name).Scan(&tenant.CreatedAt); err != nil {
		r.logger.Error("insert tenant failed", "name", name, "error", err)
		return domain.Tenant{}, CreatedUser{}, err
	}

	admin := domain.User{
		ID:       uuid.New(),
		TenantID: tenant.ID,
		Username: strings.TrimSpace(adminUsername),
		Email:    strings.TrimSpace(adminEmail),
		Role:     domain.RoleTenantAdmin,
		Active:   true,
	}
	if err := tx.QueryRow(ctx, `
		INSERT INTO users (id, tenant_id, username, email, role, token_hash, active)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE)
		RETURNING created_at
	`,
		admin.ID,
		admin.TenantID,
		admin.Username,
		admin.Email,
		admin.Role,
		tokenHash,
	).Scan(&admin.CreatedAt); err != nil {
		r.logger.Error("insert tenant admin failed", "tenant_id", tenant.ID, "error", err)
		return domain.Tenant{}, CreatedUser{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		r.logger.Error("commit tenant bootstrap failed", "tenant_id", tenant.ID, "error", err)
		return domain.Tenant{}, CreatedUser{}, err
	}

	r.logger.Info("tenant bootstrapped", "tenant_id", tenant.ID, "name", tenant.Name)
	return tenant, CreatedUser{User: admin, Token: token}, nil
}

func generateUserToken() (string, string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", err
	}
	token := "wk_live_" + hex.EncodeToString(raw)
	return token, sha256Hex(token), nil
}

func sha256Hex(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}
