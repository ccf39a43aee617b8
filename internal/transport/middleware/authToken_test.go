// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/dkarim/approval-engine/internal/auth"
	"github.com/dkarim/approval-engine/internal/domain"
	"github.com/google/uuid"
)

func TestUserTokenAuth(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	userID := uuid.New()
	tenantID := uuid.New()

	t.Run("allows healthz path without auth", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		rec := httptest.NewRecorder()

		UserTokenAuth(&mockTokenResolver{}, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})).ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status %d got %d", http.StatusOK, rec.Code)
		}
	})

	t.Run("allows metrics path without auth", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		rec := httptest.NewRecorder()

		UserTokenAuth(&mockTokenResolver{}, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})).ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status %d got %d", http.StatusOK, rec.Code)
		}
	})

	t.Run("allows version path without auth", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/version", nil)
		rec := httptest.NewRecorder()

		UserTokenAuth(&mockTokenResolver{}, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})).ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status %d got %d", http.StatusOK, rec.Code)
		}
	})

	t.Run("rejects missing token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/requests", nil)
		rec := httptest.NewRecorder()

		UserTokenAuth(&mockTokenResolver{}, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})).ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected status %d got %d", http.StatusUnauthorized, rec.Code)
		}
		if got := rec.Header().Get("WWW-Authenticate"); got != "Bearer" {
			t.Fatalf("expected WWW-Authenticate header %q got %q", "Bearer", got)
		}
	})

	t.Run("rejects unknown token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/requests", nil)
		req.Header.Set("Authorization", "Bearer nope")
		rec := httptest.NewRecorder()

		UserTokenAuth(&mockTokenResolver{}, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})).ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected status %d got %d", http.StatusUnauthorized, rec.Code)
		}
	})

	t.Run("resolver error returns internal server error", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/requests", nil)
		req.Header.Set("Authorization", "Bearer super-secret")
		rec := httptest.NewRecorder()

		UserTokenAuth(&mockTokenResolver{err: errors.New("db down")}, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})).ServeHTTP(rec, req)

		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("expected status %d got %d", http.StatusInternalServerError, rec.Code)
		}
	})

	t.Run("accepts valid token and sets principal in context", func(t *testing.T) {
		resolver := &mockTokenResolver{
			principalByToken: map[string]auth.Principal{
				"super-secret": {
					UserID:   userID,
					TenantID: tenantID,
					Role:     domain.RoleManager,
				},
			},
		}

		req := httptest.NewRequest(http.MethodGet, "/requests", nil)
		req.Header.Set("Authorization", "Bearer super-secret")
		rec := httptest.NewRecorder()

		UserTokenAuth(resolver, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := auth.PrincipalFromContext(r.Context())
			if !ok {
				t.Fatal("expected principal in request context")
			}
			if p.UserID != userID {
				t.Fatalf("expected user id %s got %s", userID, p.UserID)
			}
			if p.TenantID != tenantID {
				t.Fatalf("expected tenant id %s got %s", tenantID, p.TenantID)
			}
			if p.Role != domain.RoleManager {
				t.Fatalf("expected role %s got %s", domain.RoleManager, p.Role)
			}
			if got := w.Header().Get(headerRateLimitLimit); got != strconv.Itoa(defaultRequestsPerMinute) {
				t.Fatalf("expected %s header %d got %q", headerRateLimitLimit, defaultRequestsPerMinute, got)
			}
			if got := w.Header().Get(headerRateLimitRemaining); got == "" {
				t.Fatalf("expected %s header to be set", headerRateLimitRemaining)
			}
			w.WriteHeader(http.StatusOK)
		})).ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status %d got %d", http.StatusOK, rec.Code)
		}
	})

	t.Run("rate limits per user and sets retry header", func(t *testing.T) {
		limitedID := uuid.New()
		resolver := &mockTokenResolver{
			principalByToken: map[string]auth.Principal{
				"low-limit": {
					UserID:   limitedID,
					TenantID: tenantID,
					Role:     domain.RoleEmployee,
				},
			},
		}

		limiter := newInMemoryRateLimiter()
		handler := userTokenAuthWithLimiter(resolver, limiter, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		req1 := httptest.NewRequest(http.MethodGet, "/requests", nil)
		req1.Header.Set("Authorization", "Bearer low-limit")
		rec1 := httptest.NewRecorder()
		handler.ServeHTTP(rec1, req1)

		if rec1.Code != http.StatusOK {
			t.Fatalf("expected first request status 200 got %d", rec1.Code)
		}

		// Drain the rest of this user's bucket directly.
		now := time.Now()
		for i := 0; i < defaultRequestsPerMinute; i++ {
			limiter.Allow(limitedID, defaultRequestsPerMinute, now)
		}

		req2 := httptest.NewRequest(http.MethodGet, "/requests", nil)
		req2.Header.Set("Authorization", "Bearer low-limit")
		rec2 := httptest.NewRecorder()
		handler.ServeHTTP(rec2, req2)

		if rec2.Code != http.StatusTooManyRequests {
			t.Fatalf("expected second request status 429 got %d", rec2.Code)
		}
		retryAfter := rec2.Header().Get(headerRetryAfter)
		if retryAfter == "" {
			t.Fatalf("expected %s header to be set", headerRetryAfter)
		}
		if _, err := strconv.Atoi(retryAfter); err != nil {
			t.Fatalf("expected numeric %s header, got %q", headerRetryAfter, retryAfter)
		}
	})
}

func TestUserTokenAuthPanicsWithoutResolver(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected UserTokenAuth to panic when resolver is nil")
		}
	}()

	UserTokenAuth(nil, nil)
}

func TestRateLimiterRefills(t *testing.T) {
	limiter := newInMemoryRateLimiter()
	id := uuid.New()
	now := time.Now()

	first := limiter.Allow(id, 1, now)
	if !first.Allowed {
		t.Fatal("expected first request to pass")
	}

	second := limiter.Allow(id, 1, now)
	if second.Allowed {
		t.Fatal("expected second request in the same instant to be limited")
	}
	if second.RetryAfterSeconds < 1 {
		t.Fatalf("expected positive retry-after, got %d", second.RetryAfterSeconds)
	}

	third := limiter.Allow(id, 1, now.Add(time.Minute))
	if !third.Allowed {
		t.Fatal("expected bucket to refill after a minute")
	}
}

func TestBearerToken(t *testing.T) {
	if got, ok := bearerToken("Bearer secret"); !ok || got != "secret" {
		t.Fatal("expected exact bearer token to be valid")
	}
	if got, ok := bearerToken("bearer secret"); !ok || got != "secret" {
		t.Fatal("expected bearer scheme to be case-insensitive")
	}
	if _, ok := bearerToken("Token secret"); ok {
		t.Fatal("expected non-bearer scheme to be invalid")
	}
	if _, ok := bearerToken("Bearer"); ok {
		t.Fatal("expected malformed header to be invalid")
	}
	if _, ok := bearerToken("Bearer "); ok {
		t.Fatal("expected empty token to be invalid")
	}
}

type mockTokenResolver struct {
	principalByToken map[string]auth.Principal
	err              error
}

func (m *mockTokenResolver) ResolveToken(ctx context.Context, bearerToken string) (auth.Principal, bool, error) {
	if m.err != nil {
		return auth.Principal{}, false, m.err
	}

	if p, ok := m.principalByToken[bearerToken]; ok {
		return p, true, nil
	}

	return auth.Principal{}, false, nil
}
