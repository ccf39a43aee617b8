// SPDX-License-Identifier: Apache-2.0

package idempotency

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/dkarim/approval-engine/internal/auth"
	"github.com/dkarim/approval-engine/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu       sync.Mutex
	records  map[string]domain.IdempotencyRecord
	failSave bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: make(map[string]domain.IdempotencyRecord)}
}

func (s *memoryStore) Find(ctx context.Context, key string) (domain.IdempotencyRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tenantID, _ := auth.TenantIDFromContext(ctx)
	rec, ok := s.records[key+"/"+tenantID.String()]
	return rec, ok, nil
}

func (s *memoryStore) Save(ctx context.Context, rec domain.IdempotencyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failSave {
		return fmt.Errorf("unique violation")
	}
	s.records[rec.Key+"/"+rec.TenantID.String()] = rec
	return nil
}

type countingHandler struct {
	mu     sync.Mutex
	calls  int
	status int
	body   string
}

func (h *countingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	h.calls++
	n := h.calls
	h.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(h.status)
	fmt.Fprintf(w, `{"body":%q,"call":%d}`, h.body, n)
}

func (h *countingHandler) callCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func doRequest(t *testing.T, handler http.Handler, tenantID uuid.UUID, key, payload string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/requests", strings.NewReader(payload))
	if key != "" {
		req.Header.Set(HeaderKey, key)
	}
	if tenantID != uuid.Nil {
		req = req.WithContext(auth.WithTenantID(req.Context(), tenantID))
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestGuardExecutesOnceAndReplays(t *testing.T) {
	store := newMemoryStore()
	inner := &countingHandler{status: http.StatusOK, body: "created"}
	handler := Guard(store, discardLogger())(inner)
	tenantID := uuid.New()

	first := doRequest(t, handler, tenantID, "key-1", `{"workflow_id":"abc"}`)
	require.Equal(t, http.StatusOK, first.Code)

	second := doRequest(t, handler, tenantID, "key-1", `{"workflow_id":"abc"}`)
	require.Equal(t, http.StatusOK, second.Code)

	assert.Equal(t, 1, inner.callCount(), "underlying operation must run exactly once")
	assert.Equal(t, first.Body.String(), second.Body.String(), "replay returns the stored body")
}

func TestGuardConflictOnFingerprintMismatch(t *testing.T) {
	store := newMemoryStore()
	inner := &countingHandler{status: http.StatusOK, body: "created"}
	handler := Guard(store, discardLogger())(inner)
	tenantID := uuid.New()

	first := doRequest(t, handler, tenantID, "key-1", `{"amount":10}`)
	require.Equal(t, http.StatusOK, first.Code)

	second := doRequest(t, handler, tenantID, "key-1", `{"amount":999}`)
	assert.Equal(t, http.StatusConflict, second.Code)
	assert.Equal(t, 1, inner.callCount())
}

func TestGuardWithoutKeyExecutesNormally(t *testing.T) {
	store := newMemoryStore()
	inner := &countingHandler{status: http.StatusOK, body: "ok"}
	handler := Guard(store, discardLogger())(inner)
	tenantID := uuid.New()

	doRequest(t, handler, tenantID, "", `{}`)
	doRequest(t, handler, tenantID, "", `{}`)

	assert.Equal(t, 2, inner.callCount(), "no key means no guarantee")
	assert.Empty(t, store.records)
}

func TestGuardDoesNotCacheFailures(t *testing.T) {
	store := newMemoryStore()
	inner := &countingHandler{status: http.StatusUnprocessableEntity, body: "bad"}
	handler := Guard(store, discardLogger())(inner)
	tenantID := uuid.New()

	first := doRequest(t, handler, tenantID, "key-1", `{}`)
	require.Equal(t, http.StatusUnprocessableEntity, first.Code)
	assert.Empty(t, store.records, "failed calls must not be cached")

	// The retry executes again instead of replaying the failure.
	doRequest(t, handler, tenantID, "key-1", `{}`)
	assert.Equal(t, 2, inner.callCount())
}

func TestGuardReturnsResultWhenSaveRaces(t *testing.T) {
	store := newMemoryStore()
	store.failSave = true
	inner := &countingHandler{status: http.StatusOK, body: "created"}
	handler := Guard(store, discardLogger())(inner)
	tenantID := uuid.New()

	rec := doRequest(t, handler, tenantID, "key-1", `{}`)
	assert.Equal(t, http.StatusOK, rec.Code, "availability wins over the idempotency guarantee")
	assert.Contains(t, rec.Body.String(), "created")
}

func TestGuardKeysAreTenantScoped(t *testing.T) {
	store := newMemoryStore()
	inner := &countingHandler{status: http.StatusOK, body: "created"}
	handler := Guard(store, discardLogger())(inner)

	doRequest(t, handler, uuid.New(), "key-1", `{}`)
	doRequest(t, handler, uuid.New(), "key-1", `{}`)

	assert.Equal(t, 2, inner.callCount(), "same key under different tenants is independent")
}

func TestGuardExposesKeyOnRequestContext(t *testing.T) {
	store := newMemoryStore()

	var innerKey string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		innerKey, _ = auth.IdempotencyKeyFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	guarded := Guard(store, discardLogger())(inner)

	var outerKey string
	outer := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		guarded.ServeHTTP(w, r)
		outerKey, _ = auth.IdempotencyKeyFromContext(r.Context())
	})

	doRequest(t, outer, uuid.New(), "key-1", `{}`)

	assert.Equal(t, "key-1", innerKey, "handler sees the key")
	assert.Equal(t, "key-1", outerKey, "outer middleware sees the key after the guard runs")
}

func TestFingerprintCoversMethodPathAndBody(t *testing.T) {
	base := Fingerprint(http.MethodPost, "/requests", []byte(`{"a":1}`))

	assert.NotEqual(t, base, Fingerprint(http.MethodPut, "/requests", []byte(`{"a":1}`)))
	assert.NotEqual(t, base, Fingerprint(http.MethodPost, "/requests/x", []byte(`{"a":1}`)))
	assert.NotEqual(t, base, Fingerprint(http.MethodPost, "/requests", []byte(`{"a":2}`)))
	assert.Equal(t, base, Fingerprint(http.MethodPost, "/requests", []byte(`{"a":1}`)))
}
