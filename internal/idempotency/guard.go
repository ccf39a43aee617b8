// SPDX-License-Identifier: Apache-2.0

// Package idempotency guarantees that a client-repeated mutation executes at
// most once. The guard wraps mutating endpoints: the first call under a key
// runs and its response is captured; retries with the same payload replay
// the stored response, retries with a different payload are rejected.
package idempotency

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dkarim/approval-engine/internal/auth"
	"github.com/dkarim/approval-engine/internal/domain"
	"github.com/dkarim/approval-engine/internal/metrics"
)

const HeaderKey = "Idempotency-Key"

type Store interface {
	Find(ctx context.Context, key string) (domain.IdempotencyRecord, bool, error)
	Save(ctx context.Context, rec domain.IdempotencyRecord) error
}

// recordingWriter tees the response to the client while buffering it for
// the idempotency record.
type recordingWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (w *recordingWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.status = code
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *recordingWriter) Write(p []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	w.body.Write(p)
	return w.ResponseWriter.Write(p)
}

// Guard returns middleware enforcing the idempotency contract for the
// handler it wraps. Requests without the key header, or outside an
// authenticated tenant scope, execute normally with no guarantee.
func Guard(store Store, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(HeaderKey))
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			tenantID, ok := auth.TenantIDFromContext(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				http.Error(w, "failed to read request body", http.StatusBadRequest)
				return
			}
			_ = r.Body.Close()
			r.Body = io.NopCloser(bytes.NewReader(body))

			fingerprint := Fingerprint(r.Method, r.URL.Path, body)

			stored, found, err := store.Find(r.Context(), key)
			if err != nil {
				logger.Error("idempotency lookup failed", "key", key, "error", err)
				http.Error(w, "idempotency lookup failed", http.StatusInternalServerError)
				return
			}

			if found {
				if stored.Fingerprint != fingerprint {
					metrics.IncIdempotencyConflict()
					http.Error(w, "idempotency key reused with different payload", http.StatusConflict)
					return
				}

				metrics.IncIdempotentReplay()
				logger.Info("idempotent replay",
					"key", key,
					"path", r.URL.Path,
					"status", stored.ResponseStatus,
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(stored.ResponseStatus)
				_, _ = w.Write(stored.ResponseBody)
				return
			}

			rec := &recordingWriter{ResponseWriter: w, status: http.StatusOK}
			// Mutate in place so outer middleware (request logging) sees the
			// key too.
			*r = *r.WithContext(auth.WithIdempotencyKey(r.Context(), key))
			next.ServeHTTP(rec, r)

			// Only successful, already-executed operations are cached.
			if rec.status >= 400 {
				return
			}

			saveErr := store.Save(r.Context(), domain.IdempotencyRecord{
				Key:            key,
				TenantID:       tenantID,
				RequestPath:    r.URL.Path,
				Fingerprint:    fingerprint,
				ResponseStatus: rec.status,
				ResponseBody:   rec.body.Bytes(),
			})
			if saveErr != nil {
				// Lost a save race: the computed result was already written
				// to the client, so availability wins over the guarantee.
				logger.Warn("idempotency record save failed",
					"key", key,
					"path", r.URL.Path,
					"error", saveErr,
				)
			}
		})
	}
}

// Fingerprint hashes the method, path and serialized body so a key reused
// against a different call is detectable.
func Fingerprint(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{':'})
	h.Write([]byte(path))
	h.Write([]byte{':'})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
