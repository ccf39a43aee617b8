// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"time"

	"github.com/google/uuid"
)

// IdempotencyRecord stores the fingerprint of the first request seen under a
// client key plus the captured response. Unique per (key, tenant);
// append-once, never mutated.
type IdempotencyRecord struct {
	Key            string    `json:"key"`
	TenantID       uuid.UUID `json:"tenant_id"`
	RequestPath    string    `json:"request_path"`
	Fingerprint    string    `json:"fingerprint"`
	ResponseStatus int       `json:"response_status"`
	ResponseBody   []byte    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
}
