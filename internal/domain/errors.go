// SPDX-License-Identifier: Apache-2.0

package domain

import "errors"

// The four error kinds the engine returns to its callers. Infrastructure
// wraps them with context; the transport layer maps them with errors.Is.
var ErrNotFound = errors.New("not found")
var ErrInvalidState = errors.New("invalid state")
var ErrForbidden = errors.New("forbidden")
var ErrConflict = errors.New("conflict")
