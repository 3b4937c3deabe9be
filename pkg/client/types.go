// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-keyproof.
//
// go-keyproof is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package client

import (
	"fmt"
	"time"

	"github.com/jeremyhahn/go-keyproof/pkg/adapters/audit"
)

// NonceResponse is returned by GET /api/nonce.
type NonceResponse struct {
	Nonce string `json:"nonce"`
}

// VerifyRequest is the body of POST /api/verify.
type VerifyRequest struct {
	JWT          string `json:"jwt"`
	PublicKeyPEM string `json:"public_key_pem"`
}

// VerifyResponse is the outcome of a proof submission.
type VerifyResponse struct {
	Verified bool   `json:"verified"`
	Message  string `json:"message"`
}

// ListNoncesResponse is returned by GET /api/list-nonces.
type ListNoncesResponse struct {
	NonceCount int      `json:"nonce_count"`
	Nonces     []string `json:"nonces"`
}

// ClearNoncesResponse is returned by POST /api/clear-nonces.
type ClearNoncesResponse struct {
	Message string `json:"message"`
	Cleared int    `json:"cleared"`
}

// AuditQuery filters GET /api/audit. Zero fields are not sent.
type AuditQuery struct {
	Limit     int
	Types     []string
	Outcomes  []string
	Since     time.Time
	RequestID string
}

// AuditEventsResponse is returned by GET /api/audit.
type AuditEventsResponse struct {
	Count  int                 `json:"count"`
	Events []*audit.AuditEvent `json:"events"`
}

// HealthCheck is one readiness check in a HealthResponse.
type HealthCheck struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status string        `json:"status"`
	Uptime string        `json:"uptime"`
	Checks []HealthCheck `json:"checks"`
}

// APIError is a non-2xx response that is not a verification outcome.
type APIError struct {
	StatusCode int    `json:"code"`
	Code       string `json:"error"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server error (%d %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("server returned status %d", e.StatusCode)
}
