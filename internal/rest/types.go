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

package rest

import (
	"github.com/jeremyhahn/go-keyproof/pkg/adapters/audit"
	"github.com/jeremyhahn/go-keyproof/pkg/health"
)

// NonceResponse is returned by GET /api/nonce.
type NonceResponse struct {
	Nonce string `json:"nonce"`
}

// VerifyRequest is the body of POST /api/verify. Fields are pointers so a
// missing field can be told apart from an empty one.
type VerifyRequest struct {
	JWT          *string `json:"jwt"`
	PublicKeyPEM *string `json:"public_key_pem"`
}

// VerifyResponse reports the outcome of a proof submission.
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

// ErrorResponse is written for every failure that is not a verification outcome.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

// HealthCheckResponse is returned by the probe endpoints.
type HealthCheckResponse struct {
	Status  health.Status        `json:"status"`
	Message string               `json:"message,omitempty"`
	Uptime  string               `json:"uptime,omitempty"`
	Checks  []health.CheckResult `json:"checks,omitempty"`
}

// AuditEventsResponse is returned by GET /api/audit, newest event first.
type AuditEventsResponse struct {
	Count  int                 `json:"count"`
	Events []*audit.AuditEvent `json:"events"`
}
