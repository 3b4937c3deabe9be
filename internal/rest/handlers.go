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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/jeremyhahn/go-keyproof/pkg/health"
	"github.com/jeremyhahn/go-keyproof/pkg/proof"
)

// DefaultMaxBodyBytes bounds request bodies when no limit is configured.
const DefaultMaxBodyBytes int64 = 64 * 1024

// Verifier is the subset of verifier.Service used by the handlers.
type Verifier interface {
	RequestNonce(ctx context.Context) string
	SubmitProof(ctx context.Context, token, keyMaterial string) (proof.Outcome, error)
	ConsumedNonces(ctx context.Context) ([]string, error)
	ClearNonces(ctx context.Context) (int, error)
}

// HealthChecker is the subset of health.Checker used by the probe handlers.
type HealthChecker interface {
	Live(ctx context.Context) health.CheckResult
	Report(ctx context.Context) health.Report
	Startup(ctx context.Context) health.CheckResult
}

// HandlerContext holds the dependencies shared by all handlers.
type HandlerContext struct {
	Verifier      Verifier
	HealthChecker HealthChecker
	Audit         AuditReader
	MaxBodyBytes  int64
}

// NewHandlerContext creates a HandlerContext.
func NewHandlerContext(v Verifier, checker HealthChecker, maxBodyBytes int64) *HandlerContext {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	return &HandlerContext{
		Verifier:      v,
		HealthChecker: checker,
		MaxBodyBytes:  maxBodyBytes,
	}
}

// NonceHandler handles GET /api/nonce.
func (h *HandlerContext) NonceHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, NonceResponse{Nonce: h.Verifier.RequestNonce(r.Context())}, http.StatusOK)
}

// VerifyHandler handles POST /api/verify.
func (h *HandlerContext) VerifyHandler(w http.ResponseWriter, r *http.Request) {
	req, err := h.decodeVerifyRequest(w, r)
	if err != nil {
		handleError(w, err)
		return
	}

	out, err := h.Verifier.SubmitProof(r.Context(), *req.JWT, *req.PublicKeyPEM)
	if err != nil {
		writeErrorWithMessage(w, err, "replay guard unavailable", mapErrorToStatusCode(err))
		return
	}

	status := http.StatusOK
	if !out.Verified {
		status = http.StatusBadRequest
	}
	writeJSON(w, VerifyResponse{Verified: out.Verified, Message: out.Reason}, status)
}

func (h *HandlerContext) decodeVerifyRequest(w http.ResponseWriter, r *http.Request) (*VerifyRequest, error) {
	body := http.MaxBytesReader(w, r.Body, h.MaxBodyBytes)
	defer func() { _ = body.Close() }()

	var req VerifyRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, fmt.Errorf("%w: limit is %d bytes", ErrBodyTooLarge, maxErr.Limit)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if req.JWT == nil {
		return nil, fmt.Errorf("%w: jwt", ErrMissingField)
	}
	if req.PublicKeyPEM == nil {
		return nil, fmt.Errorf("%w: public_key_pem", ErrMissingField)
	}
	return &req, nil
}

// ListNoncesHandler handles GET /api/list-nonces.
func (h *HandlerContext) ListNoncesHandler(w http.ResponseWriter, r *http.Request) {
	nonces, err := h.Verifier.ConsumedNonces(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}
	if nonces == nil {
		nonces = []string{}
	}
	writeJSON(w, ListNoncesResponse{NonceCount: len(nonces), Nonces: nonces}, http.StatusOK)
}

// ClearNoncesHandler handles POST /api/clear-nonces.
func (h *HandlerContext) ClearNoncesHandler(w http.ResponseWriter, r *http.Request) {
	cleared, err := h.Verifier.ClearNonces(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, ClearNoncesResponse{
		Message: fmt.Sprintf("Cleared %d used nonces", cleared),
		Cleared: cleared,
	}, http.StatusOK)
}
