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
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/jeremyhahn/go-keyproof/pkg/adapters/audit"
	"github.com/jeremyhahn/go-keyproof/pkg/replay"
)

// Common errors
var (
	ErrInvalidRequest     = errors.New("invalid request")
	ErrMissingField       = errors.New("missing field")
	ErrBodyTooLarge       = errors.New("request body too large")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrNotImplemented     = errors.New("not implemented")
	ErrInternalError      = errors.New("internal server error")
)

// errorCode is the machine-readable label written in ErrorResponse.Error.
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrMissingField), errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrBodyTooLarge):
		return "body_too_large"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, replay.ErrClosed), errors.Is(err, ErrServiceUnavailable):
		return "service_unavailable"
	case errors.Is(err, audit.ErrQueryNotSupported), errors.Is(err, ErrNotImplemented):
		return "not_implemented"
	default:
		return "internal_error"
	}
}

// mapErrorToStatusCode maps errors to HTTP status codes. A replay guard
// failure is reported as unavailable: the submission was not decided and
// may be retried against a healthy instance.
func mapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, ErrMissingField), errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrBodyTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, replay.ErrClosed), errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, audit.ErrQueryNotSupported), errors.Is(err, ErrNotImplemented):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// writeErrorWithMessage writes an error response with a custom message.
func writeErrorWithMessage(w http.ResponseWriter, err error, message string, statusCode int) {
	writeJSON(w, ErrorResponse{
		Error:   errorCode(err),
		Message: message,
		Code:    statusCode,
	}, statusCode)
}

// handleError maps err to a status code and writes the error response.
func handleError(w http.ResponseWriter, err error) {
	writeErrorWithMessage(w, err, err.Error(), mapErrorToStatusCode(err))
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Failed to encode JSON response: %v", err)
	}
}
