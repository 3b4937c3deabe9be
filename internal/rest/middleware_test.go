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
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jeremyhahn/go-keyproof/pkg/adapters/logger"
	"github.com/jeremyhahn/go-keyproof/pkg/correlation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiddlewareServer() *Server {
	return &Server{logger: logger.NewNopLogger()}
}

func TestRecoveryMiddleware(t *testing.T) {
	s := newMiddlewareServer()
	h := s.RecoveryMiddleware()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal_error")
}

func TestRecoveryMiddlewareRepanicsOnAbort(t *testing.T) {
	s := newMiddlewareServer()
	h := s.RecoveryMiddleware()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestCORSMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name       string
		origins    []string
		origin     string
		preflight  bool
		wantStatus int
		wantAllow  string
	}{
		{"wildcard", []string{"*"}, "https://a.example", false, http.StatusOK, "*"},
		{"listed origin", []string{"https://a.example"}, "https://a.example", false, http.StatusOK, "https://a.example"},
		{"unlisted origin", []string{"https://a.example"}, "https://b.example", false, http.StatusOK, ""},
		{"disabled", nil, "https://a.example", false, http.StatusOK, ""},
		{"preflight", []string{"*"}, "https://a.example", true, http.StatusNoContent, "*"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method := http.MethodGet
			if tt.preflight {
				method = http.MethodOptions
			}
			req := httptest.NewRequest(method, "/api/verify", nil)
			req.Header.Set("Origin", tt.origin)
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			}

			rec := httptest.NewRecorder()
			CORSMiddleware(tt.origins)(next).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantAllow, rec.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestAdminAuthMiddleware(t *testing.T) {
	s := newMiddlewareServer()
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name    string
		keys    []string
		headers map[string]string
		want    int
	}{
		{"no keys configured", nil, nil, http.StatusOK},
		{"missing key", []string{"k1"}, nil, http.StatusUnauthorized},
		{"wrong key", []string{"k1"}, map[string]string{"X-API-Key": "k2"}, http.StatusUnauthorized},
		{"header key", []string{"k1"}, map[string]string{"X-API-Key": "k1"}, http.StatusOK},
		{"bearer key", []string{"k1", "k2"}, map[string]string{"Authorization": "Bearer k2"}, http.StatusOK},
		{"basic scheme", []string{"k1"}, map[string]string{"Authorization": "Basic k1"}, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/list-nonces", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			s.AdminAuthMiddleware(tt.keys)(next).ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestCorrelationMiddleware(t *testing.T) {
	s := newMiddlewareServer()
	var seen string
	h := s.CorrelationMiddleware()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = correlation.GetCorrelationID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(correlation.RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, "req-42", seen)
	assert.Equal(t, "req-42", rec.Header().Get(correlation.CorrelationIDHeader))
}

func TestLoggingMiddlewarePassesStatus(t *testing.T) {
	s := newMiddlewareServer()
	h := s.LoggingMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestResponseWriterFirstStatusWins(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := newResponseWriter(rec)
	rw.WriteHeader(http.StatusCreated)
	rw.WriteHeader(http.StatusInternalServerError)
	_, err := rw.Write([]byte("ok"))
	require.NoError(t, err)

	assert.Equal(t, http.StatusCreated, rw.statusCode)
	assert.Equal(t, http.StatusCreated, rec.Code)
}
