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
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/jeremyhahn/go-keyproof/pkg/adapters/logger"
	"github.com/jeremyhahn/go-keyproof/pkg/correlation"
	"github.com/jeremyhahn/go-keyproof/pkg/health"
	"github.com/jeremyhahn/go-keyproof/pkg/holder"
	"github.com/jeremyhahn/go-keyproof/pkg/ratelimit"
	"github.com/jeremyhahn/go-keyproof/pkg/replay"
	"github.com/jeremyhahn/go-keyproof/pkg/verifier"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	server  *httptest.Server
	service *verifier.Service
	guard   *replay.MemoryGuard
	checker *health.Checker
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	guard := replay.NewMemoryGuard()
	svc, err := verifier.New(&verifier.Config{Guard: guard})
	require.NoError(t, err)

	checker := health.NewChecker()
	checker.RegisterCheck(health.GuardCheckName, health.GuardCheck(guard, 0))
	checker.MarkStarted()

	cfg := &Config{
		Verifier:      svc,
		HealthChecker: checker,
		CORSOrigins:   []string{"*"},
		MetricsPath:   "/metrics",
		Logger:        logger.NewNopLogger(),
	}
	if mutate != nil {
		mutate(cfg)
	}

	s, err := NewServer(cfg)
	require.NoError(t, err)

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &testEnv{server: srv, service: svc, guard: guard, checker: checker}
}

func (e *testEnv) do(t *testing.T, method, path, body string, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, e.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (e *testEnv) nonce(t *testing.T) string {
	t.Helper()
	resp, body := e.do(t, http.MethodGet, "/api/nonce", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out NonceResponse
	require.NoError(t, json.Unmarshal(body, &out))
	require.NotEmpty(t, out.Nonce)
	return out.Nonce
}

func verifyBody(t *testing.T, token, key string) string {
	t.Helper()
	data, err := json.Marshal(map[string]string{"jwt": token, "public_key_pem": key})
	require.NoError(t, err)
	return string(data)
}

func newProof(t *testing.T, nonce string) (token, pemStr string) {
	t.Helper()
	h, err := holder.Generate()
	require.NoError(t, err)
	token, err = h.Sign(nonce)
	require.NoError(t, err)
	pemStr, err = h.PublicKeyPEM()
	require.NoError(t, err)
	return token, pemStr
}

func TestNewServer(t *testing.T) {
	_, err := NewServer(nil)
	assert.ErrorIs(t, err, ErrVerifierRequired)

	svc, err := verifier.New(&verifier.Config{Guard: replay.NewMemoryGuard()})
	require.NoError(t, err)
	_, err = NewServer(&Config{Verifier: svc, HTTP3Addr: ":8443"})
	assert.Error(t, err, "http3 without TLS")
}

func TestEndToEndScenario(t *testing.T) {
	env := newTestEnv(t, nil)

	n := env.nonce(t)
	token, key := newProof(t, n)

	resp, body := env.do(t, http.MethodPost, "/api/verify", verifyBody(t, token, key), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"verified":true,"message":"attestation verified successfully"}`, string(body))

	resp, body = env.do(t, http.MethodPost, "/api/verify", verifyBody(t, token, key), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.JSONEq(t, `{"verified":false,"message":"nonce has already been used"}`, string(body))

	resp, body = env.do(t, http.MethodGet, "/api/list-nonces", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var list ListNoncesResponse
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Equal(t, 1, list.NonceCount)
	assert.Equal(t, []string{n}, list.Nonces)

	resp, body = env.do(t, http.MethodPost, "/api/clear-nonces", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"message":"Cleared 1 used nonces","cleared":1}`, string(body))

	resp, body = env.do(t, http.MethodGet, "/api/list-nonces", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"nonce_count":0,"nonces":[]}`, string(body))
}

func TestVerifyRejections(t *testing.T) {
	env := newTestEnv(t, nil)
	token, key := newProof(t, env.nonce(t))
	blank, blankKey := newProof(t, "   ")

	tests := []struct {
		name    string
		body    string
		message string
	}{
		{"invalid key", verifyBody(t, token, "not a key"), "invalid public key format"},
		{"garbage token", verifyBody(t, "a.b.c", key), "signature verification failed"},
		{"blank nonce", verifyBody(t, blank, blankKey), "invalid nonce extracted"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.do(t, http.MethodPost, "/api/verify", tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			var out VerifyResponse
			require.NoError(t, json.Unmarshal(body, &out))
			assert.False(t, out.Verified)
			assert.Contains(t, out.Message, tt.message)
		})
	}

	count, err := env.guard.Count()
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestVerifyMalformedRequests(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.MaxBodyBytes = 256 })

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"not json", "{", http.StatusBadRequest, "invalid_request"},
		{"missing jwt", `{"public_key_pem":"x"}`, http.StatusBadRequest, "invalid_request"},
		{"missing key", `{"jwt":"x"}`, http.StatusBadRequest, "invalid_request"},
		{"too large", `{"jwt":"` + strings.Repeat("a", 512) + `"}`, http.StatusRequestEntityTooLarge, "body_too_large"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.do(t, http.MethodPost, "/api/verify", tt.body, nil)
			assert.Equal(t, tt.status, resp.StatusCode)
			var out ErrorResponse
			require.NoError(t, json.Unmarshal(body, &out))
			assert.Equal(t, tt.code, out.Error)
			assert.Equal(t, tt.status, out.Code)
		})
	}
}

func TestConcurrentSubmissionsOverHTTP(t *testing.T) {
	env := newTestEnv(t, nil)
	token, key := newProof(t, env.nonce(t))
	body := verifyBody(t, token, key)

	const submitters = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		statuses = map[int]int{}
	)
	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := env.server.Client().Post(env.server.URL+"/api/verify", "application/json", strings.NewReader(body))
			if err != nil {
				return
			}
			resp.Body.Close()
			mu.Lock()
			statuses[resp.StatusCode]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, statuses[http.StatusOK])
	assert.Equal(t, submitters-1, statuses[http.StatusBadRequest])
}

func TestClosedGuardReturnsUnavailable(t *testing.T) {
	env := newTestEnv(t, nil)
	token, key := newProof(t, env.nonce(t))
	require.NoError(t, env.service.Close())

	resp, body := env.do(t, http.MethodPost, "/api/verify", verifyBody(t, token, key), nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	var out ErrorResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "service_unavailable", out.Error)

	resp, _ = env.do(t, http.MethodGet, "/api/list-nonces", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/api/clear-nonces", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAdminAPIKey(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.AdminAPIKeys = []string{"s3cret", "other"} })

	resp, body := env.do(t, http.MethodGet, "/api/list-nonces", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, string(body), "unauthorized")

	resp, _ = env.do(t, http.MethodGet, "/api/list-nonces", "", map[string]string{"X-API-Key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/api/list-nonces", "", map[string]string{"X-API-Key": "s3cret"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/api/clear-nonces", "", map[string]string{"Authorization": "Bearer other"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/api/nonce", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "nonce issuance is public")
}

func TestRateLimitedAPI(t *testing.T) {
	limiter := ratelimit.New(&ratelimit.Config{Enabled: true, RequestsPerMinute: 1, Burst: 2})
	t.Cleanup(limiter.Stop)
	env := newTestEnv(t, func(c *Config) { c.RateLimiter = limiter })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		resp, _ := env.do(t, http.MethodGet, "/api/nonce", "", nil)
		codes = append(codes, resp.StatusCode)
	}
	assert.Equal(t, []int{200, 200, 429}, codes)

	resp, _ := env.do(t, http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "probes are not rate limited")
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var report HealthCheckResponse
	require.NoError(t, json.Unmarshal(body, &report))
	assert.Equal(t, health.StatusHealthy, report.Status)
	require.Len(t, report.Checks, 1)
	assert.Equal(t, health.GuardCheckName, report.Checks[0].Name)

	resp, _ = env.do(t, http.MethodGet, "/health/startup", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	env.checker.MarkNotStarted()
	resp, _ = env.do(t, http.MethodGet, "/health/startup", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHealthWithoutChecker(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.HealthChecker = nil })
	for _, path := range []string{"/health", "/health/live", "/health/ready", "/health/startup"} {
		resp, _ := env.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	env.nonce(t)

	resp, body := env.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "keyproof_nonces_issued_total")
}

func TestMetricsDisabled(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.MetricsPath = "" })
	resp, _ := env.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCorrelationHeader(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, _ := env.do(t, http.MethodGet, "/api/nonce", "", map[string]string{correlation.CorrelationIDHeader: "trace-123"})
	assert.Equal(t, "trace-123", resp.Header.Get(correlation.CorrelationIDHeader))

	resp, _ = env.do(t, http.MethodGet, "/api/nonce", "", nil)
	assert.NotEmpty(t, resp.Header.Get(correlation.CorrelationIDHeader))
}

func TestServeAndStop(t *testing.T) {
	svc, err := verifier.New(&verifier.Config{Guard: replay.NewMemoryGuard()})
	require.NoError(t, err)
	s, err := NewServer(&Config{Addr: "127.0.0.1:0", Verifier: svc, Logger: logger.NewNopLogger()})
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Serve(ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health/live")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, s.Stop(context.Background()))
	assert.NoError(t, <-done)
}
