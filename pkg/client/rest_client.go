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
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/quic-go/quic-go/http3"
)

// maxResponseSize bounds how much of a response body is read.
const maxResponseSize = 4 << 20

// restClient implements Client over HTTP. The quic and unix protocols use
// the same client with an HTTP/3 or socket-dialing transport.
type restClient struct {
	config     *Config
	httpClient *http.Client
	h3         *http3.Transport
	baseURL    string
}

// unixBaseURL is the request URL used over a Unix socket; the host is ignored.
const unixBaseURL = "http://unix"

func newRESTClient(cfg *Config) *restClient {
	if cfg.Protocol == ProtocolUnix {
		return &restClient{config: cfg, baseURL: unixBaseURL}
	}
	baseURL := cfg.Address
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		if cfg.TLSEnabled || cfg.Protocol == ProtocolQUIC {
			baseURL = "https://" + baseURL
		} else {
			baseURL = "http://" + baseURL
		}
	}
	return &restClient{
		config:  cfg,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

func (c *restClient) tlsConfig() (*tls.Config, error) {
	tlsConfig := &tls.Config{
		InsecureSkipVerify: c.config.TLSInsecureSkipVerify, //nolint:gosec // opt-in for development
		MinVersion:         tls.VersionTLS12,
	}
	if c.config.Protocol == ProtocolQUIC {
		tlsConfig.MinVersion = tls.VersionTLS13
		tlsConfig.NextProtos = []string{http3.NextProtoH3}
	}

	if c.config.TLSCAFile != "" {
		caCert, err := os.ReadFile(c.config.TLSCAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, errors.New("failed to parse CA certificate")
		}
		tlsConfig.RootCAs = pool
	}
	return tlsConfig, nil
}

// Connect builds the transport and checks the server answers /health/live.
func (c *restClient) Connect(ctx context.Context) error {
	timeout := c.config.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	var transport http.RoundTripper
	switch {
	case c.config.Protocol == ProtocolUnix:
		socketPath := strings.TrimPrefix(c.config.Address, "unix://")
		dialer := &net.Dialer{}
		transport = &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return dialer.DialContext(ctx, "unix", socketPath)
			},
		}
	case c.config.Protocol == ProtocolQUIC:
		tlsConfig, err := c.tlsConfig()
		if err != nil {
			return err
		}
		c.h3 = &http3.Transport{TLSClientConfig: tlsConfig}
		transport = c.h3
	case c.config.TLSEnabled || strings.HasPrefix(c.baseURL, "https://"):
		tlsConfig, err := c.tlsConfig()
		if err != nil {
			return err
		}
		transport = &http.Transport{TLSClientConfig: tlsConfig}
	default:
		transport = http.DefaultTransport.(*http.Transport).Clone()
	}

	c.httpClient = &http.Client{Transport: transport, Timeout: timeout}

	if _, _, err := c.do(ctx, http.MethodGet, "/health/live", nil); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	return nil
}

// Close releases idle connections.
func (c *restClient) Close() error {
	if c.httpClient != nil {
		c.httpClient.CloseIdleConnections()
	}
	if c.h3 != nil {
		return c.h3.Close()
	}
	return nil
}

// do performs a request and returns the status and body. Only transport
// failures are errors; status interpretation is left to the caller.
func (c *restClient) do(ctx context.Context, method, path string, body interface{}) (int, []byte, error) {
	if c.httpClient == nil {
		return 0, nil, ErrNotConnected
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.config.APIKey != "" {
		req.Header.Set("X-API-Key", c.config.APIKey)
	}
	for k, v := range c.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

// call performs a request and decodes a 2xx body into out.
func (c *restClient) call(ctx context.Context, method, path string, body, out interface{}) error {
	status, data, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	if status >= 300 {
		return apiError(status, data)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func apiError(status int, data []byte) error {
	apiErr := &APIError{}
	_ = json.Unmarshal(data, apiErr)
	apiErr.StatusCode = status
	return apiErr
}

// Health returns the readiness report. A 503 still carries a report.
func (c *restClient) Health(ctx context.Context) (*HealthResponse, error) {
	status, data, err := c.do(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK && status != http.StatusServiceUnavailable {
		return nil, apiError(status, data)
	}
	var resp HealthResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &resp, nil
}

// RequestNonce fetches a fresh challenge.
func (c *restClient) RequestNonce(ctx context.Context) (string, error) {
	var resp NonceResponse
	if err := c.call(ctx, http.MethodGet, "/api/nonce", nil, &resp); err != nil {
		return "", err
	}
	if resp.Nonce == "" {
		return "", errors.New("server returned an empty nonce")
	}
	return resp.Nonce, nil
}

// Verify submits a proof. The server answers 400 for rejected proofs, which
// carry a verification body and are returned without error.
func (c *restClient) Verify(ctx context.Context, req *VerifyRequest) (*VerifyResponse, error) {
	status, data, err := c.do(ctx, http.MethodPost, "/api/verify", req)
	if err != nil {
		return nil, err
	}

	if status == http.StatusOK || status == http.StatusBadRequest {
		var outcome struct {
			Verified *bool  `json:"verified"`
			Message  string `json:"message"`
		}
		if err := json.Unmarshal(data, &outcome); err == nil && outcome.Verified != nil {
			return &VerifyResponse{Verified: *outcome.Verified, Message: outcome.Message}, nil
		}
	}
	return nil, apiError(status, data)
}

// ListNonces returns the consumed nonces.
func (c *restClient) ListNonces(ctx context.Context) (*ListNoncesResponse, error) {
	var resp ListNoncesResponse
	if err := c.call(ctx, http.MethodGet, "/api/list-nonces", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ClearNonces resets the replay guard.
func (c *restClient) ClearNonces(ctx context.Context) (*ClearNoncesResponse, error) {
	var resp ClearNoncesResponse
	if err := c.call(ctx, http.MethodPost, "/api/clear-nonces", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AuditEvents queries the audit trail.
func (c *restClient) AuditEvents(ctx context.Context, query *AuditQuery) (*AuditEventsResponse, error) {
	path := "/api/audit"
	if query != nil {
		values := url.Values{}
		if query.Limit > 0 {
			values.Set("limit", strconv.Itoa(query.Limit))
		}
		if len(query.Types) > 0 {
			values.Set("type", strings.Join(query.Types, ","))
		}
		if len(query.Outcomes) > 0 {
			values.Set("outcome", strings.Join(query.Outcomes, ","))
		}
		if !query.Since.IsZero() {
			values.Set("since", query.Since.UTC().Format(time.RFC3339))
		}
		if query.RequestID != "" {
			values.Set("request_id", query.RequestID)
		}
		if encoded := values.Encode(); encoded != "" {
			path += "?" + encoded
		}
	}

	var resp AuditEventsResponse
	if err := c.call(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
