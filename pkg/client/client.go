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

// Package client talks to a keyproof verifier over REST: HTTP/1.1 and
// HTTP/2 over TCP, HTTP/3 over QUIC, or HTTP over the local Unix socket.
package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Protocol represents the transport used to reach the verifier.
type Protocol string

const (
	// ProtocolREST uses HTTP/HTTPS over TCP
	ProtocolREST Protocol = "rest"
	// ProtocolQUIC uses HTTP/3 over QUIC (TLS is always on)
	ProtocolQUIC Protocol = "quic"
	// ProtocolUnix uses HTTP over a Unix domain socket; Address is the socket path
	ProtocolUnix Protocol = "unix"
)

// DefaultTimeout bounds each request when Config.Timeout is zero.
const DefaultTimeout = 30 * time.Second

var (
	ErrUnsupportedProtocol = errors.New("unsupported protocol")
	ErrConnectionFailed    = errors.New("connection failed")
	ErrNotConnected        = errors.New("client not connected")
)

// Config configures the verifier client.
type Config struct {
	// Protocol selects the transport (default: rest)
	Protocol Protocol

	// Address is http(s)://host:port, host:port, or a socket path for unix
	Address string

	// TLSEnabled enables TLS for the rest protocol
	TLSEnabled bool

	// TLSInsecureSkipVerify skips TLS certificate verification (not recommended)
	TLSInsecureSkipVerify bool

	// TLSCAFile is the path to the CA certificate file
	TLSCAFile string

	// APIKey is sent as X-API-Key on administrative calls
	APIKey string

	// Timeout bounds each request (default: 30s)
	Timeout time.Duration

	// Headers are additional HTTP headers to include in requests
	Headers map[string]string
}

// Client is the verifier API.
type Client interface {
	// Connect prepares the transport and probes /health.
	Connect(ctx context.Context) error

	// Close releases idle connections.
	Close() error

	// Health returns the aggregated readiness report.
	Health(ctx context.Context) (*HealthResponse, error)

	// RequestNonce fetches a fresh challenge.
	RequestNonce(ctx context.Context) (string, error)

	// Verify submits a signed proof. A rejected proof is returned as a
	// VerifyResponse with Verified false, not as an error.
	Verify(ctx context.Context, req *VerifyRequest) (*VerifyResponse, error)

	// ListNonces returns the consumed nonces.
	ListNonces(ctx context.Context) (*ListNoncesResponse, error)

	// ClearNonces resets the replay guard.
	ClearNonces(ctx context.Context) (*ClearNoncesResponse, error)

	// AuditEvents queries the server's audit trail, newest first.
	AuditEvents(ctx context.Context, query *AuditQuery) (*AuditEventsResponse, error)
}

// New creates a client. A nil config targets http://localhost:8080.
func New(cfg *Config) (Client, error) {
	if cfg == nil {
		cfg = &Config{Protocol: ProtocolREST, Address: "localhost:8080"}
	}
	if cfg.Protocol == "" {
		cfg.Protocol = ProtocolREST
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("%w: address is required", ErrConnectionFailed)
	}

	switch cfg.Protocol {
	case ProtocolREST, ProtocolQUIC, ProtocolUnix:
		return newRESTClient(cfg), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProtocol, cfg.Protocol)
	}
}

// ParseProtocol maps a user supplied name to a Protocol.
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "rest", "http", "https":
		return ProtocolREST, nil
	case "quic", "http3", "h3":
		return ProtocolQUIC, nil
	case "unix", "unix+http":
		return ProtocolUnix, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedProtocol, s)
	}
}
