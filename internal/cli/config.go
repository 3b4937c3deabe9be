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

package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/jeremyhahn/go-keyproof/pkg/client"
)

// DefaultServer is the verifier address used when --server is not given.
const DefaultServer = "http://localhost:8080"

// Config holds global CLI configuration
type Config struct {
	// Server is the URL of the verifier. Supported formats:
	// - http://host:port or https://host:port (REST)
	// - quic://host:port (HTTP/3)
	// - host:port (REST over plain HTTP)
	Server string

	// Protocol overrides the protocol implied by the Server scheme
	Protocol string

	// OutputFormat controls output formatting (text, json)
	OutputFormat string

	// Verbose enables verbose logging
	Verbose bool

	// TLSInsecure skips TLS certificate verification (not recommended)
	TLSInsecure bool

	// TLSCACert is the path to the CA certificate file
	TLSCACert string

	// APIKey authenticates the list and clear commands
	APIKey string

	// Timeout bounds each request
	Timeout time.Duration
}

// NewConfig creates a new Config with default values
func NewConfig() *Config {
	return &Config{
		Server:       DefaultServer,
		OutputFormat: string(OutputFormatText),
		Timeout:      client.DefaultTimeout,
	}
}

// ClientConfig translates the CLI flags into a client configuration.
func (c *Config) ClientConfig() (*client.Config, error) {
	cfg := &client.Config{
		TLSInsecureSkipVerify: c.TLSInsecure,
		TLSCAFile:             c.TLSCACert,
		APIKey:                c.APIKey,
		Timeout:               c.Timeout,
	}

	server := strings.TrimSpace(c.Server)
	if server == "" {
		server = DefaultServer
	}

	switch {
	case strings.HasPrefix(server, "http://"):
		cfg.Protocol = client.ProtocolREST
		cfg.Address = server
	case strings.HasPrefix(server, "https://"):
		cfg.Protocol = client.ProtocolREST
		cfg.Address = server
		cfg.TLSEnabled = true
	case strings.HasPrefix(server, "quic://"):
		cfg.Protocol = client.ProtocolQUIC
		cfg.Address = strings.TrimPrefix(server, "quic://")
	case strings.HasPrefix(server, "unix+http://"):
		cfg.Protocol = client.ProtocolUnix
		cfg.Address = strings.TrimPrefix(server, "unix+http://")
	case strings.HasPrefix(server, "unix://"):
		cfg.Protocol = client.ProtocolUnix
		cfg.Address = strings.TrimPrefix(server, "unix://")
	case strings.HasPrefix(server, "/"):
		cfg.Protocol = client.ProtocolUnix
		cfg.Address = server
	default:
		cfg.Protocol = client.ProtocolREST
		cfg.Address = "http://" + server
	}

	if c.Protocol != "" {
		protocol, err := client.ParseProtocol(c.Protocol)
		if err != nil {
			return nil, err
		}
		if protocol != client.ProtocolREST && cfg.Protocol == client.ProtocolREST {
			cfg.Address = strings.TrimPrefix(strings.TrimPrefix(cfg.Address, "http://"), "https://")
		}
		cfg.Protocol = protocol
	}

	return cfg, nil
}

// CreateClient creates a client for the configured verifier. The caller
// must Connect it.
func (c *Config) CreateClient() (client.Client, error) {
	cfg, err := c.ClientConfig()
	if err != nil {
		return nil, err
	}
	cl, err := client.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	return cl, nil
}
