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

// Package config loads the verifier server configuration from YAML with
// KEYPROOF_* environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete server configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	TLS       TLSConfig       `yaml:"tls"`
	HTTP3     HTTP3Config     `yaml:"http3"`
	Unix      UnixConfig      `yaml:"unix"`
	Logging   LoggingConfig   `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Health    HealthConfig    `yaml:"health"`
	Admin     AdminConfig     `yaml:"admin"`
	CORS      CORSConfig      `yaml:"cors"`
	Verifier  VerifierConfig  `yaml:"verifier"`
	Nonce     NonceConfig     `yaml:"nonce"`
	Audit     AuditConfig     `yaml:"audit"`
}

// ServerConfig contains listener settings
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
}

// HTTP3Config controls the optional QUIC listener. It requires TLS.
type HTTP3Config struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// UnixConfig controls the local administration socket, which serves the
// same API as the TCP listener.
type UnixConfig struct {
	Enabled    bool        `yaml:"enabled"`
	SocketPath string      `yaml:"socket_path"`
	SocketMode os.FileMode `yaml:"socket_mode"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RateLimitConfig controls per-client rate limiting of /api routes
type RateLimitConfig struct {
	Enabled        bool `yaml:"enabled"`
	RequestsPerMin int  `yaml:"requests_per_min"`
	Burst          int  `yaml:"burst"`
	TrustProxy     bool `yaml:"trust_proxy"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Path            string        `yaml:"path"`
	CollectInterval time.Duration `yaml:"collect_interval"`
}

// HealthConfig controls health endpoints
type HealthConfig struct {
	Enabled bool `yaml:"enabled"`
	// GuardWarnThreshold marks readiness degraded at this many consumed nonces (0 disables)
	GuardWarnThreshold int `yaml:"guard_warn_threshold"`
}

// AdminConfig protects the list and clear endpoints. With no keys configured
// the endpoints are open.
type AdminConfig struct {
	Enabled bool     `yaml:"enabled"`
	APIKeys []string `yaml:"api_keys"`
}

// CORSConfig controls cross-origin access
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// VerifierConfig tunes proof verification
type VerifierConfig struct {
	Leeway            time.Duration `yaml:"leeway"`
	RequireExpiration bool          `yaml:"require_expiration"`
	MaxTokenSize      int           `yaml:"max_token_size"`
}

// NonceConfig tunes nonce issuance
type NonceConfig struct {
	Size   int    `yaml:"size"`
	Format string `yaml:"format"`
}

// AuditConfig selects where proof and admin events are recorded. The
// memory sink keeps the newest MaxEvents events and serves them on
// GET /api/audit; the log sink writes them to the server log.
type AuditConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Sink      string `yaml:"sink"`
	MaxEvents int    `yaml:"max_events"`
}

// Default returns a configuration that serves plain HTTP on 0.0.0.0:8080
// with verification defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    64 * 1024,
		},
		HTTP3: HTTP3Config{Port: 8443},
		Unix: UnixConfig{
			SocketPath: "/var/run/keyproof/keyproof.sock",
			SocketMode: 0660,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		RateLimit: RateLimitConfig{RequestsPerMin: 600},
		Metrics: MetricsConfig{
			Enabled:         true,
			Path:            "/metrics",
			CollectInterval: 30 * time.Second,
		},
		Health:   HealthConfig{Enabled: true},
		CORS:     CORSConfig{AllowedOrigins: []string{"*"}},
		Verifier: VerifierConfig{Leeway: 60 * time.Second, MaxTokenSize: 8 * 1024},
		Nonce:    NonceConfig{Size: 32, Format: "random"},
		Audit:    AuditConfig{Enabled: true, Sink: "log", MaxEvents: 10000},
	}
}

// Load reads configuration from a YAML file on top of Default, applies
// environment variable overrides and validates the result. An empty path
// skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		// #nosec G304 - Config file path is provided by admin/user
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func envPort(name string, current int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return current
	}
	port, err := strconv.Atoi(raw)
	if err != nil || port < 1 || port > 65535 {
		log.Printf("Warning: invalid %s value %q, keeping %d", name, raw, current)
		return current
	}
	return port
}

func envBool(name string, current bool) bool {
	raw := os.Getenv(name)
	if raw == "" {
		return current
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		log.Printf("Warning: invalid %s value %q, keeping %t", name, raw, current)
		return current
	}
	return v
}

func applyEnvOverrides(cfg *Config) {
	if host := os.Getenv("KEYPROOF_HOST"); host != "" {
		cfg.Server.Host = host
	}
	cfg.Server.Port = envPort("KEYPROOF_PORT", cfg.Server.Port)
	cfg.HTTP3.Port = envPort("KEYPROOF_HTTP3_PORT", cfg.HTTP3.Port)
	cfg.HTTP3.Enabled = envBool("KEYPROOF_HTTP3_ENABLED", cfg.HTTP3.Enabled)
	if socket := os.Getenv("KEYPROOF_UNIX_SOCKET"); socket != "" {
		cfg.Unix.SocketPath = socket
		cfg.Unix.Enabled = true
	}

	if level := os.Getenv("KEYPROOF_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := os.Getenv("KEYPROOF_LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}

	if cert := os.Getenv("KEYPROOF_TLS_CERT_FILE"); cert != "" {
		cfg.TLS.CertFile = cert
		cfg.TLS.Enabled = true
	}
	if key := os.Getenv("KEYPROOF_TLS_KEY_FILE"); key != "" {
		cfg.TLS.KeyFile = key
	}

	// Comma separated so keys never have to be written to the YAML file.
	if keys := os.Getenv("KEYPROOF_ADMIN_API_KEYS"); keys != "" {
		cfg.Admin.APIKeys = nil
		for _, k := range strings.Split(keys, ",") {
			if k = strings.TrimSpace(k); k != "" {
				cfg.Admin.APIKeys = append(cfg.Admin.APIKeys, k)
			}
		}
		cfg.Admin.Enabled = true
	}

	cfg.Metrics.Enabled = envBool("KEYPROOF_METRICS_ENABLED", cfg.Metrics.Enabled)
	cfg.RateLimit.Enabled = envBool("KEYPROOF_RATELIMIT_ENABLED", cfg.RateLimit.Enabled)

	if leeway := os.Getenv("KEYPROOF_VERIFIER_LEEWAY"); leeway != "" {
		d, err := time.ParseDuration(leeway)
		if err != nil {
			log.Printf("Warning: invalid KEYPROOF_VERIFIER_LEEWAY value %q, keeping %s", leeway, cfg.Verifier.Leeway)
		} else {
			cfg.Verifier.Leeway = d
		}
	}
	cfg.Verifier.RequireExpiration = envBool("KEYPROOF_VERIFIER_REQUIRE_EXPIRATION", cfg.Verifier.RequireExpiration)

	cfg.Audit.Enabled = envBool("KEYPROOF_AUDIT_ENABLED", cfg.Audit.Enabled)
	if sink := os.Getenv("KEYPROOF_AUDIT_SINK"); sink != "" {
		cfg.Audit.Sink = sink
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.MaxBodyBytes < 0 {
		return errors.New("server max_body_bytes must not be negative")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Logging.Format)
	}

	if c.TLS.Enabled {
		if c.TLS.CertFile == "" {
			return errors.New("TLS cert_file is required when TLS is enabled")
		}
		if c.TLS.KeyFile == "" {
			return errors.New("TLS key_file is required when TLS is enabled")
		}
	}

	if c.HTTP3.Enabled {
		if !c.TLS.Enabled {
			return errors.New("http3 requires TLS to be enabled")
		}
		if c.HTTP3.Port < 1 || c.HTTP3.Port > 65535 {
			return fmt.Errorf("invalid http3 port: %d", c.HTTP3.Port)
		}
	}

	if c.Unix.Enabled && c.Unix.SocketPath == "" {
		return errors.New("unix socket_path is required when the unix socket is enabled")
	}

	if c.RateLimit.Enabled && c.RateLimit.RequestsPerMin < 1 {
		return errors.New("ratelimit requests_per_min must be positive when enabled")
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("invalid metrics path: %q", c.Metrics.Path)
	}

	if c.Admin.Enabled && len(c.Admin.APIKeys) == 0 {
		return errors.New("admin api_keys are required when admin protection is enabled")
	}

	if c.Verifier.Leeway < 0 {
		return errors.New("verifier leeway must not be negative")
	}
	if c.Verifier.MaxTokenSize < 0 {
		return errors.New("verifier max_token_size must not be negative")
	}

	if c.Nonce.Size != 0 && c.Nonce.Size < 16 {
		return fmt.Errorf("nonce size must be at least 16 bytes, got %d", c.Nonce.Size)
	}
	switch c.Nonce.Format {
	case "", "random", "uuid":
	default:
		return fmt.Errorf("invalid nonce format: %s (must be random or uuid)", c.Nonce.Format)
	}

	if c.Audit.Enabled {
		switch c.Audit.Sink {
		case "log", "memory":
		default:
			return fmt.Errorf("invalid audit sink: %s (must be log or memory)", c.Audit.Sink)
		}
		if c.Audit.MaxEvents < 0 {
			return errors.New("audit max_events must not be negative")
		}
	}

	return nil
}

// Addr returns the TCP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// HTTP3Addr returns the UDP listen address for HTTP/3.
func (c *Config) HTTP3Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.HTTP3.Port)
}
