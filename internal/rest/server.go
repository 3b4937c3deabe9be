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
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jeremyhahn/go-keyproof/pkg/adapters/logger"
	"github.com/jeremyhahn/go-keyproof/pkg/metrics"
	"github.com/jeremyhahn/go-keyproof/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/quic-go/quic-go/http3"
)

// ErrVerifierRequired is returned by NewServer without a verifier.
var ErrVerifierRequired = errors.New("rest: verifier is required")

// Server represents the REST API server.
type Server struct {
	server    *http.Server
	h3        *http3.Server
	handlers  *HandlerContext
	tlsConfig *tls.Config
	logger    logger.Logger
	wg        sync.WaitGroup
}

// Config holds the REST server configuration.
type Config struct {
	// Addr is the TCP listen address (default: ":8080")
	Addr string

	// Verifier serves the challenge-response API (required)
	Verifier Verifier

	// HealthChecker backs the probe endpoints (optional)
	HealthChecker HealthChecker

	// Audit serves GET /api/audit when set (optional)
	Audit AuditReader

	// AdminAPIKeys protect the list, clear and audit endpoints when non-empty
	AdminAPIKeys []string

	// CORSOrigins lists allowed origins; "*" allows any
	CORSOrigins []string

	// RateLimiter throttles /api routes (optional)
	RateLimiter *ratelimit.Limiter

	// MetricsPath exposes Prometheus metrics when non-empty
	MetricsPath string

	// TLSConfig enables HTTPS (optional)
	TLSConfig *tls.Config

	// HTTP3Addr starts an HTTP/3 listener on this UDP address. Requires TLSConfig.
	HTTP3Addr string

	// MaxBodyBytes bounds request bodies (default: 64 KiB)
	MaxBodyBytes int64

	// Logger is the logging adapter (optional)
	Logger logger.Logger

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// NewServer creates a new REST API server.
func NewServer(cfg *Config) (*Server, error) {
	if cfg == nil || cfg.Verifier == nil {
		return nil, ErrVerifierRequired
	}
	if cfg.HTTP3Addr != "" && cfg.TLSConfig == nil {
		return nil, errors.New("rest: http3 requires a TLS configuration")
	}

	addr := cfg.Addr
	if addr == "" {
		addr = ":8080"
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 15 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}

	log := cfg.Logger
	if log == nil {
		log = logger.NewSlogAdapter(&logger.SlogConfig{Level: logger.LevelInfo})
	}

	s := &Server{
		handlers:  NewHandlerContext(cfg.Verifier, cfg.HealthChecker, cfg.MaxBodyBytes),
		tlsConfig: cfg.TLSConfig,
		logger:    log.With(logger.String("component", "rest")),
	}

	if cfg.HTTP3Addr != "" {
		s.h3 = &http3.Server{
			Addr:      cfg.HTTP3Addr,
			TLSConfig: http3.ConfigureTLSConfig(cfg.TLSConfig.Clone()),
		}
	}

	s.handlers.Audit = cfg.Audit
	router := s.setupRouter(cfg)
	if s.h3 != nil {
		s.h3.Handler = router
	}

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.altSvcMiddleware(router),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		TLSConfig:         cfg.TLSConfig,
	}

	return s, nil
}

// setupRouter configures the chi router with all routes and middleware.
func (s *Server) setupRouter(cfg *Config) *chi.Mux {
	r := chi.NewRouter()

	r.Use(s.RecoveryMiddleware())
	r.Use(s.CorrelationMiddleware())
	r.Use(s.LoggingMiddleware())
	r.Use(metrics.HTTPMiddleware)
	r.Use(CORSMiddleware(cfg.CORSOrigins))

	r.Get("/health", s.handlers.HealthHandler)
	r.Head("/health", s.handlers.HealthHandler)
	r.Get("/health/live", s.handlers.LivenessHandler)
	r.Get("/health/ready", s.handlers.ReadinessHandler)
	r.Get("/health/startup", s.handlers.StartupHandler)

	if cfg.MetricsPath != "" {
		r.Method(http.MethodGet, cfg.MetricsPath, promhttp.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		if cfg.RateLimiter != nil && cfg.RateLimiter.IsEnabled() {
			r.Use(ratelimit.Middleware(cfg.RateLimiter, func(req *http.Request) {
				metrics.RecordRateLimited()
			}))
		}

		r.Get("/nonce", s.handlers.NonceHandler)
		r.Post("/verify", s.handlers.VerifyHandler)

		r.Group(func(r chi.Router) {
			r.Use(s.AdminAuthMiddleware(cfg.AdminAPIKeys))
			r.Get("/list-nonces", s.handlers.ListNoncesHandler)
			r.Post("/clear-nonces", s.handlers.ClearNoncesHandler)
			if cfg.Audit != nil {
				r.Get("/audit", s.handlers.AuditHandler)
			}
		})
	})

	return r
}

// Handler returns the HTTP handler serving the TCP listener.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start listens on the configured address and blocks until Stop. The HTTP/3
// listener, when configured, runs alongside it.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln and blocks until Stop.
func (s *Server) Serve(ln net.Listener) error {
	s.startHTTP3()

	if s.tlsConfig != nil {
		s.logger.Info("Starting HTTPS server", logger.String("addr", ln.Addr().String()))
		if err := s.server.ServeTLS(ln, "", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start HTTPS server: %w", err)
		}
		return nil
	}

	s.logger.Info("Starting HTTP server", logger.String("addr", ln.Addr().String()))
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop gracefully stops the listeners.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down server")

	err := s.server.Shutdown(ctx)
	if err != nil {
		s.logger.Error("Failed to shutdown server", logger.Error(err))
		err = fmt.Errorf("failed to shutdown server: %w", err)
	}
	if h3Err := s.stopHTTP3(); h3Err != nil && err == nil {
		err = h3Err
	}

	s.logger.Info("Server stopped")
	return err
}
