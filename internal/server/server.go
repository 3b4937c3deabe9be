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

package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"syscall"
	"time"

	"github.com/jeremyhahn/go-keyproof/internal/config"
	"github.com/jeremyhahn/go-keyproof/internal/rest"
	"github.com/jeremyhahn/go-keyproof/internal/unix"
	"github.com/jeremyhahn/go-keyproof/pkg/adapters/audit"
	"github.com/jeremyhahn/go-keyproof/pkg/adapters/logger"
	"github.com/jeremyhahn/go-keyproof/pkg/health"
	"github.com/jeremyhahn/go-keyproof/pkg/metrics"
	"github.com/jeremyhahn/go-keyproof/pkg/nonce"
	"github.com/jeremyhahn/go-keyproof/pkg/ratelimit"
	"github.com/jeremyhahn/go-keyproof/pkg/replay"
	"github.com/jeremyhahn/go-keyproof/pkg/verifier"
)

// ErrAlreadyStarted is returned by Start on a running server.
var ErrAlreadyStarted = errors.New("server: already started")

// Server owns the replay guard and every component built on it. The guard
// lives exactly as long as the Server: Shutdown closes it.
type Server struct {
	config *config.Config
	logger logger.Logger

	guard         *replay.MemoryGuard
	audit         audit.AuditAdapter
	service       *verifier.Service
	healthChecker *health.Checker
	limiter       *ratelimit.Limiter
	restServer    *rest.Server
	unixServer    *unix.Server

	metricsCollector *metrics.ResourceCollector

	mu           sync.Mutex
	listener     net.Listener
	started      bool
	wg           sync.WaitGroup
	errCh        chan error
	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// New builds the verifier stack from cfg. Nothing listens until Start.
func New(cfg *config.Config) (*Server, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	log, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	return NewWithLogger(cfg, log)
}

// NewWithLogger is New with a caller-supplied logger.
func NewWithLogger(cfg *config.Config, log logger.Logger) (*Server, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logger.NewNopLogger()
	}

	if cfg.Metrics.Enabled {
		metrics.Enable()
	} else {
		metrics.Disable()
	}

	s := &Server{
		config:     cfg,
		logger:     log,
		guard:      replay.NewMemoryGuard(),
		errCh:      make(chan error, 1),
		shutdownCh: make(chan struct{}),
	}

	generator, err := nonce.New(&nonce.Config{
		Size:   cfg.Nonce.Size,
		Format: nonce.Format(cfg.Nonce.Format),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize nonce generator: %w", err)
	}

	s.audit = newAuditAdapter(cfg.Audit, log)

	s.service, err = verifier.New(&verifier.Config{
		Guard:             s.guard,
		Generator:         generator,
		Audit:             s.audit,
		Leeway:            cfg.Verifier.Leeway,
		RequireExpiration: cfg.Verifier.RequireExpiration,
		MaxTokenSize:      cfg.Verifier.MaxTokenSize,
		Logger:            log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize verifier: %w", err)
	}

	s.initializeHealth()

	if cfg.RateLimit.Enabled {
		s.limiter = ratelimit.New(&ratelimit.Config{
			Enabled:           true,
			RequestsPerMinute: cfg.RateLimit.RequestsPerMin,
			Burst:             cfg.RateLimit.Burst,
			TrustProxy:        cfg.RateLimit.TrustProxy,
		})
	}

	if err := s.initializeREST(); err != nil {
		s.close()
		return nil, err
	}

	return s, nil
}

// NewLogger builds the process logger from the logging section.
func NewLogger(cfg config.LoggingConfig) (logger.Logger, error) {
	level := logger.LevelInfo
	if cfg.Level != "" {
		parsed, err := logger.ParseLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		level = parsed
	}
	return logger.NewSlogAdapter(&logger.SlogConfig{
		Level:  level,
		Format: cfg.Format,
		Output: os.Stdout,
	}), nil
}

// Version reports the VCS tag or revision the binary was built from.
func Version() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}

	for _, setting := range info.Settings {
		if setting.Key == "vcs.version" && setting.Value != "" && setting.Value != "devel" {
			return setting.Value
		}
		if setting.Key == "vcs.revision" {
			if len(setting.Value) >= 7 {
				return setting.Value[:7]
			}
			return setting.Value
		}
	}

	if info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}

// newAuditAdapter returns nil when auditing is disabled; the verifier then
// discards events.
func newAuditAdapter(cfg config.AuditConfig, log logger.Logger) audit.AuditAdapter {
	if !cfg.Enabled {
		return nil
	}
	if cfg.Sink == "memory" {
		return audit.NewMemoryAuditAdapter(cfg.MaxEvents)
	}
	return audit.NewLoggerAuditAdapter(log)
}

func (s *Server) initializeHealth() {
	if !s.config.Health.Enabled {
		return
	}
	s.healthChecker = health.NewChecker()
	s.healthChecker.RegisterCheck(health.GuardCheckName,
		health.GuardCheck(s.guard, s.config.Health.GuardWarnThreshold))
	s.logger.Info("Health checker initialized",
		logger.Int("checks", len(s.healthChecker.GetAllChecks())))
}

func (s *Server) initializeREST() error {
	tlsConfig, err := s.config.TLS.LoadTLSConfig()
	if err != nil {
		return fmt.Errorf("failed to load TLS configuration: %w", err)
	}

	restCfg := &rest.Config{
		Addr:         s.config.Addr(),
		Verifier:     s.service,
		CORSOrigins:  s.config.CORS.AllowedOrigins,
		RateLimiter:  s.limiter,
		TLSConfig:    tlsConfig,
		MaxBodyBytes: s.config.Server.MaxBodyBytes,
		Logger:       s.logger,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  s.config.Server.IdleTimeout,
	}
	// Leave the interface nil when health is disabled.
	if s.healthChecker != nil {
		restCfg.HealthChecker = s.healthChecker
	}
	if s.config.Admin.Enabled {
		restCfg.AdminAPIKeys = s.config.Admin.APIKeys
	}
	if s.config.Metrics.Enabled {
		restCfg.MetricsPath = s.config.Metrics.Path
	}
	// Only a queryable sink backs GET /api/audit.
	if _, ok := s.audit.(*audit.MemoryAuditAdapter); ok {
		restCfg.Audit = s.service
	}
	if s.config.HTTP3.Enabled {
		restCfg.HTTP3Addr = s.config.HTTP3Addr()
	}

	s.restServer, err = rest.NewServer(restCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize REST server: %w", err)
	}

	if s.config.Unix.Enabled {
		s.unixServer, err = unix.NewServer(&unix.Config{
			SocketPath:   s.config.Unix.SocketPath,
			SocketMode:   s.config.Unix.SocketMode,
			Handler:      s.restServer.Handler(),
			Logger:       s.logger,
			ReadTimeout:  s.config.Server.ReadTimeout,
			WriteTimeout: s.config.Server.WriteTimeout,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize unix socket server: %w", err)
		}
	}
	return nil
}

// Start binds the listener and serves in the background. Bind failures are
// returned; later serve failures are delivered on Errors.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}

	ln, err := net.Listen("tcp", s.config.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr(), err)
	}
	if s.unixServer != nil {
		if err := s.unixServer.Listen(); err != nil {
			_ = ln.Close()
			return err
		}
	}
	s.listener = ln
	s.started = true

	if s.config.Metrics.Enabled && s.config.Metrics.CollectInterval > 0 {
		s.metricsCollector = metrics.StartResourceCollector(context.Background(),
			s.config.Metrics.CollectInterval, s.guard.Count)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.restServer.Serve(ln); err != nil {
			s.logger.Error("REST server error", logger.Error(err))
			select {
			case s.errCh <- err:
			default:
			}
		}
	}()

	if s.unixServer != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.unixServer.Serve(); err != nil {
				s.logger.Error("Unix socket server error", logger.Error(err))
				select {
				case s.errCh <- err:
				default:
				}
			}
		}()
	}

	if s.healthChecker != nil {
		s.healthChecker.MarkStarted()
	}
	s.logger.Info("Verifier started",
		logger.String("addr", ln.Addr().String()),
		logger.Bool("tls", s.config.TLS.Enabled),
		logger.Bool("http3", s.config.HTTP3.Enabled),
		logger.Bool("unix", s.unixServer != nil))
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Errors delivers the first fatal serve error.
func (s *Server) Errors() <-chan error {
	return s.errCh
}

// Shutdown stops accepting requests, drains in-flight ones within the
// configured shutdown timeout and closes the replay guard. It is idempotent.
func (s *Server) Shutdown() error {
	var err error
	s.shutdownOnce.Do(func() {
		s.logger.Info("Shutting down server...")

		if s.healthChecker != nil {
			s.healthChecker.MarkNotStarted()
		}

		timeout := s.config.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		s.mu.Lock()
		started := s.started
		s.mu.Unlock()
		if started {
			if stopErr := s.restServer.Stop(ctx); stopErr != nil {
				s.logger.Error("Error shutting down REST server", logger.Error(stopErr))
				err = stopErr
			}
			if s.unixServer != nil {
				if stopErr := s.unixServer.Stop(ctx); stopErr != nil && err == nil {
					err = stopErr
				}
			}
		}

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			s.logger.Warn("Shutdown timeout exceeded, forcing stop")
		}

		if closeErr := s.close(); closeErr != nil && err == nil {
			err = closeErr
		}

		close(s.shutdownCh)
		s.logger.Info("Server shutdown complete")
	})
	return err
}

func (s *Server) close() error {
	if s.metricsCollector != nil {
		s.metricsCollector.Stop()
	}
	if s.limiter != nil {
		s.limiter.Stop()
	}
	if err := s.service.Close(); err != nil {
		return fmt.Errorf("failed to close replay guard: %w", err)
	}
	return nil
}

// WaitForShutdown blocks until Shutdown has completed.
func (s *Server) WaitForShutdown() {
	<-s.shutdownCh
}

// SetupSignalHandler returns a context cancelled on SIGINT or SIGTERM.
func SetupSignalHandler() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-signalCh
		cancel()
	}()

	return ctx
}

// Service returns the verifier façade.
func (s *Server) Service() *verifier.Service {
	return s.service
}

// HealthChecker returns the health checker, or nil when health is disabled.
func (s *Server) HealthChecker() *health.Checker {
	return s.healthChecker
}

// RESTServer returns the HTTP server.
func (s *Server) RESTServer() *rest.Server {
	return s.restServer
}
