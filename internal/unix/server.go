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

// Package unix serves the verifier API on a Unix domain socket for local
// administration. Access is controlled by the socket's file mode.
package unix

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jeremyhahn/go-keyproof/pkg/adapters/logger"
)

// DefaultSocketPath is the default path for the Unix socket
const DefaultSocketPath = "/var/run/keyproof/keyproof.sock"

// DefaultSocketMode limits the socket to its owner and group.
const DefaultSocketMode os.FileMode = 0660

// ErrHandlerRequired is returned by NewServer without a handler.
var ErrHandlerRequired = errors.New("unix: handler is required")

// Config holds the Unix socket server configuration
type Config struct {
	// SocketPath is the path to the Unix socket file
	SocketPath string

	// SocketMode is the file mode for the socket (default: 0660)
	SocketMode os.FileMode

	// Handler serves every request, normally the REST router
	Handler http.Handler

	// Logger is the logging adapter
	Logger logger.Logger

	// ReadTimeout is the maximum duration for reading requests
	ReadTimeout time.Duration

	// WriteTimeout is the maximum duration for writing responses
	WriteTimeout time.Duration
}

// Server represents the Unix domain socket server
type Server struct {
	config   *Config
	logger   logger.Logger
	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// NewServer creates a new Unix socket server
func NewServer(cfg *Config) (*Server, error) {
	if cfg == nil || cfg.Handler == nil {
		return nil, ErrHandlerRequired
	}

	c := *cfg
	if c.SocketPath == "" {
		c.SocketPath = DefaultSocketPath
	}
	if c.SocketMode == 0 {
		c.SocketMode = DefaultSocketMode
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = logger.NewNopLogger()
	}

	return &Server{config: &c, logger: c.Logger}, nil
}

// Listen creates the socket, replacing a stale one left by a previous run.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	socketDir := filepath.Dir(s.config.SocketPath)
	if err := os.MkdirAll(socketDir, 0750); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}
	if err := os.Remove(s.config.SocketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", s.config.SocketPath)
	if err != nil {
		return fmt.Errorf("failed to create Unix socket listener: %w", err)
	}
	if err := os.Chmod(s.config.SocketPath, s.config.SocketMode); err != nil {
		_ = listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	s.listener = listener
	s.server = &http.Server{
		Handler:           s.config.Handler,
		ReadTimeout:       s.config.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.config.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}
	s.logger.Info("Unix socket created", logger.String("path", s.config.SocketPath))
	return nil
}

// Serve blocks serving the socket created by Listen. A clean Stop returns nil.
func (s *Server) Serve() error {
	s.mu.Lock()
	srv, ln := s.server, s.listener
	s.mu.Unlock()
	if srv == nil {
		return errors.New("unix: Listen must be called before Serve")
	}

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("unix socket server error: %w", err)
	}
	return nil
}

// Start is Listen followed by Serve.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Stop gracefully stops the server and removes the socket file.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, ln := s.server, s.listener
	s.mu.Unlock()

	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			s.logger.Error("Error shutting down Unix socket server", logger.Error(err))
			return err
		}
		// Shutdown only closes listeners passed to Serve.
		_ = ln.Close()
	}

	if err := os.Remove(s.config.SocketPath); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("Failed to remove socket file", logger.Error(err))
	}
	s.logger.Info("Unix socket server stopped")
	return nil
}

// SocketPath returns the path to the Unix socket
func (s *Server) SocketPath() string {
	return s.config.SocketPath
}
