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
	"errors"
	"fmt"
	"net/http"

	"github.com/jeremyhahn/go-keyproof/pkg/adapters/logger"
)

func (s *Server) startHTTP3() {
	if s.h3 == nil {
		return
	}

	s.logger.Info("Starting HTTP/3 server", logger.String("addr", s.h3.Addr))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.h3.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP/3 server error", logger.Error(err))
		}
	}()
}

func (s *Server) stopHTTP3() error {
	if s.h3 == nil {
		return nil
	}
	err := s.h3.Close()
	s.wg.Wait()
	if err != nil {
		s.logger.Error("Failed to close HTTP/3 server", logger.Error(err))
		return fmt.Errorf("failed to close http3 server: %w", err)
	}
	return nil
}

// altSvcMiddleware advertises the HTTP/3 endpoint on TCP responses.
func (s *Server) altSvcMiddleware(next http.Handler) http.Handler {
	if s.h3 == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.h3.SetQUICHeaders(w.Header()); err != nil {
			s.logger.DebugContext(r.Context(), "Alt-Svc header not set", logger.Error(err))
		}
		next.ServeHTTP(w, r)
	})
}
