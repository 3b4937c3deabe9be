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

// Package verifier is the entry point for the challenge-response flow. It
// sequences nonce issuance, proof verification and replay guard
// administration, and records metrics and log lines for each step.
package verifier

import (
	"context"
	"errors"
	"time"

	"github.com/jeremyhahn/go-keyproof/pkg/adapters/audit"
	"github.com/jeremyhahn/go-keyproof/pkg/adapters/logger"
	"github.com/jeremyhahn/go-keyproof/pkg/metrics"
	"github.com/jeremyhahn/go-keyproof/pkg/nonce"
	"github.com/jeremyhahn/go-keyproof/pkg/proof"
	"github.com/jeremyhahn/go-keyproof/pkg/replay"
)

// ErrGuardRequired is returned by New when no replay guard is supplied.
var ErrGuardRequired = errors.New("verifier: replay guard is required")

// Config configures a Service.
type Config struct {
	// Guard records consumed nonces (required)
	Guard replay.Guard

	// Generator issues nonces (default: nonce.Default())
	Generator *nonce.Generator

	// Leeway, RequireExpiration and MaxTokenSize are passed to the engine
	Leeway            time.Duration
	RequireExpiration bool
	MaxTokenSize      int

	// Logger receives one line per operation (default: discard)
	Logger logger.Logger

	// Audit receives proof decisions and admin operations (default: discard)
	Audit audit.AuditAdapter
}

// Service is the verifier façade. It is safe for concurrent use.
type Service struct {
	generator *nonce.Generator
	engine    *proof.Engine
	guard     replay.Guard
	logger    logger.Logger
	audit     audit.AuditAdapter
}

// New creates a Service.
func New(config *Config) (*Service, error) {
	if config == nil || config.Guard == nil {
		return nil, ErrGuardRequired
	}

	engine, err := proof.NewEngine(&proof.Config{
		Guard:             config.Guard,
		Leeway:            config.Leeway,
		RequireExpiration: config.RequireExpiration,
		MaxTokenSize:      config.MaxTokenSize,
	})
	if err != nil {
		return nil, err
	}

	generator := config.Generator
	if generator == nil {
		generator = nonce.Default()
	}

	var log logger.Logger = logger.NewNopLogger()
	if config.Logger != nil {
		log = config.Logger
	}

	var trail audit.AuditAdapter = audit.NoopAuditAdapter{}
	if config.Audit != nil {
		trail = config.Audit
	}

	return &Service{
		generator: generator,
		engine:    engine,
		guard:     config.Guard,
		logger:    log.With(logger.String("component", "verifier")),
		audit:     trail,
	}, nil
}

// RequestNonce issues a fresh challenge. Nothing is recorded.
func (s *Service) RequestNonce(ctx context.Context) string {
	n := s.generator.Issue()
	metrics.RecordNonceIssued()
	s.logger.DebugContext(ctx, "nonce issued")
	return n
}

// SubmitProof verifies a signed token against the submitted public key.
// Rejections are reported in the Outcome; an error means the replay guard
// failed and the submission was not decided.
func (s *Service) SubmitProof(ctx context.Context, token, keyMaterial string) (proof.Outcome, error) {
	start := time.Now()
	out, err := s.engine.Verify(token, keyMaterial)
	elapsed := time.Since(start)

	if err != nil {
		metrics.RecordError(metrics.OpVerify, errorType(err))
		s.logger.ErrorContext(ctx, "proof verification failed", logger.Error(err))
		s.record(ctx, &audit.AuditEvent{
			EventType: audit.EventProofError,
			Outcome:   audit.OutcomeError,
			Message:   err.Error(),
		})
		return proof.Outcome{}, err
	}

	metrics.RecordVerification(string(out.Code), elapsed.Seconds())
	if out.Verified {
		metrics.IncConsumedNonces()
		s.logger.InfoContext(ctx, "proof verified",
			logger.String("code", string(out.Code)),
			logger.Duration("elapsed", elapsed))
		s.record(ctx, &audit.AuditEvent{
			EventType: audit.EventProofVerified,
			Outcome:   audit.OutcomeSuccess,
			Code:      string(out.Code),
			Nonce:     out.Nonce,
		})
	} else {
		s.logger.WarnContext(ctx, "proof rejected",
			logger.String("code", string(out.Code)),
			logger.String("reason", out.Reason),
			logger.Duration("elapsed", elapsed))
		s.record(ctx, &audit.AuditEvent{
			EventType: audit.EventProofRejected,
			Outcome:   audit.OutcomeFailure,
			Code:      string(out.Code),
			Message:   out.Reason,
		})
	}
	return out, nil
}

// ConsumedNonces returns the consumed nonces in sorted order.
func (s *Service) ConsumedNonces(ctx context.Context) ([]string, error) {
	nonces, err := s.guard.List()
	if err != nil {
		metrics.RecordError(metrics.OpList, errorType(err))
		s.logger.ErrorContext(ctx, "list consumed nonces failed", logger.Error(err))
		return nil, err
	}
	metrics.SetConsumedNonces(len(nonces))
	s.record(ctx, &audit.AuditEvent{
		EventType: audit.EventNoncesList,
		Outcome:   audit.OutcomeSuccess,
		Count:     len(nonces),
	})
	return nonces, nil
}

// ClearNonces forgets every consumed nonce and returns how many were
// removed. Previously used nonces become acceptable again.
func (s *Service) ClearNonces(ctx context.Context) (int, error) {
	removed, err := s.guard.Clear()
	if err != nil {
		metrics.RecordError(metrics.OpClear, errorType(err))
		s.logger.ErrorContext(ctx, "clear consumed nonces failed", logger.Error(err))
		return 0, err
	}
	metrics.RecordCleared(removed)
	s.logger.WarnContext(ctx, "consumed nonces cleared", logger.Int("removed", removed))
	s.record(ctx, &audit.AuditEvent{
		EventType: audit.EventNoncesClear,
		Outcome:   audit.OutcomeSuccess,
		Count:     removed,
	})
	return removed, nil
}

// AuditEvents queries the audit trail.
func (s *Service) AuditEvents(ctx context.Context, query *audit.EventQuery) ([]*audit.AuditEvent, error) {
	return s.audit.GetEvents(ctx, query)
}

// record writes an audit event. A failing audit sink is logged and does
// not change the operation's result.
func (s *Service) record(ctx context.Context, event *audit.AuditEvent) {
	if err := s.audit.LogEvent(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "audit event dropped",
			logger.String("event_type", string(event.EventType)),
			logger.Error(err))
	}
}

// Guard returns the replay guard backing the service.
func (s *Service) Guard() replay.Guard {
	return s.guard
}

// Close closes the replay guard. Later submissions fail with replay.ErrClosed.
func (s *Service) Close() error {
	return s.guard.Close()
}

func errorType(err error) string {
	if errors.Is(err, replay.ErrClosed) {
		return "guard_closed"
	}
	return "internal"
}
