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

package audit

import (
	"context"
	"fmt"

	"github.com/jeremyhahn/go-keyproof/pkg/adapters/logger"
)

// LoggerAuditAdapter writes each event as one structured log line. It
// cannot be queried.
type LoggerAuditAdapter struct {
	logger logger.Logger
}

// NewLoggerAuditAdapter creates an adapter writing to log.
func NewLoggerAuditAdapter(log logger.Logger) *LoggerAuditAdapter {
	return &LoggerAuditAdapter{logger: log.With(logger.String("component", "audit"))}
}

// LogEvent writes the event at info level.
func (l *LoggerAuditAdapter) LogEvent(ctx context.Context, event *AuditEvent) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	fill(ctx, event)

	fields := []logger.Field{
		logger.String("event_id", event.ID),
		logger.String("event_type", string(event.EventType)),
		logger.String("outcome", string(event.Outcome)),
	}
	if event.Code != "" {
		fields = append(fields, logger.String("code", event.Code))
	}
	if event.Message != "" {
		fields = append(fields, logger.String("message", event.Message))
	}
	if event.Nonce != "" {
		fields = append(fields, logger.String("nonce", event.Nonce))
	}
	if event.EventType == EventNoncesList || event.EventType == EventNoncesClear {
		fields = append(fields, logger.Int("count", event.Count))
	}
	if event.RequestID != "" {
		fields = append(fields, logger.String("request_id", event.RequestID))
	}

	l.logger.Info("audit", fields...)
	return nil
}

// GetEvents implements AuditAdapter.
func (l *LoggerAuditAdapter) GetEvents(context.Context, *EventQuery) ([]*AuditEvent, error) {
	return nil, ErrQueryNotSupported
}

// NoopAuditAdapter discards every event.
type NoopAuditAdapter struct{}

// LogEvent implements AuditAdapter.
func (NoopAuditAdapter) LogEvent(context.Context, *AuditEvent) error { return nil }

// GetEvents implements AuditAdapter.
func (NoopAuditAdapter) GetEvents(context.Context, *EventQuery) ([]*AuditEvent, error) {
	return nil, ErrQueryNotSupported
}
