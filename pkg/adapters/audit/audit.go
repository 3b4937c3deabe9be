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

// Package audit records the security-relevant decisions of the verifier:
// every proof outcome and every administrative read or reset of the
// consumed nonce set. Proof tokens are never part of an event.
package audit

import (
	"context"
	"errors"
	"time"
)

// EventType represents the type of audit event
type EventType string

const (
	// Proof events
	EventProofVerified EventType = "proof.verified"
	EventProofRejected EventType = "proof.rejected"
	EventProofError    EventType = "proof.error"

	// Administrative events
	EventNoncesList  EventType = "admin.nonces_list"
	EventNoncesClear EventType = "admin.nonces_clear"
)

// EventOutcome indicates the result of an operation
type EventOutcome string

const (
	OutcomeSuccess EventOutcome = "success"
	OutcomeFailure EventOutcome = "failure"
	OutcomeError   EventOutcome = "error"
)

// ErrQueryNotSupported is returned by adapters that can only write events.
var ErrQueryNotSupported = errors.New("audit: adapter does not support queries")

// AuditEvent represents a single audit log entry
type AuditEvent struct {
	// ID is a unique identifier for this audit event
	ID string `json:"id"`

	// Timestamp when the event occurred
	Timestamp time.Time `json:"timestamp"`

	// EventType categorizes the event
	EventType EventType `json:"event_type"`

	// Outcome indicates whether the operation succeeded
	Outcome EventOutcome `json:"outcome"`

	// Code is the verification outcome code for proof events
	Code string `json:"code,omitempty"`

	// Message is the rejection reason or error text
	Message string `json:"message,omitempty"`

	// Nonce is the consumed nonce for verified proofs
	Nonce string `json:"nonce,omitempty"`

	// Count is the number of nonces listed or cleared
	Count int `json:"count,omitempty"`

	// RequestID correlates this event with a request
	RequestID string `json:"request_id,omitempty"`
}

// AuditAdapter provides audit logging capabilities.
type AuditAdapter interface {
	// LogEvent records an audit event. It fills ID, Timestamp and
	// RequestID when they are empty.
	LogEvent(ctx context.Context, event *AuditEvent) error

	// GetEvents retrieves audit events, newest first.
	GetEvents(ctx context.Context, query *EventQuery) ([]*AuditEvent, error)
}

// EventQuery provides parameters for querying audit events
type EventQuery struct {
	// EventTypes filters by event type
	EventTypes []EventType

	// Outcomes filters by outcome
	Outcomes []EventOutcome

	// Since filters events at or after this time
	Since time.Time

	// RequestID filters by request ID
	RequestID string

	// Limit limits the number of results
	Limit int
}

func (q *EventQuery) matches(event *AuditEvent) bool {
	if len(q.EventTypes) > 0 && !contains(q.EventTypes, event.EventType) {
		return false
	}
	if len(q.Outcomes) > 0 && !contains(q.Outcomes, event.Outcome) {
		return false
	}
	if !q.Since.IsZero() && event.Timestamp.Before(q.Since) {
		return false
	}
	if q.RequestID != "" && event.RequestID != q.RequestID {
		return false
	}
	return true
}

func contains[T comparable](set []T, v T) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
