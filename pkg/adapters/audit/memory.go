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
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jeremyhahn/go-keyproof/pkg/correlation"
)

// DefaultMaxEvents bounds a MemoryAuditAdapter when no limit is given.
const DefaultMaxEvents = 10000

// MemoryAuditAdapter keeps the most recent events in a ring buffer. The
// oldest event is dropped once the buffer is full.
type MemoryAuditAdapter struct {
	mu      sync.RWMutex
	events  []*AuditEvent
	next    int
	full    bool
	dropped uint64
}

// NewMemoryAuditAdapter creates an in-memory adapter holding up to
// maxEvents events (DefaultMaxEvents when maxEvents <= 0).
func NewMemoryAuditAdapter(maxEvents int) *MemoryAuditAdapter {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}
	return &MemoryAuditAdapter{events: make([]*AuditEvent, maxEvents)}
}

// LogEvent records an audit event in memory
func (m *MemoryAuditAdapter) LogEvent(ctx context.Context, event *AuditEvent) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	fill(ctx, event)

	stored := *event
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.full {
		m.dropped++
	}
	m.events[m.next] = &stored
	m.next = (m.next + 1) % len(m.events)
	if m.next == 0 {
		m.full = true
	}
	return nil
}

// GetEvents returns copies of the matching events, newest first.
func (m *MemoryAuditAdapter) GetEvents(ctx context.Context, query *EventQuery) ([]*AuditEvent, error) {
	if query == nil {
		query = &EventQuery{}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	n := m.len()
	results := make([]*AuditEvent, 0)
	for i := 1; i <= n; i++ {
		idx := (m.next - i + len(m.events)) % len(m.events)
		event := m.events[idx]
		if !query.matches(event) {
			continue
		}
		cp := *event
		results = append(results, &cp)
		if query.Limit > 0 && len(results) == query.Limit {
			break
		}
	}
	return results, nil
}

// Len returns the number of retained events.
func (m *MemoryAuditAdapter) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.len()
}

// Dropped returns how many events were evicted to make room.
func (m *MemoryAuditAdapter) Dropped() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dropped
}

func (m *MemoryAuditAdapter) len() int {
	if m.full {
		return len(m.events)
	}
	return m.next
}

func fill(ctx context.Context, event *AuditEvent) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.RequestID == "" {
		event.RequestID = correlation.GetCorrelationID(ctx)
	}
}
