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

// Package replay tracks nonces that have already been consumed by a successful
// proof verification so that no proof can be accepted twice.
package replay

import (
	"errors"
	"sort"
	"sync"
)

// ErrClosed is returned by every membership operation after Close.
var ErrClosed = errors.New("replay: guard is closed")

// Guard is a concurrency-safe set of consumed nonces.
//
// TryConsume is the only operation that mutates membership on the
// verification path. Implementations must perform the membership check and
// the insert as one indivisible step.
type Guard interface {
	// TryConsume marks nonce as consumed. It returns true if the nonce was
	// not present before the call and false if it had already been consumed.
	TryConsume(nonce string) (bool, error)

	// Count returns the number of consumed nonces.
	Count() (int, error)

	// List returns a sorted snapshot of the consumed nonces.
	List() ([]string, error)

	// Clear forgets every consumed nonce and returns how many were removed.
	Clear() (int, error)

	// Close ends the guard's lifecycle.
	Close() error
}

// MemoryGuard is a process-local Guard backed by a map. Its contents do not
// survive a restart.
type MemoryGuard struct {
	mu       sync.Mutex
	consumed map[string]struct{}
	closed   bool
}

// NewMemoryGuard creates an empty MemoryGuard.
func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{
		consumed: make(map[string]struct{}),
	}
}

// TryConsume implements Guard.
func (g *MemoryGuard) TryConsume(nonce string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return false, ErrClosed
	}
	if _, used := g.consumed[nonce]; used {
		return false, nil
	}
	g.consumed[nonce] = struct{}{}
	return true, nil
}

// Count implements Guard.
func (g *MemoryGuard) Count() (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return 0, ErrClosed
	}
	return len(g.consumed), nil
}

// List implements Guard.
func (g *MemoryGuard) List() ([]string, error) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil, ErrClosed
	}
	nonces := make([]string, 0, len(g.consumed))
	for n := range g.consumed {
		nonces = append(nonces, n)
	}
	g.mu.Unlock()

	sort.Strings(nonces)
	return nonces, nil
}

// Clear implements Guard.
func (g *MemoryGuard) Clear() (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return 0, ErrClosed
	}
	n := len(g.consumed)
	clear(g.consumed)
	return n, nil
}

// Close implements Guard. Consumed nonces are retained so a closed guard can
// never be mistaken for an empty one. Close is idempotent.
func (g *MemoryGuard) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	return nil
}
