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

package replay

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryGuard_FirstUseSucceeds(t *testing.T) {
	g := NewMemoryGuard()

	ok, err := g.TryConsume("nonce-1")
	require.NoError(t, err)
	assert.True(t, ok)

	count, err := g.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMemoryGuard_SecondUseFails(t *testing.T) {
	g := NewMemoryGuard()

	ok, err := g.TryConsume("nonce-1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = g.TryConsume("nonce-1")
	require.NoError(t, err)
	assert.False(t, ok, "second consumption must be rejected")

	count, err := g.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count, "rejected consumption must not grow the set")
}

func TestMemoryGuard_DistinctNonces(t *testing.T) {
	g := NewMemoryGuard()

	for i := 0; i < 100; i++ {
		ok, err := g.TryConsume(fmt.Sprintf("nonce-%03d", i))
		require.NoError(t, err)
		assert.True(t, ok)
	}

	count, err := g.Count()
	require.NoError(t, err)
	assert.Equal(t, 100, count)
}

func TestMemoryGuard_List(t *testing.T) {
	g := NewMemoryGuard()

	for _, n := range []string{"charlie", "alpha", "bravo"} {
		_, err := g.TryConsume(n)
		require.NoError(t, err)
	}

	nonces, err := g.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "bravo", "charlie"}, nonces)

	// The snapshot is a copy.
	nonces[0] = "mutated"
	again, err := g.List()
	require.NoError(t, err)
	assert.Equal(t, "alpha", again[0])
}

func TestMemoryGuard_ClearAllowsReuse(t *testing.T) {
	g := NewMemoryGuard()

	ok, err := g.TryConsume("n1")
	require.NoError(t, err)
	require.True(t, ok)

	removed, err := g.Clear()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	count, err := g.Count()
	require.NoError(t, err)
	assert.Zero(t, count)

	ok, err = g.TryConsume("n1")
	require.NoError(t, err)
	assert.True(t, ok, "nonce must be consumable again after Clear")
}

func TestMemoryGuard_Close(t *testing.T) {
	g := NewMemoryGuard()
	_, err := g.TryConsume("n1")
	require.NoError(t, err)

	require.NoError(t, g.Close())
	require.NoError(t, g.Close())

	_, err = g.TryConsume("n2")
	assert.ErrorIs(t, err, ErrClosed)

	_, err = g.TryConsume("n1")
	assert.ErrorIs(t, err, ErrClosed)

	_, err = g.Count()
	assert.ErrorIs(t, err, ErrClosed)

	_, err = g.List()
	assert.ErrorIs(t, err, ErrClosed)

	_, err = g.Clear()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMemoryGuard_ConcurrentSameNonce(t *testing.T) {
	const goroutines = 200

	for round := 0; round < 20; round++ {
		g := NewMemoryGuard()
		nonce := fmt.Sprintf("contended-%d", round)

		var accepted atomic.Int32
		var start sync.WaitGroup
		var done sync.WaitGroup
		start.Add(1)

		for i := 0; i < goroutines; i++ {
			done.Add(1)
			go func() {
				defer done.Done()
				start.Wait()
				ok, err := g.TryConsume(nonce)
				if err != nil {
					t.Errorf("unexpected error: %v", err)
					return
				}
				if ok {
					accepted.Add(1)
				}
			}()
		}

		start.Done()
		done.Wait()

		assert.Equal(t, int32(1), accepted.Load(), "exactly one caller may consume the nonce")
	}
}

func TestMemoryGuard_ConcurrentMixedOperations(t *testing.T) {
	g := NewMemoryGuard()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(3)
		go func(i int) {
			defer wg.Done()
			_, _ = g.TryConsume(fmt.Sprintf("n-%d", i))
		}(i)
		go func() {
			defer wg.Done()
			_, _ = g.Count()
		}()
		go func() {
			defer wg.Done()
			_, _ = g.List()
		}()
	}
	wg.Wait()

	count, err := g.Count()
	require.NoError(t, err)
	assert.Equal(t, 50, count)
}

func TestMemoryGuard_ImplementsGuard(t *testing.T) {
	var _ Guard = NewMemoryGuard()
}
