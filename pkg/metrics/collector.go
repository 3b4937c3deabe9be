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

package metrics

import (
	"context"
	"runtime"
	"time"
)

// SizeFunc reports the current number of consumed nonces.
type SizeFunc func() (int, error)

// ResourceCollector periodically refreshes runtime gauges and, when given a
// SizeFunc, resynchronises the consumed nonce gauge with the replay guard.
type ResourceCollector struct {
	ctx      context.Context
	cancel   context.CancelFunc
	interval time.Duration
	started  time.Time
	size     SizeFunc
}

// NewResourceCollector creates a collector that samples every interval.
// size may be nil.
//
// Example:
//
//	collector := metrics.NewResourceCollector(ctx, 30*time.Second, guard.Count)
//	go collector.Start()
//	defer collector.Stop()
func NewResourceCollector(ctx context.Context, interval time.Duration, size SizeFunc) *ResourceCollector {
	collectorCtx, cancel := context.WithCancel(ctx)
	return &ResourceCollector{
		ctx:      collectorCtx,
		cancel:   cancel,
		interval: interval,
		started:  time.Now(),
		size:     size,
	}
}

// Start collects immediately and then on every tick until Stop is called or
// the parent context is cancelled. It blocks.
func (rc *ResourceCollector) Start() {
	ticker := time.NewTicker(rc.interval)
	defer ticker.Stop()

	rc.collect()

	for {
		select {
		case <-rc.ctx.Done():
			return
		case <-ticker.C:
			rc.collect()
		}
	}
}

// Stop halts the collector.
func (rc *ResourceCollector) Stop() {
	rc.cancel()
}

func (rc *ResourceCollector) collect() {
	if !IsEnabled() {
		return
	}

	Goroutines.Set(float64(runtime.NumGoroutine()))

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	MemoryAllocBytes.Set(float64(memStats.Alloc))

	ServerUptime.Set(time.Since(rc.started).Seconds())

	if rc.size != nil {
		// A closed guard keeps its last reported size.
		if n, err := rc.size(); err == nil {
			ConsumedNonces.Set(float64(n))
		}
	}
}

// StartResourceCollector creates a collector and runs it in the background.
func StartResourceCollector(ctx context.Context, interval time.Duration, size SizeFunc) *ResourceCollector {
	collector := NewResourceCollector(ctx, interval, size)
	go collector.Start()
	return collector
}
