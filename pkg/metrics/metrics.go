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

// Package metrics provides Prometheus instrumentation for the keyproof
// verifier: nonce issuance, verification outcomes, replay guard size and
// HTTP traffic.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the Prometheus namespace for all keyproof metrics
	Namespace = "keyproof"

	// Label names
	LabelOutcome    = "outcome"
	LabelOperation  = "operation"
	LabelErrorType  = "error_type"
	LabelMethod     = "method"
	LabelRoute      = "route"
	LabelStatusCode = "status_code"

	// Operation names
	OpIssue  = "issue"
	OpVerify = "verify"
	OpList   = "list"
	OpClear  = "clear"
)

var (
	// NoncesIssuedTotal counts nonces handed out to holders.
	NoncesIssuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "nonces_issued_total",
			Help:      "Total number of nonces issued",
		},
	)

	// VerificationsTotal counts proof submissions by outcome code.
	VerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "verifications_total",
			Help:      "Total number of proof submissions by outcome",
		},
		[]string{LabelOutcome},
	)

	// VerificationDuration tracks time spent verifying a submission.
	// Buckets are tuned for a single ECDSA P-256 verification.
	VerificationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "verification_duration_seconds",
			Help:      "Duration of proof verification in seconds",
			Buckets:   []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1},
		},
		[]string{LabelOutcome},
	)

	// ErrorsTotal counts internal failures (not rejections) by operation.
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "errors_total",
			Help:      "Total number of internal errors by operation and error type",
		},
		[]string{LabelOperation, LabelErrorType},
	)

	// ConsumedNonces is the current size of the replay guard.
	ConsumedNonces = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "consumed_nonces",
			Help:      "Current number of nonces recorded as consumed",
		},
	)

	// NoncesClearedTotal counts entries removed by administrative resets.
	NoncesClearedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "nonces_cleared_total",
			Help:      "Total number of consumed nonces removed by clear operations",
		},
	)

	// HTTPRequestsTotal tracks HTTP requests by method, route and status code.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, route and status code",
		},
		[]string{LabelMethod, LabelRoute, LabelStatusCode},
	)

	// HTTPRequestDuration tracks the duration of HTTP requests in seconds.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelMethod, LabelRoute},
	)

	// HTTPInFlight is the number of requests currently being served.
	HTTPInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Number of HTTP requests currently being served",
		},
	)

	// RateLimitedTotal counts requests refused by the rate limiter.
	RateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Total number of requests rejected by the rate limiter",
		},
	)

	// Goroutines tracks the current number of goroutines.
	Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "goroutines",
			Help:      "Current number of goroutines",
		},
	)

	// MemoryAllocBytes tracks the current bytes of allocated heap objects.
	MemoryAllocBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "memory_alloc_bytes",
			Help:      "Current bytes of allocated heap objects",
		},
	)

	// ServerUptime tracks the server uptime in seconds since startup.
	ServerUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "server_uptime_seconds",
			Help:      "Server uptime in seconds since startup",
		},
	)

	// enabled tracks whether metrics collection is enabled
	enabled atomic.Bool
)

func init() {
	enabled.Store(true)
}

// RecordNonceIssued counts one issued nonce.
func RecordNonceIssued() {
	if !enabled.Load() {
		return
	}
	NoncesIssuedTotal.Inc()
}

// RecordVerification records a completed verification with its outcome code
// and duration in seconds.
//
// Example:
//
//	start := time.Now()
//	out, err := engine.Verify(token, key)
//	if err == nil {
//	    metrics.RecordVerification(string(out.Code), time.Since(start).Seconds())
//	}
func RecordVerification(outcome string, duration float64) {
	if !enabled.Load() {
		return
	}
	VerificationsTotal.WithLabelValues(outcome).Inc()
	VerificationDuration.WithLabelValues(outcome).Observe(duration)
}

// RecordError records an internal failure during operation.
func RecordError(operation, errorType string) {
	if !enabled.Load() {
		return
	}
	ErrorsTotal.WithLabelValues(operation, errorType).Inc()
}

// SetConsumedNonces sets the replay guard size gauge.
func SetConsumedNonces(count int) {
	if !enabled.Load() {
		return
	}
	ConsumedNonces.Set(float64(count))
}

// IncConsumedNonces bumps the replay guard size gauge after an accepted proof.
func IncConsumedNonces() {
	if !enabled.Load() {
		return
	}
	ConsumedNonces.Inc()
}

// RecordCleared records an administrative reset of the replay guard.
func RecordCleared(removed int) {
	if !enabled.Load() {
		return
	}
	NoncesClearedTotal.Add(float64(removed))
	ConsumedNonces.Set(0)
}

// RecordHTTPRequest records an HTTP request with its duration and status.
func RecordHTTPRequest(method, route, statusCode string, duration float64) {
	if !enabled.Load() {
		return
	}
	HTTPRequestsTotal.WithLabelValues(method, route, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(duration)
}

// RecordRateLimited counts a request rejected by the rate limiter.
func RecordRateLimited() {
	if !enabled.Load() {
		return
	}
	RateLimitedTotal.Inc()
}

// Enable enables metrics collection.
func Enable() {
	enabled.Store(true)
}

// Disable disables metrics collection.
// Useful for testing or when metrics are not desired.
func Disable() {
	enabled.Store(false)
}

// IsEnabled returns whether metrics collection is currently enabled.
func IsEnabled() bool {
	return enabled.Load()
}
