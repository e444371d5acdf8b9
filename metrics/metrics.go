// Package metrics provides lightweight, lock-free counters using atomic
// operations so they impose minimal overhead on the proxy hot path.
package metrics

import (
	"sync/atomic"
	"time"
)

// Metrics tracks aggregate statistics for the cookie-injector service.
//
// All counters are accessed exclusively through atomic operations, so the
// struct may be shared between the refresh loops and the per-flow proxy
// hook without any additional synchronisation.
type Metrics struct {
	// RefreshSuccess counts refresh cycles that persisted a new jar.
	RefreshSuccess uint64

	// RefreshFailed counts refresh cycles that exhausted all attempts.
	RefreshFailed uint64

	// Injected counts proxied requests that received a Cookie header.
	Injected uint64

	// ShortCircuited counts proxied requests answered with a 502 because
	// no valid cookies were available.
	ShortCircuited uint64

	// PassedThrough counts requests forwarded untouched (non-paywall
	// hosts).
	PassedThrough uint64

	// startTime records when the instance was created so rates can be
	// derived from the counters.
	startTime time.Time
}

// New creates a Metrics instance with the start time set to now.
func New() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// IncRefreshSuccess atomically increments the successful-refresh counter.
func (m *Metrics) IncRefreshSuccess() { atomic.AddUint64(&m.RefreshSuccess, 1) }

// IncRefreshFailed atomically increments the failed-refresh counter.
func (m *Metrics) IncRefreshFailed() { atomic.AddUint64(&m.RefreshFailed, 1) }

// IncInjected atomically increments the injected-request counter.
func (m *Metrics) IncInjected() { atomic.AddUint64(&m.Injected, 1) }

// IncShortCircuited atomically increments the short-circuited counter.
func (m *Metrics) IncShortCircuited() { atomic.AddUint64(&m.ShortCircuited, 1) }

// IncPassedThrough atomically increments the pass-through counter.
func (m *Metrics) IncPassedThrough() { atomic.AddUint64(&m.PassedThrough, 1) }

// Uptime returns how long the metrics instance has existed.
func (m *Metrics) Uptime() time.Duration { return time.Since(m.startTime) }

// Snapshot returns a point-in-time copy of the counters.  Because the five
// atomic loads are not performed under a single lock, the snapshot may be
// very slightly inconsistent at nanosecond granularity, which is acceptable
// for monitoring purposes.
func (m *Metrics) Snapshot() (refreshOK, refreshFail, injected, shortCircuited, passedThrough uint64) {
	return atomic.LoadUint64(&m.RefreshSuccess),
		atomic.LoadUint64(&m.RefreshFailed),
		atomic.LoadUint64(&m.Injected),
		atomic.LoadUint64(&m.ShortCircuited),
		atomic.LoadUint64(&m.PassedThrough)
}
