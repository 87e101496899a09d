package authgate

import "sync/atomic"

// MetricID identifies a specific counter in the in-process metrics system.
type MetricID uint16

const (
	// MetricTokenIssued counts successful CreateToken operations.
	MetricTokenIssued MetricID = iota
	// MetricTokenRotated counts successful UpdateToken operations.
	MetricTokenRotated
	// MetricRotationConflict counts UpdateToken callers that lost a rotation
	// race or replayed a retired refresh token.
	MetricRotationConflict
	// MetricTokenInvalidated counts invalidation operations.
	MetricTokenInvalidated
	// MetricRefreshRejected counts refresh validations that failed for a
	// logic reason (expired, invalid, unbound).
	MetricRefreshRejected
	// MetricRateLimitAllowed counts admitted rate-limit checks.
	MetricRateLimitAllowed
	// MetricRateLimitDenied counts denied rate-limit checks.
	MetricRateLimitDenied
	// MetricCacheError counts infrastructure failures of the cache backend.
	MetricCacheError

	metricIDCount
)

var metricNames = [metricIDCount]string{
	MetricTokenIssued:      "authgate_token_issued_total",
	MetricTokenRotated:     "authgate_token_rotated_total",
	MetricRotationConflict: "authgate_rotation_conflict_total",
	MetricTokenInvalidated: "authgate_token_invalidated_total",
	MetricRefreshRejected:  "authgate_refresh_rejected_total",
	MetricRateLimitAllowed: "authgate_rate_limit_allowed_total",
	MetricRateLimitDenied:  "authgate_rate_limit_denied_total",
	MetricCacheError:       "authgate_cache_error_total",
}

// Name returns the stable exposition name for the metric.
func (id MetricID) Name() string {
	if id >= metricIDCount {
		return "authgate_unknown"
	}
	return metricNames[id]
}

// paddedCounter keeps each counter on its own cache line so concurrent
// increments of neighboring metrics do not false-share.
type paddedCounter struct {
	value uint64
	_     [56]byte
}

// Metrics holds atomic operation counters. All methods are safe for
// concurrent use and nil-safe, so components may carry a nil *Metrics.
type Metrics struct {
	counters [metricIDCount]paddedCounter
}

// NewMetrics creates an empty metrics set.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// Inc increments a counter. No-op on a nil receiver or unknown id.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Get returns the current value of a counter.
func (m *Metrics) Get(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot struct {
	Counters map[MetricID]uint64
}

// Snapshot returns a consistent-enough copy for export; individual counters
// are read atomically but not as a group.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{Counters: make(map[MetricID]uint64, metricIDCount)}
	if m == nil {
		return snap
	}
	for id := MetricID(0); id < metricIDCount; id++ {
		snap.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	return snap
}

// MetricIDs lists every defined metric in declaration order, for exporters.
func MetricIDs() []MetricID {
	ids := make([]MetricID, 0, metricIDCount)
	for id := MetricID(0); id < metricIDCount; id++ {
		ids = append(ids, id)
	}
	return ids
}

// Allowed implements the ratelimit recorder contract.
func (m *Metrics) Allowed() { m.Inc(MetricRateLimitAllowed) }

// Denied implements the ratelimit recorder contract.
func (m *Metrics) Denied() { m.Inc(MetricRateLimitDenied) }

// Unavailable implements the ratelimit recorder contract.
func (m *Metrics) Unavailable() { m.Inc(MetricCacheError) }
