package internaldefs

import (
	authgate "github.com/throttlekit/authgate"
)

// CounterDef binds a metric identifier to its stable exposition name and
// help text.
//
// CounterDef instances are intended to be configured during initialization
// and then treated as immutable.
type CounterDef struct {
	ID   authgate.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in declaration order. Exporters
// iterate this slice so that all backends expose identical names.
var CounterDefs = []CounterDef{
	{ID: authgate.MetricTokenIssued, Name: "authgate_token_issued_total", Help: "Issued token pairs."},
	{ID: authgate.MetricTokenRotated, Name: "authgate_token_rotated_total", Help: "Successful token rotations."},
	{ID: authgate.MetricRotationConflict, Name: "authgate_rotation_conflict_total", Help: "Rotation attempts that lost a race or replayed a retired refresh token."},
	{ID: authgate.MetricTokenInvalidated, Name: "authgate_token_invalidated_total", Help: "Invalidated sessions."},
	{ID: authgate.MetricRefreshRejected, Name: "authgate_refresh_rejected_total", Help: "Refresh validations rejected for a logic reason."},
	{ID: authgate.MetricRateLimitAllowed, Name: "authgate_rate_limit_allowed_total", Help: "Admitted rate-limit checks."},
	{ID: authgate.MetricRateLimitDenied, Name: "authgate_rate_limit_denied_total", Help: "Denied rate-limit checks."},
	{ID: authgate.MetricCacheError, Name: "authgate_cache_error_total", Help: "Cache backend infrastructure failures."},
}
