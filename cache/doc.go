// Package cache provides the atomic key/value backend that coordinates every
// piece of shared state in authgate: refresh-token metadata, subject indexes,
// and rate-limit counters.
//
// # Backends
//
// Two implementations of [Cache] ship with the package:
//
//   - [Redis]: the production backend. Multi-step mutations run as server-side
//     Lua scripts through [Cache.Run], so rotation and invalidation are
//     indivisible even across process crashes.
//   - [Memory]: an in-process fallback for tests and single-instance
//     deployments. It cannot execute scripts; callers that need multi-step
//     atomicity must serialize through [Cache.AcquireLock] instead.
//
// [Open] selects the backend from a connection descriptor ("redis://…" or
// "memory://").
//
// # Error policy
//
// Backend connectivity failures are always wrapped in [ErrUnavailable] so that
// callers can distinguish infrastructure trouble from logic outcomes such as
// [ErrNotFound]. Fail-open versus fail-closed is the caller's decision.
//
// # What this package must NOT do
//
//   - Know anything about tokens, claims, or rate-limit policies.
//   - Import any sibling authgate package.
package cache
