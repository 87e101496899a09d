// Package ratelimit admits or denies requests against per-scope, per-identity
// fixed-window budgets stored in the shared cache backend.
//
// A [Policy] is (scope, max requests, interval). Each check increments the
// counter for the window bucket floor(now/interval) atomically and admits
// while the post-increment count stays within the budget. Counters expire
// with the window, so idle identities cost nothing.
//
// # Availability policy
//
// Whether a check should fail open or fail closed when the cache backend is
// unreachable is a deployment decision, not something this package can know.
// The default is fail closed (deny and surface the infrastructure error);
// [WithFailOpen] flips it. Token validation elsewhere in authgate always
// fails closed; only admission control is configurable.
//
// # What this package must NOT do
//
//   - Resolve identities or inspect requests; that is middleware's job.
//   - Roll back counters: a denied request may leave earlier increments in
//     place, a deliberate bias toward under-admission.
package ratelimit
