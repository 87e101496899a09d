// Package authgate issues, validates, rotates, and revokes short-lived
// authentication tokens, and admits requests against per-scope rate budgets.
// All coordination state lives in a shared atomic cache backend; the services
// themselves are stateless orchestrators and are safe for concurrent use
// after construction.
//
// # Architecture boundaries
//
// authgate is the public surface. It exposes the [TokenService] contract with
// its two implementations ([AtomicService], [LockService]), the [Claims] and
// [Identity] value types, the error taxonomy, and metrics. The cache backend
// lives in cache/, the stateless codec in jwt/, admission control in
// ratelimit/ and middleware/.
//
// # Token model
//
// Access tokens are self-contained: validity is signature plus expiry, no
// server-side state, no per-token revocation. Refresh tokens are stateful: a
// metadata record bound to the paired access token must exist in the cache
// for the refresh token to be usable. Each use of a refresh token rotates it:
// the old record is retired and a new pair is issued in one indivisible step,
// so a replayed refresh token loses the race deterministically.
//
// # Choosing an implementation
//
// [AtomicService] executes rotation, invalidation, and session search as
// single server-side scripts and is the implementation to run against Redis.
// [LockService] degrades the same sequences to lease-lock-protected
// multi-step operations for backends without scripting, such as the
// in-process cache. The choice is explicit at construction, never inferred.
package authgate
