// Package middleware connects authgate to a net/http pipeline: it resolves a
// per-request identity and evaluates the rate-limit rules attached to an
// operation before the handler runs.
//
// Identity resolution prefers a bearer access token validated through a token
// service; requests without credentials fall back to a stable anonymous
// identity carried in a signed session cookie. The resolved
// [github.com/throttlekit/authgate.Identity] is installed in the request
// context and retrievable with [IdentityFromContext].
//
// Rules are an explicit ordered list attached at registration time. They are
// evaluated in declaration order and the first denial wins: the request is
// rejected with 429 and a Retry-After header, and no later rule's counter is
// touched. Counters already incremented before the denial are left in place.
package middleware
