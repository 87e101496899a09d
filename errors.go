package authgate

import (
	"errors"

	"github.com/throttlekit/authgate/cache"
	"github.com/throttlekit/authgate/jwt"
)

var (
	// ErrTokenExpired is returned when a token is correctly signed but past
	// its expiry.
	ErrTokenExpired = jwt.ErrTokenExpired
	// ErrTokenInvalid is returned for malformed tokens, bad signatures, and
	// claims violating the required shape.
	ErrTokenInvalid = jwt.ErrTokenInvalid
	// ErrTokenUnbound is returned when a refresh token is presented alongside
	// an access token it was never issued with.
	ErrTokenUnbound = errors.New("refresh token not bound to access token")
	// ErrTokenAlreadyRotated is returned when the refresh token's metadata
	// record is gone: the caller lost a rotation race or replayed a token
	// that was already rotated or invalidated.
	ErrTokenAlreadyRotated = errors.New("refresh token already rotated")
	// ErrRateLimitExceeded is returned when a request exceeds its scope
	// budget.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	// ErrCacheUnavailable marks infrastructure failures of the cache backend,
	// distinct from every logic failure above.
	ErrCacheUnavailable = cache.ErrUnavailable
)
