package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/throttlekit/authgate/cache"
)

// ErrInvalidPolicy is returned for policies with a non-positive budget or
// interval, or an empty scope.
var ErrInvalidPolicy = errors.New("ratelimit: invalid policy")

// Policy is one rate budget: at most MaxRequests per Interval for each
// distinct identity within Scope. Scopes are opaque labels partitioning
// budgets; they are never evaluated against each other.
type Policy struct {
	Scope       string
	MaxRequests int
	Interval    time.Duration
}

// Validate checks the policy shape.
func (p Policy) Validate() error {
	if p.Scope == "" {
		return fmt.Errorf("%w: empty scope", ErrInvalidPolicy)
	}
	if p.MaxRequests <= 0 {
		return fmt.Errorf("%w: max requests must be positive", ErrInvalidPolicy)
	}
	if p.Interval < time.Second {
		return fmt.Errorf("%w: interval must be at least one second", ErrInvalidPolicy)
	}
	return nil
}

// Decision is the outcome of one admission check. RetryAfter is zero when
// admitted; when denied it is the time until the next window bucket opens.
type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// Recorder receives admission outcomes. [github.com/throttlekit/authgate.Metrics]
// satisfies it; the default is a no-op.
type Recorder interface {
	Allowed()
	Denied()
	Unavailable()
}

type nopRecorder struct{}

func (nopRecorder) Allowed()     {}
func (nopRecorder) Denied()      {}
func (nopRecorder) Unavailable() {}

// Option configures a [Limiter].
type Option func(*Limiter)

// WithFailOpen admits requests when the cache backend is unreachable instead
// of denying them. See the package documentation for the trade-off.
func WithFailOpen() Option {
	return func(l *Limiter) { l.failOpen = true }
}

// WithRecorder wires an outcome recorder.
func WithRecorder(r Recorder) Option {
	return func(l *Limiter) {
		if r != nil {
			l.recorder = r
		}
	}
}

// WithKeyPrefix namespaces every counter key.
func WithKeyPrefix(prefix string) Option {
	return func(l *Limiter) { l.prefix = prefix }
}

// WithLogger wires a logger for infrastructure failures.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// Limiter answers admission checks over a shared cache. It holds no mutable
// state of its own and is safe for concurrent use.
type Limiter struct {
	cache    cache.Cache
	failOpen bool
	recorder Recorder
	prefix   string
	logger   zerolog.Logger
	now      func() time.Time
}

// New creates a [Limiter] over the given cache backend.
func New(c cache.Cache, opts ...Option) *Limiter {
	l := &Limiter{
		cache:    c,
		recorder: nopRecorder{},
		logger:   zerolog.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check admits or denies one request by identity against the policy.
//
//	Performance: 1 atomic INCR (+EXPIRE on the first hit in the window).
func (l *Limiter) Check(ctx context.Context, policy Policy, identity string) (Decision, error) {
	if err := policy.Validate(); err != nil {
		return Decision{}, err
	}
	if identity == "" {
		return Decision{}, fmt.Errorf("%w: empty identity", ErrInvalidPolicy)
	}

	now := l.now()
	intervalSec := int64(policy.Interval / time.Second)
	bucket := now.Unix() / intervalSec
	key := l.prefix + "limit:" + policy.Scope + ":" + identity + ":" + strconv.FormatInt(bucket, 10)

	count, err := l.cache.IncrementAndGet(ctx, key, policy.Interval)
	if err != nil {
		l.recorder.Unavailable()
		l.logger.Error().Err(err).Str("scope", policy.Scope).Msg("rate limit counter unavailable")

		if l.failOpen {
			return Decision{Allowed: true, Remaining: int64(policy.MaxRequests)}, nil
		}
		return Decision{RetryAfter: policy.Interval}, err
	}

	if count > int64(policy.MaxRequests) {
		l.recorder.Denied()
		nextBucket := time.Unix((bucket+1)*intervalSec, 0)
		return Decision{RetryAfter: nextBucket.Sub(now)}, nil
	}

	l.recorder.Allowed()
	return Decision{Allowed: true, Remaining: int64(policy.MaxRequests) - count}, nil
}
