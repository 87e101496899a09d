package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned by [Cache.Get] when the key does not exist or has
// already expired.
var ErrNotFound = errors.New("cache: key not found")

// ErrUnavailable wraps every backend connectivity failure. It is an
// infrastructure error, never a logic outcome; callers branch on it with
// [errors.Is] to decide fail-open versus fail-closed.
var ErrUnavailable = errors.New("cache: backend unavailable")

// ErrScriptsUnsupported is returned by [Cache.Run] on backends that cannot
// execute server-side atomic scripts.
var ErrScriptsUnsupported = errors.New("cache: atomic scripts unsupported")

// ErrLockNotAcquired is returned by [Cache.AcquireLock] when the lock could
// not be obtained before the context expired.
var ErrLockNotAcquired = errors.New("cache: lock not acquired")

// Script is a multi-key read-modify-write sequence executed indivisibly by a
// scriptable backend. Construct with [NewScript] at package init so the
// backend can cache the compiled form.
type Script struct {
	src   string
	redis *redis.Script
}

// NewScript registers src as an atomic script.
func NewScript(src string) *Script {
	return &Script{src: src, redis: redis.NewScript(src)}
}

// Lock is a held lease-based lock. Release must be called on every exit path
// of the protected section; a crashed holder is evicted when the lease ends.
type Lock interface {
	Release(ctx context.Context) error
}

// Cache is the atomic key/value contract shared by all authgate components.
// Implementations must be safe for concurrent use.
type Cache interface {
	// Get returns the value at key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set writes value at key. ttl <= 0 means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes the given keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error

	// IncrementAndGet atomically increments the integer at key, creating it
	// at zero with the given ttl on first touch, and returns the new value.
	IncrementAndGet(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Run executes a script atomically against the backend. Backends without
	// scripting return ErrScriptsUnsupported.
	Run(ctx context.Context, script *Script, keys []string, args ...any) (any, error)

	// AcquireLock obtains a named lock with a bounded lease, blocking until
	// acquired or ctx is done.
	AcquireLock(ctx context.Context, name string, lease time.Duration) (Lock, error)

	// Scriptable reports whether Run is supported.
	Scriptable() bool
}

// Open selects a backend from a connection descriptor. "redis://" and
// "rediss://" descriptors dial Redis; "memory://" and the empty string yield
// an in-process [Memory] cache.
func Open(descriptor string) (Cache, error) {
	if descriptor == "" || strings.HasPrefix(descriptor, "memory://") {
		return NewMemory(), nil
	}

	opts, err := redis.ParseURL(descriptor)
	if err != nil {
		return nil, err
	}

	return NewRedis(redis.NewClient(opts)), nil
}
