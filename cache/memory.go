package cache

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// Memory is an in-process [Cache] for tests and single-instance deployments.
// It cannot execute scripts; components that need multi-step atomicity must
// serialize through [Memory.AcquireLock] instead.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	locks   map[string]memoryLease
	now     func() time.Time
}

type memoryEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

type memoryLease struct {
	token     string
	expiresAt time.Time
}

// NewMemory creates an empty in-process cache.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]memoryEntry),
		locks:   make(map[string]memoryLease),
		now:     time.Now,
	}
}

func (m *Memory) live(key string) (memoryEntry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		delete(m.entries, key)
		return memoryEntry{}, false
	}
	return e, true
}

// Get implements [Cache].
func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.live(key)
	if !ok {
		return "", ErrNotFound
	}
	return e.value, nil
}

// Set implements [Cache].
func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expires time.Time
	if ttl > 0 {
		expires = m.now().Add(ttl)
	}
	m.entries[key] = memoryEntry{value: value, expiresAt: expires}
	return nil
}

// Delete implements [Cache].
func (m *Memory) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range keys {
		delete(m.entries, key)
	}
	return nil
}

// IncrementAndGet implements [Cache].
func (m *Memory) IncrementAndGet(_ context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	e, ok := m.live(key)
	if ok {
		parsed, err := strconv.ParseInt(e.value, 10, 64)
		if err != nil {
			parsed = 0
		}
		count = parsed + 1
		e.value = strconv.FormatInt(count, 10)
		m.entries[key] = e
		return count, nil
	}

	count = 1
	var expires time.Time
	if ttl > 0 {
		expires = m.now().Add(ttl)
	}
	m.entries[key] = memoryEntry{value: "1", expiresAt: expires}
	return count, nil
}

// Run implements [Cache]. The in-process backend has no script engine.
func (m *Memory) Run(context.Context, *Script, []string, ...any) (any, error) {
	return nil, ErrScriptsUnsupported
}

// Scriptable implements [Cache].
func (m *Memory) Scriptable() bool { return false }

// AcquireLock implements [Cache]. Leases are evicted lazily, so a crashed
// holder blocks successors for at most the lease duration.
func (m *Memory) AcquireLock(ctx context.Context, name string, lease time.Duration) (Lock, error) {
	token := strconv.FormatInt(m.now().UnixNano(), 36) + name

	for {
		m.mu.Lock()
		held, ok := m.locks[name]
		if !ok || !m.now().Before(held.expiresAt) {
			m.locks[name] = memoryLease{token: token, expiresAt: m.now().Add(lease)}
			m.mu.Unlock()
			return &memoryLock{cache: m, name: name, token: token}, nil
		}
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ErrLockNotAcquired
		case <-time.After(time.Millisecond):
		}
	}
}

// FastForward advances the cache clock by d, expiring entries and leases as
// if d of wall time had elapsed. Test helper, mirrors miniredis.FastForward.
func (m *Memory) FastForward(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	base := m.now
	offset := d
	m.now = func() time.Time { return base().Add(offset) }
}

type memoryLock struct {
	cache *Memory
	name  string
	token string
}

func (l *memoryLock) Release(context.Context) error {
	l.cache.mu.Lock()
	defer l.cache.mu.Unlock()

	if held, ok := l.cache.locks[l.name]; ok && held.token == l.token {
		delete(l.cache.locks, l.name)
	}
	return nil
}
