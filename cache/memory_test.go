package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryGetSetDelete(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if _, err := m.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := m.Set(ctx, "k", "v", 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, err := m.Get(ctx, "k")
	if err != nil || got != "v" {
		t.Fatalf("Get = %q, %v", got, err)
	}

	if err := m.Delete(ctx, "k", "also-missing"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := m.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryTTLExpiry(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	m.FastForward(30 * time.Second)
	if _, err := m.Get(ctx, "k"); err != nil {
		t.Fatalf("entry expired early: %v", err)
	}

	m.FastForward(31 * time.Second)
	if _, err := m.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after TTL, got %v", err)
	}
}

func TestMemoryIncrementAndGet(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := m.IncrementAndGet(ctx, "counter", time.Minute)
		if err != nil {
			t.Fatalf("IncrementAndGet failed: %v", err)
		}
		if got != want {
			t.Fatalf("count = %d, want %d", got, want)
		}
	}

	// The window TTL is fixed by the first increment.
	m.FastForward(61 * time.Second)
	got, err := m.IncrementAndGet(ctx, "counter", time.Minute)
	if err != nil {
		t.Fatalf("IncrementAndGet failed: %v", err)
	}
	if got != 1 {
		t.Fatalf("count after window reset = %d, want 1", got)
	}
}

func TestMemoryScriptsUnsupported(t *testing.T) {
	m := NewMemory()
	if m.Scriptable() {
		t.Fatal("Memory must not report script support")
	}
	if _, err := m.Run(context.Background(), NewScript("return 1"), nil); !errors.Is(err, ErrScriptsUnsupported) {
		t.Fatalf("expected ErrScriptsUnsupported, got %v", err)
	}
}

func TestMemoryLockMutualExclusion(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	lock, err := m.AcquireLock(ctx, "res", time.Minute)
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}

	blocked, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := m.AcquireLock(blocked, "res", time.Minute); !errors.Is(err, ErrLockNotAcquired) {
		t.Fatalf("expected ErrLockNotAcquired while held, got %v", err)
	}

	if err := lock.Release(ctx); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	second, err := m.AcquireLock(ctx, "res", time.Minute)
	if err != nil {
		t.Fatalf("AcquireLock after release failed: %v", err)
	}
	_ = second.Release(ctx)
}

func TestMemoryLockLeaseExpiry(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	stale, err := m.AcquireLock(ctx, "res", time.Second)
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}

	m.FastForward(2 * time.Second)

	successor, err := m.AcquireLock(ctx, "res", time.Minute)
	if err != nil {
		t.Fatalf("expected lease takeover, got %v", err)
	}

	// A stale holder releasing must not free the successor's lease.
	if err := stale.Release(ctx); err != nil {
		t.Fatalf("stale Release failed: %v", err)
	}
	blocked, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := m.AcquireLock(blocked, "res", time.Minute); !errors.Is(err, ErrLockNotAcquired) {
		t.Fatalf("successor lease lost to stale release: %v", err)
	}
	_ = successor.Release(ctx)
}
