package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryCache(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMemory()
	c.now = func() time.Time { return now }

	if err := c.Set(ctx, FundingKey("a"), map[string]int64{"current": 10}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	var got map[string]int64
	found, err := c.Get(ctx, FundingKey("a"), &got)
	if err != nil || !found || got["current"] != 10 {
		t.Fatalf("get: found=%v err=%v got=%v", found, err, got)
	}

	now = now.Add(2 * time.Minute)
	found, _ = c.Get(ctx, FundingKey("a"), &got)
	if found {
		t.Fatalf("expected entry to expire")
	}
}

func TestMemoryCacheDeletePattern(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := NewMemory()
	_ = c.Set(ctx, EligibilityKey("c1", "d1"), true, 0)
	_ = c.Set(ctx, EligibilityKey("c1", "d2"), true, 0)
	_ = c.Set(ctx, EligibilityKey("c2", "d1"), true, 0)
	_ = c.Set(ctx, FundingKey("c1"), 1, 0)

	if err := c.DeletePattern(ctx, EligibilityPattern("c1")); err != nil {
		t.Fatalf("delete pattern: %v", err)
	}
	if c.Len() != 2 {
		t.Fatalf("expected 2 keys left, got %d", c.Len())
	}
	var v bool
	if found, _ := c.Get(ctx, EligibilityKey("c2", "d1"), &v); !found {
		t.Fatalf("other campaign evicted")
	}
}

func TestMemoryLocker(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewMemoryLocker()
	l.now = func() time.Time { return now }

	release, err := l.Acquire(ctx, "sweep", time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := l.Acquire(ctx, "sweep", time.Minute); !errors.Is(err, ErrLockHeld) {
		t.Fatalf("expected ErrLockHeld, got %v", err)
	}
	if _, err := l.Acquire(ctx, "other", time.Minute); err != nil {
		t.Fatalf("independent lock: %v", err)
	}

	// an expired lease can be taken over and the stale release leaves it alone
	now = now.Add(2 * time.Minute)
	release2, err := l.Acquire(ctx, "sweep", time.Minute)
	if err != nil {
		t.Fatalf("takeover: %v", err)
	}
	release()
	if _, err := l.Acquire(ctx, "sweep", time.Minute); !errors.Is(err, ErrLockHeld) {
		t.Fatalf("stale release dropped the new lease")
	}
	release2()
	if _, err := l.Acquire(ctx, "sweep", time.Minute); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}
