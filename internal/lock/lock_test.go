package lock

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLocalLockerExclusiveUntilReleased(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	release, err := l.Obtain(ctx, "sale:1", time.Minute)
	if err != nil {
		t.Fatalf("first obtain: %v", err)
	}
	if _, err := l.Obtain(ctx, "sale:1", time.Minute); !errors.Is(err, ErrNotObtained) {
		t.Fatalf("expected ErrNotObtained, got %v", err)
	}
	if _, err := l.Obtain(ctx, "sale:2", time.Minute); err != nil {
		t.Fatalf("other key should be free: %v", err)
	}

	if err := release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := l.Obtain(ctx, "sale:1", time.Minute); err != nil {
		t.Fatalf("obtain after release: %v", err)
	}
}

func TestLocalLockerExpiry(t *testing.T) {
	l := NewLocalLocker()
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	l.nowFn = func() time.Time { return now }
	ctx := context.Background()

	stale, err := l.Obtain(ctx, "sale:9", time.Second)
	if err != nil {
		t.Fatalf("obtain: %v", err)
	}
	now = now.Add(2 * time.Second)
	if _, err := l.Obtain(ctx, "sale:9", time.Second); err != nil {
		t.Fatalf("expired lock should be reclaimable: %v", err)
	}
	// releasing the stale handle must not drop the new holder
	_ = stale(ctx)
	if _, err := l.Obtain(ctx, "sale:9", time.Second); !errors.Is(err, ErrNotObtained) {
		t.Fatalf("expected new holder to keep the lock, got %v", err)
	}
}
