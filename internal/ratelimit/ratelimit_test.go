package ratelimit

import (
	"strings"
	"testing"
	"time"
)

func TestMemoryLimiterWindow(t *testing.T) {
	now := time.Date(2025, time.May, 1, 9, 0, 0, 0, time.UTC)
	rl := newMemory(func() time.Time { return now })
	defer rl.Close()

	for i := 0; i < 2; i++ {
		if d := rl.Allow("org:acme", 2, time.Minute); !d.Allowed {
			t.Fatalf("hit %d should be allowed", i+1)
		}
	}
	d := rl.Allow("org:acme", 2, time.Minute)
	if d.Allowed {
		t.Fatal("third hit should be rejected")
	}
	if got := d.RetryAfter(now); got != time.Minute {
		t.Fatalf("expected retry after one minute, got %v", got)
	}
	if d.Remaining(2) != 0 {
		t.Fatalf("expected no remaining hits, got %d", d.Remaining(2))
	}
	if !rl.Allow("org:other", 2, time.Minute).Allowed {
		t.Fatal("keys must not share a window")
	}

	now = now.Add(time.Minute + time.Second)
	if !rl.Allow("org:acme", 2, time.Minute).Allowed {
		t.Fatal("expected a fresh window")
	}
}

func TestMemoryLimiterCleanup(t *testing.T) {
	now := time.Now()
	rl := newMemory(func() time.Time { return now })
	defer rl.Close()

	rl.Allow("a", 1, time.Second)
	rl.cleanup(now.Add(2 * time.Second))
	if len(rl.entries) != 0 {
		t.Fatalf("expected expired entries swept, got %d", len(rl.entries))
	}
}

func TestZeroLimitAlwaysAllows(t *testing.T) {
	rl := NewMemory()
	defer rl.Close()
	for i := 0; i < 5; i++ {
		if !rl.Allow("k", 0, time.Second).Allowed {
			t.Fatal("zero limit must disable limiting")
		}
	}
}

func TestRetryAfterFloor(t *testing.T) {
	now := time.Now()
	d := Decision{WindowEnd: now.Add(200 * time.Millisecond)}
	if d.RetryAfter(now) != time.Second {
		t.Fatalf("expected one second floor, got %v", d.RetryAfter(now))
	}
}

func TestWindowKeyAlignsToWindow(t *testing.T) {
	base := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

	k1, end1 := windowKey("publish:acme", base.Add(10*time.Second), time.Minute)
	k2, end2 := windowKey("publish:acme", base.Add(59*time.Second), time.Minute)
	if k1 != k2 || !end1.Equal(end2) {
		t.Fatalf("same window must share a key: %s %s", k1, k2)
	}
	if !end1.Equal(base.Add(time.Minute)) {
		t.Fatalf("unexpected window end %v", end1)
	}

	k3, _ := windowKey("publish:acme", base.Add(time.Minute), time.Minute)
	if k3 == k1 {
		t.Fatal("next window must use a new key")
	}
	other, _ := windowKey("publish:other", base.Add(10*time.Second), time.Minute)
	if other == k1 {
		t.Fatal("keys must be scoped per caller")
	}
	if !strings.HasPrefix(k1, redisKeyPrefix+"publish:acme:") {
		t.Fatalf("unexpected key %q", k1)
	}
}
