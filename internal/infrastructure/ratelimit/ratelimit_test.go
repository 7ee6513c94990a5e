package ratelimit

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestLimiter(rpm, burst int) (*Limiter, *time.Time) {
	l := NewLimiter(rpm, burst, zap.NewNop())
	now := time.Now()
	l.now = func() time.Time { return now }
	return l, &now
}

func TestLimiterBurstThenReject(t *testing.T) {
	l, _ := newTestLimiter(60, 3)

	for i := 0; i < 3; i++ {
		ok, _, _ := l.Allow("client-a")
		if !ok {
			t.Fatalf("request %d within burst should pass", i+1)
		}
	}

	ok, retryAfter, remaining := l.Allow("client-a")
	if ok {
		t.Fatal("request past burst should be rejected")
	}
	if retryAfter < 1 {
		t.Errorf("retry-after = %d, want >= 1", retryAfter)
	}
	if remaining != 0 {
		t.Errorf("remaining = %d, want 0", remaining)
	}
}

func TestLimiterRefill(t *testing.T) {
	l, now := newTestLimiter(60, 2) // 1 token per second

	l.Allow("client-a")
	l.Allow("client-a")
	if ok, _, _ := l.Allow("client-a"); ok {
		t.Fatal("bucket should be empty")
	}

	*now = now.Add(2 * time.Second)

	if ok, _, _ := l.Allow("client-a"); !ok {
		t.Fatal("token should have refilled after 2s")
	}
}

func TestLimiterRefillCapsAtBurst(t *testing.T) {
	l, now := newTestLimiter(60, 2)

	*now = now.Add(time.Hour)

	for i := 0; i < 2; i++ {
		if ok, _, _ := l.Allow("client-a"); !ok {
			t.Fatalf("request %d should pass, refill caps at burst", i+1)
		}
	}
	if ok, _, _ := l.Allow("client-a"); ok {
		t.Fatal("third request should be rejected")
	}
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(60, 1)

	if ok, _, _ := l.Allow("client-a"); !ok {
		t.Fatal("first request for a should pass")
	}
	if ok, _, _ := l.Allow("client-b"); !ok {
		t.Fatal("b has its own bucket, should pass")
	}
	if ok, _, _ := l.Allow("client-a"); ok {
		t.Fatal("a exhausted its bucket")
	}
}

func TestLimiterEvict(t *testing.T) {
	l, now := newTestLimiter(60, 10)

	l.Allow("client-a")
	l.Allow("client-b")

	*now = now.Add(20 * time.Minute)
	l.Allow("client-b")

	removed := l.Evict(10 * time.Minute)
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if l.Size() != 1 {
		t.Fatalf("size = %d, want 1", l.Size())
	}
}
