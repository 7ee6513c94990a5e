package llm

import (
	"testing"
	"time"
)

func newTestBreaker(threshold int, cooldown time.Duration) (*CircuitBreaker, *time.Time) {
	cb := NewCircuitBreaker(threshold, cooldown)
	now := time.Now()
	cb.now = func() time.Time { return now }
	return cb, &now
}

func TestCircuitBreakerOpensAtThreshold(t *testing.T) {
	cb, _ := newTestBreaker(3, 30*time.Second)

	for i := 0; i < 2; i++ {
		cb.RecordFailure()
	}
	if cb.State() != CircuitClosed {
		t.Fatalf("expected closed below threshold, got %s", cb.State())
	}

	cb.RecordFailure()
	if cb.State() != CircuitOpen {
		t.Fatalf("expected open at threshold, got %s", cb.State())
	}
	if cb.Allow() {
		t.Fatal("open circuit must reject calls")
	}
}

func TestCircuitBreakerSuccessResetsCount(t *testing.T) {
	cb, _ := newTestBreaker(3, 30*time.Second)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()

	if cb.State() != CircuitClosed {
		t.Fatalf("failure count should reset on success, got %s", cb.State())
	}
}

func TestCircuitBreakerHalfOpenSingleProbe(t *testing.T) {
	cb, now := newTestBreaker(1, 30*time.Second)

	cb.RecordFailure()
	if cb.State() != CircuitOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}

	*now = now.Add(31 * time.Second)

	if !cb.Allow() {
		t.Fatal("cooldown elapsed, probe should be allowed")
	}
	if cb.State() != CircuitHalfOpen {
		t.Fatalf("expected half_open, got %s", cb.State())
	}
	if cb.Allow() {
		t.Fatal("only one probe may be in flight at a time")
	}

	cb.RecordSuccess()
	if cb.State() != CircuitClosed {
		t.Fatalf("successful probe should close circuit, got %s", cb.State())
	}
	if !cb.Allow() {
		t.Fatal("closed circuit must allow calls")
	}
}

func TestCircuitBreakerFailedProbeReopens(t *testing.T) {
	cb, now := newTestBreaker(1, 30*time.Second)

	cb.RecordFailure()
	*now = now.Add(31 * time.Second)

	if !cb.Allow() {
		t.Fatal("probe should be allowed after cooldown")
	}
	cb.RecordFailure()

	if cb.State() != CircuitOpen {
		t.Fatalf("failed probe should re-open circuit, got %s", cb.State())
	}
	if cb.Allow() {
		t.Fatal("re-opened circuit must reject until next cooldown")
	}

	// The cooldown restarts from the failed probe, not the original trip.
	*now = now.Add(31 * time.Second)
	if !cb.Allow() {
		t.Fatal("second probe should be allowed after fresh cooldown")
	}
}

func TestCircuitBreakerReset(t *testing.T) {
	cb, _ := newTestBreaker(1, 30*time.Second)

	cb.RecordFailure()
	cb.Reset()

	if cb.State() != CircuitClosed {
		t.Fatalf("reset should close circuit, got %s", cb.State())
	}
	if !cb.Allow() {
		t.Fatal("reset circuit must allow calls")
	}
}
