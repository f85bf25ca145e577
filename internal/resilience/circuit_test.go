package resilience

import (
	"testing"
	"time"
)

func TestBreakerOpensAfterFailureRatio(t *testing.T) {
	b := NewBreaker(4, 0.5, 50*time.Millisecond)

	for i := 0; i < 2; i++ {
		if !b.Allow() {
			t.Fatalf("breaker should be closed on request %d", i)
		}
		b.Report(true)
	}
	for i := 0; i < 2; i++ {
		if !b.Allow() {
			t.Fatalf("breaker should still be closed on failure %d", i)
		}
		b.Report(false)
	}

	if b.Allow() {
		t.Fatal("breaker should be open after hitting the failure ratio")
	}
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	b := NewBreaker(1, 0.5, 10*time.Millisecond)
	b.Report(false)
	if b.Allow() {
		t.Fatal("breaker should be open immediately after tripping")
	}

	time.Sleep(15 * time.Millisecond)
	if !b.Allow() {
		t.Fatal("breaker should allow a probe after the cool-off")
	}
	b.Report(true)
	if !b.Allow() {
		t.Fatal("breaker should be closed after a successful probe")
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker(1, 0.5, 10*time.Millisecond)
	b.Report(false)
	time.Sleep(15 * time.Millisecond)
	if !b.Allow() {
		t.Fatal("expected probe to be allowed")
	}
	b.Report(false)
	if b.Allow() {
		t.Fatal("breaker should re-open after a failed probe")
	}
}

func TestBackoffGrowsExponentially(t *testing.T) {
	base := 200 * time.Millisecond
	if got := Backoff(base, 1, 0); got != base {
		t.Fatalf("attempt 1: got %v, want %v", got, base)
	}
	if got := Backoff(base, 2, 0); got != 2*base {
		t.Fatalf("attempt 2: got %v, want %v", got, 2*base)
	}
	if got := Backoff(base, 3, 0); got != 4*base {
		t.Fatalf("attempt 3: got %v, want %v", got, 4*base)
	}
}

func TestBackoffJitterBounds(t *testing.T) {
	base := 100 * time.Millisecond
	for i := 0; i < 50; i++ {
		d := Backoff(base, 2, 0.2)
		lo := time.Duration(float64(2*base) * 0.8)
		hi := time.Duration(float64(2*base) * 1.2)
		if d < lo || d > hi {
			t.Fatalf("jittered backoff %v outside [%v, %v]", d, lo, hi)
		}
	}
}
