package resilience_test

import (
	"errors"
	"testing"
	"time"

	"github.com/nullwave/nullwave/internal/resilience"
)

var errBoom = errors.New("boom")

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	b := resilience.NewBreaker(resilience.BreakerConfig{Name: "test", MaxFailures: 3, ResetTimeout: time.Hour})

	for i := 0; i < 3; i++ {
		if err := b.Execute(func() error { return errBoom }); !errors.Is(err, errBoom) {
			t.Fatalf("call %d: err = %v, want errBoom", i, err)
		}
	}
	if got := b.State(); got != resilience.Open {
		t.Fatalf("State = %v, want Open", got)
	}

	called := false
	err := b.Execute(func() error { called = true; return nil })
	if !errors.Is(err, resilience.ErrOpen) {
		t.Fatalf("err = %v, want ErrOpen", err)
	}
	if called {
		t.Fatal("fn was called while breaker open")
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	b := resilience.NewBreaker(resilience.BreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour})

	b.Execute(func() error { return errBoom })
	b.Execute(func() error { return nil })
	b.Execute(func() error { return errBoom })

	if got := b.State(); got != resilience.Closed {
		t.Fatalf("State = %v, want Closed (success should reset the streak)", got)
	}
}

func TestBreakerProbeClosesAfterTimeout(t *testing.T) {
	t.Parallel()

	b := resilience.NewBreaker(resilience.BreakerConfig{MaxFailures: 1, ResetTimeout: 10 * time.Millisecond})

	b.Execute(func() error { return errBoom })
	if got := b.State(); got != resilience.Open {
		t.Fatalf("State = %v, want Open", got)
	}

	time.Sleep(20 * time.Millisecond)
	if got := b.State(); got != resilience.HalfOpen {
		t.Fatalf("State = %v, want HalfOpen after reset timeout", got)
	}

	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("probe call: %v", err)
	}
	if got := b.State(); got != resilience.Closed {
		t.Fatalf("State = %v, want Closed after successful probe", got)
	}
}

func TestBreakerProbeFailureReopens(t *testing.T) {
	t.Parallel()

	b := resilience.NewBreaker(resilience.BreakerConfig{MaxFailures: 1, ResetTimeout: 5 * time.Millisecond})

	b.Execute(func() error { return errBoom })
	time.Sleep(10 * time.Millisecond)

	if err := b.Execute(func() error { return errBoom }); !errors.Is(err, errBoom) {
		t.Fatalf("probe err = %v, want errBoom", err)
	}
	// Immediately after the failed probe the breaker is open again.
	if err := b.Execute(func() error { return nil }); !errors.Is(err, resilience.ErrOpen) {
		t.Fatalf("err = %v, want ErrOpen after failed probe", err)
	}
}

func TestBreakerReset(t *testing.T) {
	t.Parallel()

	b := resilience.NewBreaker(resilience.BreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour})
	b.Execute(func() error { return errBoom })
	b.Reset()

	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("Execute after Reset: %v", err)
	}
}
