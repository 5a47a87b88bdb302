package ring_test

import (
	"testing"

	"github.com/nullwave/nullwave/internal/ring"
)

func TestFIFOOrder(t *testing.T) {
	t.Parallel()

	q := ring.New[int](4)
	for i := 1; i <= 4; i++ {
		if !q.TryPush(i) {
			t.Fatalf("TryPush(%d) failed below capacity", i)
		}
	}
	for i := 1; i <= 4; i++ {
		v, ok := q.TryPop()
		if !ok {
			t.Fatalf("TryPop %d: queue unexpectedly empty", i)
		}
		if v != i {
			t.Fatalf("TryPop = %d, want %d", v, i)
		}
	}
	if _, ok := q.TryPop(); ok {
		t.Fatal("TryPop succeeded on empty queue")
	}
}

func TestTryPushFull(t *testing.T) {
	t.Parallel()

	q := ring.New[int](2)
	q.TryPush(1)
	q.TryPush(2)
	if q.TryPush(3) {
		t.Fatal("TryPush succeeded at capacity")
	}
	if q.Len() != 2 {
		t.Fatalf("Len = %d, want 2", q.Len())
	}
}

func TestPushDropOldest(t *testing.T) {
	t.Parallel()

	q := ring.New[int](2)
	if d := q.PushDropOldest(1); d != 0 {
		t.Fatalf("dropped %d, want 0", d)
	}
	if d := q.PushDropOldest(2); d != 0 {
		t.Fatalf("dropped %d, want 0", d)
	}
	if d := q.PushDropOldest(3); d != 1 {
		t.Fatalf("dropped %d, want 1", d)
	}

	// Oldest (1) was evicted; 2 and 3 remain in order.
	v, _ := q.TryPop()
	if v != 2 {
		t.Fatalf("first pop = %d, want 2", v)
	}
	v, _ = q.TryPop()
	if v != 3 {
		t.Fatalf("second pop = %d, want 3", v)
	}
}

func TestDrain(t *testing.T) {
	t.Parallel()

	q := ring.New[int](8)
	for i := 0; i < 5; i++ {
		q.TryPush(i)
	}
	if n := q.Drain(); n != 5 {
		t.Fatalf("Drain = %d, want 5", n)
	}
	if q.Len() != 0 {
		t.Fatalf("Len = %d after Drain, want 0", q.Len())
	}
}
