// Package ring provides the bounded single-producer/single-consumer queues
// that connect the transport to each session worker. A queue is a fixed-
// capacity FIFO built on a buffered channel, which gives the worker a native
// blocking receive (select with timeout and termination) while keeping both
// producer-side pushes non-blocking.
package ring

// Queue is a bounded SPSC FIFO. Exactly one goroutine may push and exactly
// one may pop; under that discipline both overflow policies below are exact.
type Queue[T any] struct {
	ch chan T
}

// New creates a queue with the given fixed capacity. Capacity must be ≥ 1.
func New[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{ch: make(chan T, capacity)}
}

// TryPush appends v and reports success; it never blocks. False means the
// queue is at capacity.
func (q *Queue[T]) TryPush(v T) bool {
	select {
	case q.ch <- v:
		return true
	default:
		return false
	}
}

// PushDropOldest appends v, evicting the oldest queued element if the queue
// is full. Returns the number of elements dropped (0 or, in the worst case
// under concurrent consumption, 1). Preserving the newest element keeps the
// stream fresh, which matters more than completeness for live audio.
func (q *Queue[T]) PushDropOldest(v T) (dropped int) {
	for {
		select {
		case q.ch <- v:
			return dropped
		default:
		}
		select {
		case <-q.ch:
			dropped++
		default:
		}
	}
}

// TryPop removes and returns the oldest element; ok is false when empty.
func (q *Queue[T]) TryPop() (v T, ok bool) {
	select {
	case v = <-q.ch:
		return v, true
	default:
		return v, false
	}
}

// C exposes the receive side for use in the consumer's select loop.
func (q *Queue[T]) C() <-chan T { return q.ch }

// Len returns the number of queued elements at the instant of the call.
func (q *Queue[T]) Len() int { return len(q.ch) }

// Cap returns the fixed capacity.
func (q *Queue[T]) Cap() int { return cap(q.ch) }

// Drain discards all queued elements and returns how many were removed.
func (q *Queue[T]) Drain() int {
	n := 0
	for {
		select {
		case <-q.ch:
			n++
		default:
			return n
		}
	}
}
