// Package fanout provides an unbounded FIFO queue and a multi-subscriber hub
// built on it. Publishers never block on slow consumers.
package fanout

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Pop when the queue is closed and drained.
var ErrClosed = errors.New("fanout: closed")

// Queue is a thread-safe unbounded FIFO.
//
// The queue uses a buffered (size 1) channel for signaling so consumers can
// wait with select alongside a context.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	signal chan struct{}
}

// NewQueue creates an empty queue.
func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{
		items:  make([]T, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Push appends v. Returns false if the queue is closed.
func (q *Queue[T]) Push(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.items = append(q.items, v)

	// Non-blocking: the buffer of 1 coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryPop removes and returns the front item without blocking.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	v := q.items[0]
	// Clear the slot so the backing array does not pin v.
	q.items[0] = zero
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return v, true
}

// Pop blocks until an item is available, the queue is closed and drained
// (ErrClosed), or ctx is done.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	var zero T
	for {
		if v, ok := q.TryPop(); ok {
			return v, nil
		}
		if q.isDrained() {
			return zero, ErrClosed
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-q.signal:
		}
	}
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops accepting items and wakes all waiters.
// Items already queued can still be popped.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

func (q *Queue[T]) isDrained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.items) == 0
}
