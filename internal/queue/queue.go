// Package queue provides the FIFO hand-off between submitting goroutines
// and the single worker that executes actions.
package queue

import (
	"errors"
	gosync "sync"
)

// ErrClosed is returned by Push after Close.
var ErrClosed = errors.New("queue closed")

// Queue is a mutex-protected FIFO with a coalescing wakeup. Any number of
// goroutines may Push; exactly one consumer calls PopBlocking.
type Queue[T any] struct {
	mu     gosync.Mutex
	items  []T
	closed bool
	wake   chan struct{}
}

// New returns an empty queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{wake: make(chan struct{}, 1)}
}

// Push appends v. The order in which concurrent pushes acquire the lock is
// the order in which they are popped.
func (q *Queue[T]) Push(v T) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items = append(q.items, v)
	q.mu.Unlock()

	q.signal()
	return nil
}

// signal wakes the consumer. A pending wakeup already covers this push.
func (q *Queue[T]) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// PopBlocking returns the oldest item, blocking while the queue is empty.
// Once stop is closed it keeps returning items until the queue is empty
// and then returns false.
func (q *Queue[T]) PopBlocking(stop <-chan struct{}) (T, bool) {
	for {
		if v, ok := q.tryPop(); ok {
			return v, true
		}

		select {
		case <-q.wake:
		case <-stop:
			// Items pushed before the stop are still drained.
			if v, ok := q.tryPop(); ok {
				return v, true
			}
			var zero T
			return zero, false
		}
	}
}

func (q *Queue[T]) tryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	v := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return v, true
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close rejects further pushes. Items already queued stay poppable.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

// Drain removes and returns every queued item.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}
