// Package queue provides a bounded, non-blocking in-memory queue.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/okian/pulse/pkg/metrics"
)

const defaultQueueCapacity = 1024

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue[T any] interface {
	// Enqueue adds v to the queue. It never blocks; ErrFull or ErrClosed is
	// returned when v was not accepted.
	Enqueue(ctx context.Context, v T) error

	// Dequeue returns a channel that receives items as they become available.
	// The channel is closed once the queue is closed and drained.
	Dequeue(ctx context.Context) <-chan T

	// Len returns the current number of queued items.
	Len() int

	// Close stops accepting items. Already queued items are still delivered.
	Close() error
}

type envelope[T any] struct {
	value      T
	enqueuedAt time.Time
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue[T any] struct {
	name   string
	items  chan envelope[T]
	mu     sync.RWMutex
	closed bool
}

// NewInMemoryQueue creates a new in-memory queue.
func NewInMemoryQueue[T any](opts ...Option) *InMemoryQueue[T] {
	s := settings{name: "default", capacity: defaultQueueCapacity}
	for _, opt := range opts {
		opt(&s)
	}
	q := &InMemoryQueue[T]{
		name:  s.name,
		items: make(chan envelope[T], s.capacity),
	}
	metrics.UpdateQueueSize(q.name, 0)
	return q
}

// Enqueue adds v to the queue.
func (q *InMemoryQueue[T]) Enqueue(ctx context.Context, v T) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueEnqueueError(q.name, "closed")
		return ErrClosed
	}

	select {
	case q.items <- envelope[T]{value: v, enqueuedAt: time.Now()}:
		metrics.UpdateQueueSize(q.name, len(q.items))
		return nil
	case <-ctx.Done():
		metrics.RecordQueueEnqueueError(q.name, "context_cancelled")
		return ctx.Err()
	default:
		metrics.RecordQueueEnqueueError(q.name, "full")
		return ErrFull
	}
}

// Dequeue returns a channel that receives queued items in order.
func (q *InMemoryQueue[T]) Dequeue(ctx context.Context) <-chan T {
	out := make(chan T)
	go func() {
		defer close(out)
		for {
			var env envelope[T]
			var ok bool
			select {
			case env, ok = <-q.items:
				if !ok {
					return
				}
			case <-ctx.Done():
				return
			}
			select {
			case out <- env.value:
				metrics.RecordQueueWait(float64(time.Since(env.enqueuedAt).Microseconds()) / 1000)
				metrics.UpdateQueueSize(q.name, len(q.items))
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Len returns the current number of queued items.
func (q *InMemoryQueue[T]) Len() int {
	return len(q.items)
}

// Close stops accepting new items.
func (q *InMemoryQueue[T]) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	close(q.items)
	q.closed = true
	return nil
}

// IsClosed reports whether Close was called.
func (q *InMemoryQueue[T]) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
