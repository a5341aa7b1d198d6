// Package worker runs handlers over items pulled from a queue.
package worker

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/okian/pulse/pkg/logger"
)

// Source is where a worker receives items from.
type Source[T any] interface {
	Dequeue(ctx context.Context) <-chan T
}

// Handler processes one item.
type Handler[T any] interface {
	Handle(ctx context.Context, v T) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc[T any] func(ctx context.Context, v T) error

// Handle calls f.
func (f HandlerFunc[T]) Handle(ctx context.Context, v T) error { return f(ctx, v) }

// Worker is a single consumer. Items are handled strictly one at a time,
// which makes a Worker usable as an actor that owns mutable state.
type Worker[T any] struct {
	source  Source[T]
	handler Handler[T]
	name    string
	logger  logger.Logger

	stopOnce sync.Once
	shutdown chan struct{}
	done     chan struct{}
}

// New creates a worker reading from source.
func New[T any](source Source[T], handler Handler[T], opts ...Option) *Worker[T] {
	s := settings{name: "worker", logger: logger.GetOrNop()}
	for _, opt := range opts {
		opt(&s)
	}
	return &Worker[T]{
		source:   source,
		handler:  handler,
		name:     s.name,
		logger:   s.logger.Named(s.name),
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run starts the worker loop. It returns when ctx is cancelled, Stop is
// called, or the source is closed and drained.
func (w *Worker[T]) Run(ctx context.Context) {
	defer close(w.done)

	items := w.source.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case v, ok := <-items:
			if !ok {
				return
			}
			if err := w.handler.Handle(ctx, v); err != nil {
				w.logger.Error(ctx, "error handling item", logger.Error(err))
			}
		}
	}
}

// Stop makes Run return without draining the source.
func (w *Worker[T]) Stop() {
	w.stopOnce.Do(func() { close(w.shutdown) })
}

// Done is closed when Run has returned.
func (w *Worker[T]) Done() <-chan struct{} { return w.done }

// Shutdown waits for Run to finish draining. Close the source first. If ctx
// expires the worker is stopped without draining.
func (w *Worker[T]) Shutdown(ctx context.Context) error {
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.Stop()
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// Pool runs several workers over one source.
type Pool[T any] struct {
	workers []*Worker[T]
	logger  logger.Logger
}

// NewPool creates n workers sharing source and handler.
func NewPool[T any](n int, source Source[T], handler Handler[T], opts ...Option) *Pool[T] {
	if n < 1 {
		n = 1
	}
	s := settings{name: "pool", logger: logger.GetOrNop()}
	for _, opt := range opts {
		opt(&s)
	}
	p := &Pool[T]{workers: make([]*Worker[T], n), logger: s.logger.Named(s.name)}
	for i := range p.workers {
		p.workers[i] = New(source, handler, WithLogger(s.logger), WithName(s.name+"-"+strconv.Itoa(i)))
	}
	return p
}

// Start launches every worker.
func (p *Pool[T]) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
}

// Shutdown waits for every worker to drain.
func (p *Pool[T]) Shutdown(ctx context.Context) error {
	for i, w := range p.workers {
		if err := w.Shutdown(ctx); err != nil {
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			for _, rest := range p.workers[i+1:] {
				rest.Stop()
			}
			return err
		}
	}
	return nil
}
