// Package dispatcher fans queued tasks out to a fixed pool of workers.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/evidence-ingest/internal/queue/memory"
	"github.com/JakeFAU/evidence-ingest/internal/worker"
)

// DefaultPoolSize is the number of concurrent workers.
const DefaultPoolSize = 3

// Dispatcher runs a set of workers over a shared queue.
type Dispatcher[T any] struct {
	queue   *memory.Queue[T]
	workers []*worker.Worker[T]
}

// New creates a Dispatcher.
func New[T any](queue *memory.Queue[T], workers []*worker.Worker[T]) *Dispatcher[T] {
	return &Dispatcher[T]{queue: queue, workers: workers}
}

// Run starts all workers and blocks until every one of them has returned,
// which happens once the queue is closed and drained or ctx ends.
func (d *Dispatcher[T]) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker[T]) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	wg.Wait()
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher[T]) Enqueue(ctx context.Context, item T) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Drain processes items on a pool of size workers and returns when all are
// handled. Handler panics are recovered per item and passed to onPanic.
func Drain[T any](
	ctx context.Context,
	items []T,
	size int,
	handle worker.Handler[T],
	onPanic worker.PanicHandler[T],
	logger *zap.Logger,
) error {
	if size <= 0 {
		size = DefaultPoolSize
	}
	if size > len(items) && len(items) > 0 {
		size = len(items)
	}
	q := memory.NewQueue[T](len(items))
	workers := make([]*worker.Worker[T], size)
	for i := range workers {
		workers[i] = worker.New(i+1, q, handle, onPanic, logger)
	}
	d := New(q, workers)
	for _, item := range items {
		if err := d.Enqueue(ctx, item); err != nil {
			q.Close()
			return err
		}
	}
	q.Close()
	d.Run(ctx)
	return nil
}
