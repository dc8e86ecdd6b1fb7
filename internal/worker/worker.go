// Package worker implements the queue consumption loop run by each pool slot.
package worker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/evidence-ingest/internal/queue/memory"
)

// Source yields queued items.
type Source[T any] interface {
	Dequeue(ctx context.Context) (T, error)
}

// Handler processes one item.
type Handler[T any] func(ctx context.Context, item T)

// PanicHandler receives the value recovered from a handler panic.
type PanicHandler[T any] func(item T, recovered any)

// Worker consumes items one at a time until the queue closes or the context
// ends.
type Worker[T any] struct {
	id      int
	queue   Source[T]
	handle  Handler[T]
	onPanic PanicHandler[T]
	logger  *zap.Logger
}

// New constructs a Worker. onPanic may be nil.
func New[T any](id int, queue Source[T], handle Handler[T], onPanic PanicHandler[T], logger *zap.Logger) *Worker[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker[T]{
		id:      id,
		queue:   queue,
		handle:  handle,
		onPanic: onPanic,
		logger:  logger.With(zap.Int("worker", id)),
	}
}

// Run blocks, consuming items until the queue is closed and drained or the
// context finishes.
func (w *Worker[T]) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, memory.ErrClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.process(ctx, item)
	}
}

func (w *Worker[T]) process(ctx context.Context, item T) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("worker recovered from panic", zap.String("panic", fmt.Sprint(r)))
			if w.onPanic != nil {
				w.onPanic(item, r)
			}
		}
	}()
	w.handle(ctx, item)
}
