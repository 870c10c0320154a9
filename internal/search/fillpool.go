package search

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// FillPool is the bounded worker pool behind async cache repopulation.
// Enqueue never blocks: when the queue is full the task is dropped and the
// next cache miss repopulates instead.
type FillPool struct {
	tasks   chan func(context.Context)
	workers int
	logger  *zap.Logger
}

// NewFillPool sizes the pool. workers and queue must be positive.
func NewFillPool(workers, queue int, logger *zap.Logger) *FillPool {
	return &FillPool{
		tasks:   make(chan func(context.Context), queue),
		workers: workers,
		logger:  logger.Named("fillpool"),
	}
}

// Enqueue offers a task to the pool, reporting whether it was accepted.
func (p *FillPool) Enqueue(task func(context.Context)) bool {
	select {
	case p.tasks <- task:
		return true
	default:
		return false
	}
}

// Run executes tasks until the context is cancelled. It blocks; callers run
// it on its own goroutine.
func (p *FillPool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case task := <-p.tasks:
					p.execute(ctx, task)
				}
			}
		})
	}
	return g.Wait()
}

func (p *FillPool) execute(ctx context.Context, task func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("fill task panicked", zap.Any("panic", r))
		}
	}()
	task(ctx)
}
