// Package workerpool bounds the number of concurrent warehouse queries. A single
// pool is created per run and shared by catalog assembly and graph execution.
package workerpool

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Config configures the worker pool.
type Config struct {
	MaxConcurrent int // Maximum concurrent tasks (default: 8)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent: 8,
	}
}

// WorkerPool hands out a fixed number of slots. Everything that talks to a
// warehouse holds a slot for the duration of the call.
type WorkerPool struct {
	config Config
	sem    chan struct{}
	logger *zap.Logger
}

// New creates a worker pool.
func New(config Config, logger *zap.Logger) *WorkerPool {
	if config.MaxConcurrent < 1 {
		config.MaxConcurrent = DefaultConfig().MaxConcurrent
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkerPool{
		config: config,
		sem:    make(chan struct{}, config.MaxConcurrent),
		logger: logger.Named("worker-pool"),
	}
}

// Size returns the number of slots.
func (p *WorkerPool) Size() int {
	return p.config.MaxConcurrent
}

// Acquire blocks until a slot is free or ctx is done.
func (p *WorkerPool) Acquire(ctx context.Context) error {
	select {
	case p.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a slot taken by Acquire.
func (p *WorkerPool) Release() {
	<-p.sem
}

// Go runs fn on its own goroutine once a slot is available and calls done with the
// outcome. If ctx ends before a slot frees up, fn is not run and done receives the
// context error.
func (p *WorkerPool) Go(ctx context.Context, fn func(ctx context.Context) error, done func(err error)) {
	go func() {
		if err := p.Acquire(ctx); err != nil {
			done(err)
			return
		}
		err := fn(ctx)
		p.Release()
		done(err)
	}()
}

// WorkItem represents a unit of work to be processed.
type WorkItem[T any] struct {
	ID      string                               // For logging/tracking
	Execute func(ctx context.Context) (T, error) // The work to be executed
}

// WorkResult represents the result of a work item.
type WorkResult[T any] struct {
	ID     string
	Result T
	Err    error
}

// Process executes all work items with the pool's parallelism.
// Returns results in completion order (not submission order).
// Continues processing all items even if some fail.
func Process[T any](
	ctx context.Context,
	pool *WorkerPool,
	items []WorkItem[T],
	onProgress func(completed, total int),
) []WorkResult[T] {
	if len(items) == 0 {
		return nil
	}

	results := make([]WorkResult[T], 0, len(items))
	resultsChan := make(chan WorkResult[T], len(items))

	var wg sync.WaitGroup
	for _, item := range items {
		wg.Add(1)
		go func(item WorkItem[T]) {
			defer wg.Done()

			if err := pool.Acquire(ctx); err != nil {
				var zero T
				resultsChan <- WorkResult[T]{ID: item.ID, Result: zero, Err: err}
				return
			}
			defer pool.Release()

			result, err := item.Execute(ctx)
			if err != nil {
				pool.logger.Debug("Work item failed", zap.String("id", item.ID), zap.Error(err))
			}
			resultsChan <- WorkResult[T]{ID: item.ID, Result: result, Err: err}
		}(item)
	}

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	completed := 0
	for result := range resultsChan {
		results = append(results, result)
		completed++
		if onProgress != nil {
			onProgress(completed, len(items))
		}
	}

	return results
}
