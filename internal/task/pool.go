package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"
)

// BlockingPool runs non-cooperative work on a bounded set of helper
// goroutines so it cannot stall the executor's worker loops. The
// calling worker suspends in Run until the work finishes or its
// context is cancelled; the work itself is never abandoned mid-flight,
// which is why Drain waits rather than interrupts.
type BlockingPool struct {
	sem    *semaphore.Weighted
	size   int
	wg     sync.WaitGroup
	logger *slog.Logger
}

type outcome struct {
	value any
	err   error
}

// NewBlockingPool creates a pool bounded to size concurrent jobs.
func NewBlockingPool(size int, logger *slog.Logger) *BlockingPool {
	if size <= 0 {
		logger.Warn("invalid blocking pool size, using default",
			"specified_size", size,
			"default_size", 1)
		size = 1
	}
	return &BlockingPool{
		sem:    semaphore.NewWeighted(int64(size)),
		size:   size,
		logger: logger.With("component", "blocking_pool"),
	}
}

// Size returns the pool's concurrency bound.
func (p *BlockingPool) Size() int { return p.size }

// Run executes the work on a pool goroutine and blocks the caller
// until it finishes. If ctx is cancelled while waiting, Run returns
// the context error immediately; the work keeps running to completion
// in the background and is accounted for by Drain.
func (p *BlockingPool) Run(ctx context.Context, work Invocable) (any, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire blocking pool slot: %w", err)
	}

	done := make(chan outcome, 1)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("blocking work panicked", "panic", r)
				done <- outcome{err: fmt.Errorf("blocking work panicked: %v", r)}
			}
		}()
		v, err := work.Invoke(ctx)
		done <- outcome{value: v, err: err}
	}()

	select {
	case out := <-done:
		return out.value, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Drain blocks until every in-flight job has finished. Called during
// executor shutdown so partially-started blocking work is not
// corrupted.
func (p *BlockingPool) Drain() {
	p.wg.Wait()
}
