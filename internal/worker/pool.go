// Package worker provides the bounded concurrency pool the driver uses to
// fan out source fetches and archive unpacking. Resolution and planning
// are pure computation and never go through this pool, and the final ninja
// subprocess is run directly rather than through it.
package worker

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// DefaultParallelism mirrors the spec: host CPU count, floored at 4.
func DefaultParallelism() int {
	if n := runtime.NumCPU(); n > 4 {
		return n
	}
	return 4
}

// Pool bounds the number of concurrent in-flight tasks.
type Pool struct {
	sem *semaphore.Weighted
}

// New returns a Pool that admits at most n concurrent tasks.
func New(n int) *Pool {
	if n <= 0 {
		n = DefaultParallelism()
	}
	return &Pool{sem: semaphore.NewWeighted(int64(n))}
}

// Run runs tasks concurrently, respecting the pool's concurrency cap. The
// first error cancels ctx for the remaining tasks; Run returns after every
// task it started has completed, with the first error a task returned, or
// with ctx's error if no task failed but ctx was cancelled before every
// task could start.
//
// Run is meant to be called once per batch:
//
//	err := pool.Run(ctx, func(ctx context.Context) error { return a(ctx) },
//	                     func(ctx context.Context) error { return b(ctx) })
func (p *Pool) Run(ctx context.Context, tasks ...func(ctx context.Context) error) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, task := range tasks {
		task := task
		if err := p.sem.Acquire(ctx, 1); err != nil {
			if werr := g.Wait(); werr != nil {
				return werr
			}
			return err
		}
		g.Go(func() error {
			defer p.sem.Release(1)
			return task(ctx)
		})
	}
	return g.Wait()
}
