// Package workpool provides the process-wide throttle for heavy page work.
package workpool

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const defaultSize = 3

// Pool bounds the number of concurrently running rasterize, classify and
// extract calls across every job sharing it.
type Pool struct {
	sem  *semaphore.Weighted
	size int
}

// New creates a pool with the given number of slots.
func New(size int) *Pool {
	if size <= 0 {
		size = defaultSize
	}
	return &Pool{
		sem:  semaphore.NewWeighted(int64(size)),
		size: size,
	}
}

// Size returns the number of slots.
func (p *Pool) Size() int {
	return p.size
}

// Do runs fn while holding one slot. It returns ctx.Err() if the slot could
// not be acquired before ctx was done.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)

	return fn(ctx)
}

// ForEach calls fn for every index in [0, n), at most Size() at a time, each
// call holding a pool slot. The first non-nil error cancels the remaining
// calls and is returned.
func (p *Pool) ForEach(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	if n == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(min(n, p.size))

	for i := 0; i < n; i++ {
		g.Go(func() error {
			return p.Do(gctx, func(ctx context.Context) error {
				return fn(ctx, i)
			})
		})
	}

	return g.Wait()
}
