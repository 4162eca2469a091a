// Package workpool runs index-addressed tasks on a fixed number of workers.
package workpool

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Run calls fn for every index in [0, n) using at most width concurrent
// workers pulling from a shared cursor. Per-item failures are the caller's
// concern; a non-nil error from fn stops new work and is returned.
func Run(ctx context.Context, n, width int, fn func(ctx context.Context, i int) error) error {
	if n <= 0 {
		return nil
	}
	if width <= 0 {
		width = 1
	}
	if width > n {
		width = n
	}

	var cursor atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < width; w++ {
		g.Go(func() error {
			for {
				i := int(cursor.Add(1) - 1)
				if i >= n {
					return nil
				}
				if err := gctx.Err(); err != nil {
					return err
				}
				if err := fn(gctx, i); err != nil {
					return err
				}
			}
		})
	}
	return g.Wait()
}

// Map applies fn to every item with bounded concurrency and returns results
// in input order.
func Map[T, R any](ctx context.Context, items []T, width int, fn func(ctx context.Context, item T) (R, error)) ([]R, error) {
	out := make([]R, len(items))
	err := Run(ctx, len(items), width, func(ctx context.Context, i int) error {
		r, err := fn(ctx, items[i])
		if err != nil {
			return err
		}
		out[i] = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
