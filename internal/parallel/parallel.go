// Package parallel provides the bounded, order-preserving map primitive
// underlying every fan-out operation.
package parallel

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Map applies fn to every item with at most maxWorkers running concurrently
// and returns the results in input order, regardless of completion order.
//
// maxWorkers <= 0 means one worker per item. An empty input returns an empty
// slice without invoking fn.
//
// Map is fail-fast: the first error from fn propagates and outstanding work
// is abandoned via context cancellation. It therefore gives no fault
// isolation on its own; callers wanting per-item fault capture wrap fn to
// convert failures into result values.
func Map[T, R any](ctx context.Context, items []T, fn func(context.Context, T) (R, error), maxWorkers int) ([]R, error) {
	if len(items) == 0 {
		return []R{}, nil
	}

	if maxWorkers <= 0 || maxWorkers > len(items) {
		maxWorkers = len(items)
	}

	results := make([]R, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxWorkers)

	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			r, err := fn(gctx, item)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
