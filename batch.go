package json2ubl

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// runOrdered calls fn for every input on up to workers goroutines and
// returns the results in input order. fn reports per-item failures in
// its result; an error from fn stops scheduling of the remaining items.
func runOrdered[T, R any](ctx context.Context, workers int, inputs []T, fn func(context.Context, int, T) (R, error)) ([]R, error) {
	if workers <= 0 {
		workers = DefaultWorkers()
	}

	results := make([]R, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, in := range inputs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r, err := fn(gctx, i, in)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, ctx.Err()
}
