package parallel

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Result of one mapped item.
type Result[D any] struct {
	Value D
	Err   error
}

// Map calls mapFunc for every item, at most limit at a time, and returns
// the results in the order of items. An error of one item does not stop
// the others. Items not started before ctx is done get ctx's error.
//
//	for i, r := range parallel.Map(ctx, 4, ids, fetch) {}
func Map[E, D any](ctx context.Context, limit int, items []E, mapFunc func(context.Context, E) (D, error)) []Result[D] {
	out := make([]Result[D], len(items))
	if limit < 1 {
		limit = 1
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			out[i].Err = err
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				out[i].Err = err
				return nil
			}
			d, err := mapFunc(ctx, item)
			out[i] = Result[D]{Value: d, Err: err}
			return nil
		})
	}
	_ = g.Wait() // goroutines do not return an error
	return out
}
