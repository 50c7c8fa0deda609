package parallel

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Map calls mapFunc for every element of in, running at most limit calls at
// once, and returns the results in the order of in. A limit below one means
// no limit.
//
// Elements not yet started when ctx is done are skipped and keep the zero
// value of D; Map then returns ctx.Err().
func Map[E, D any](ctx context.Context, limit int, in []E, mapFunc func(context.Context, E) D) ([]D, error) {
	out := make([]D, len(in))
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, e := range in {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = mapFunc(gctx, e)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}
	return out, ctx.Err()
}
