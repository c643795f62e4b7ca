package snapshot

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// RunAll runs every worker concurrently via errgroup.Group and waits for
// all of them to finish. It returns the first error from any worker; the
// others are still allowed to run to completion or cancellation via ctx.
func RunAll(ctx context.Context, workers []*Worker) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range workers {
		w := w
		g.Go(func() error {
			return w.Run(gctx)
		})
	}
	return g.Wait()
}
