package run

import (
	"context"
	"fmt"

	"github.com/sourcegraph/conc/pool"

	"github.com/cwbudde/gomidaco/internal/coord"
	"github.com/cwbudde/gomidaco/internal/problem"
	"github.com/cwbudde/gomidaco/internal/store"
)

// RunLocal runs n lock-step workers as goroutines of this process and
// returns the coordinator's solution. The first failing worker cancels the
// others.
func RunLocal(ctx context.Context, r *Runner, n int, prob *problem.Problem, opts Options) (*store.Solution, error) {
	if n <= 1 {
		opts.Comm = coord.Solo()
		return r.Run(ctx, prob, opts)
	}

	comms := coord.NewLocalGroup(n)
	solutions := make([]*store.Solution, n)

	p := pool.New().WithErrors().WithContext(ctx).WithCancelOnError()
	for rank, comm := range comms {
		p.Go(func(ctx context.Context) error {
			o := opts
			o.Comm = comm
			sol, err := r.Run(ctx, prob, o)
			if err != nil {
				return fmt.Errorf("worker %d: %w", rank, err)
			}
			solutions[rank] = sol
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}
	return solutions[coord.Root], nil
}
