package matrix

import (
	"context"
	"errors"
	"sort"

	"golang.org/x/sync/errgroup"
)

// Drain pulls every trial of seq and runs fn on it, with at most
// seq.Concurrency() calls in flight. The first error cancels the rest.
func Drain(ctx context.Context, seq Sequence, fn func(ctx context.Context, t *Trial) error) error {
	g, gctx := errgroup.WithContext(ctx)
	limit := seq.Concurrency()
	if limit < 1 {
		limit = 1
	}
	g.SetLimit(limit)

	for {
		trial, err := seq.Next(gctx)
		if errors.Is(err, ErrDone) {
			break
		}
		if err != nil {
			// A failed fn cancels gctx; report that failure, not the
			// cancellation it caused.
			if werr := g.Wait(); werr != nil {
				return werr
			}
			if ctx.Err() != nil {
				return cancelled(ctx.Err())
			}
			return err
		}
		g.Go(func() error { return fn(gctx, trial) })
	}
	return g.Wait()
}

// Collect drains a finite sequence and returns its trials in index order.
func Collect(ctx context.Context, seq Sequence) ([]*Trial, error) {
	var out []*Trial
	results := make(chan *Trial, seq.Concurrency())
	done := make(chan struct{})
	go func() {
		for t := range results {
			out = append(out, t)
		}
		close(done)
	}()
	err := Drain(ctx, seq, func(_ context.Context, t *Trial) error {
		results <- t
		return nil
	})
	close(results)
	<-done
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
