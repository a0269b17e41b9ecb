// Package batch runs work items in fixed-size concurrent batches.
package batch

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/spigell/talent-sourcer/internal/utils"
)

// Options control a batched run. Size below 1 runs items one at a time.
type Options struct {
	Size  int
	Delay time.Duration

	// Continue is checked before every batch with the number of items already
	// attempted. Returning false stops the run and leaves the rest unattempted.
	Continue func(done int) bool
	// Report is called after every batch.
	Report func(Report)

	wait func(context.Context, time.Duration) error
}

// WithWait replaces the pause between batches. Nil keeps the default timer.
func (o Options) WithWait(wait func(context.Context, time.Duration) error) Options {
	o.wait = wait
	return o
}

type Report struct {
	Batch     int
	Total     int
	Done      int
	Succeeded int
	Failed    int
}

// Summary describes a finished run. Results are in input order; entries past
// Attempted are zero values.
type Summary[R any] struct {
	Results   []R
	Attempted int
	Batches   int
	Stopped   bool
}

// Batches returns how many batches n items take with the given size.
func Batches(n, size int) int {
	if size < 1 {
		size = 1
	}
	if n <= 0 {
		return 0
	}
	return (n + size - 1) / size
}

// Run calls fn for every item. All calls of a batch are in flight together and
// the next batch starts only after every call of the current one returned.
// fn reports success through its bool; a failed item never aborts the run.
func Run[T, R any](ctx context.Context, items []T, opts Options, fn func(context.Context, T) (R, bool)) Summary[R] {
	size := opts.Size
	if size < 1 {
		size = 1
	}
	wait := opts.wait
	if wait == nil {
		wait = utils.WaitFor
	}

	total := Batches(len(items), size)
	summary := Summary[R]{Results: make([]R, len(items))}
	ok := make([]bool, len(items))
	succeeded, failed := 0, 0

	for b := 0; b < total; b++ {
		start := b * size
		end := min(start+size, len(items))

		if ctx.Err() != nil || (opts.Continue != nil && !opts.Continue(start)) {
			summary.Stopped = true
			break
		}
		if b > 0 && opts.Delay > 0 {
			if err := wait(ctx, opts.Delay); err != nil {
				summary.Stopped = true
				break
			}
		}

		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				summary.Results[i], ok[i] = fn(ctx, items[i])
				return nil
			})
		}
		_ = g.Wait()

		for i := start; i < end; i++ {
			if ok[i] {
				succeeded++
			} else {
				failed++
			}
		}
		summary.Attempted = end
		summary.Batches = b + 1

		if opts.Report != nil {
			opts.Report(Report{
				Batch:     b + 1,
				Total:     total,
				Done:      end,
				Succeeded: succeeded,
				Failed:    failed,
			})
		}
	}

	return summary
}
