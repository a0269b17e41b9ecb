// Package filtering narrows the reference list before anything is fetched.
package filtering

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Filter is a single step applied to the reference list.
type Filter interface {
	Name() string
	IsEnabled() bool
	Apply(ctx context.Context, refs []string) ([]string, Step, error)
}

// Step describes the result of executing a filtering step.
type Step struct {
	Initial int
	Dropped int
	Left    int
}

type Filtering struct {
	steps  []Filter
	logger *zap.Logger
}

func New(steps []Filter, logger *zap.Logger) *Filtering {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Filtering{steps: steps, logger: logger}
}

// RunFilters executes the enabled steps in order. Order of the surviving
// references is preserved.
func (f *Filtering) RunFilters(ctx context.Context, refs []string) ([]string, error) {
	for _, step := range f.steps {
		if step == nil {
			continue
		}
		if !step.IsEnabled() {
			f.logger.Info("filter disabled", zap.String("name", step.Name()))
			continue
		}

		next, info, err := step.Apply(ctx, refs)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", step.Name(), err)
		}

		f.logger.Info("filter step",
			zap.String("name", step.Name()),
			zap.Int("initial", info.Initial),
			zap.Int("dropped", info.Dropped),
			zap.Int("left", info.Left),
		)

		refs = next
	}

	return refs, nil
}

// keep returns the references for which fn is true and the dropped ones.
func keep(refs []string, fn func(string) bool) ([]string, []string) {
	kept := make([]string, 0, len(refs))
	var dropped []string
	for _, ref := range refs {
		if fn(ref) {
			kept = append(kept, ref)
			continue
		}
		dropped = append(dropped, ref)
	}
	return kept, dropped
}
