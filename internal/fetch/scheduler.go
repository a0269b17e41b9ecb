package fetch

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/talent-sourcer/internal/batch"
)

const DefaultBatchSize = 5

type SchedulerConfig struct {
	BatchSize int
	Delay     time.Duration
}

// Scheduler fetches references in batches of BatchSize through the Coordinator.
type Scheduler struct {
	coordinator *Coordinator
	logger      *zap.Logger
	size        int
	delay       time.Duration
	wait        func(context.Context, time.Duration) error
}

func NewScheduler(coordinator *Coordinator, cfg SchedulerConfig, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	size := cfg.BatchSize
	if size < 1 {
		size = DefaultBatchSize
	}
	return &Scheduler{
		coordinator: coordinator,
		logger:      logger,
		size:        size,
		delay:       cfg.Delay,
	}
}

func (s *Scheduler) BatchSize() int {
	return s.size
}

// Hooks let the caller observe batches and stop between them.
type Hooks struct {
	Report   func(batch.Report)
	Continue func(done int) bool
}

type Outcome struct {
	Results   []Result
	Batches   int
	Attempted int
	Stopped   bool
}

func (o Outcome) Succeeded() []Result {
	out := make([]Result, 0, len(o.Results))
	for _, r := range o.Results {
		if r.Success {
			out = append(out, r)
		}
	}
	return out
}

// FetchAll returns one result per attempted reference, in input order.
func (s *Scheduler) FetchAll(ctx context.Context, references []string, hooks Hooks) Outcome {
	total := batch.Batches(len(references), s.size)
	s.logger.Info("fetch profiles", zap.Int("references", len(references)), zap.Int("batch_size", s.size), zap.Int("batches", total))

	summary := batch.Run(ctx, references, batch.Options{
		Size:     s.size,
		Delay:    s.delay,
		Continue: hooks.Continue,
		Report: func(r batch.Report) {
			s.logger.Info("fetch batch done",
				zap.Int("batch", r.Batch), zap.Int("total", r.Total),
				zap.Int("succeeded", r.Succeeded), zap.Int("failed", r.Failed))
			if hooks.Report != nil {
				hooks.Report(r)
			}
		},
	}.WithWait(s.wait), func(ctx context.Context, ref string) (Result, bool) {
		res := s.coordinator.Fetch(ctx, ref)
		return res, res.Success
	})

	return Outcome{
		Results:   summary.Results[:summary.Attempted],
		Batches:   summary.Batches,
		Attempted: summary.Attempted,
		Stopped:   summary.Stopped,
	}
}
