package sourcing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/talent-sourcer/internal/models"
	"github.com/spigell/talent-sourcer/internal/store"
)

var (
	ErrQueueFull     = errors.New("sourcing queue is full")
	ErrNotRunning    = errors.New("run is not active")
	ErrExecutorState = errors.New("executor is not running")
)

const (
	DefaultWorkers   = 2
	DefaultQueueSize = 32
)

type runner interface {
	Execute(ctx context.Context, run *models.Run) error
}

type ExecutorConfig struct {
	Workers   int
	QueueSize int
}

type queued struct {
	ctx context.Context
	run *models.Run
}

// Executor accepts runs, persists them as queued and hands them to a fixed
// set of workers. Submit never waits for a run to execute.
type Executor struct {
	pipeline runner
	runs     store.RunStore
	logger   *zap.Logger
	workers  int
	now      func() time.Time

	queue chan queued
	wg    sync.WaitGroup

	mu      sync.Mutex
	base    context.Context
	stop    context.CancelFunc
	cancels map[string]context.CancelFunc
	closed  bool
}

func NewExecutor(pipeline runner, runs store.RunStore, cfg ExecutorConfig, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := cfg.Workers
	if workers < 1 {
		workers = DefaultWorkers
	}
	size := cfg.QueueSize
	if size < 1 {
		size = DefaultQueueSize
	}
	return &Executor{
		pipeline: pipeline,
		runs:     runs,
		logger:   logger,
		workers:  workers,
		now:      time.Now,
		queue:    make(chan queued, size),
		cancels:  map[string]context.CancelFunc{},
	}
}

// Start launches the workers. Runs inherit ctx values but are cancelled only
// through Cancel or Shutdown.
func (e *Executor) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.base != nil {
		return
	}
	e.base, e.stop = context.WithCancel(context.WithoutCancel(ctx))

	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go e.work()
	}
	e.logger.Info("sourcing executor started", zap.Int("workers", e.workers), zap.Int("queue", cap(e.queue)))
}

// Submit validates the request, stores a queued run and returns a copy of it.
// The worker owns the queued record from then on.
func (e *Executor) Submit(ctx context.Context, req Request) (*models.Run, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.base == nil || e.closed {
		e.mu.Unlock()
		return nil, ErrExecutorState
	}
	base := e.base
	e.mu.Unlock()

	run := NewRun(req, e.now())
	if err := e.runs.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	accepted := run.Clone()
	runCtx, cancel := context.WithCancel(base)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		cancel()
		e.reject(ctx, run, "Executor is shutting down")
		return run, ErrExecutorState
	}
	select {
	case e.queue <- queued{ctx: runCtx, run: run}:
		e.cancels[accepted.ID] = cancel
		e.mu.Unlock()
	default:
		e.mu.Unlock()
		cancel()
		e.reject(ctx, run, "Sourcing queue is full")
		return run, ErrQueueFull
	}

	e.logger.Info("sourcing run queued", zap.String("run_id", accepted.ID), zap.String("job_id", accepted.JobID))
	return accepted, nil
}

// Cancel stops a queued or running run before its next batch.
func (e *Executor) Cancel(runID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cancel, ok := e.cancels[runID]
	if !ok {
		return fmt.Errorf("run %s: %w", runID, ErrNotRunning)
	}
	cancel()
	e.logger.Info("sourcing run cancel requested", zap.String("run_id", runID))
	return nil
}

// Shutdown stops accepting runs and waits for the workers. When ctx expires
// first, active runs are cancelled.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.base == nil || e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.stop()
		return nil
	case <-ctx.Done():
		e.stop()
		<-done
		return ctx.Err()
	}
}

func (e *Executor) work() {
	defer e.wg.Done()

	for item := range e.queue {
		if err := item.ctx.Err(); err != nil {
			e.reject(context.WithoutCancel(item.ctx), item.run, "Cancelled before start")
		} else if err := e.pipeline.Execute(item.ctx, item.run); err != nil {
			e.logger.Warn("sourcing run ended with error", zap.String("run_id", item.run.ID), zap.Error(err))
		}

		e.mu.Lock()
		if cancel, ok := e.cancels[item.run.ID]; ok {
			cancel()
			delete(e.cancels, item.run.ID)
		}
		e.mu.Unlock()
	}
}

func (e *Executor) reject(ctx context.Context, run *models.Run, reason string) {
	finished := e.now().UTC()
	run.Status = models.RunStatusFailed
	run.Errors = append(run.Errors, reason)
	run.Progress.Phase = models.PhaseFailed
	run.Progress.Message = reason
	run.Progress.Errors = append(run.Progress.Errors, reason)
	run.Progress.UpdatedAt = finished
	run.UpdatedAt = finished
	run.FinishedAt = &finished

	if err := e.runs.SaveRun(ctx, run); err != nil {
		e.logger.Warn("failed to save rejected run", zap.String("run_id", run.ID), zap.Error(err))
	}
	e.logger.Warn("sourcing run rejected", zap.String("run_id", run.ID), zap.String("reason", reason))
}
