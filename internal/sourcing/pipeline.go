package sourcing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/talent-sourcer/internal/batch"
	"github.com/spigell/talent-sourcer/internal/fetch"
	"github.com/spigell/talent-sourcer/internal/gate"
	"github.com/spigell/talent-sourcer/internal/ingest"
	"github.com/spigell/talent-sourcer/internal/logger"
	"github.com/spigell/talent-sourcer/internal/models"
	"github.com/spigell/talent-sourcer/internal/notify"
	"github.com/spigell/talent-sourcer/internal/progress"
	"github.com/spigell/talent-sourcer/internal/scoring"
	"github.com/spigell/talent-sourcer/internal/store"
)

type Config struct {
	// CostPerProfile is charged for every successfully fetched profile.
	CostPerProfile float64
	// BudgetCeiling applies when the request carries no budget of its own.
	BudgetCeiling float64
}

type Deps struct {
	Runs      store.RunStore
	Jobs      store.JobStore
	Scheduler *fetch.Scheduler
	Ingester  *ingest.Ingester
	Engine    *scoring.Engine
	Linker    *gate.Linker
	Notifier  notify.Notifier
}

// Pipeline executes one run end to end: fetch, ingest, score, gate.
type Pipeline struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

func NewPipeline(deps Deps, cfg Config, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Discard{}
	}
	return &Pipeline{deps: deps, cfg: cfg, logger: log, now: time.Now}
}

// Execute drives the run to a terminal status. Only setup failures fail the
// run; per-profile problems are recorded in the progress snapshot.
func (p *Pipeline) Execute(ctx context.Context, run *models.Run) error {
	log := logger.WithRun(p.logger, run.ID, run.JobID)
	tracker := progress.New(run.ID, p.deps.Runs, log)
	_ = tracker.Update(ctx, models.Snapshot{Found: len(run.References), Message: "Starting"})

	run.Status = models.RunStatusRunning
	p.saveRun(ctx, log, run, tracker)

	var job *models.Job
	if run.JobID != "" {
		j, err := p.deps.Jobs.GetJob(ctx, run.JobID)
		if err != nil {
			reason := fmt.Sprintf("Job %s could not be loaded", run.JobID)
			if errors.Is(err, store.ErrNotFound) {
				reason = fmt.Sprintf("Job %s was not found", run.JobID)
			}
			return p.fail(ctx, log, run, tracker, reason, err)
		}
		job = j
	}

	log.Info("sourcing run started", zap.Int("references", len(run.References)))

	outcome, budgetStop := p.fetchProfiles(ctx, run, tracker)
	if ctx.Err() != nil {
		// Persist the cancellation even though the run context is gone.
		return p.fail(context.WithoutCancel(ctx), log, run, tracker,
			fmt.Sprintf("Cancelled after %d of %d profiles", outcome.Attempted, len(run.References)), ctx.Err())
	}

	_ = tracker.Advance(ctx, models.PhaseProcessing, fmt.Sprintf("Processing %d fetched profiles", len(outcome.Succeeded())))
	candidates := p.ingestProfiles(ctx, log, run, tracker, outcome.Succeeded())

	if job != nil && len(candidates) > 0 {
		p.scoreAndGate(ctx, log, job, candidates, tracker)
	}

	snap := tracker.Snapshot()
	msg := fmt.Sprintf("Fetched %d of %d profiles, %d new candidates, %d duplicates, %d recommended",
		snap.Fetched, len(run.References), snap.Created, snap.Duplicates, snap.Recommended)
	if budgetStop {
		msg += ". Stopped early: budget ceiling reached"
	}
	return p.complete(ctx, log, run, tracker, msg)
}

func (p *Pipeline) budget(run *models.Run) float64 {
	if run.Cost.Budget > 0 {
		return run.Cost.Budget
	}
	return p.cfg.BudgetCeiling
}

func (p *Pipeline) fetchProfiles(ctx context.Context, run *models.Run, tracker *progress.Tracker) (fetch.Outcome, bool) {
	refs := run.References
	size := p.deps.Scheduler.BatchSize()
	total := batch.Batches(len(refs), size)
	budget := p.budget(run)
	run.Cost.Budget = budget

	_ = tracker.Update(ctx, models.Snapshot{
		Phase:        models.PhaseFetching,
		Found:        len(refs),
		TotalBatches: total,
		Message:      fmt.Sprintf("Fetching %d profiles in %d batches", len(refs), total),
	})

	fetched := 0
	budgetStop := false
	outcome := p.deps.Scheduler.FetchAll(ctx, refs, fetch.Hooks{
		Report: func(r batch.Report) {
			fetched = r.Succeeded
			_ = tracker.Update(ctx, models.Snapshot{
				Fetched:      r.Succeeded,
				Failed:       r.Failed,
				CurrentBatch: r.Batch,
				TotalBatches: r.Total,
				Message:      fmt.Sprintf("Fetched batch %d of %d", r.Batch, r.Total),
			})
		},
		Continue: func(done int) bool {
			if budget <= 0 || p.cfg.CostPerProfile <= 0 {
				return true
			}
			next := min(size, len(refs)-done)
			if float64(fetched+next)*p.cfg.CostPerProfile > budget {
				budgetStop = true
				return false
			}
			return true
		},
	})

	for _, r := range outcome.Results {
		if !r.Success && r.Err != nil {
			_ = tracker.AddError(ctx, fmt.Sprintf("%s: %v", r.Reference, r.Err))
		}
	}

	run.Cost.ProfilesRequested = outcome.Attempted
	run.Cost.ProfilesFetched = len(outcome.Succeeded())
	run.Cost.Spent = float64(run.Cost.ProfilesFetched) * p.cfg.CostPerProfile

	return outcome, budgetStop
}

func (p *Pipeline) ingestProfiles(ctx context.Context, log *zap.Logger, run *models.Run, tracker *progress.Tracker, fetched []fetch.Result) []*models.Candidate {
	var candidates []*models.Candidate
	seen := map[string]struct{}{}
	processed, created, duplicates := 0, 0, 0

	for _, r := range fetched {
		out, err := p.deps.Ingester.Ingest(ctx, r.Profile, r.Reference, run.ID)
		processed++
		if err != nil {
			log.Warn("failed to ingest profile", zap.String("reference", r.Reference), zap.Error(err))
			_ = tracker.Update(ctx, models.Snapshot{Processed: processed, Errors: []string{fmt.Sprintf("%s: %v", r.Reference, err)}})
			continue
		}

		if out.Duplicate {
			duplicates++
		} else {
			created++
		}

		if _, ok := seen[out.Candidate.ID]; !ok {
			seen[out.Candidate.ID] = struct{}{}
			candidates = append(candidates, out.Candidate)
			run.CandidateIDs = append(run.CandidateIDs, out.Candidate.ID)
		}

		if run.JobID != "" && p.deps.Linker != nil {
			if _, err := p.deps.Linker.Ensure(ctx, run.JobID, out.Candidate.ID); err != nil {
				log.Warn("failed to link candidate", zap.String("candidate_id", out.Candidate.ID), zap.Error(err))
			}
		}

		_ = tracker.Update(ctx, models.Snapshot{Processed: processed, Created: created, Duplicates: duplicates})
	}

	return candidates
}

func (p *Pipeline) scoreAndGate(ctx context.Context, log *zap.Logger, job *models.Job, candidates []*models.Candidate, tracker *progress.Tracker) {
	if p.deps.Engine == nil || p.deps.Linker == nil {
		return
	}

	total := batch.Batches(len(candidates), p.deps.Engine.Concurrency())
	_ = tracker.Update(ctx, models.Snapshot{
		TotalBatches: total,
		Message:      fmt.Sprintf("Scoring %d candidates", len(candidates)),
	})

	scored := p.deps.Engine.ScoreAll(ctx, candidates, job, func(r batch.Report) {
		_ = tracker.Update(ctx, models.Snapshot{
			Scored:       r.Succeeded,
			CurrentBatch: r.Batch,
			TotalBatches: r.Total,
			Message:      fmt.Sprintf("Scored batch %d of %d", r.Batch, r.Total),
		})
	})

	recommended := 0
	for _, s := range scored {
		if s.Err != nil {
			// The link stays sourced without a score.
			_ = tracker.AddError(ctx, fmt.Sprintf("scoring %s: %v", s.Candidate.ID, s.Err))
			continue
		}
		promoted, err := p.deps.Linker.Apply(ctx, job.ID, s.Candidate.ID, s.Result)
		if err != nil {
			log.Warn("failed to apply score", zap.String("candidate_id", s.Candidate.ID), zap.Error(err))
			continue
		}
		if promoted {
			recommended++
			_ = tracker.Update(ctx, models.Snapshot{Recommended: recommended})
		}
	}
}

func (p *Pipeline) complete(ctx context.Context, log *zap.Logger, run *models.Run, tracker *progress.Tracker, msg string) error {
	_ = tracker.Complete(ctx, msg)

	finished := p.now().UTC()
	run.Status = models.RunStatusCompleted
	run.FinishedAt = &finished
	p.saveRun(ctx, log, run, tracker)

	log.Info("sourcing run completed", zap.String("summary", msg))
	snap := tracker.Snapshot()
	p.publish(ctx, log, notify.Event{
		Type: notify.EventRunCompleted, RunID: run.ID, JobID: run.JobID, Message: msg, Progress: &snap, OccurredAt: finished,
	})
	return nil
}

func (p *Pipeline) fail(ctx context.Context, log *zap.Logger, run *models.Run, tracker *progress.Tracker, reason string, cause error) error {
	_ = tracker.Fail(ctx, reason)

	finished := p.now().UTC()
	run.Status = models.RunStatusFailed
	run.FinishedAt = &finished
	run.Errors = append(run.Errors, reason)
	p.saveRun(ctx, log, run, tracker)

	log.Error("sourcing run failed", zap.String("reason", reason), zap.Error(cause))
	snap := tracker.Snapshot()
	p.publish(ctx, log, notify.Event{
		Type: notify.EventRunFailed, RunID: run.ID, JobID: run.JobID, Message: reason, Progress: &snap, OccurredAt: finished,
	})

	return fmt.Errorf("%s: %w", reason, cause)
}

func (p *Pipeline) saveRun(ctx context.Context, log *zap.Logger, run *models.Run, tracker *progress.Tracker) {
	run.Progress = tracker.Snapshot()
	run.UpdatedAt = p.now().UTC()
	if err := p.deps.Runs.SaveRun(ctx, run); err != nil {
		log.Warn("failed to save run", zap.Error(err))
	}
}

func (p *Pipeline) publish(ctx context.Context, log *zap.Logger, ev notify.Event) {
	if err := p.deps.Notifier.Publish(ctx, ev); err != nil {
		log.Warn("failed to publish event", zap.String("event", ev.Type), zap.Error(err))
	}
}
