// Package progress keeps the observable progress snapshot of a sourcing run.
package progress

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

var ErrInvalidTransition = errors.New("invalid progress transition")

const maxErrors = 50

// Tracker serializes progress writes of one run. Counts never decrease, the
// phase only moves forward or into failed, and every accepted write persists
// the whole snapshot.
type Tracker struct {
	mu     sync.Mutex
	runID  string
	store  store.RunStore
	logger *zap.Logger
	now    func() time.Time
	state  models.Snapshot
}

func New(runID string, runs store.RunStore, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		runID:  runID,
		store:  runs,
		logger: logger,
		now:    time.Now,
		state:  models.Snapshot{Phase: models.PhaseSearching},
	}
}

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() models.Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Clone()
}

// Update merges u into the snapshot. An empty phase keeps the current one,
// counts are merged with max, an empty message keeps the previous one and
// errors are appended.
func (t *Tracker) Update(ctx context.Context, u models.Snapshot) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	next, err := merge(t.state, u)
	if err != nil {
		t.logger.Warn("progress update rejected",
			zap.String("from", string(t.state.Phase)), zap.String("to", string(u.Phase)), zap.Error(err))
		return err
	}
	next.UpdatedAt = t.now().UTC()
	t.state = next

	t.persist(ctx)
	return nil
}

// Advance moves to phase with a message.
func (t *Tracker) Advance(ctx context.Context, phase models.Phase, message string) error {
	return t.Update(ctx, models.Snapshot{Phase: phase, Message: message})
}

// Complete moves to the completed phase.
func (t *Tracker) Complete(ctx context.Context, message string) error {
	return t.Advance(ctx, models.PhaseCompleted, message)
}

// Fail moves to the failed phase and records the reason.
func (t *Tracker) Fail(ctx context.Context, reason string) error {
	return t.Update(ctx, models.Snapshot{Phase: models.PhaseFailed, Message: reason, Errors: []string{reason}})
}

// AddError records a non-fatal error without touching the counts.
func (t *Tracker) AddError(ctx context.Context, msg string) error {
	return t.Update(ctx, models.Snapshot{Errors: []string{msg}})
}

func (t *Tracker) persist(ctx context.Context) {
	if t.store == nil {
		return
	}
	if err := t.store.SaveProgress(ctx, t.runID, t.state.Clone()); err != nil {
		// The next write carries the full state again.
		t.logger.Warn("failed to persist progress", zap.String("run_id", t.runID), zap.Error(err))
	}
}

func merge(cur, u models.Snapshot) (models.Snapshot, error) {
	if cur.Phase.IsTerminal() {
		return cur, fmt.Errorf("%w: run is already %s", ErrInvalidTransition, cur.Phase)
	}

	next := cur.Clone()
	switch {
	case u.Phase == "" || u.Phase == cur.Phase:
	case u.Phase == models.PhaseFailed:
		next.Phase = u.Phase
	case u.Phase.Rank() < 0:
		return cur, fmt.Errorf("%w: unknown phase %q", ErrInvalidTransition, u.Phase)
	case u.Phase.Rank() < cur.Phase.Rank():
		return cur, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, cur.Phase, u.Phase)
	default:
		next.Phase = u.Phase
	}

	next.Found = max(cur.Found, u.Found)
	next.Fetched = max(cur.Fetched, u.Fetched)
	next.Failed = max(cur.Failed, u.Failed)
	next.Processed = max(cur.Processed, u.Processed)
	next.Created = max(cur.Created, u.Created)
	next.Duplicates = max(cur.Duplicates, u.Duplicates)
	next.Scored = max(cur.Scored, u.Scored)
	next.Recommended = max(cur.Recommended, u.Recommended)
	if next.Fetched > next.Found {
		next.Found = next.Fetched
	}

	// Batch position restarts for every batched stage.
	if u.TotalBatches > 0 {
		next.TotalBatches = u.TotalBatches
		next.CurrentBatch = u.CurrentBatch
	} else if u.CurrentBatch > 0 {
		next.CurrentBatch = u.CurrentBatch
	}

	if u.Message != "" {
		next.Message = u.Message
	}
	for _, e := range u.Errors {
		if len(next.Errors) >= maxErrors {
			break
		}
		next.Errors = append(next.Errors, e)
	}

	return next, nil
}
