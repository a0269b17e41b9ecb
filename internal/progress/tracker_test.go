package progress

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spigell/talent-sourcer/internal/models"
)

type recordingStore struct {
	mu    sync.Mutex
	saved []models.Snapshot
	err   error
}

func (r *recordingStore) CreateRun(context.Context, *models.Run) error { return nil }
func (r *recordingStore) SaveRun(context.Context, *models.Run) error   { return nil }
func (r *recordingStore) GetRun(context.Context, string) (*models.Run, error) {
	return nil, errors.New("not implemented")
}

func (r *recordingStore) SaveProgress(_ context.Context, _ string, s models.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.saved = append(r.saved, s)
	return nil
}

func TestTrackerCountsNeverDecrease(t *testing.T) {
	st := &recordingStore{}
	tr := New("run-1", st, zap.NewNop())
	ctx := context.Background()

	if err := tr.Update(ctx, models.Snapshot{Phase: models.PhaseFetching, Found: 12}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := tr.Update(ctx, models.Snapshot{Fetched: 5, Failed: 1}); err != nil {
		t.Fatalf("update: %v", err)
	}
	// A stale writer reports lower numbers.
	if err := tr.Update(ctx, models.Snapshot{Fetched: 3, Found: 2}); err != nil {
		t.Fatalf("update: %v", err)
	}

	got := tr.Snapshot()
	if got.Found != 12 || got.Fetched != 5 || got.Failed != 1 {
		t.Fatalf("counts went backwards: %+v", got)
	}

	for i := 1; i < len(st.saved); i++ {
		prev, cur := st.saved[i-1], st.saved[i]
		if cur.Fetched < prev.Fetched || cur.Found < prev.Found {
			t.Fatalf("persisted snapshot %d regressed: %+v -> %+v", i, prev, cur)
		}
		if cur.Fetched > cur.Found {
			t.Fatalf("fetched exceeds found in %+v", cur)
		}
	}
}

func TestTrackerRaisesFoundWithFetched(t *testing.T) {
	tr := New("run-1", nil, nil)
	if err := tr.Update(context.Background(), models.Snapshot{Found: 2, Fetched: 4}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := tr.Snapshot(); got.Found != 4 {
		t.Fatalf("expected found raised to 4, got %d", got.Found)
	}
}

func TestTrackerPhaseTransitions(t *testing.T) {
	tests := []struct {
		name    string
		path    []models.Phase
		wantErr bool
	}{
		{"forward", []models.Phase{models.PhaseFetching, models.PhaseProcessing, models.PhaseCompleted}, false},
		{"skip ahead", []models.Phase{models.PhaseProcessing}, false},
		{"fail from fetching", []models.Phase{models.PhaseFetching, models.PhaseFailed}, false},
		{"backwards", []models.Phase{models.PhaseProcessing, models.PhaseFetching}, true},
		{"after completed", []models.Phase{models.PhaseCompleted, models.PhaseFailed}, true},
		{"after failed", []models.Phase{models.PhaseFailed, models.PhaseProcessing}, true},
		{"unknown", []models.Phase{"teleporting"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := New("run", nil, nil)
			var err error
			for _, p := range tt.path {
				if err = tr.Advance(context.Background(), p, ""); err != nil {
					break
				}
			}
			if tt.wantErr != (err != nil) {
				t.Fatalf("wantErr=%v, got %v", tt.wantErr, err)
			}
			if err != nil && !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("expected ErrInvalidTransition, got %v", err)
			}
		})
	}
}

func TestTrackerRejectedWriteKeepsState(t *testing.T) {
	tr := New("run", nil, nil)
	ctx := context.Background()
	_ = tr.Update(ctx, models.Snapshot{Phase: models.PhaseCompleted, Fetched: 3, Message: "done"})

	if err := tr.Update(ctx, models.Snapshot{Fetched: 9, Message: "late"}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected rejection after completion, got %v", err)
	}
	if got := tr.Snapshot(); got.Fetched != 3 || got.Message != "done" {
		t.Fatalf("rejected write changed state: %+v", got)
	}
}

func TestTrackerSwallowsPersistenceErrors(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	st := &recordingStore{err: errors.New("firestore unavailable")}
	tr := New("run-7", st, zap.New(core))

	if err := tr.Update(context.Background(), models.Snapshot{Phase: models.PhaseFetching, Found: 3}); err != nil {
		t.Fatalf("persistence failure must not surface: %v", err)
	}
	if got := tr.Snapshot(); got.Found != 3 {
		t.Fatalf("in-memory snapshot must advance, got %+v", got)
	}

	entries := logs.FilterMessage("failed to persist progress").All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 warning, got %d", len(entries))
	}
	if entries[0].ContextMap()["run_id"] != "run-7" {
		t.Fatalf("expected run_id field, got %v", entries[0].ContextMap())
	}

	st.mu.Lock()
	st.err = nil
	st.mu.Unlock()
	_ = tr.Update(context.Background(), models.Snapshot{Fetched: 1})
	if len(st.saved) != 1 || st.saved[0].Found != 3 || st.saved[0].Fetched != 1 {
		t.Fatalf("next write must carry the full state, got %+v", st.saved)
	}
}

func TestTrackerConcurrentWriters(t *testing.T) {
	tr := New("run", &recordingStore{}, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = tr.Update(ctx, models.Snapshot{Fetched: i, Processed: i})
		}()
	}
	wg.Wait()

	got := tr.Snapshot()
	if got.Fetched != 20 || got.Processed != 20 || got.Found != 20 {
		t.Fatalf("unexpected final snapshot %+v", got)
	}
}

func TestTrackerFailRecordsReason(t *testing.T) {
	tr := New("run", nil, nil)
	if err := tr.Fail(context.Background(), "job not found"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	got := tr.Snapshot()
	if got.Phase != models.PhaseFailed || got.Message != "job not found" || len(got.Errors) != 1 {
		t.Fatalf("unexpected snapshot %+v", got)
	}
}
