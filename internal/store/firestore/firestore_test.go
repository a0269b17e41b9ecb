package firestore

import (
	"context"
	"testing"
	"time"

	"github.com/spigell/talent-sourcer/internal/models"
)

func TestRunDocRoundTrip(t *testing.T) {
	finished := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	run := &models.Run{
		ID:         "run-1",
		JobID:      "job-1",
		Status:     models.RunStatusCompleted,
		References: []string{"https://example.com/in/a"},
		Progress: models.Snapshot{
			Phase:       models.PhaseCompleted,
			Found:       12,
			Fetched:     11,
			Failed:      1,
			Recommended: 3,
			Message:     "done",
		},
		Cost:       models.Cost{ProfilesRequested: 12, ProfilesFetched: 11, Spent: 0.165},
		FinishedAt: &finished,
	}

	got := toDoc(run).toRun()
	if got.Status != run.Status || got.Progress.Phase != models.PhaseCompleted || got.Progress.Fetched != 11 {
		t.Fatalf("unexpected run %+v", got)
	}
	if got.Cost.Spent != 0.165 || got.FinishedAt == nil || !got.FinishedAt.Equal(finished) {
		t.Fatalf("unexpected cost or finish time %+v", got)
	}
}

func TestNewRequiresProject(t *testing.T) {
	if _, err := New(context.Background(), Config{}, nil); err == nil {
		t.Fatalf("expected error without project id")
	}
}
