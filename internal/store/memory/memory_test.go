package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/spigell/talent-sourcer/internal/models"
	"github.com/spigell/talent-sourcer/internal/store"
)

func TestCreateCandidateConflictsOnAnyKey(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.CreateCandidate(ctx, &models.Candidate{ID: "c1"}, store.CandidateQuery{Email: "a@x.io", NameCompanyKey: "jane doe|acme"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	tests := []struct {
		name string
		q    store.CandidateQuery
	}{
		{"email", store.CandidateQuery{Email: "a@x.io"}},
		{"name company", store.CandidateQuery{Phone: "+1555", NameCompanyKey: "jane doe|acme"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.CreateCandidate(ctx, &models.Candidate{ID: "c-" + tt.name}, tt.q)
			if !errors.Is(err, store.ErrConflict) {
				t.Fatalf("expected conflict, got %v", err)
			}
		})
	}

	// A rejected create must not leave partial index entries.
	if _, err := s.FindByPhone(ctx, "+1555"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected phone to stay free, got %v", err)
	}
	got, err := s.FindByEmail(ctx, "a@x.io")
	if err != nil || got.ID != "c1" {
		t.Fatalf("expected c1 by email, got %v %v", got, err)
	}
}

func TestCreateCandidateConcurrentSameKey(t *testing.T) {
	s := New()
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := &models.Candidate{ID: string(rune('a' + i))}
			if err := s.CreateCandidate(ctx, c, store.CandidateQuery{Email: "same@x.io"}); err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if created != 1 {
		t.Fatalf("expected exactly one create, got %d", created)
	}
}

func TestEnsureLinkIsIdempotent(t *testing.T) {
	s := New()
	ctx := context.Background()

	first, err := s.EnsureLink(ctx, "job", "cand")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	score := 90
	first.Score = &score
	first.Status = models.LinkStatusRecommended
	if err := s.SaveLink(ctx, first); err != nil {
		t.Fatalf("save: %v", err)
	}

	again, err := s.EnsureLink(ctx, "job", "cand")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if again.Status != models.LinkStatusRecommended || again.Score == nil || *again.Score != 90 {
		t.Fatalf("ensure must not reset an existing link: %+v", again)
	}

	links, _ := s.ListLinks(ctx, "job")
	if len(links) != 1 {
		t.Fatalf("expected one link, got %d", len(links))
	}
}

func TestSaveProgressUnknownRun(t *testing.T) {
	s := New()
	err := s.SaveProgress(context.Background(), "missing", models.Snapshot{})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestGetRunReturnsCopy(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.CreateRun(ctx, &models.Run{ID: "r1", Status: models.RunStatusQueued})

	run, _ := s.GetRun(ctx, "r1")
	run.Status = models.RunStatusFailed

	again, _ := s.GetRun(ctx, "r1")
	if again.Status != models.RunStatusQueued {
		t.Fatalf("stored run was mutated through a returned pointer")
	}
}
