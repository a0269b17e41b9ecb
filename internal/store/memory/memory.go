// Package memory is an in-process store used by the CLI and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/spigell/talent-sourcer/internal/models"
	"github.com/spigell/talent-sourcer/internal/store"
)

type Store struct {
	mu sync.RWMutex

	runs       map[string]*models.Run
	jobs       map[string]*models.Job
	candidates map[string]*models.Candidate
	byEmail    map[string]string
	byPhone    map[string]string
	byName     map[string]string
	links      map[linkKey]*models.Link

	now func() time.Time
}

type linkKey struct {
	job       string
	candidate string
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		runs:       map[string]*models.Run{},
		jobs:       map[string]*models.Job{},
		candidates: map[string]*models.Candidate{},
		byEmail:    map[string]string{},
		byPhone:    map[string]string{},
		byName:     map[string]string{},
		links:      map[linkKey]*models.Link{},
		now:        time.Now,
	}
}

func (s *Store) CreateRun(_ context.Context, run *models.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[run.ID]; ok {
		return fmt.Errorf("run %s: %w", run.ID, store.ErrConflict)
	}
	s.runs[run.ID] = run.Clone()
	return nil
}

func (s *Store) SaveRun(_ context.Context, run *models.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[run.ID] = run.Clone()
	return nil
}

func (s *Store) SaveProgress(_ context.Context, runID string, snapshot models.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("run %s: %w", runID, store.ErrNotFound)
	}
	run.Progress = snapshot.Clone()
	run.UpdatedAt = s.now().UTC()
	return nil
}

func (s *Store) GetRun(_ context.Context, runID string) (*models.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", runID, store.ErrNotFound)
	}
	return run.Clone(), nil
}

func (s *Store) GetJob(_ context.Context, id string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, store.ErrNotFound)
	}
	cp := *job
	cp.Skills = append([]models.WeightedSkill(nil), job.Skills...)
	return &cp, nil
}

func (s *Store) SaveJob(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *job
	cp.Skills = append([]models.WeightedSkill(nil), job.Skills...)
	s.jobs[job.ID] = &cp
	return nil
}

func (s *Store) FindByEmail(_ context.Context, email string) (*models.Candidate, error) {
	return s.findBy(s.byEmail, email)
}

func (s *Store) FindByPhone(_ context.Context, phone string) (*models.Candidate, error) {
	return s.findBy(s.byPhone, phone)
}

func (s *Store) FindByNameCompany(_ context.Context, key string) (*models.Candidate, error) {
	return s.findBy(s.byName, key)
}

func (s *Store) findBy(index map[string]string, key string) (*models.Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if key == "" {
		return nil, store.ErrNotFound
	}
	id, ok := index[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneCandidate(s.candidates[id]), nil
}

// CreateCandidate checks every dedup key and inserts under one lock.
func (s *Store) CreateCandidate(_ context.Context, c *models.Candidate, q store.CandidateQuery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.candidates[c.ID]; ok {
		return fmt.Errorf("candidate %s: %w", c.ID, store.ErrConflict)
	}
	for _, idx := range []struct {
		index map[string]string
		key   string
	}{{s.byEmail, q.Email}, {s.byPhone, q.Phone}, {s.byName, q.NameCompanyKey}} {
		if idx.key == "" {
			continue
		}
		if _, ok := idx.index[idx.key]; ok {
			return fmt.Errorf("candidate key %q: %w", idx.key, store.ErrConflict)
		}
	}

	s.candidates[c.ID] = cloneCandidate(c)
	if q.Email != "" {
		s.byEmail[q.Email] = c.ID
	}
	if q.Phone != "" {
		s.byPhone[q.Phone] = c.ID
	}
	if q.NameCompanyKey != "" {
		s.byName[q.NameCompanyKey] = c.ID
	}
	return nil
}

func (s *Store) GetCandidate(_ context.Context, id string) (*models.Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.candidates[id]
	if !ok {
		return nil, fmt.Errorf("candidate %s: %w", id, store.ErrNotFound)
	}
	return cloneCandidate(c), nil
}

func (s *Store) EnsureLink(_ context.Context, jobID, candidateID string) (*models.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := linkKey{jobID, candidateID}
	if l, ok := s.links[key]; ok {
		return cloneLink(l), nil
	}
	now := s.now().UTC()
	l := &models.Link{
		JobID:       jobID,
		CandidateID: candidateID,
		Status:      models.LinkStatusSourced,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.links[key] = l
	return cloneLink(l), nil
}

func (s *Store) SaveLink(_ context.Context, link *models.Link) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := linkKey{link.JobID, link.CandidateID}
	if _, ok := s.links[key]; !ok {
		return fmt.Errorf("link %s/%s: %w", link.JobID, link.CandidateID, store.ErrNotFound)
	}
	s.links[key] = cloneLink(link)
	return nil
}

func (s *Store) GetLink(_ context.Context, jobID, candidateID string) (*models.Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.links[linkKey{jobID, candidateID}]
	if !ok {
		return nil, fmt.Errorf("link %s/%s: %w", jobID, candidateID, store.ErrNotFound)
	}
	return cloneLink(l), nil
}

func (s *Store) ListLinks(_ context.Context, jobID string) ([]*models.Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Link
	for k, l := range s.links {
		if k.job == jobID {
			out = append(out, cloneLink(l))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].CandidateID < out[j].CandidateID
	})
	return out, nil
}

func cloneCandidate(c *models.Candidate) *models.Candidate {
	cp := *c
	cp.Skills = append([]string(nil), c.Skills...)
	return &cp
}

func cloneLink(l *models.Link) *models.Link {
	cp := *l
	if l.Score != nil {
		v := *l.Score
		cp.Score = &v
	}
	if l.MatchIndicator != nil {
		v := *l.MatchIndicator
		cp.MatchIndicator = &v
	}
	cp.Strengths = append([]string(nil), l.Strengths...)
	cp.Concerns = append([]string(nil), l.Concerns...)
	return &cp
}
