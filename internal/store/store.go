// Package store declares the persistence boundaries of the sourcing pipeline.
package store

import (
	"context"
	"errors"

	"github.com/spigell/talent-sourcer/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write collides with a unique dedup key or link.
	ErrConflict = errors.New("conflict")
)

type RunStore interface {
	CreateRun(ctx context.Context, run *models.Run) error
	// SaveRun replaces the whole record.
	SaveRun(ctx context.Context, run *models.Run) error
	SaveProgress(ctx context.Context, runID string, snapshot models.Snapshot) error
	GetRun(ctx context.Context, runID string) (*models.Run, error)
}

// CandidateQuery holds normalized dedup keys. Empty keys are skipped.
type CandidateQuery struct {
	Email          string
	Phone          string
	NameCompanyKey string
}

type CandidateStore interface {
	FindByEmail(ctx context.Context, email string) (*models.Candidate, error)
	FindByPhone(ctx context.Context, phone string) (*models.Candidate, error)
	FindByNameCompany(ctx context.Context, key string) (*models.Candidate, error)
	// CreateCandidate fails with ErrConflict when any key in q is already taken.
	CreateCandidate(ctx context.Context, candidate *models.Candidate, q CandidateQuery) error
	GetCandidate(ctx context.Context, id string) (*models.Candidate, error)
}

type LinkStore interface {
	// EnsureLink creates a sourced link if none exists and returns the stored one.
	EnsureLink(ctx context.Context, jobID, candidateID string) (*models.Link, error)
	SaveLink(ctx context.Context, link *models.Link) error
	GetLink(ctx context.Context, jobID, candidateID string) (*models.Link, error)
	ListLinks(ctx context.Context, jobID string) ([]*models.Link, error)
}

type JobStore interface {
	GetJob(ctx context.Context, id string) (*models.Job, error)
	SaveJob(ctx context.Context, job *models.Job) error
}

// Store bundles every boundary one backend can serve.
type Store interface {
	RunStore
	CandidateStore
	LinkStore
	JobStore
}
