package ai

import (
	"context"

	"github.com/spigell/talent-sourcer/internal/models"
)

// Assessment is the reasoning model's view of a candidate. Score is 0 to 100.
type Assessment struct {
	Score     int
	Reasoning string
	Strengths []string
	Concerns  []string
	Raw       string
}

type Assessor interface {
	Assess(ctx context.Context, candidate *models.Candidate, job *models.Job) (*Assessment, error)
}
