// Package sourcing wires fetching, ingestion, scoring and gating into sourcing runs.
package sourcing

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/spigell/talent-sourcer/internal/models"
)

var (
	ErrNoReferences   = errors.New("at least one profile reference is required")
	ErrInvalidRequest = errors.New("invalid sourcing request")
)

// Request describes a sourcing run to start.
type Request struct {
	JobID       string   `json:"job_id,omitempty" yaml:"job_id"`
	Intent      string   `json:"intent,omitempty" yaml:"intent"`
	References  []string `json:"references" yaml:"references"`
	TargetCount int      `json:"target_count,omitempty" yaml:"target_count"`
	Budget      float64  `json:"budget,omitempty" yaml:"budget"`
}

// Validate trims and deduplicates references and checks there is something to fetch.
func (r *Request) Validate() error {
	seen := make(map[string]struct{}, len(r.References))
	refs := make([]string, 0, len(r.References))
	for _, ref := range r.References {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			continue
		}
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}
		refs = append(refs, ref)
	}
	if len(refs) == 0 {
		return ErrNoReferences
	}
	if r.TargetCount < 0 {
		return fmt.Errorf("%w: target count must not be negative", ErrInvalidRequest)
	}
	if r.Budget < 0 {
		return fmt.Errorf("%w: budget must not be negative", ErrInvalidRequest)
	}
	r.References = refs
	r.JobID = strings.TrimSpace(r.JobID)
	return nil
}

// NewRun builds a queued run for a validated request.
func NewRun(req Request, now time.Time) *models.Run {
	refs := req.References
	if req.TargetCount > 0 && len(refs) > req.TargetCount {
		refs = refs[:req.TargetCount]
	}

	now = now.UTC()
	return &models.Run{
		ID:         uuid.NewString(),
		JobID:      req.JobID,
		Intent:     req.Intent,
		Status:     models.RunStatusQueued,
		References: append([]string(nil), refs...),
		Progress: models.Snapshot{
			Phase:     models.PhaseSearching,
			Found:     len(refs),
			Message:   "Queued",
			UpdatedAt: now,
		},
		Cost:      models.Cost{Budget: req.Budget},
		CreatedAt: now,
		UpdatedAt: now,
	}
}
