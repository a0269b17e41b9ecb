// Package gate links sourced candidates to a job and decides which ones surface to a recruiter.
package gate

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/talent-sourcer/internal/models"
	"github.com/spigell/talent-sourcer/internal/notify"
	"github.com/spigell/talent-sourcer/internal/scoring"
	"github.com/spigell/talent-sourcer/internal/store"
)

const DefaultThreshold = 70

type Linker struct {
	links     store.LinkStore
	notifier  notify.Notifier
	threshold int
	logger    *zap.Logger
	now       func() time.Time
}

func NewLinker(links store.LinkStore, notifier notify.Notifier, threshold int, logger *zap.Logger) *Linker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = notify.Discard{}
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Linker{
		links:     links,
		notifier:  notifier,
		threshold: threshold,
		logger:    logger,
		now:       time.Now,
	}
}

func (l *Linker) Threshold() int {
	return l.threshold
}

// Ensure creates a sourced link unless one already exists.
func (l *Linker) Ensure(ctx context.Context, jobID, candidateID string) (*models.Link, error) {
	link, err := l.links.EnsureLink(ctx, jobID, candidateID)
	if err != nil {
		return nil, fmt.Errorf("ensure link %s/%s: %w", jobID, candidateID, err)
	}
	return link, nil
}

// Apply stores the score and promotes the link when it clears the threshold.
// It reports whether this call promoted the link. Links a recruiter already
// moved on are left alone.
func (l *Linker) Apply(ctx context.Context, jobID, candidateID string, res *scoring.Result) (bool, error) {
	if res == nil {
		return false, nil
	}

	link, err := l.Ensure(ctx, jobID, candidateID)
	if err != nil {
		return false, err
	}

	switch link.Status {
	case models.LinkStatusSourced, "":
	case models.LinkStatusRecommended:
		// Never demoted. The score is refreshed below.
	default:
		l.logger.Debug("link is in a recruiter state, skip gating",
			zap.String("candidate_id", candidateID), zap.String("status", string(link.Status)))
		return false, nil
	}

	score := res.Score
	indicator := float64(score) / 100
	link.Score = &score
	link.ScoreStrategy = string(res.Strategy)
	link.Reasoning = res.Reasoning
	link.Strengths = res.Strengths
	link.Concerns = res.Concerns
	link.UpdatedAt = l.now().UTC()

	promoted := false
	if link.Status != models.LinkStatusRecommended && score >= l.threshold {
		link.Status = models.LinkStatusRecommended
		promoted = true
	}
	if link.Status == models.LinkStatusRecommended {
		link.MatchIndicator = &indicator
	}

	if err := l.links.SaveLink(ctx, link); err != nil {
		return false, fmt.Errorf("save link %s/%s: %w", jobID, candidateID, err)
	}

	if promoted {
		l.logger.Info("candidate recommended",
			zap.String("job_id", jobID), zap.String("candidate_id", candidateID), zap.Int("score", score))
		l.publish(ctx, notify.Event{
			Type:        notify.EventLinkRecommended,
			JobID:       jobID,
			CandidateID: candidateID,
			Score:       &score,
		})
	}

	return promoted, nil
}

func (l *Linker) publish(ctx context.Context, ev notify.Event) {
	if err := l.notifier.Publish(ctx, ev); err != nil {
		l.logger.Warn("failed to publish event", zap.String("event", ev.Type), zap.Error(err))
	}
}
