// Package notify publishes pipeline events to interested consumers.
package notify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/talent-sourcer/internal/models"
)

const (
	EventRunCompleted    = "run.completed"
	EventRunFailed       = "run.failed"
	EventLinkRecommended = "link.recommended"
)

type Event struct {
	Type        string           `json:"type"`
	RunID       string           `json:"run_id,omitempty"`
	JobID       string           `json:"job_id,omitempty"`
	CandidateID string           `json:"candidate_id,omitempty"`
	Score       *int             `json:"score,omitempty"`
	Message     string           `json:"message,omitempty"`
	Progress    *models.Snapshot `json:"progress,omitempty"`
	OccurredAt  time.Time        `json:"occurred_at"`
}

type Notifier interface {
	Publish(ctx context.Context, ev Event) error
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, Event) error { return nil }

// Log writes events to the logger.
type Log struct {
	logger *zap.Logger
}

func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger}
}

func (l *Log) Publish(_ context.Context, ev Event) error {
	fields := []zap.Field{zap.String("event", ev.Type)}
	if ev.RunID != "" {
		fields = append(fields, zap.String("run_id", ev.RunID))
	}
	if ev.JobID != "" {
		fields = append(fields, zap.String("job_id", ev.JobID))
	}
	if ev.CandidateID != "" {
		fields = append(fields, zap.String("candidate_id", ev.CandidateID))
	}
	if ev.Score != nil {
		fields = append(fields, zap.Int("score", *ev.Score))
	}
	if ev.Message != "" {
		fields = append(fields, zap.String("message", ev.Message))
	}
	l.logger.Info("event", fields...)
	return nil
}
