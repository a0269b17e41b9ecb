package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type capturePublisher struct {
	msgs []*pubsub.Message
	err  error
}

func (c *capturePublisher) publish(_ context.Context, msg *pubsub.Message) error {
	c.msgs = append(c.msgs, msg)
	return c.err
}

func TestPubSubPublishEncodesEvent(t *testing.T) {
	capture := &capturePublisher{}
	p := &PubSub{
		publisher: capture,
		logger:    zap.NewNop(),
		now:       func() time.Time { return time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC) },
	}

	score := 82
	if err := p.Publish(context.Background(), Event{Type: EventLinkRecommended, JobID: "job", CandidateID: "c1", Score: &score}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if len(capture.msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(capture.msgs))
	}
	msg := capture.msgs[0]
	if msg.Attributes["type"] != EventLinkRecommended || msg.Attributes["job_id"] != "job" {
		t.Fatalf("unexpected attributes %v", msg.Attributes)
	}

	var ev Event
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.CandidateID != "c1" || ev.Score == nil || *ev.Score != 82 || ev.OccurredAt.IsZero() {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestPubSubPublishWrapsErrors(t *testing.T) {
	p := &PubSub{publisher: &capturePublisher{err: errors.New("deadline")}, logger: zap.NewNop(), now: time.Now}
	if err := p.Publish(context.Background(), Event{Type: EventRunFailed}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestLogNotifier(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	n := NewLog(zap.New(core))

	_ = n.Publish(context.Background(), Event{Type: EventRunCompleted, RunID: "r1", Message: "12 fetched"})

	entries := logs.FilterMessage("event").All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["event"] != EventRunCompleted || fields["run_id"] != "r1" {
		t.Fatalf("unexpected fields %v", fields)
	}
	if _, ok := fields["candidate_id"]; ok {
		t.Fatalf("empty fields must be omitted")
	}
}
