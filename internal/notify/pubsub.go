package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

type PubSubConfig struct {
	ProjectID       string `mapstructure:"project-id"`
	Topic           string `mapstructure:"topic"`
	CredentialsFile string `mapstructure:"credentials-file"`
}

type publisher interface {
	publish(ctx context.Context, msg *pubsub.Message) error
}

type topicPublisher struct {
	topic *pubsub.Topic
}

func (t topicPublisher) publish(ctx context.Context, msg *pubsub.Message) error {
	_, err := t.topic.Publish(ctx, msg).Get(ctx)
	return err
}

// PubSub publishes events as JSON messages. The event type goes into the
// "type" attribute so subscribers can filter.
type PubSub struct {
	client    *pubsub.Client
	topic     *pubsub.Topic
	publisher publisher
	logger    *zap.Logger
	now       func() time.Time
}

func NewPubSub(ctx context.Context, cfg PubSubConfig, logger *zap.Logger) (*PubSub, error) {
	if cfg.ProjectID == "" || cfg.Topic == "" {
		return nil, errors.New("pubsub project id and topic are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}

	topic := client.Topic(cfg.Topic)
	return &PubSub{
		client:    client,
		topic:     topic,
		publisher: topicPublisher{topic: topic},
		logger:    logger,
		now:       time.Now,
	}, nil
}

func (p *PubSub) Publish(ctx context.Context, ev Event) error {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = p.now().UTC()
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	attrs := map[string]string{"type": ev.Type}
	if ev.RunID != "" {
		attrs["run_id"] = ev.RunID
	}
	if ev.JobID != "" {
		attrs["job_id"] = ev.JobID
	}

	if err := p.publisher.publish(ctx, &pubsub.Message{Data: data, Attributes: attrs}); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	p.logger.Debug("event published", zap.String("event", ev.Type))
	return nil
}

func (p *PubSub) Close() error {
	if p.topic != nil {
		p.topic.Stop()
	}
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}
