// Package fetch retries single profile fetches and drives them in batches.
package fetch

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/talent-sourcer/internal/provider"
	"github.com/spigell/talent-sourcer/internal/utils"
)

const (
	defaultBaseDelay = time.Second
	defaultMaxDelay  = 30 * time.Second
)

type Fetcher interface {
	Fetch(ctx context.Context, reference string) (*provider.Profile, error)
}

// Result is the outcome of one reference. Retries counts attempts after the first.
type Result struct {
	Reference string
	Success   bool
	Profile   *provider.Profile
	Err       error
	Retries   int
}

type Coordinator struct {
	fetcher    Fetcher
	logger     *zap.Logger
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	wait       func(context.Context, time.Duration) error
}

type CoordinatorConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func NewCoordinator(fetcher Fetcher, cfg CoordinatorConfig, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coordinator{
		fetcher:    fetcher,
		logger:     logger,
		maxRetries: max(cfg.MaxRetries, 0),
		baseDelay:  cfg.BaseDelay,
		maxDelay:   cfg.MaxDelay,
		wait:       utils.WaitFor,
	}
	if c.baseDelay <= 0 {
		c.baseDelay = defaultBaseDelay
	}
	if c.maxDelay <= 0 {
		c.maxDelay = defaultMaxDelay
	}
	return c
}

// Fetch tries the reference up to MaxRetries+1 times. Terminal provider errors
// end the attempts at once.
func (c *Coordinator) Fetch(ctx context.Context, reference string) Result {
	res := Result{Reference: reference}
	log := c.logger.With(zap.String("reference", reference))

	for attempt := 0; ; attempt++ {
		profile, err := c.fetcher.Fetch(ctx, reference)
		if err == nil {
			res.Success = true
			res.Profile = profile
			res.Err = nil
			return res
		}
		res.Err = err

		if provider.IsTerminal(err) {
			log.Warn("profile fetch failed permanently", zap.Int("retries", res.Retries), zap.Error(err))
			return res
		}
		if ctx.Err() != nil || attempt >= c.maxRetries {
			log.Warn("profile fetch failed", zap.Int("retries", res.Retries), zap.Error(err))
			return res
		}

		delay := c.backoff(attempt)
		log.Debug("retry profile fetch", zap.Int("attempt", attempt+1), zap.Duration("delay", delay), zap.Error(err))
		if err := c.wait(ctx, delay); err != nil {
			return res
		}
		res.Retries++
	}
}

func (c *Coordinator) backoff(attempt int) time.Duration {
	delay := c.baseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	return min(delay, c.maxDelay)
}
