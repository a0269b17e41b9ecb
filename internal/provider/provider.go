package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/spigell/talent-sourcer/internal/utils"
)

const (
	Name = "brightdata"

	defaultAPIURL          = "https://api.brightdata.com/datasets/v3"
	defaultUserAgent       = "spigell/talent-sourcer"
	defaultTimeout         = 30 * time.Second
	defaultPollInterval    = 5 * time.Second
	defaultMaxPollAttempts = 24
)

// Config is the explicit construction input of the client. Nothing is read from the environment.
type Config struct {
	APIURL            string
	DatasetID         string
	Token             string
	UserAgent         string
	Timeout           time.Duration
	PollInterval      time.Duration
	MaxPollAttempts   int
	RequestsPerSecond float64
}

// Client talks to the scraping provider. A profile is fetched by triggering an
// asynchronous snapshot and polling it until it is ready, failed or out of attempts.
type Client struct {
	token           string
	datasetID       string
	logger          *zap.Logger
	limiter         *rate.Limiter
	pollInterval    time.Duration
	maxPollAttempts int
	wait            func(context.Context, time.Duration) error

	HTTPClient *http.Client
	UserAgent  string
	APIURL     string
}

func New(cfg Config, logger *zap.Logger) (*Client, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("provider token is required")
	}
	if strings.TrimSpace(cfg.DatasetID) == "" {
		return nil, errors.New("provider dataset id is required")
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Client{
		token:           token,
		datasetID:       strings.TrimSpace(cfg.DatasetID),
		logger:          logger,
		limiter:         rate.NewLimiter(rate.Inf, 1),
		pollInterval:    cfg.PollInterval,
		maxPollAttempts: cfg.MaxPollAttempts,
		wait:            utils.WaitFor,
		HTTPClient:      &http.Client{Timeout: cfg.Timeout},
		UserAgent:       cfg.UserAgent,
		APIURL:          strings.TrimRight(cfg.APIURL, "/"),
	}

	if c.APIURL == "" {
		c.APIURL = defaultAPIURL
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	if c.HTTPClient.Timeout <= 0 {
		c.HTTPClient.Timeout = defaultTimeout
	}
	if c.pollInterval <= 0 {
		c.pollInterval = defaultPollInterval
	}
	if c.maxPollAttempts <= 0 {
		c.maxPollAttempts = defaultMaxPollAttempts
	}
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return c, nil
}

// Fetch resolves one profile reference. Returned errors are classified, see IsTerminal.
func (c *Client) Fetch(ctx context.Context, reference string) (*Profile, error) {
	if err := validateReference(reference); err != nil {
		return nil, err
	}

	snapshotID, err := c.trigger(ctx, reference)
	if err != nil {
		return nil, err
	}

	log := c.logger.With(zap.String("reference", reference), zap.String("snapshot_id", snapshotID))

	for attempt := 1; attempt <= c.maxPollAttempts; attempt++ {
		snap, err := c.poll(ctx, snapshotID)
		if err != nil {
			return nil, err
		}

		switch snap.State {
		case SnapshotReady:
			return c.profileFrom(snap, reference)
		case SnapshotFailed:
			return nil, classifyMessage("", snap.Message)
		}

		log.Debug("snapshot is not ready yet", zap.Int("attempt", attempt), zap.Int("max_attempts", c.maxPollAttempts))

		if attempt == c.maxPollAttempts {
			break
		}
		if err := c.wait(ctx, c.pollInterval); err != nil {
			return nil, err
		}
	}

	return nil, &Error{Kind: ErrPollTimeout, Message: fmt.Sprintf("snapshot %s after %d polls", snapshotID, c.maxPollAttempts)}
}

func (c *Client) profileFrom(snap *Snapshot, reference string) (*Profile, error) {
	if len(snap.Records) == 0 {
		return nil, &Error{Kind: ErrInvalidReference, Message: "provider returned no records for " + reference}
	}

	record := snap.Records[0]
	if err := recordError(record); err != nil {
		return nil, err
	}

	profile, err := DecodeProfile(record)
	if err != nil {
		// The profile is still usable, ingestion fills the gaps.
		c.logger.Warn("profile decoded partially", zap.String("reference", reference), zap.Error(err))
	}
	if profile.InputURL == "" {
		profile.InputURL = reference
	}

	return profile, nil
}

func validateReference(reference string) error {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return &Error{Kind: ErrInvalidReference, Message: "empty reference"}
	}

	u, err := url.Parse(reference)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &Error{Kind: ErrInvalidReference, Message: reference}
	}

	return nil
}
