package cmd

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/talent-sourcer/internal/ai"
	"github.com/spigell/talent-sourcer/internal/ai/gemini"
	"github.com/spigell/talent-sourcer/internal/fetch"
	"github.com/spigell/talent-sourcer/internal/gate"
	"github.com/spigell/talent-sourcer/internal/ingest"
	"github.com/spigell/talent-sourcer/internal/logger"
	"github.com/spigell/talent-sourcer/internal/notify"
	"github.com/spigell/talent-sourcer/internal/provider"
	"github.com/spigell/talent-sourcer/internal/scoring"
	"github.com/spigell/talent-sourcer/internal/secrets"
	"github.com/spigell/talent-sourcer/internal/sourcing"
	"github.com/spigell/talent-sourcer/internal/store"
	"github.com/spigell/talent-sourcer/internal/store/firestore"
	"github.com/spigell/talent-sourcer/internal/store/memory"
	"github.com/spigell/talent-sourcer/internal/store/postgres"
)

func noop() error { return nil }

// openStore returns the configured store and its close function.
func openStore(ctx context.Context, cfg *StoreConfig, logger *zap.Logger) (store.Store, func() error, error) {
	driver := "memory"
	if cfg != nil && cfg.Driver != "" {
		driver = strings.ToLower(strings.TrimSpace(cfg.Driver))
	}

	switch driver {
	case "memory":
		logger.Warn("using in-memory store, nothing survives a restart")
		return memory.New(), noop, nil
	case "postgres":
		pg, err := postgres.Open(ctx, cfg.Postgres, logger.With(zap.String("store", "postgres")))
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported store driver: %s", cfg.Driver)
	}
}

// openRunStore moves run records to Firestore when it is configured. The
// fallback keeps runs next to candidates otherwise.
func openRunStore(ctx context.Context, cfg *StoreConfig, fallback store.RunStore, logger *zap.Logger) (store.RunStore, func() error, error) {
	if cfg == nil || cfg.Firestore == nil || cfg.Firestore.ProjectID == "" {
		return fallback, noop, nil
	}

	fs, err := firestore.New(ctx, *cfg.Firestore, logger.With(zap.String("store", "firestore")))
	if err != nil {
		return nil, nil, err
	}
	return fs, fs.Close, nil
}

func newNotifier(ctx context.Context, cfg *NotifyConfig, logger *zap.Logger) (notify.Notifier, func() error, error) {
	driver := "log"
	if cfg != nil && cfg.Driver != "" {
		driver = strings.ToLower(strings.TrimSpace(cfg.Driver))
	}

	switch driver {
	case "none":
		return notify.Discard{}, noop, nil
	case "log":
		return notify.NewLog(logger), noop, nil
	case "pubsub":
		ps, err := notify.NewPubSub(ctx, cfg.PubSub, logger.With(zap.String("notifier", "pubsub")))
		if err != nil {
			return nil, nil, err
		}
		return ps, ps.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported notify driver: %s", cfg.Driver)
	}
}

func newProviderClient(cfg *ProviderConfig, log *zap.Logger) (*provider.Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("provider configuration is required")
	}

	token, err := secrets.Load(secrets.Source{
		Name:  "provider token",
		File:  cfg.TokenFile,
		Value: cfg.Token,
	})
	if err != nil {
		return nil, fmt.Errorf("%w (set provider.token-file or SOURCER_PROVIDER_TOKEN)", err)
	}

	return provider.New(provider.Config{
		APIURL:            cfg.APIURL,
		DatasetID:         cfg.DatasetID,
		Token:             token,
		UserAgent:         cfg.UserAgent,
		Timeout:           cfg.Timeout,
		PollInterval:      cfg.PollInterval,
		MaxPollAttempts:   cfg.MaxPollAttempts,
		RequestsPerSecond: cfg.RequestsPerSecond,
	}, logger.WithCommonFields(log, provider.Name, ""))
}

func newAssessor(ctx context.Context, cfg *AIConfig, log *zap.Logger) (ai.Assessor, error) {
	if cfg == nil || cfg.Gemini == nil {
		return nil, fmt.Errorf("gemini configuration is required")
	}

	name := strings.TrimSpace(strings.ToLower(cfg.Provider))
	if name != "" && name != "gemini" {
		return nil, fmt.Errorf("unsupported ai provider: %s", cfg.Provider)
	}

	apiKey, err := secrets.Load(secrets.Source{
		Name:  "gemini api key",
		File:  cfg.Gemini.APIKeyFile,
		Value: cfg.Gemini.APIKey,
		Env:   "GEMINI_API_KEY",
	})
	if err != nil {
		return nil, fmt.Errorf("%w (set ai.gemini.api-key-file or GEMINI_API_KEY)", err)
	}

	genLogger := logger.WithCommonFields(log, "gemini", cfg.Gemini.Model).With(
		zap.Int("ai_retry_attempts", cfg.Gemini.MaxRetries),
	)

	generator, err := gemini.NewGenerator(ctx, gemini.Config{
		APIKey:     apiKey,
		Model:      cfg.Gemini.Model,
		MaxRetries: cfg.Gemini.MaxRetries,
	}, genLogger)
	if err != nil {
		return nil, err
	}

	return gemini.NewAssessor(generator, logger.WithCommonFields(log, "gemini", generator.Model()), cfg.Gemini.MaxLogLength), nil
}

// newPipeline assembles every stage of a sourcing run from the config.
func newPipeline(ctx context.Context, config *Config, runs store.RunStore, st store.Store, notifier notify.Notifier, log *zap.Logger) (*sourcing.Pipeline, error) {
	client, err := newProviderClient(config.Provider, log)
	if err != nil {
		return nil, fmt.Errorf("building provider client: %w", err)
	}

	assessor, err := newAssessor(ctx, config.AI, log)
	if err != nil {
		return nil, fmt.Errorf("building assessor: %w", err)
	}

	fetchCfg := config.Fetch
	if fetchCfg == nil {
		fetchCfg = &FetchConfig{}
	}
	scoringCfg := config.Scoring
	if scoringCfg == nil {
		scoringCfg = &ScoringConfig{}
	}

	coordinator := fetch.NewCoordinator(client, fetch.CoordinatorConfig{
		MaxRetries: fetchCfg.MaxRetries,
		BaseDelay:  fetchCfg.BaseDelay,
		MaxDelay:   fetchCfg.MaxDelay,
	}, log)

	threshold := scoringCfg.GateThreshold
	if threshold <= 0 {
		threshold = gate.DefaultThreshold
	}

	return sourcing.NewPipeline(sourcing.Deps{
		Runs: runs,
		Jobs: st,
		Scheduler: fetch.NewScheduler(coordinator, fetch.SchedulerConfig{
			BatchSize: fetchCfg.BatchSize,
			Delay:     fetchCfg.InterBatchDelay,
		}, log),
		Ingester: ingest.New(st, log),
		Engine: scoring.NewEngine(assessor, scoring.Config{
			Concurrency: scoringCfg.Concurrency,
			Delay:       scoringCfg.Delay,
		}, log),
		Linker:   gate.NewLinker(st, notifier, threshold, log),
		Notifier: notifier,
	}, sourcing.Config{
		CostPerProfile: fetchCfg.CostPerProfile,
		BudgetCeiling:  fetchCfg.BudgetCeiling,
	}, log), nil
}
