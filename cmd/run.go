package cmd

import (
	"bufio"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/spigell/talent-sourcer/internal/batch"
	"github.com/spigell/talent-sourcer/internal/fetch"
	"github.com/spigell/talent-sourcer/internal/filtering"
	"github.com/spigell/talent-sourcer/internal/logger"
	"github.com/spigell/talent-sourcer/internal/models"
	"github.com/spigell/talent-sourcer/internal/sourcing"
)

const (
	PromptYes = "Yes"
	PromptNo  = "No"
)

var prompt = promptui.Select{
	Label: "Procced?",
	Items: []string{PromptYes, PromptNo},
}

var runCmd = &cobra.Command{
	Use:   "run [reference...]",
	Short: "Fetch, ingest and score the given profile references once",
	Run: func(cmd *cobra.Command, args []string) {
		run(cmd, args)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringP("job", "J", "", "yaml file with the job requirements candidates are scored against")
	runCmd.Flags().StringP("references-file", "r", "", "file with one profile reference per line")
	runCmd.Flags().String("intent", "", "free-form sourcing intent stored with the run")
	runCmd.Flags().Int("target-count", 0, "fetch at most this many references (0 means all)")
	runCmd.Flags().Float64("budget", 0, "budget ceiling for this run, overrides fetch.budget-ceiling")
	runCmd.Flags().BoolP("auto-approve", "y", false, "do not ask for confirmation before fetching")
	runCmd.Flags().StringP("exclude-file", "e", "", "special file with references to skip. Default is unset.")
	runCmd.Flags().Bool("append-exclude", false, "append the references of a completed run to the exclude file")

	viper.BindPFlag("filtering.exclude-file", runCmd.Flags().Lookup("exclude-file"))
}

// run sources the given references synchronously and reports the outcome.
func run(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}
	if config == nil {
		logger.Fatal("config is required")
	}

	logger.Info("starting the talent-sourcer", zap.String("version", version))

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(struct {
		Fetch   *FetchConfig   `json:"fetch"`
		Scoring *ScoringConfig `json:"scoring"`
	}{config.Fetch, config.Scoring}, "", "  ")
	logger.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	references, err := collectReferences(args, flagString(cmd, "references-file"))
	if err != nil {
		logger.Fatal("reading references", zap.Error(err))
	}

	references, err = prepareFilters(config.Filtering, logger).RunFilters(ctx, references)
	if err != nil {
		logger.Fatal("filtering failed", zap.Error(err))
	}
	if len(references) == 0 {
		logger.Info("exiting", zap.String("reason", "no references left after filters"))
		return
	}

	var job *models.Job
	if path := flagString(cmd, "job"); path != "" {
		job, err = loadJob(path)
		if err != nil {
			logger.Fatal("loading job", zap.Error(err))
		}
	}

	req := sourcing.Request{
		Intent:     flagString(cmd, "intent"),
		References: references,
	}
	req.TargetCount, _ = cmd.Flags().GetInt("target-count")
	req.Budget, _ = cmd.Flags().GetFloat64("budget")
	if job != nil {
		req.JobID = job.ID
	}

	if err := req.Validate(); err != nil {
		logger.Fatal("invalid request", zap.Error(err), zap.String("hint", "pass references as arguments or with --references-file"))
	}

	planned := sourcing.NewRun(req, time.Now())
	logPlan(logger, config, planned, job)

	auto, _ := cmd.Flags().GetBool("auto-approve")
	if !auto {
		_, action, err := prompt.Run()
		if err != nil {
			logger.Fatal("exiting", zap.Error(err))
		}
		if action != PromptYes {
			logger.Info("exiting", zap.String("reason", "got no from prompt"))
			return
		}
	}

	st, closeStore, err := openStore(ctx, config.Store, logger)
	if err != nil {
		logger.Fatal("opening store", zap.Error(err))
	}
	defer closeStore()

	runs, closeRuns, err := openRunStore(ctx, config.Store, st, logger)
	if err != nil {
		logger.Fatal("opening run store", zap.Error(err))
	}
	defer closeRuns()

	notifier, closeNotifier, err := newNotifier(ctx, config.Notify, logger)
	if err != nil {
		logger.Fatal("creating notifier", zap.Error(err))
	}
	defer closeNotifier()

	if job != nil {
		if err := st.SaveJob(ctx, job); err != nil {
			logger.Fatal("saving job", zap.Error(err))
		}
	}

	pipeline, err := newPipeline(ctx, config, runs, st, notifier, logger)
	if err != nil {
		logger.Fatal("building pipeline", zap.Error(err))
	}

	if err := runs.CreateRun(ctx, planned); err != nil {
		logger.Fatal("creating run", zap.Error(err))
	}

	if err := pipeline.Execute(ctx, planned); err != nil {
		logger.Error("run failed", zap.Error(err))
	}

	// The signal context may be done by now; the report still has to be read.
	reportCtx := context.WithoutCancel(ctx)
	if err := report(reportCtx, logger, runs, st, planned.ID); err != nil {
		logger.Fatal("reporting run", zap.Error(err))
	}

	if appendExclude, _ := cmd.Flags().GetBool("append-exclude"); appendExclude && planned.Status == models.RunStatusCompleted {
		if err := appendToExcludeFile(config.Filtering, planned); err != nil {
			logger.Fatal("appending to exclude file", zap.Error(err))
		}
		logger.Info("appended to exclude file", zap.String("filename", config.Filtering.ExcludeFile))
	}
}

func prepareFilters(cfg *FilteringConfig, logger *zap.Logger) *filtering.Filtering {
	if cfg == nil {
		cfg = &FilteringConfig{}
	}
	return filtering.New([]filtering.Filter{
		filtering.NewAllowedHosts(cfg.AllowedHosts, logger),
		filtering.NewExcludeFile(cfg.ExcludeFile, logger),
	}, logger)
}

func appendToExcludeFile(cfg *FilteringConfig, run *models.Run) error {
	if cfg == nil || cfg.ExcludeFile == "" {
		return errors.New("exclude file is not configured")
	}

	excluded, err := filtering.ReadExcludeFile(cfg.ExcludeFile)
	if err != nil {
		return err
	}
	excluded.Append(filtering.NewExcluded(run.ID, run.References, time.Now()))

	return excluded.ToFile(cfg.ExcludeFile)
}

type runReader interface {
	GetRun(ctx context.Context, runID string) (*models.Run, error)
}

type linkReader interface {
	ListLinks(ctx context.Context, jobID string) ([]*models.Link, error)
	GetCandidate(ctx context.Context, id string) (*models.Candidate, error)
}

// report logs the final run state and the links it produced, best first.
func report(ctx context.Context, logger *zap.Logger, runs runReader, links linkReader, runID string) error {
	stored, err := runs.GetRun(ctx, runID)
	if err != nil {
		return err
	}

	p := stored.Progress
	logger.Info("run finished",
		zap.String("run_id", stored.ID),
		zap.String("status", string(stored.Status)),
		zap.Int("fetched", p.Fetched),
		zap.Int("failed", p.Failed),
		zap.Int("created", p.Created),
		zap.Int("duplicates", p.Duplicates),
		zap.Int("scored", p.Scored),
		zap.Int("recommended", p.Recommended),
		zap.Float64("spent", stored.Cost.Spent),
		zap.String("message", p.Message),
	)

	if stored.JobID == "" {
		return nil
	}

	all, err := links.ListLinks(ctx, stored.JobID)
	if err != nil {
		return err
	}

	inRun := make(map[string]bool, len(stored.CandidateIDs))
	for _, id := range stored.CandidateIDs {
		inRun[id] = true
	}

	type line struct {
		Name   string            `json:"name"`
		Title  string            `json:"title"`
		Status models.LinkStatus `json:"status"`
		Score  *int              `json:"score,omitempty"`
		Reason string            `json:"reasoning,omitempty"`
	}

	lines := make([]line, 0, len(inRun))
	for _, l := range all {
		if !inRun[l.CandidateID] {
			continue
		}
		c, err := links.GetCandidate(ctx, l.CandidateID)
		if err != nil {
			logger.Warn("failed to load candidate", zap.String("candidate_id", l.CandidateID), zap.Error(err))
			continue
		}
		lines = append(lines, line{Name: c.FullName, Title: c.Title, Status: l.Status, Score: l.Score, Reason: l.Reasoning})
	}

	scoreOf := func(l line) int {
		if l.Score == nil {
			return -1
		}
		return *l.Score
	}
	slices.SortStableFunc(lines, func(a, b line) int {
		return cmp.Compare(scoreOf(b), scoreOf(a))
	})

	pretty, _ := json.MarshalIndent(lines, "", "  ")
	logger.Info(string(pretty), zap.Int("candidates count", len(lines)))
	return nil
}

func logPlan(logger *zap.Logger, config *Config, run *models.Run, job *models.Job) {
	size := 0
	cost := 0.0
	if config.Fetch != nil {
		size = config.Fetch.BatchSize
		cost = config.Fetch.CostPerProfile
	}
	if size < 1 {
		size = fetch.DefaultBatchSize
	}

	fields := []zap.Field{
		zap.Int("references", len(run.References)),
		zap.Int("batches", batch.Batches(len(run.References), size)),
		zap.Float64("estimated_cost", cost*float64(len(run.References))),
	}
	if job != nil {
		fields = append(fields, zap.String("job_id", job.ID), zap.String("job_title", job.Title))
	}

	logger.Info("sourcing plan", fields...)
}

// loadJob reads a job requirement file.
func loadJob(path string) (*models.Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read job file: %w", err)
	}

	var job models.Job
	if err := yaml.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decode job file %s: %w", path, err)
	}

	if strings.TrimSpace(job.ID) == "" {
		return nil, errors.New("job file must set id")
	}
	if strings.TrimSpace(job.Title) == "" {
		return nil, errors.New("job file must set title")
	}

	return &job, nil
}

// collectReferences merges positional references with the ones from a file.
// Blank lines and lines starting with # are skipped.
func collectReferences(args []string, path string) ([]string, error) {
	refs := append([]string(nil), args...)
	if path == "" {
		return refs, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open references file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		refs = append(refs, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read references file: %w", err)
	}

	return refs, nil
}

func flagString(cmd *cobra.Command, name string) string {
	if cmd == nil {
		return ""
	}
	v, _ := cmd.Flags().GetString(name)
	return strings.TrimSpace(v)
}
