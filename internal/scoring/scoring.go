// Package scoring computes the fit score of a candidate for a job.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/talent-sourcer/internal/ai"
	"github.com/spigell/talent-sourcer/internal/batch"
	"github.com/spigell/talent-sourcer/internal/models"
)

type Strategy string

const (
	// StrategyRubric takes the final score from the deterministic rubric.
	StrategyRubric Strategy = "rubric"
	// StrategyModel takes the final score from the reasoning model.
	StrategyModel Strategy = "model"

	DefaultConcurrency = 4
)

// Result is the outcome of scoring one candidate. Score is 0 to 100.
type Result struct {
	Score      int
	Strategy   Strategy
	Rubric     *float64
	Breakdown  *Breakdown
	ModelScore *int
	Reasoning  string
	Strengths  []string
	Concerns   []string
}

type Config struct {
	Concurrency int
	Delay       time.Duration
}

type Engine struct {
	assessor    ai.Assessor
	logger      *zap.Logger
	concurrency int
	delay       time.Duration
	wait        func(context.Context, time.Duration) error
}

func NewEngine(assessor ai.Assessor, cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	return &Engine{
		assessor:    assessor,
		logger:      logger,
		concurrency: concurrency,
		delay:       cfg.Delay,
	}
}

func (e *Engine) Concurrency() int {
	return e.concurrency
}

// Score always consults the model for the narrative. The rubric decides the
// number whenever it is computable.
func (e *Engine) Score(ctx context.Context, c *models.Candidate, job *models.Job) (*Result, error) {
	if c == nil || job == nil {
		return nil, errors.New("candidate and job are required")
	}
	if e.assessor == nil {
		return nil, errors.New("no assessor configured")
	}

	assessment, err := e.assessor.Assess(ctx, c, job)
	if err != nil {
		return nil, fmt.Errorf("assess candidate %s: %w", c.ID, err)
	}

	modelScore := clamp(assessment.Score)
	res := &Result{
		Score:      modelScore,
		Strategy:   StrategyModel,
		ModelScore: &modelScore,
		Reasoning:  assessment.Reasoning,
		Strengths:  assessment.Strengths,
		Concerns:   assessment.Concerns,
	}

	if b, ok := Rubric(c, job); ok {
		total := round1(b.Total())
		res.Rubric = &total
		res.Breakdown = &b
		res.Score = clamp(int(math.Round(total * 10)))
		res.Strategy = StrategyRubric
	}

	e.logger.Debug("candidate scored",
		zap.String("candidate_id", c.ID),
		zap.String("strategy", string(res.Strategy)),
		zap.Int("score", res.Score),
		zap.Int("model_score", modelScore),
	)

	return res, nil
}

// Scored pairs a candidate with its result or error.
type Scored struct {
	Candidate *models.Candidate
	Result    *Result
	Err       error
}

// ScoreAll scores candidates in batches of the configured concurrency. A failed
// candidate never stops the others.
func (e *Engine) ScoreAll(ctx context.Context, candidates []*models.Candidate, job *models.Job, report func(batch.Report)) []Scored {
	summary := batch.Run(ctx, candidates, batch.Options{
		Size:   e.concurrency,
		Delay:  e.delay,
		Report: report,
	}.WithWait(e.wait), func(ctx context.Context, c *models.Candidate) (Scored, bool) {
		res, err := e.Score(ctx, c, job)
		if err != nil {
			e.logger.Warn("failed to score candidate", zap.String("candidate_id", c.ID), zap.Error(err))
		}
		return Scored{Candidate: c, Result: res, Err: err}, err == nil
	})

	return summary.Results[:summary.Attempted]
}

func clamp(v int) int {
	return max(0, min(100, v))
}
