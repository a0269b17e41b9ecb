package gemini

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/spigell/talent-sourcer/internal/ai"
	"github.com/spigell/talent-sourcer/internal/models"
	"github.com/spigell/talent-sourcer/internal/utils"
)

type contentGenerator interface {
	GenerateContent(ctx context.Context, system, message string) (string, error)
	Model() string
}

//go:embed prompt.md
var promptTemplate string

const (
	defaultMaxLogLength = 200
	systemInstruction   = "You score candidates for open roles and answer with JSON only."
)

// Assessor asks Gemini for a 0 to 100 fit score with a narrative.
type Assessor struct {
	generator contentGenerator
	logger    *zap.Logger
	maxLogLen int
}

var _ ai.Assessor = (*Assessor)(nil)

func NewAssessor(generator contentGenerator, logger *zap.Logger, maxLogLength int) *Assessor {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Assessor{
		generator: generator,
		logger:    logger,
		maxLogLen: maxLogLength,
	}
}

type candidatePayload struct {
	Title           string   `json:"title"`
	Headline        string   `json:"headline"`
	Company         string   `json:"company"`
	Location        string   `json:"location"`
	Skills          []string `json:"skills"`
	ExperienceYears float64  `json:"experience_years"`
	Summary         string   `json:"summary"`
}

func (a *Assessor) Assess(ctx context.Context, candidate *models.Candidate, job *models.Job) (*ai.Assessment, error) {
	if candidate == nil {
		return nil, errors.New("candidate is required")
	}
	if job == nil {
		return nil, errors.New("job is required")
	}

	// Contact details never leave the store.
	candidateJSON, err := json.MarshalIndent(candidatePayload{
		Title:           candidate.Title,
		Headline:        candidate.Headline,
		Company:         candidate.Company,
		Location:        candidate.Location,
		Skills:          candidate.Skills,
		ExperienceYears: candidate.ExperienceYears,
		Summary:         candidate.Summary,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal candidate payload: %w", err)
	}

	jobJSON, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal job payload: %w", err)
	}

	prompt := buildPrompt(string(candidateJSON), string(jobJSON))

	a.logger.Debug("gemini generate content request",
		zap.String("candidate_id", candidate.ID),
		zap.String("job_id", job.ID),
		zap.String("ai_model", a.generator.Model()),
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
		zap.String("prompt_preview", utils.TruncateForLog(prompt, a.maxLogLen)),
	)

	raw, err := a.generator.GenerateContent(ctx, systemInstruction, prompt)
	if err != nil {
		return nil, err
	}

	a.logger.Debug("gemini generate content response",
		zap.String("candidate_id", candidate.ID),
		zap.String("job_id", job.ID),
		zap.Int("response_length", utf8.RuneCountInString(raw)),
		zap.String("response_preview", utils.TruncateForLog(raw, a.maxLogLen)),
	)

	assessment, err := parseResponse(raw)
	if err != nil {
		return nil, err
	}
	assessment.Raw = raw

	return assessment, nil
}

func buildPrompt(candidateJSON, jobJSON string) string {
	template := promptTemplate
	if strings.TrimSpace(template) == "" {
		template = "Job:\n{{JOB_JSON}}\n\nCandidate:\n{{CANDIDATE_JSON}}\n\nJSON Response:"
	}
	prompt := strings.ReplaceAll(template, "{{JOB_JSON}}", jobJSON)
	prompt = strings.ReplaceAll(prompt, "{{CANDIDATE_JSON}}", candidateJSON)
	return prompt
}

func parseResponse(raw string) (*ai.Assessment, error) {
	cleaned := extractJSON(raw)

	var data map[string]any
	if err := json.Unmarshal([]byte(cleaned), &data); err != nil {
		return nil, fmt.Errorf("parse gemini response: %w", err)
	}

	score := coerceFloat(data["score"])
	if math.IsNaN(score) {
		return nil, errors.New("gemini response has no score")
	}
	// The prompt pins the scale to 0..100, so 1 means a poor fit, not 100%.
	score = math.Max(0, math.Min(100, score))

	return &ai.Assessment{
		Score:     int(math.Round(score)),
		Reasoning: coerceString(data["reasoning"]),
		Strengths: coerceStrings(data["strengths"]),
		Concerns:  coerceStrings(data["concerns"]),
	}, nil
}

func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(raw)
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	raw = strings.Trim(raw, "`")
	return strings.TrimSpace(raw)
}

func coerceFloat(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case int:
		return float64(val)
	case string:
		trimmed := strings.TrimSuffix(strings.TrimSpace(val), "%")
		if trimmed == "" {
			return math.NaN()
		}
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return math.NaN()
		}
		return f
	default:
		return math.NaN()
	}
}

func coerceString(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case fmt.Stringer:
		return strings.TrimSpace(val.String())
	default:
		if v == nil {
			return ""
		}
		bytes, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(bytes)
	}
}

func coerceStrings(v any) []string {
	switch val := v.(type) {
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s := coerceString(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if s := strings.TrimSpace(val); s != "" {
			return []string{s}
		}
	}
	return nil
}
