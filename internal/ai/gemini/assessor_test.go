package gemini

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/spigell/talent-sourcer/internal/models"
)

type stubGenerator struct {
	response   string
	err        error
	lastSystem string
	lastPrompt string
}

func (s *stubGenerator) GenerateContent(_ context.Context, system, prompt string) (string, error) {
	s.lastSystem = system
	s.lastPrompt = prompt
	if s.err != nil {
		return "", s.err
	}
	return s.response, nil
}

func (s *stubGenerator) Model() string {
	return "stub-model"
}

func testJob() *models.Job {
	return &models.Job{
		ID:    "job-1",
		Title: "Senior Go Engineer",
		NAP:   models.NAP{Need: "Scale the billing platform", Authority: "VP Engineering", Pain: "Outages during peak"},
	}
}

func TestAssessorAssess(t *testing.T) {
	stub := &stubGenerator{response: "```json\n{\"score\": 82, \"reasoning\": \"Strong backend record\", \"strengths\": [\"Go\", \"Kafka\"], \"concerns\": \"No fintech\"}\n```"}
	assessor := NewAssessor(stub, zap.NewNop(), 0)

	candidate := &models.Candidate{ID: "c1", Title: "Backend Engineer", Email: "secret@example.com", Skills: []string{"Go"}}
	got, err := assessor.Assess(context.Background(), candidate, testJob())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.Score != 82 {
		t.Fatalf("expected score 82, got %d", got.Score)
	}
	if got.Reasoning != "Strong backend record" {
		t.Fatalf("unexpected reasoning: %q", got.Reasoning)
	}
	if len(got.Strengths) != 2 || len(got.Concerns) != 1 {
		t.Fatalf("unexpected strengths/concerns: %v / %v", got.Strengths, got.Concerns)
	}

	if !strings.Contains(stub.lastPrompt, "Scale the billing platform") {
		t.Fatalf("expected NAP context in prompt")
	}
	if strings.Contains(stub.lastPrompt, "secret@example.com") {
		t.Fatalf("contact details must not be sent to the model")
	}
	if stub.lastSystem == "" {
		t.Fatalf("expected system instruction")
	}
}

func TestParseResponseScores(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want int
	}{
		{"integer", `{"score": 55}`, 55},
		{"string", `{"score": "71"}`, 71},
		{"percent", `{"score": "64%"}`, 64},
		{"one is a poor fit", `{"score": 1}`, 1},
		{"fractional value is rounded", `{"score": 0.9}`, 1},
		{"half", `{"score": 49.5}`, 50},
		{"clamped", `{"score": 140}`, 100},
		{"negative", `{"score": -3}`, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseResponse(tc.raw)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Score != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, got.Score)
			}
		})
	}
}

func TestParseResponseRejectsMissingScore(t *testing.T) {
	if _, err := parseResponse(`{"reasoning": "n/a"}`); err == nil {
		t.Fatalf("expected error without score")
	}
	if _, err := parseResponse(`not json`); err == nil {
		t.Fatalf("expected error for invalid json")
	}
}

func TestAssessorPropagatesModelErrors(t *testing.T) {
	boom := errors.New("quota")
	assessor := NewAssessor(&stubGenerator{err: boom}, nil, 0)
	if _, err := assessor.Assess(context.Background(), &models.Candidate{}, testJob()); !errors.Is(err, boom) {
		t.Fatalf("expected model error, got %v", err)
	}
}
