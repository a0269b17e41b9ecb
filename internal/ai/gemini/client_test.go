package gemini

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

type fakeResponse struct {
	resp *genai.GenerateContentResponse
	err  error
}

type callRecord struct {
	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig
}

type fakeModels struct {
	mu    sync.Mutex
	calls []callRecord
	queue []fakeResponse
}

func (f *fakeModels) enqueue(resp *genai.GenerateContentResponse, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, fakeResponse{resp: resp, err: err})
}

func (f *fakeModels) GenerateContent(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, callRecord{model: model, contents: contents, config: config})
	if len(f.queue) == 0 {
		return nil, errors.New("unexpected call")
	}
	res := f.queue[0]
	f.queue = f.queue[1:]
	return res.resp, res.err
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{Text: text}}},
		}},
	}
}

func newTestGenerator(m *fakeModels, retries int) *Generator {
	return &Generator{
		models:     m,
		model:      "gemini-pro",
		maxRetries: retries,
		logger:     zap.NewNop(),
		wait:       func(context.Context, time.Duration) error { return nil },
	}
}

func TestGeneratorRetriesOnTemporaryError(t *testing.T) {
	m := &fakeModels{}
	m.enqueue(nil, genai.APIError{Code: http.StatusInternalServerError, Status: "INTERNAL"})
	m.enqueue(textResponse("retry ok"), nil)

	output, err := newTestGenerator(m, 2).GenerateContent(context.Background(), "system", "message")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if output != "retry ok" {
		t.Fatalf("unexpected output: %q", output)
	}
	if len(m.calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(m.calls))
	}

	for _, call := range m.calls {
		if call.model != "gemini-pro" {
			t.Fatalf("unexpected model %q", call.model)
		}
		if call.config == nil || call.config.SystemInstruction == nil {
			t.Fatalf("expected system instruction to be set")
		}
		if got := call.config.SystemInstruction.Parts[0].Text; got != "system" {
			t.Fatalf("unexpected system instruction: %q", got)
		}
		if call.config.ResponseMIMEType != "application/json" {
			t.Fatalf("expected json response type")
		}
	}
}

func TestGeneratorStopsAfterRetriesExhausted(t *testing.T) {
	m := &fakeModels{}
	tempErr := genai.APIError{Code: http.StatusServiceUnavailable, Status: "UNAVAILABLE"}
	m.enqueue(nil, tempErr)
	m.enqueue(nil, tempErr)

	_, err := newTestGenerator(m, 2).GenerateContent(context.Background(), "sys", "msg")
	if err == nil {
		t.Fatal("expected error after retries exhausted")
	}
	if len(m.calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(m.calls))
	}
}

func TestGeneratorDoesNotRetryOnLongQuotaDelay(t *testing.T) {
	m := &fakeModels{}
	m.enqueue(nil, genai.APIError{
		Code:    http.StatusTooManyRequests,
		Status:  "RESOURCE_EXHAUSTED",
		Message: "quota exhausted, retry after 60 seconds",
	})

	_, err := newTestGenerator(m, 3).GenerateContent(context.Background(), "sys", "msg")
	if err == nil {
		t.Fatal("expected error when quota delay too long")
	}
	if len(m.calls) != 1 {
		t.Fatalf("expected single call, got %d", len(m.calls))
	}
}

func TestGeneratorDoesNotRetryClientErrors(t *testing.T) {
	m := &fakeModels{}
	m.enqueue(nil, genai.APIError{Code: http.StatusBadRequest, Status: "INVALID_ARGUMENT"})

	if _, err := newTestGenerator(m, 3).GenerateContent(context.Background(), "", "msg"); err == nil {
		t.Fatal("expected error")
	}
	if len(m.calls) != 1 {
		t.Fatalf("expected single call, got %d", len(m.calls))
	}
	if m.calls[0].config.SystemInstruction != nil {
		t.Fatalf("empty system prompt must not be sent")
	}
}

func TestGeneratorRejectsEmptyResponse(t *testing.T) {
	m := &fakeModels{}
	m.enqueue(&genai.GenerateContentResponse{}, nil)

	if _, err := newTestGenerator(m, 1).GenerateContent(context.Background(), "", "msg"); err == nil {
		t.Fatal("expected error for empty response")
	}
}

func TestRetryDelay(t *testing.T) {
	if d, ok := retryDelay(genai.APIError{Code: 429, Message: "Please retry in 5s"}, 1); !ok || d != 5*time.Second {
		t.Fatalf("expected 5s retry, got %v %v", d, ok)
	}
	if d, ok := retryDelay(genai.APIError{Code: 500}, 3); !ok || d != 8*time.Second {
		t.Fatalf("expected 8s backoff, got %v %v", d, ok)
	}
	if _, ok := retryDelay(errors.New("plain"), 1); ok {
		t.Fatalf("plain errors are not retried")
	}
}
