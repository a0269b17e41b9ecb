package sourcing

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/talent-sourcer/internal/models"
	"github.com/spigell/talent-sourcer/internal/store/memory"
)

// blockingRunner holds every run until released or cancelled.
type blockingRunner struct {
	started chan string
	release chan struct{}
	ended   chan error
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{
		started: make(chan string, 8),
		release: make(chan struct{}),
		ended:   make(chan error, 8),
	}
}

func (b *blockingRunner) Execute(ctx context.Context, run *models.Run) error {
	b.started <- run.ID
	select {
	case <-b.release:
		b.ended <- nil
		return nil
	case <-ctx.Done():
		b.ended <- ctx.Err()
		return ctx.Err()
	}
}

func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out")
	}
	var zero T
	return zero
}

func TestExecutorSubmitReturnsImmediately(t *testing.T) {
	st := memory.New()
	r := newBlockingRunner()
	e := NewExecutor(r, st, ExecutorConfig{Workers: 1, QueueSize: 4}, zap.NewNop())
	e.Start(context.Background())

	run, err := e.Submit(context.Background(), Request{References: []string{"https://example.com/in/a"}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	stored, err := st.GetRun(context.Background(), run.ID)
	if err != nil || stored.Status != models.RunStatusQueued {
		t.Fatalf("run must be persisted as queued: %+v %v", stored, err)
	}

	if id := waitFor(t, r.started); id != run.ID {
		t.Fatalf("unexpected run started %s", id)
	}
	close(r.release)
	if err := waitFor(t, r.ended); err != nil {
		t.Fatalf("unexpected run error %v", err)
	}

	if err := e.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestExecutorCancel(t *testing.T) {
	r := newBlockingRunner()
	e := NewExecutor(r, memory.New(), ExecutorConfig{Workers: 1}, nil)
	e.Start(context.Background())
	defer func() { _ = e.Shutdown(context.Background()) }()

	run, err := e.Submit(context.Background(), Request{References: []string{"https://example.com/in/a"}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitFor(t, r.started)

	if err := e.Cancel(run.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := waitFor(t, r.ended); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}

	if err := e.Cancel("unknown"); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
}

func TestExecutorFullQueueFailsRun(t *testing.T) {
	st := memory.New()
	r := newBlockingRunner()
	e := NewExecutor(r, st, ExecutorConfig{Workers: 1, QueueSize: 1}, nil)
	e.Start(context.Background())
	defer func() {
		close(r.release)
		_ = e.Shutdown(context.Background())
	}()

	req := Request{References: []string{"https://example.com/in/a"}}
	if _, err := e.Submit(context.Background(), req); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	waitFor(t, r.started)
	if _, err := e.Submit(context.Background(), req); err != nil {
		t.Fatalf("second submit: %v", err)
	}

	run, err := e.Submit(context.Background(), req)
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	stored, _ := st.GetRun(context.Background(), run.ID)
	if stored.Status != models.RunStatusFailed || stored.FinishedAt == nil {
		t.Fatalf("rejected run must be failed: %+v", stored)
	}
}

func TestExecutorRejectsInvalidRequests(t *testing.T) {
	e := NewExecutor(newBlockingRunner(), memory.New(), ExecutorConfig{}, nil)

	if _, err := e.Submit(context.Background(), Request{References: []string{"https://example.com/in/a"}}); !errors.Is(err, ErrExecutorState) {
		t.Fatalf("expected ErrExecutorState before start, got %v", err)
	}

	e.Start(context.Background())
	defer func() { _ = e.Shutdown(context.Background()) }()
	if _, err := e.Submit(context.Background(), Request{}); !errors.Is(err, ErrNoReferences) {
		t.Fatalf("expected ErrNoReferences, got %v", err)
	}
}

// mutatingRunner changes the run the way the pipeline does.
type mutatingRunner struct {
	done chan struct{}
}

func (m *mutatingRunner) Execute(_ context.Context, run *models.Run) error {
	run.Status = models.RunStatusRunning
	run.CandidateIDs = append(run.CandidateIDs, "c-1")
	run.Errors = append(run.Errors, "p1: not found")
	close(m.done)
	return nil
}

func TestExecutorSubmitReturnsDetachedRun(t *testing.T) {
	r := &mutatingRunner{done: make(chan struct{})}
	e := NewExecutor(r, memory.New(), ExecutorConfig{Workers: 1}, nil)
	e.Start(context.Background())
	defer func() { _ = e.Shutdown(context.Background()) }()

	run, err := e.Submit(context.Background(), Request{References: []string{"https://example.com/in/a"}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	// Read while the worker may still be writing.
	if run.Status != models.RunStatusQueued || run.ID == "" {
		t.Fatalf("expected a queued run, got %+v", run)
	}

	waitFor(t, r.done)
	if run.Status != models.RunStatusQueued || len(run.CandidateIDs) != 0 || len(run.Errors) != 0 {
		t.Fatalf("worker changes must not reach the returned run: %+v", run)
	}
}
