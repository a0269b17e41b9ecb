package fetch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/talent-sourcer/internal/batch"
	"github.com/spigell/talent-sourcer/internal/provider"
)

type stubFetcher struct {
	mu    sync.Mutex
	calls map[string]int
	fn    func(ref string, call int) (*provider.Profile, error)
}

func (s *stubFetcher) Fetch(_ context.Context, ref string) (*provider.Profile, error) {
	s.mu.Lock()
	if s.calls == nil {
		s.calls = map[string]int{}
	}
	s.calls[ref]++
	call := s.calls[ref]
	s.mu.Unlock()
	return s.fn(ref, call)
}

func (s *stubFetcher) count(ref string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[ref]
}

func newTestCoordinator(f Fetcher, retries int) (*Coordinator, *[]time.Duration) {
	c := NewCoordinator(f, CoordinatorConfig{MaxRetries: retries, BaseDelay: time.Second, MaxDelay: 3 * time.Second}, zap.NewNop())
	var delays []time.Duration
	var mu sync.Mutex
	c.wait = func(_ context.Context, d time.Duration) error {
		mu.Lock()
		delays = append(delays, d)
		mu.Unlock()
		return nil
	}
	return c, &delays
}

func TestCoordinatorRetryCeiling(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantCalls   int
		wantRetries int
	}{
		{"transient", &provider.Error{Kind: provider.ErrTransient, StatusCode: 503}, 3, 2},
		{"poll timeout", &provider.Error{Kind: provider.ErrPollTimeout}, 3, 2},
		{"suspended", &provider.Error{Kind: provider.ErrAccountSuspended}, 1, 0},
		{"unauthorized", &provider.Error{Kind: provider.ErrUnauthorized, StatusCode: 401}, 1, 0},
		{"invalid reference", &provider.Error{Kind: provider.ErrInvalidReference}, 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &stubFetcher{fn: func(string, int) (*provider.Profile, error) { return nil, tt.err }}
			c, _ := newTestCoordinator(f, 2)

			res := c.Fetch(context.Background(), "ref")
			if res.Success {
				t.Fatalf("expected failure")
			}
			if !errors.Is(res.Err, tt.err) {
				t.Fatalf("expected last error %v, got %v", tt.err, res.Err)
			}
			if got := f.count("ref"); got != tt.wantCalls {
				t.Fatalf("expected %d attempts, got %d", tt.wantCalls, got)
			}
			if res.Retries != tt.wantRetries {
				t.Fatalf("expected %d retries, got %d", tt.wantRetries, res.Retries)
			}
		})
	}
}

func TestCoordinatorRecoversAfterTransient(t *testing.T) {
	f := &stubFetcher{fn: func(_ string, call int) (*provider.Profile, error) {
		if call < 3 {
			return nil, &provider.Error{Kind: provider.ErrTransient}
		}
		return &provider.Profile{Name: "Jane"}, nil
	}}
	c, delays := newTestCoordinator(f, 3)

	res := c.Fetch(context.Background(), "ref")
	if !res.Success || res.Err != nil || res.Profile.Name != "Jane" {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Retries != 2 {
		t.Fatalf("expected 2 retries, got %d", res.Retries)
	}
	if len(*delays) != 2 || (*delays)[0] != time.Second || (*delays)[1] != 2*time.Second {
		t.Fatalf("unexpected backoff %v", *delays)
	}
}

func TestCoordinatorBackoffIsCapped(t *testing.T) {
	c, _ := newTestCoordinator(&stubFetcher{}, 5)
	want := []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second}
	for attempt, w := range want {
		if got := c.backoff(attempt); got != w {
			t.Fatalf("backoff(%d) = %v, want %v", attempt, got, w)
		}
	}
}

func TestSchedulerTwelveReferencesInThreeBatches(t *testing.T) {
	f := &stubFetcher{fn: func(ref string, _ int) (*provider.Profile, error) {
		return &provider.Profile{URL: ref}, nil
	}}
	c, _ := newTestCoordinator(f, 2)
	s := NewScheduler(c, SchedulerConfig{BatchSize: 5, Delay: time.Second}, zap.NewNop())
	s.wait = func(context.Context, time.Duration) error { return nil }

	refs := make([]string, 12)
	for i := range refs {
		refs[i] = fmt.Sprintf("https://example.com/in/%d", i)
	}

	var sizes []int
	prev := 0
	out := s.FetchAll(context.Background(), refs, Hooks{Report: func(r batch.Report) {
		sizes = append(sizes, r.Done-prev)
		prev = r.Done
	}})

	if fmt.Sprint(sizes) != "[5 5 2]" {
		t.Fatalf("unexpected batch sizes %v", sizes)
	}
	if out.Batches != 3 || len(out.Succeeded()) != 12 {
		t.Fatalf("unexpected outcome: batches=%d succeeded=%d", out.Batches, len(out.Succeeded()))
	}
	for i, r := range out.Results {
		if r.Reference != refs[i] {
			t.Fatalf("result %d out of order: %s", i, r.Reference)
		}
	}
}

func TestSchedulerPartialFailureDoesNotAbort(t *testing.T) {
	f := &stubFetcher{fn: func(ref string, _ int) (*provider.Profile, error) {
		if strings.HasSuffix(ref, "bad") {
			return nil, &provider.Error{Kind: provider.ErrAccountSuspended}
		}
		return &provider.Profile{}, nil
	}}
	c, _ := newTestCoordinator(f, 2)
	s := NewScheduler(c, SchedulerConfig{BatchSize: 2}, nil)

	out := s.FetchAll(context.Background(), []string{"a", "bad", "c"}, Hooks{})
	if len(out.Results) != 3 || len(out.Succeeded()) != 2 {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if out.Results[1].Retries != 0 || out.Results[1].Success {
		t.Fatalf("suspended reference must fail without retries: %+v", out.Results[1])
	}
}
