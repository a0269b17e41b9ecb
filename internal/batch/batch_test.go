package batch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func noWait(context.Context, time.Duration) error { return nil }

func TestBatches(t *testing.T) {
	tests := []struct {
		n, size, want int
	}{
		{0, 5, 0},
		{1, 5, 1},
		{5, 5, 1},
		{12, 5, 3},
		{3, 0, 3},
	}
	for _, tt := range tests {
		if got := Batches(tt.n, tt.size); got != tt.want {
			t.Fatalf("Batches(%d, %d) = %d, want %d", tt.n, tt.size, got, tt.want)
		}
	}
}

func TestRunBoundsConcurrencyAndKeepsOrder(t *testing.T) {
	items := make([]int, 12)
	for i := range items {
		items[i] = i
	}

	var inFlight, peak int32
	var reports []Report
	var delays int

	summary := Run(context.Background(), items, Options{
		Size:   5,
		Delay:  time.Second,
		Report: func(r Report) { reports = append(reports, r) },
		wait: func(context.Context, time.Duration) error {
			delays++
			return nil
		},
	}, func(_ context.Context, v int) (int, bool) {
		cur := atomic.AddInt32(&inFlight, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return v * 10, v%4 != 0
	})

	if peak > 5 {
		t.Fatalf("expected at most 5 in flight, got %d", peak)
	}
	if summary.Batches != 3 || summary.Attempted != 12 || summary.Stopped {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if delays != 2 {
		t.Fatalf("expected delay between batches only, got %d", delays)
	}
	for i, r := range summary.Results {
		if r != i*10 {
			t.Fatalf("result %d out of order: %d", i, r)
		}
	}

	if len(reports) != 3 {
		t.Fatalf("expected 3 reports, got %d", len(reports))
	}
	wantDone := []int{5, 10, 12}
	for i, r := range reports {
		if r.Batch != i+1 || r.Total != 3 || r.Done != wantDone[i] {
			t.Fatalf("unexpected report %d: %+v", i, r)
		}
	}
	last := reports[2]
	// 0, 4 and 8 fail.
	if last.Succeeded != 9 || last.Failed != 3 {
		t.Fatalf("unexpected final counts %+v", last)
	}
}

func TestRunJoinsWholeBatchBeforeNext(t *testing.T) {
	var mu sync.Mutex
	var order []string

	Run(context.Background(), []string{"slow", "fast", "next"}, Options{Size: 2, wait: noWait},
		func(_ context.Context, v string) (struct{}, bool) {
			if v == "slow" {
				time.Sleep(20 * time.Millisecond)
			}
			mu.Lock()
			order = append(order, v)
			mu.Unlock()
			return struct{}{}, true
		})

	if len(order) != 3 || order[2] != "next" {
		t.Fatalf("second batch started before first finished: %v", order)
	}
}

func TestRunStopsWhenContinueDeclines(t *testing.T) {
	var calls int32
	summary := Run(context.Background(), []int{1, 2, 3, 4, 5}, Options{
		Size:     2,
		wait:     noWait,
		Continue: func(done int) bool { return done < 4 },
	}, func(context.Context, int) (int, bool) {
		atomic.AddInt32(&calls, 1)
		return 0, true
	})

	if !summary.Stopped || summary.Attempted != 4 || calls != 4 {
		t.Fatalf("unexpected summary %+v after %d calls", summary, calls)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	summary := Run(ctx, []int{1, 2, 3}, Options{Size: 1, wait: noWait}, func(context.Context, int) (int, bool) {
		cancel()
		return 0, true
	})

	if !summary.Stopped || summary.Attempted != 1 {
		t.Fatalf("expected stop after first batch, got %+v", summary)
	}
}
