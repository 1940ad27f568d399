package runner

import (
	"context"
	"testing"
	"time"

	"wsstress/internal/stats"
)

// Scenario: target handles 2 concurrent connections but refuses a third;
// the scan stops at the first unstable batch and reports 2 as the maximum
// stable count.
func TestEngineStopsOnInstability(t *testing.T) {
	ts := newCapServer(t, 2)
	cfg := cfgFor(t, ts.URL)
	cfg.StartCount = 1
	cfg.MaxCount = 3
	cfg.Increment = 1
	cfg.StabilityThreshold = 90

	summary := NewEngine(cfg).Run(context.Background())

	if summary.StoppedReason != stats.StopUnstable {
		t.Fatalf("expected unstable stop, got %s", summary.StoppedReason)
	}
	if len(summary.Batches) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(summary.Batches))
	}
	if summary.MaxStableCount != 2 {
		t.Errorf("expected max stable count 2, got %d", summary.MaxStableCount)
	}
	// Every batch before the unstable one met the threshold.
	for _, bs := range summary.Batches[:len(summary.Batches)-1] {
		if !bs.Stable(cfg.StabilityThreshold) {
			t.Errorf("batch %d unstable before the stopping batch: %.1f%%", bs.Index, bs.SuccessRate)
		}
	}
	last := summary.Batches[len(summary.Batches)-1]
	if last.Requested != 3 || last.Stable(cfg.StabilityThreshold) {
		t.Errorf("expected the final batch to be the unstable one, got %+v", last)
	}
}

// Scenario: single batch at the maximum, everything succeeds.
func TestEngineReachesMax(t *testing.T) {
	ts, _ := newEchoServer(t)
	cfg := cfgFor(t, ts.URL)
	cfg.StartCount = 10
	cfg.MaxCount = 10
	cfg.Increment = 1
	cfg.StabilityThreshold = 50

	summary := NewEngine(cfg).Run(context.Background())

	if summary.StoppedReason != stats.StopReachedMax {
		t.Fatalf("expected reached_max, got %s", summary.StoppedReason)
	}
	if len(summary.Batches) != 1 {
		t.Fatalf("expected a single batch, got %d", len(summary.Batches))
	}
	if summary.Batches[0].SuccessRate != 100 {
		t.Errorf("expected 100%% success, got %.1f", summary.Batches[0].SuccessRate)
	}
	if summary.MaxStableCount != 10 {
		t.Errorf("expected max stable count 10, got %d", summary.MaxStableCount)
	}
	if summary.TotalAttempted != 10 || summary.TotalSucceeded != 10 {
		t.Errorf("unexpected totals: %d/%d", summary.TotalSucceeded, summary.TotalAttempted)
	}
}

// Scenario: the target is unreachable before batch 1; the run fails with
// zero batches rather than recording a 0% batch.
func TestEngineUnreachableTarget(t *testing.T) {
	cfg := closedPortCfg(t)
	cfg.Timeout = 500 * time.Millisecond

	summary := NewEngine(cfg).Run(context.Background())

	if summary.StoppedReason != stats.StopError {
		t.Fatalf("expected error stop, got %s", summary.StoppedReason)
	}
	if len(summary.Batches) != 0 {
		t.Errorf("expected zero batches, got %d", len(summary.Batches))
	}
	if summary.Error == "" {
		t.Error("expected an error detail")
	}
}

func TestEngineUnresolvableHost(t *testing.T) {
	cfg := closedPortCfg(t)
	cfg.Host = "wsstress-nowhere.invalid"
	cfg.Timeout = time.Second

	summary := NewEngine(cfg).Run(context.Background())

	if summary.StoppedReason != stats.StopError {
		t.Fatalf("expected error stop, got %s", summary.StoppedReason)
	}
	if len(summary.Batches) != 0 {
		t.Errorf("expected zero batches, got %d", len(summary.Batches))
	}
}

func TestEngineCancellation(t *testing.T) {
	ts, es := newEchoServer(t)
	cfg := cfgFor(t, ts.URL)
	cfg.StartCount = 2
	cfg.MaxCount = 100
	cfg.Increment = 1
	cfg.BatchDuration = 10 * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan *stats.RunSummary, 1)
	eng := NewEngine(cfg)
	go func() { done <- eng.Run(ctx) }()

	waitFor(t, 5*time.Second, func() bool { return es.ActiveConnections() == 2 },
		"first batch never connected")
	cancel()

	select {
	case summary := <-done:
		if summary.StoppedReason != stats.StopCancelled {
			t.Errorf("expected cancelled, got %s", summary.StoppedReason)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("engine did not stop after cancellation")
	}
	waitFor(t, 2*time.Second, func() bool { return es.ActiveConnections() == 0 },
		"sockets leaked past run termination")
}

func TestEngineExhaustiveScan(t *testing.T) {
	ts := newCapServer(t, 1)
	cfg := cfgFor(t, ts.URL)
	cfg.StartCount = 1
	cfg.MaxCount = 3
	cfg.Increment = 1
	cfg.StabilityThreshold = 90
	cfg.Exhaustive = true

	summary := NewEngine(cfg).Run(context.Background())

	if summary.StoppedReason != stats.StopReachedMax {
		t.Fatalf("exhaustive scan must run to max, got %s", summary.StoppedReason)
	}
	if len(summary.Batches) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(summary.Batches))
	}
	if summary.MaxStableCount != 1 {
		t.Errorf("expected max stable count 1, got %d", summary.MaxStableCount)
	}
}

func TestEngineUpdatesChannel(t *testing.T) {
	ts, _ := newEchoServer(t)
	cfg := cfgFor(t, ts.URL)
	cfg.StartCount = 1
	cfg.MaxCount = 2
	cfg.Increment = 1
	cfg.StabilityThreshold = 50

	eng := NewEngine(cfg)
	done := make(chan *stats.RunSummary, 1)
	go func() { done <- eng.Run(context.Background()) }()

	var got []stats.BatchStats
	for bs := range eng.Updates {
		got = append(got, bs)
	}
	<-done

	if len(got) != 2 {
		t.Fatalf("expected 2 batch updates, got %d", len(got))
	}
	if got[0].Requested != 1 || got[1].Requested != 2 {
		t.Errorf("unexpected update order: %+v", got)
	}
}
