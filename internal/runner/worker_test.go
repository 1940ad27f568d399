package runner

import (
	"context"
	"testing"
	"time"

	"wsstress/internal/stats"
)

func runSingleWorker(t *testing.T, r *Runner, retain bool, beforeCollect func(w *worker)) stats.Outcome {
	t.Helper()
	w := newWorker(1, 1)
	results := make(chan stats.Outcome, 1)
	go r.runWorker(context.Background(), w, results, retain)

	if beforeCollect != nil {
		beforeCollect(w)
	}

	select {
	case out := <-results:
		return out
	case <-time.After(5 * time.Second):
		t.Fatal("worker never reported an outcome")
		return stats.Outcome{}
	}
}

func TestWorkerSuccess(t *testing.T) {
	ts, _ := newEchoServer(t)
	r := NewRunner(cfgFor(t, ts.URL))

	out := runSingleWorker(t, r, false, func(w *worker) {
		time.Sleep(50 * time.Millisecond)
		w.signalClose()
	})

	if !out.Succeeded {
		t.Fatalf("expected success, got %s: %s", out.ErrorKind, out.ErrorDetail)
	}
	if !out.EchoReceived || out.ResponseTime <= 0 {
		t.Error("expected a measured echo round-trip")
	}
	if out.ClosedAt.Before(out.OpenedAt) {
		t.Error("close timestamp precedes open timestamp")
	}
}

func TestWorkerConnectRefused(t *testing.T) {
	r := NewRunner(closedPortCfg(t))

	out := runSingleWorker(t, r, false, nil)

	if out.Succeeded {
		t.Fatal("expected failure against closed port")
	}
	if out.ErrorKind != stats.KindConnectFailed {
		t.Errorf("expected connect_failed, got %s (%s)", out.ErrorKind, out.ErrorDetail)
	}
}

func TestWorkerHandshakeRejected(t *testing.T) {
	ts := newCapServer(t, 0) // rejects everything with 503

	r := NewRunner(cfgFor(t, ts.URL))
	out := runSingleWorker(t, r, false, nil)

	if out.Succeeded {
		t.Fatal("expected failure when the upgrade is refused")
	}
	if out.ErrorKind != stats.KindHandshakeFailed {
		t.Errorf("expected handshake_failed, got %s (%s)", out.ErrorKind, out.ErrorDetail)
	}
}

func TestWorkerEchoTimeout(t *testing.T) {
	ts := newSilentServer(t)

	cfg := cfgFor(t, ts.URL)
	cfg.Timeout = 200 * time.Millisecond
	r := NewRunner(cfg)

	out := runSingleWorker(t, r, false, nil)

	if out.Succeeded {
		t.Fatal("expected failure when the echo never arrives")
	}
	if out.ErrorKind != stats.KindTimeout {
		t.Errorf("expected timeout, got %s (%s)", out.ErrorKind, out.ErrorDetail)
	}
}

func TestWorkerCancelledDuringHold(t *testing.T) {
	ts, _ := newEchoServer(t)
	r := NewRunner(cfgFor(t, ts.URL))

	ctx, cancel := context.WithCancel(context.Background())
	w := newWorker(1, 1)
	results := make(chan stats.Outcome, 1)
	go r.runWorker(ctx, w, results, false)

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case out := <-results:
		if out.Succeeded {
			t.Error("cancelled worker must not count as success")
		}
		if out.ErrorKind != stats.KindCancelled {
			t.Errorf("expected cancelled, got %s", out.ErrorKind)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not report after cancellation")
	}
}

func TestWorkerRetainReportsWhileOpen(t *testing.T) {
	ts, es := newEchoServer(t)
	r := NewRunner(cfgFor(t, ts.URL))

	w := newWorker(1, 1)
	results := make(chan stats.Outcome, 1)
	go r.runWorker(context.Background(), w, results, true)

	var out stats.Outcome
	select {
	case out = <-results:
	case <-time.After(5 * time.Second):
		t.Fatal("retained worker never reported")
	}
	if !out.Succeeded {
		t.Fatalf("expected success, got %s", out.ErrorKind)
	}

	// Outcome arrives while the socket stays open for the next batch.
	if es.ActiveConnections() != 1 {
		t.Errorf("expected 1 live connection after outcome, got %d", es.ActiveConnections())
	}

	w.signalClose()
	select {
	case <-w.done:
	case <-time.After(5 * time.Second):
		t.Fatal("retained worker did not close")
	}
	waitFor(t, 2*time.Second, func() bool { return es.ActiveConnections() == 0 },
		"connection not released after close")
}

func TestClassifyConnError(t *testing.T) {
	if got := classifyConnError(context.DeadlineExceeded); got != stats.KindTimeout {
		t.Errorf("expected timeout, got %s", got)
	}
	if got := classifyConnError(context.Canceled); got != stats.KindCancelled {
		t.Errorf("expected cancelled, got %s", got)
	}
}
