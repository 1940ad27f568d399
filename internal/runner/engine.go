package runner

import (
	"context"
	"fmt"
	"net"
	"time"

	"wsstress/internal/config"
	"wsstress/internal/stats"
)

// interBatchPause is the breather between consecutive batches.
const interBatchPause = time.Second

// Engine drives the batch runner across an increasing sequence of
// connection counts and turns the measurements into a verdict.
type Engine struct {
	cfg    *config.Config
	runner *Runner

	// Updates receives every finalized BatchStats. Sends never block;
	// a slow consumer just misses intermediate batches.
	Updates chan stats.BatchStats
}

func NewEngine(cfg *config.Config) *Engine {
	return &Engine{
		cfg:     cfg,
		runner:  NewRunner(cfg),
		Updates: make(chan stats.BatchStats, 16),
	}
}

// Run executes the stability scan and always returns a summary, whatever
// the stop reason. Batches run strictly sequentially; each target count is
// attempted exactly once. The context is the run-level cancellation token:
// it reaches every worker's wait points, and no socket survives Run.
func (e *Engine) Run(ctx context.Context) *stats.RunSummary {
	summary := stats.NewRunSummary()
	defer func() {
		e.runner.Shutdown()
		summary.FinishedAt = time.Now()
		close(e.Updates)
	}()

	if err := e.preflight(ctx); err != nil {
		if ctx.Err() != nil {
			summary.StoppedReason = stats.StopCancelled
		} else {
			summary.StoppedReason = stats.StopError
			summary.Error = err.Error()
		}
		return summary
	}

	target := e.cfg.StartCount
	var reason stats.StopReason
	for batch := 1; target <= e.cfg.MaxCount; batch++ {
		bs, outcomes := e.runner.RunBatch(ctx, batch, target)
		summary.Fold(bs)
		summary.Record(outcomes)
		e.publish(bs)

		if ctx.Err() != nil {
			reason = stats.StopCancelled
			break
		}
		if bs.Stable(e.cfg.StabilityThreshold) {
			summary.MaxStableCount = target
		} else if !e.cfg.Exhaustive {
			// Stability is assumed monotonically non-increasing with
			// load; a breach ends the scan.
			reason = stats.StopUnstable
			break
		}

		target += e.cfg.Increment
		if target <= e.cfg.MaxCount {
			if !sleepCtx(ctx, interBatchPause) {
				reason = stats.StopCancelled
				break
			}
		}
	}

	if reason == "" {
		reason = stats.StopReachedMax
	}
	summary.StoppedReason = reason
	return summary
}

// preflight verifies the target is reachable at all before batch 1. An
// unresolvable or unreachable host is the one failure that stops the run
// with zero batches instead of producing a 0% batch.
func (e *Engine) preflight(ctx context.Context) error {
	lookupCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()
	if _, err := net.DefaultResolver.LookupHost(lookupCtx, e.cfg.Host); err != nil {
		return fmt.Errorf("resolve %s: %w", e.cfg.Host, err)
	}

	d := net.Dialer{Timeout: e.cfg.Timeout}
	conn, err := d.DialContext(ctx, "tcp", e.cfg.Addr())
	if err != nil {
		return fmt.Errorf("dial %s: %w", e.cfg.Addr(), err)
	}
	return conn.Close()
}

func (e *Engine) publish(bs stats.BatchStats) {
	select {
	case e.Updates <- bs:
	default:
	}
}
