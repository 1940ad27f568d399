package runner

import (
	"context"
	"crypto/tls"
	"log"
	"net/http"
	"time"

	"wsstress/internal/config"
	"wsstress/internal/stats"

	"github.com/coder/websocket"
)

// Runner drives one batch of connections at a time and owns the pool of
// live workers carried across batches in cumulative mode. The pool is
// mutated only between batch phases, never concurrently with one.
type Runner struct {
	cfg      *config.Config
	url      string
	dialOpts *websocket.DialOptions

	pool    []*worker
	nextSeq int
}

func NewRunner(cfg *config.Config) *Runner {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = 0
	t.TLSClientConfig = &tls.Config{InsecureSkipVerify: cfg.InsecureTLS}

	return &Runner{
		cfg: cfg,
		url: cfg.URL(),
		dialOpts: &websocket.DialOptions{
			HTTPClient: &http.Client{Transport: t},
		},
		nextSeq: 1,
	}
}

// PoolSize returns the number of live connections carried between batches.
func (r *Runner) PoolSize() int {
	return len(r.pool)
}

// RunBatch opens enough new workers to reach target, holds the batch for
// the configured duration measured from the last launch, closes what is not
// retained and reduces the newly produced outcomes into BatchStats.
//
// Partial failures never abort a batch: it completes once every launched
// worker has reported, by success, failure or forced-timeout failure.
func (r *Runner) RunBatch(ctx context.Context, index, target int) (stats.BatchStats, []stats.Outcome) {
	start := time.Now()
	r.prunePool()

	toOpen := target
	if r.cfg.Cumulative {
		toOpen = target - len(r.pool)
		if toOpen < 0 {
			toOpen = 0
		}
	}

	results := make(chan stats.Outcome, toOpen)
	launched := make([]*worker, 0, toOpen)
	for i := 0; i < toOpen; i++ {
		w := newWorker(r.nextSeq, index)
		r.nextSeq++
		launched = append(launched, w)
		go r.runWorker(ctx, w, results, r.cfg.Cumulative)

		// Fixed inter-launch delay; never throttled by completion.
		if r.cfg.ConnectionDelay > 0 && i < toOpen-1 {
			if !sleepCtx(ctx, r.cfg.ConnectionDelay) {
				break
			}
		}
	}

	// Hold time counts from the moment the last worker was launched, so
	// every connection gets at least the configured time once open.
	sleepCtx(ctx, r.cfg.BatchDuration)

	if !r.cfg.Cumulative {
		for _, w := range launched {
			w.signalClose()
		}
	}

	outcomes := r.collect(results, launched)

	if r.cfg.Cumulative {
		bySeq := make(map[int]*worker, len(launched))
		for _, w := range launched {
			bySeq[w.seq] = w
		}
		for _, o := range outcomes {
			if o.Succeeded {
				r.pool = append(r.pool, bySeq[o.Sequence])
			}
		}
	}

	bs := stats.AggregateBatch(index, target, outcomes)
	bs.Elapsed = time.Since(start)
	return bs, outcomes
}

// collect waits for every launched worker to report, bounded by the close
// grace period. A worker that misses the grace gets a synthesized
// forced_close_timeout outcome and its socket torn down; it never enters
// the pool.
func (r *Runner) collect(results <-chan stats.Outcome, launched []*worker) []stats.Outcome {
	outcomes := make([]stats.Outcome, 0, len(launched))
	reported := make(map[int]bool, len(launched))

	grace := time.NewTimer(r.cfg.CloseGrace)
	defer grace.Stop()

	for len(outcomes) < len(launched) {
		select {
		case o := <-results:
			reported[o.Sequence] = true
			outcomes = append(outcomes, o)
		case <-grace.C:
			for _, w := range launched {
				if reported[w.seq] {
					continue
				}
				w.signalClose()
				w.forceClose()
				if r.cfg.Verbose {
					log.Printf("conn %d: no close ack within %s, forcing", w.seq, r.cfg.CloseGrace)
				}
				outcomes = append(outcomes, stats.Outcome{
					Sequence:    w.seq,
					Batch:       w.batch,
					ErrorKind:   stats.KindForcedCloseTimeout,
					ErrorDetail: "worker did not acknowledge close within grace period",
					OpenedAt:    w.openedAt,
					ClosedAt:    time.Now(),
				})
			}
			return outcomes
		}
	}
	return outcomes
}

// prunePool drops retained workers whose connection died between batches
// (peer closed mid-hold). The replacement connections count as new
// outcomes in the batch that opens them.
func (r *Runner) prunePool() {
	if len(r.pool) == 0 {
		return
	}
	alive := r.pool[:0]
	for _, w := range r.pool {
		if w.finished() {
			if r.cfg.Verbose {
				log.Printf("conn %d: dropped from pool, connection ended between batches", w.seq)
			}
			continue
		}
		alive = append(alive, w)
	}
	r.pool = alive
}

// Shutdown closes every retained connection and waits out the grace
// period; stragglers are force-closed. No socket outlives the run.
func (r *Runner) Shutdown() {
	for _, w := range r.pool {
		w.signalClose()
	}
	deadline := time.Now().Add(r.cfg.CloseGrace)
	for _, w := range r.pool {
		t := time.NewTimer(time.Until(deadline))
		select {
		case <-w.done:
		case <-t.C:
			w.forceClose()
		}
		t.Stop()
	}
	r.pool = nil
}

// sleepCtx sleeps for d unless the context ends first. Returns false on
// cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
