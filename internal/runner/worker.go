package runner

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"wsstress/internal/stats"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// worker owns one WebSocket connection end to end. The batch runner talks
// to it only through closeCh (close request) and done (lifecycle finished);
// the outcome travels back on the batch's results channel.
type worker struct {
	seq      int
	batch    int
	openedAt time.Time

	closeCh   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	conn      atomic.Pointer[websocket.Conn]
}

func newWorker(seq, batch int) *worker {
	return &worker{
		seq:      seq,
		batch:    batch,
		openedAt: time.Now(),
		closeCh:  make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (w *worker) signalClose() {
	w.closeOnce.Do(func() { close(w.closeCh) })
}

// forceClose tears the socket down without a closing handshake. Used when
// the worker missed the close grace period.
func (w *worker) forceClose() {
	if c := w.conn.Load(); c != nil {
		c.CloseNow()
	}
}

func (w *worker) finished() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

// runWorker is the full connection lifecycle: dial, probe, await echo, hold
// until closed, report exactly one outcome. No error escapes the worker.
//
// When retain is true (cumulative mode) the outcome is reported as soon as
// the probe phase resolves and the socket stays open for later batches;
// otherwise the outcome is reported only after the close completes.
func (r *Runner) runWorker(ctx context.Context, w *worker, results chan<- stats.Outcome, retain bool) {
	defer close(w.done)

	out := stats.Outcome{Sequence: w.seq, Batch: w.batch, OpenedAt: w.openedAt}

	dialCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	conn, _, err := websocket.Dial(dialCtx, r.url, r.dialOpts)
	cancel()
	if err != nil {
		out.ErrorKind = classifyDialError(err)
		out.ErrorDetail = err.Error()
		out.ClosedAt = time.Now()
		if r.cfg.Verbose {
			log.Printf("conn %d: %s: %v", w.seq, out.ErrorKind, err)
		}
		results <- out
		return
	}
	w.conn.Store(conn)
	if r.cfg.Verbose {
		log.Printf("conn %d: connected in %s", w.seq, time.Since(out.OpenedAt).Round(time.Millisecond))
	}

	payload := []byte(fmt.Sprintf("probe-%d-%s", w.seq, uuid.NewString()))
	sent := time.Now()
	probeCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	err = conn.Write(probeCtx, websocket.MessageText, payload)
	if err == nil {
		_, _, err = conn.Read(probeCtx)
	}
	cancel()
	if err != nil {
		out.ErrorKind = classifyConnError(err)
		out.ErrorDetail = err.Error()
		conn.CloseNow()
		out.ClosedAt = time.Now()
		if r.cfg.Verbose {
			log.Printf("conn %d: probe failed, %s: %v", w.seq, out.ErrorKind, err)
		}
		results <- out
		return
	}
	out.Succeeded = true
	out.EchoReceived = true
	out.ResponseTime = time.Since(sent)
	if r.cfg.Verbose {
		log.Printf("conn %d: echo in %s", w.seq, out.ResponseTime.Round(time.Millisecond))
	}

	if retain {
		results <- out
		r.hold(ctx, w, conn)
		return
	}

	switch res, holdErr := r.hold(ctx, w, conn); res {
	case holdCancelled:
		out.Succeeded = false
		out.ErrorKind = stats.KindCancelled
		out.ErrorDetail = "run cancelled before batch completed"
	case holdPeerClosed:
		out.Succeeded = false
		out.ErrorKind = stats.KindClosedByPeer
		out.ErrorDetail = holdErr.Error()
		if r.cfg.Verbose {
			log.Printf("conn %d: peer closed during hold: %v", w.seq, holdErr)
		}
	}
	out.ClosedAt = time.Now()
	results <- out
}

type holdResult int

const (
	holdClosed holdResult = iota
	holdCancelled
	holdPeerClosed
)

// hold keeps the connection open and serviced until the close signal or run
// cancellation, then completes the closing handshake. A read loop drains
// anything the server pushes in the meantime and detects an abrupt close.
func (r *Runner) hold(ctx context.Context, w *worker, conn *websocket.Conn) (holdResult, error) {
	readFailed := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				readFailed <- err
				return
			}
		}
	}()

	res := holdClosed
	var holdErr error
	select {
	case <-w.closeCh:
	case <-ctx.Done():
		res = holdCancelled
	case err := <-readFailed:
		if ctx.Err() != nil {
			res = holdCancelled
		} else {
			res = holdPeerClosed
			holdErr = err
		}
	}

	if res == holdPeerClosed {
		conn.CloseNow()
		return res, holdErr
	}
	if err := conn.Close(websocket.StatusNormalClosure, "batch complete"); err != nil {
		conn.CloseNow()
	}
	return res, nil
}

// classifyDialError maps a failed handshake attempt onto the error taxonomy.
// Transport-level failures (DNS, refused, unreachable) are connect_failed;
// anything that got a TCP connection but no WebSocket upgrade is
// handshake_failed.
func classifyDialError(err error) stats.ErrorKind {
	if errors.Is(err, context.Canceled) {
		return stats.KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return stats.KindTimeout
	}
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return stats.KindHandshakeFailed
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return stats.KindConnectFailed
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return stats.KindConnectFailed
	}
	return stats.KindHandshakeFailed
}

// classifyConnError maps an error on an established connection. Everything
// that is neither a timeout nor a cancellation (close frames, EOF, resets)
// counts as the peer closing before the expected lifecycle end.
func classifyConnError(err error) stats.ErrorKind {
	switch {
	case errors.Is(err, context.Canceled):
		return stats.KindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return stats.KindTimeout
	default:
		return stats.KindClosedByPeer
	}
}
