package runner

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	"wsstress/internal/config"
	"wsstress/internal/echo"
)

// newEchoServer spins up the real echo fixture behind httptest.
func newEchoServer(t *testing.T) (*httptest.Server, *echo.Server) {
	t.Helper()
	es := echo.New(echo.ServerConfig{})
	ts := httptest.NewServer(es.Handler())
	t.Cleanup(ts.Close)
	return ts, es
}

// newCapServer echoes like the fixture but refuses the upgrade with a 503
// once more than capacity connections are open at the same time.
func newCapServer(t *testing.T, capacity int) *httptest.Server {
	t.Helper()
	var active atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if active.Add(1) > int64(capacity) {
			active.Add(-1)
			http.Error(w, "too many connections", http.StatusServiceUnavailable)
			return
		}
		defer active.Add(-1)

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()
		for {
			typ, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			if err := conn.Write(ctx, typ, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

// newSilentServer accepts the WebSocket but never echoes anything.
func newSilentServer(t *testing.T) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer conn.CloseNow()
		<-r.Context().Done()
	}))
	t.Cleanup(ts.Close)
	return ts
}

// cfgFor builds a short-duration test config pointed at an httptest URL.
func cfgFor(t *testing.T, rawURL string) *config.Config {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse test server url: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parse test server port: %v", err)
	}

	cfg := config.Default()
	cfg.Host = u.Hostname()
	cfg.Port = port
	cfg.Protocol = "ws"
	cfg.Path = "/"
	cfg.BatchDuration = 100 * time.Millisecond
	cfg.Timeout = 2 * time.Second
	cfg.CloseGrace = 2 * time.Second
	return cfg
}

// closedPortCfg points at a port that nothing listens on.
func closedPortCfg(t *testing.T) *config.Config {
	t.Helper()
	ts := httptest.NewServer(http.NotFoundHandler())
	cfg := cfgFor(t, ts.URL)
	ts.Close()
	return cfg
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}
