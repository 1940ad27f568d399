// Package echo is the disposable local echo server used to exercise the
// stress tester: any text or binary frame comes straight back unchanged.
package echo

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/coder/websocket"
)

type ServerConfig struct {
	Host    string
	Port    int
	Verbose bool
}

type Server struct {
	cfg    ServerConfig
	active atomic.Int64
	total  atomic.Int64
}

func New(cfg ServerConfig) *Server {
	return &Server{cfg: cfg}
}

// ActiveConnections returns the number of currently open connections.
func (s *Server) ActiveConnections() int64 { return s.active.Load() }

// TotalConnections returns the number of connections accepted so far.
func (s *Server) TotalConnections() int64 { return s.total.Load() }

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWebSocket)
	return mux
}

// Start blocks serving the echo endpoint.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	fmt.Printf("echo server listening on ws://%s/\n", addr)

	srv := &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
	return srv.ListenAndServe()
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("accept error: %v", err)
		return
	}
	defer conn.CloseNow()

	n := s.total.Add(1)
	s.active.Add(1)
	defer s.active.Add(-1)
	if s.cfg.Verbose {
		log.Printf("conn #%d opened (%d active)", n, s.active.Load())
	}

	ctx := r.Context()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if s.cfg.Verbose && !isExpectedCloseError(err) {
				log.Printf("conn #%d read error: %v", n, err)
			}
			break
		}
		if err := conn.Write(ctx, typ, data); err != nil {
			break
		}
	}
	if s.cfg.Verbose {
		log.Printf("conn #%d closed (%d active)", n, s.active.Load()-1)
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

func isExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return true
	}
	status := websocket.CloseStatus(err)
	return status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway
}
