package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/illef/illef-niri/internal/ipc"
	"github.com/illef/illef-niri/internal/layout"
	"github.com/illef/illef-niri/internal/metrics"
	"github.com/illef/illef-niri/internal/util"
)

const shutdownTimeout = 5 * time.Second

// Rebalancer runs one on-demand master/slave rebalance.
type Rebalancer interface {
	Rebalance(ctx context.Context) (layout.Result, error)
}

// SocketRebalancer opens a fresh niri connection for every rebalance.
type SocketRebalancer struct {
	Path string
}

// Rebalance implements Rebalancer.
func (r SocketRebalancer) Rebalance(ctx context.Context) (layout.Result, error) {
	client, err := ipc.DialClient(ctx, r.Path)
	if err != nil {
		return layout.Result{}, err
	}
	defer client.Close()
	return layout.Rebalance(ctx, client)
}

// Server serves the HTTP control endpoints.
type Server struct {
	addr       string
	rebalancer Rebalancer
	metrics    *metrics.Collector
	logger     *util.Logger

	mu       sync.Mutex
	listener net.Listener
}

// NewServer creates a control server for addr. An empty addr uses DefaultAddr.
func NewServer(addr string, rebalancer Rebalancer, collector *metrics.Collector, logger *util.Logger) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	if logger == nil {
		logger = util.NewLogger(util.LevelInfo)
	}
	return &Server{
		addr:       addr,
		rebalancer: rebalancer,
		metrics:    collector,
		logger:     logger,
	}
}

// Handler returns the routes served by the control server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(PathLayoutChange, s.handleChange)
	mux.HandleFunc(PathLayoutStats, s.handleStats)
	return mux
}

// Listen binds the listening socket and returns its address.
func (s *Server) Listen() (net.Addr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr(), nil
	}
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	s.listener = listener
	return listener.Addr(), nil
}

// Serve handles requests until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	addr, err := s.Listen()
	if err != nil {
		return err
	}
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warnf("control server shutdown: %v", err)
		}
	})
	defer stop()

	s.logger.Infof("control server listening on %s", addr)
	err = srv.Serve(listener)
	s.mu.Lock()
	s.listener = nil
	s.mu.Unlock()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) handleChange(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeText(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	res, err := s.rebalancer.Rebalance(r.Context())
	s.metrics.RecordRebalance(err)
	if err != nil {
		s.logger.Warnf("layout change failed: %v", err)
		writeText(w, http.StatusInternalServerError, reasonFor(err))
		return
	}
	for _, cmd := range res.Refused {
		s.logger.Warnf("niri declined %s", cmd)
	}
	s.logger.Infof("master %d -> %v, slave %d -> %v", res.Master, res.MasterProportion, res.Slave, res.SlaveProportion)
	writeText(w, http.StatusOK, layout.RebalanceMessage)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeText(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.metrics.Snapshot()); err != nil {
		s.logger.Debugf("write stats: %v", err)
	}
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}
