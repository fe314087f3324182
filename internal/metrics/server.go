package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"image-analyzer/internal/logging"
	"image-analyzer/internal/middleware"
)

// SnapshotFunc returns a JSON-encodable view of the current batch.
type SnapshotFunc func() any

// Server exposes the registry, a liveness endpoint and the live progress
// snapshot over HTTP while a batch runs.
type Server struct {
	srv      *http.Server
	log      *logging.Logger
	listener net.Listener
}

// NewServer builds a status server bound to addr.
func NewServer(addr string, m *Metrics, snapshot SnapshotFunc, log *logging.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(m, snapshot, log),
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		log: log,
	}
}

// NewRouter returns the status routes wrapped in request metrics and
// request logging.
func NewRouter(m *Metrics, snapshot SnapshotFunc, log *logging.Logger) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.Metrics(m), middleware.Logger(log))
	r.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{
		Registry: m.Registry,
	})).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	r.HandleFunc("/progress", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		var body any = struct{}{}
		if snapshot != nil {
			body = snapshot()
		}
		if err := json.NewEncoder(w).Encode(body); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}).Methods(http.MethodGet)
	return r
}

// Start listens in the background. Listen errors are returned directly.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.log.Info("Status server listening on http://%s (/metrics, /healthz, /progress)", ln.Addr())

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("Status server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.srv.Addr
	}
	return s.listener.Addr().String()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
