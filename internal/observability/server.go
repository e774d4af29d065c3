// Package observability exposes the operational side-channel of the
// relay: Prometheus metrics, liveness, and a readiness probe supplied
// by the caller.
package observability

import (
	"context"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Server serves /metrics and health probes on a dedicated listener so
// operational traffic never competes with participant traffic.
type Server struct {
	addr   string
	ready  func() bool
	server *http.Server
}

// NewServer builds the observability listener. The ready func may be
// nil, in which case readiness always reports ok.
func NewServer(addr string, ready func() bool) *Server {
	s := &Server{addr: addr, ready: ready}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil && !s.ready() {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready"))
}

// Start begins serving in the background.
func (s *Server) Start() {
	go func() {
		log.Info().Str("addr", s.addr).Msg("Observability server listening")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Observability server failed")
		}
	}()
}

// Shutdown drains the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Observability server shutting down")
	return s.server.Shutdown(ctx)
}
