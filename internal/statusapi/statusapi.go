// Package statusapi serves a node's peer table and Prometheus metrics
// over HTTP.
package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"rosterchat/internal/node"
)

// StatusSource is the part of a node the API reads from.
type StatusSource interface {
	Status() []node.PeerStatus
}

// Server is the status HTTP server.
type Server struct {
	self   string
	source StatusSource
	log    *zap.Logger
}

// NewServer creates a status server for the node identified by self.
func NewServer(self string, source StatusSource, log *zap.Logger) *Server {
	return &Server{self: self, source: source, log: log.Named("statusapi")}
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "ok",
			"node":   s.self,
		})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/peers", s.handlePeers)
	})

	r.Handle("/metrics", promhttp.Handler())
	return r
}

type peersResponse struct {
	Node  string            `json:"node"`
	Alive int               `json:"alive"`
	Peers []node.PeerStatus `json:"peers"`
}

func (s *Server) handlePeers(w http.ResponseWriter, _ *http.Request) {
	peers := s.source.Status()
	resp := peersResponse{Node: s.self, Peers: peers}
	for _, p := range peers {
		if p.Alive {
			resp.Alive++
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListenAndServe serves on addr until ctx is cancelled. Errors are logged,
// never fatal to the node.
func (s *Server) ListenAndServe(ctx context.Context, addr string) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})
	defer stop()

	s.log.Info("status api listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Error("status api stopped", zap.Error(err))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
