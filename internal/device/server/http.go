// Package server exposes the device debug surface: health probes, Prometheus
// metrics, and read-only inspection of the slot pair and the update session.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/glowlink-io/glowlink/internal/device/flash"
	"github.com/glowlink-io/glowlink/internal/device/session"
	"github.com/glowlink-io/glowlink/pkg/log"
	"github.com/glowlink-io/glowlink/pkg/options"
)

type Server struct {
	server  *http.Server
	options *options.HttpOptions

	flash *flash.Manager
	ctrl  *session.Controller
}

// NewServer builds the debug HTTP server over the given flash manager and
// session controller.
func NewServer(opts *options.HttpOptions, fm *flash.Manager, ctrl *session.Controller) *Server {
	s := &Server{
		options: opts,
		flash:   fm,
		ctrl:    ctrl,
	}

	r := mux.NewRouter()

	// Liveness probe
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Handle("/metrics", promhttp.Handler())

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/slots", s.handleSlots).Methods(http.MethodGet)
	api.HandleFunc("/session", s.handleSession).Methods(http.MethodGet)

	s.server = &http.Server{
		Addr:         opts.Addr,
		Handler:      r,
		ReadTimeout:  opts.Timeout,
		WriteTimeout: opts.Timeout,
	}
	return s
}

func (s *Server) Start(ctx context.Context) error {
	log.Info("Starting debug HTTP server", "addr", s.server.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleSlots(w http.ResponseWriter, r *http.Request) {
	infos, err := s.flash.Slots()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, infos)
}

type sessionView struct {
	Status   string `json:"status"`
	Received int64  `json:"received"`
	Error    string `json:"error,omitempty"`
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	view := sessionView{
		Status:   s.ctrl.Status().String(),
		Received: s.ctrl.Received(),
	}
	if err := s.ctrl.LastError(); err != nil {
		view.Error = err.Error()
	}
	writeJSON(w, view)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error(err, "Failed to encode response")
	}
}
