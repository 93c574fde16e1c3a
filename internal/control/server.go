package control

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sigil-systems/ingestord/internal/config"
	"github.com/sigil-systems/ingestord/internal/logging"
)

// Server exposes the Control Plane's minimal HTTP surface: liveness,
// Prometheus scrape, and a manual reload trigger for operators who
// don't want to wait on the Configuration Store's file watch.
type Server struct {
	addr   string
	plane  *Plane
	logger *logging.Logger
	router *http.ServeMux
	server *http.Server
}

// NewServer builds the Control Plane's HTTP surface bound to addr
// (e.g. ":9090"). gatherer must be the same registry passed to
// control.New, or /metrics will scrape an empty registry instead of
// the Plane's per-source and process collectors.
func NewServer(addr string, plane *Plane, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		addr:   addr,
		plane:  plane,
		logger: logging.GetLogger("control.server"),
		router: http.NewServeMux(),
	}
	s.router.HandleFunc("/healthz", s.handleHealthz)
	s.router.HandleFunc("/reload", s.handleReload)
	s.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start implements the lifecycle.Component interface.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.ErrorWithFields("control server error", logging.Field("error", err.Error()))
		}
	}()
	s.logger.InfoWithFields("control server listening", logging.Field("addr", s.addr))
	return nil
}

// Stop implements the lifecycle.Component interface.
func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

// Name implements the lifecycle.Component interface.
func (s *Server) Name() string {
	return "control.server"
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// handleReload re-reads the sources file and applies any changes
// immediately, without waiting for the debounced file watch to fire.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	sf, err := config.LoadSourcesFile(s.plane.sourcesPath())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if err := s.plane.Reload(r.Context(), sf.Sources); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	_ = encoder.Encode(data)
}
