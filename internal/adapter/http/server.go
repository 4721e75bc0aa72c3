package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/couchcryptid/grid-obs-bufr/internal/domain"
	"github.com/couchcryptid/grid-obs-bufr/internal/pipeline"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RunLister reads the run ledger.
type RunLister interface {
	List(ctx context.Context, obsType domain.ObsType, limit int) ([]pipeline.Report, error)
	Get(ctx context.Context, id string) (*pipeline.Report, error)
}

// Server exposes health, readiness, metrics, and run ledger endpoints.
type Server struct {
	httpServer *http.Server
	runs       RunLister
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, and /metrics
// routes, plus /runs when a ledger is given.
func NewServer(addr string, ready sharedobs.ReadinessChecker, runs RunLister, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		runs:   runs,
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())
	if runs != nil {
		mux.HandleFunc("GET /runs", s.handleListRuns)
		mux.HandleFunc("GET /runs/{id}", s.handleGetRun)
	}

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

// handleListRuns serves GET /runs?obs_type=surface&limit=20.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var obsType domain.ObsType
	if v := q.Get("obs_type"); v != "" {
		t, err := domain.ParseObsType(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		obsType = t
	}

	limit := 50
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be 1-1000"))
			return
		}
		limit = n
	}

	runs, err := s.runs.List(r.Context(), obsType, limit)
	if err != nil {
		s.logger.Error("list runs", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.Get(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case err != nil:
		s.logger.Error("get run", "error", err)
		writeError(w, http.StatusInternalServerError, err)
	default:
		sharedobs.WriteJSON(w, http.StatusOK, run)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	sharedobs.WriteJSON(w, status, map[string]string{"error": err.Error()})
}
