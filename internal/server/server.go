// Package server exposes completed backtest runs over a small read-only
// HTTP API.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/divcap/internal/results"
)

// Handlers contains the HTTP handlers for the results API.
type Handlers struct {
	repo *results.Repository
	log  zerolog.Logger
}

// NewHandlers creates the results API handlers.
func NewHandlers(repo *results.Repository, log zerolog.Logger) *Handlers {
	return &Handlers{
		repo: repo,
		log:  log.With().Str("handler", "results").Logger(),
	}
}

// RegisterRoutes mounts the results API onto the router.
func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Get("/api/runs", h.HandleListRuns)
	r.Get("/api/runs/{id}", h.HandleGetRun)
	r.Get("/api/runs/{id}/trades", h.HandleGetTrades)
	r.Get("/api/runs/{id}/positions", h.HandleGetPositions)
	r.Get("/api/runs/{id}/snapshots", h.HandleGetSnapshots)
	r.Get("/api/runs/{id}/signals", h.HandleGetSignals)
	r.Get("/api/health", h.HandleHealth)
}

// HandleListRuns returns run headers, newest first.
// GET /api/runs?limit=N
func (h *Handlers) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		if parsed, err := strconv.Atoi(limitParam); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	runs, err := h.repo.ListRuns(limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list runs")
		http.Error(w, "Failed to list runs", http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []results.Run{}
	}

	h.writeJSON(w, runs)
}

// HandleGetRun returns one run header with its metrics.
// GET /api/runs/{id}
func (h *Handlers) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")

	run, err := h.repo.GetRun(runID)
	if err != nil {
		h.log.Error().Err(err).Str("run_id", runID).Msg("Failed to get run")
		http.Error(w, "Failed to get run", http.StatusInternalServerError)
		return
	}
	if run == nil {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}

	h.writeJSON(w, run)
}

// HandleGetTrades returns a run's trades in execution order.
// GET /api/runs/{id}/trades
func (h *Handlers) HandleGetTrades(w http.ResponseWriter, r *http.Request) {
	h.writeRunSlice(w, r, func(runID string) (any, error) { return h.repo.Trades(runID) })
}

// HandleGetPositions returns a run's position summaries.
// GET /api/runs/{id}/positions
func (h *Handlers) HandleGetPositions(w http.ResponseWriter, r *http.Request) {
	h.writeRunSlice(w, r, func(runID string) (any, error) { return h.repo.Positions(runID) })
}

// HandleGetSnapshots returns a run's daily value series.
// GET /api/runs/{id}/snapshots
func (h *Handlers) HandleGetSnapshots(w http.ResponseWriter, r *http.Request) {
	h.writeRunSlice(w, r, func(runID string) (any, error) { return h.repo.Snapshots(runID) })
}

// HandleGetSignals returns a run's signal history.
// GET /api/runs/{id}/signals
func (h *Handlers) HandleGetSignals(w http.ResponseWriter, r *http.Request) {
	h.writeRunSlice(w, r, func(runID string) (any, error) { return h.repo.Signals(runID) })
}

// HandleHealth reports liveness.
// GET /api/health
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, map[string]string{"status": "ok"})
}

func (h *Handlers) writeRunSlice(w http.ResponseWriter, r *http.Request, fetch func(string) (any, error)) {
	runID := chi.URLParam(r, "id")

	run, err := h.repo.GetRun(runID)
	if err != nil {
		h.log.Error().Err(err).Str("run_id", runID).Msg("Failed to get run")
		http.Error(w, "Failed to get run", http.StatusInternalServerError)
		return
	}
	if run == nil {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}

	data, err := fetch(runID)
	if err != nil {
		h.log.Error().Err(err).Str("run_id", runID).Msg("Failed to load run data")
		http.Error(w, "Failed to load run data", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, data)
}

func (h *Handlers) writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode response")
	}
}

// Server is the HTTP server wrapping the results API.
type Server struct {
	httpServer *http.Server
	log        zerolog.Logger
}

// New builds the router with the standard middleware stack and returns a
// server ready to start.
func New(port int, allowedOrigins []string, handlers *Handlers, log zerolog.Logger) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	handlers.RegisterRoutes(r)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: log.With().Str("component", "server").Logger(),
	}
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("HTTP server started")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("HTTP server shutting down")
	return s.httpServer.Shutdown(ctx)
}
