// Package server exposes the monitor's operational HTTP endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"dmv-notifier/pkg/notifier"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SnapshotReader reads the persisted slot snapshot.
type SnapshotReader interface {
	ReadSnapshot(ctx context.Context) ([]notifier.SnapshotEntry, error)
	ReadLocationsWithSlots(ctx context.Context) ([]notifier.SnapshotEntry, error)
}

// Server handles HTTP requests.
type Server struct {
	store      SnapshotReader
	logger     *slog.Logger
	started    time.Time
	categories []notifier.Category
	http       *http.Server
}

// Config holds server configuration.
type Config struct {
	Store      SnapshotReader
	Logger     *slog.Logger
	Categories []notifier.Category
	Addr       string
}

// New creates the server and its router.
func New(cfg *Config) *Server {
	s := &Server{
		store:      cfg.Store,
		logger:     cfg.Logger,
		started:    time.Now(),
		categories: cfg.Categories,
	}
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.GetHead)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))
	r.Use(accessLog(s.logger))

	r.Get("/healthz", s.handleHealth)
	r.Get("/categories", s.handleCategories)
	r.Get("/availability", s.handleAvailability)
	r.Get("/availability/with-slots", s.handleWithSlots)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

// Start serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", "addr", s.http.Addr)
		errc <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.logger.Info("HTTP server shutting down")
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":         "healthy",
		"uptime_seconds": int(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleCategories(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.categories)
}

// availabilityItem is one snapshot row as served to clients.
type availabilityItem struct {
	Category    string `json:"category"`
	Location    string `json:"location_name"`
	LastChecked string `json:"last_checked"`
	SlotsCount  int    `json:"slots_count"`
}

func toItems(entries []notifier.SnapshotEntry) []availabilityItem {
	items := make([]availabilityItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, availabilityItem{
			Category:    e.CategoryKey,
			Location:    e.Location,
			LastChecked: e.LastChecked.UTC().Format(time.RFC3339),
			SlotsCount:  e.HasSlots,
		})
	}
	return items
}

func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.ReadSnapshot(r.Context())
	if err != nil {
		s.logger.Error("Failed to read snapshot", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, toItems(entries))
}

func (s *Server) handleWithSlots(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.ReadLocationsWithSlots(r.Context())
	if err != nil {
		s.logger.Error("Failed to read locations with slots", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"count":     len(entries),
		"locations": toItems(entries),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}
