// Package server exposes the operational HTTP API: viewport place
// queries, source health, and ingestion triggers.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/gatherly/placesync/internal/events"
	"github.com/gatherly/placesync/internal/model"
)

// PlaceQuerier answers viewport place queries. Implemented by the place
// aggregator.
type PlaceQuerier interface {
	Query(ctx context.Context, q model.ViewportQuery) ([]model.CanonicalPlace, error)
}

// SourceLister is the read side of the event source table.
type SourceLister interface {
	ListSources(ctx context.Context, enabledOnly bool) ([]model.EventSource, error)
}

// IngestRunner triggers an ingestion run. Implemented by events.Ingestor.
type IngestRunner interface {
	Run(ctx context.Context, filter events.RunFilter) ([]model.SourceReport, error)
}

// Server is the operational HTTP API.
type Server struct {
	places  PlaceQuerier
	sources SourceLister
	ingest  IngestRunner
	log     *zap.Logger
}

// New assembles the server. Any dependency may be nil; its endpoints
// then answer 503.
func New(places PlaceQuerier, sources SourceLister, ingest IngestRunner) *Server {
	return &Server{
		places:  places,
		sources: sources,
		ingest:  ingest,
		log:     zap.L().With(zap.String("component", "server")),
	}
}

// Router builds the chi handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/places", s.handlePlaces)
		r.Get("/sources", s.handleSources)
		r.Get("/sources/stats", s.handleSourceStats)
		r.Post("/ingest", s.handleIngest)
	})
	return r
}

// ListenAndServe runs the server until the context is canceled, then
// shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Info("starting server", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return eris.Wrap(err, "server: listen")
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handlePlaces answers GET /api/places with viewport query parameters:
// min_lat, min_lng, max_lat, max_lng (required), categories (comma
// separated), city, limit, refresh.
func (s *Server) handlePlaces(w http.ResponseWriter, r *http.Request) {
	if s.places == nil {
		writeError(w, http.StatusServiceUnavailable, "place queries unavailable")
		return
	}

	bounds, err := parseBounds(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	q := model.ViewportQuery{
		Bounds:       bounds,
		City:         r.URL.Query().Get("city"),
		ForceRefresh: r.URL.Query().Get("refresh") == "true",
	}
	if raw := r.URL.Query().Get("categories"); raw != "" {
		for _, c := range strings.Split(raw, ",") {
			if c = strings.TrimSpace(c); c != "" {
				q.Categories = append(q.Categories, c)
			}
		}
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		q.Limit = limit
	}

	places, err := s.places.Query(r.Context(), q)
	if err != nil {
		s.log.Error("place query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "place query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":  len(places),
		"places": places,
	})
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	if s.sources == nil {
		writeError(w, http.StatusServiceUnavailable, "source listing unavailable")
		return
	}
	enabledOnly := r.URL.Query().Get("enabled") == "true"
	sources, err := s.sources.ListSources(r.Context(), enabledOnly)
	if err != nil {
		s.log.Error("source listing failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "source listing failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(sources),
		"sources": sources,
	})
}

// sourceStat is the health projection of one source row.
type sourceStat struct {
	ID            int64      `json:"id"`
	Name          string     `json:"name"`
	Type          string     `json:"type"`
	Enabled       bool       `json:"enabled"`
	LastStatus    string     `json:"last_status,omitempty"`
	FailureStreak int        `json:"failure_streak"`
	LastFetchedAt *time.Time `json:"last_fetched_at,omitempty"`
}

func (s *Server) handleSourceStats(w http.ResponseWriter, r *http.Request) {
	if s.sources == nil {
		writeError(w, http.StatusServiceUnavailable, "source listing unavailable")
		return
	}
	sources, err := s.sources.ListSources(r.Context(), false)
	if err != nil {
		s.log.Error("source listing failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "source listing failed")
		return
	}

	stats := make([]sourceStat, 0, len(sources))
	var failing int
	for _, src := range sources {
		if src.FailureStreak > 0 {
			failing++
		}
		stats = append(stats, sourceStat{
			ID:            src.ID,
			Name:          src.Name,
			Type:          string(src.Type),
			Enabled:       src.Enabled,
			LastStatus:    src.LastStatus,
			FailureStreak: src.FailureStreak,
			LastFetchedAt: src.LastFetchedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(stats),
		"failing": failing,
		"sources": stats,
	})
}

// handleIngest triggers a synchronous ingestion run, optionally limited
// to specific source ids.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if s.ingest == nil {
		writeError(w, http.StatusServiceUnavailable, "ingestion unavailable")
		return
	}

	var req struct {
		SourceIDs []int64 `json:"source_ids,omitempty"`
		Limit     int     `json:"limit,omitempty"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	reports, err := s.ingest.Run(r.Context(), events.RunFilter{
		SourceIDs: req.SourceIDs,
		Limit:     req.Limit,
	})
	if err != nil {
		s.log.Error("ingestion run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "ingestion run failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(reports),
		"reports": reports,
	})
}

func parseBounds(r *http.Request) (model.Bounds, error) {
	var b model.Bounds
	fields := []struct {
		name string
		dst  *float64
	}{
		{"min_lat", &b.MinLat},
		{"min_lng", &b.MinLng},
		{"max_lat", &b.MaxLat},
		{"max_lng", &b.MaxLng},
	}
	for _, f := range fields {
		raw := r.URL.Query().Get(f.name)
		if raw == "" {
			return b, fmt.Errorf("%s is required", f.name)
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return b, fmt.Errorf("invalid %s", f.name)
		}
		*f.dst = v
	}
	if b.MinLat >= b.MaxLat || b.MinLng >= b.MaxLng {
		return b, fmt.Errorf("bounds are empty")
	}
	return b, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
