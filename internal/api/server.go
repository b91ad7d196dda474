// Package api exposes tracks, snapping and simulations over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/paulmach/orb/geojson"

	"train-simulator/internal/bbox"
	"train-simulator/internal/metrics"
	"train-simulator/internal/schedule"
	"train-simulator/internal/sim"
	"train-simulator/internal/track"
)

// Simulator is the orchestrator surface the handlers use.
type Simulator interface {
	Activate(ctx context.Context, trains []schedule.Train) (*sim.Simulation, error)
	QueryState(ctx context.Context, id, clock string) ([]schedule.Sample, error)
	Active() (*sim.Simulation, bool)
}

// TrackSource returns the tracks inside a box and whether they were cached.
type TrackSource interface {
	Tracks(ctx context.Context, k bbox.Key) (*geojson.FeatureCollection, bool, error)
	Cache() bbox.Cache
}

type Options struct {
	SnapRadiusM    float64
	BodyLengthM    float64
	Policy         schedule.Policy
	Location       *time.Location
	AllowedOrigins []string
}

type Server struct {
	sim      Simulator
	tracks   TrackSource
	trains   []schedule.Train
	plans    []*schedule.Plan
	metrics  *metrics.Collector
	opts     Options
	validate *validator.Validate
	now      func() time.Time
}

func NewServer(s Simulator, tracks TrackSource, trains []schedule.Train, m *metrics.Collector, opts Options) *Server {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.SnapRadiusM <= 0 {
		opts.SnapRadiusM = track.DefaultMaxDistance
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	return &Server{
		sim:      s,
		tracks:   tracks,
		trains:   trains,
		plans:    schedule.CompileAll(trains, opts.Policy),
		metrics:  m,
		opts:     opts,
		validate: validator.New(),
		now:      time.Now,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"X-Cache"},
	}))

	r.Get("/health", s.health)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/tracks", s.getTracks)
		r.Post("/trains/snap", s.snapTrains)

		r.Get("/schedules", s.listSchedules)

		r.Post("/simulations", s.createSimulation)
		r.Get("/simulations/state", s.getState)
		r.Get("/simulations/{id}/state", s.getState)
		r.Get("/simulations/{id}/feed.pb", s.getFeed)

		r.Get("/cache", s.getCache)
		r.Delete("/cache", s.clearCache)
	})
	return r
}

// ErrorResponse is the JSON error response structure
type ErrorResponse struct {
	Error   string         `json:"error"`
	Details map[string]any `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, err error) {
	resp := ErrorResponse{Error: msg}
	if err != nil {
		resp.Details = map[string]any{"internal": err.Error()}
	}
	writeJSON(w, status, resp)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":    "ok",
		"trains":    len(s.trains),
		"timestamp": s.now().UTC(),
	}
	if active, ok := s.sim.Active(); ok {
		resp["simulation_id"] = active.ID
		resp["source"] = active.Source
	}
	writeJSON(w, http.StatusOK, resp)
}
