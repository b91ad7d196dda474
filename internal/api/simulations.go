package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"train-simulator/internal/gtfsrt"
	"train-simulator/internal/schedule"
	"train-simulator/internal/sim"
)

type simulationResponse struct {
	SimulationID   string           `json:"simulation_id"`
	Source         sim.Source       `json:"source"`
	FallbackReason string           `json:"fallback_reason,omitempty"`
	StartedAt      time.Time        `json:"started_at"`
	SimStart       string           `json:"sim_start"`
	Trains         int              `json:"trains"`
	FrameCount     int              `json:"frame_count"`
	Frames         []schedule.Frame `json:"frames,omitempty"`
}

// createSimulation handles POST /api/simulations[?frames=true]
func (s *Server) createSimulation(w http.ResponseWriter, r *http.Request) {
	active, err := s.sim.Activate(r.Context(), s.trains)
	if err != nil {
		if errors.Is(err, sim.ErrNoScheduleData) {
			writeError(w, http.StatusNotFound, err.Error(), nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to start simulation", err)
		return
	}
	resp := simulationResponse{
		SimulationID:   active.ID,
		Source:         active.Source,
		FallbackReason: active.FallbackReason,
		StartedAt:      active.StartedAt.UTC(),
		SimStart:       schedule.FormatClock(active.SimStart),
		Trains:         len(active.Plans()),
		FrameCount:     len(active.Frames),
	}
	if withFrames, _ := strconv.ParseBool(r.URL.Query().Get("frames")); withFrames {
		resp.Frames = active.Frames
	}
	writeJSON(w, http.StatusCreated, resp)
}

type stateResponse struct {
	SimulationID string            `json:"simulation_id,omitempty"`
	Time         string            `json:"time"`
	Trains       []schedule.Sample `json:"trains"`
}

// queryClock returns ?time=, defaulting to the current wall clock.
func (s *Server) queryClock(r *http.Request) string {
	if v := r.URL.Query().Get("time"); v != "" {
		return v
	}
	return s.now().In(s.opts.Location).Format("15:04:05")
}

func (s *Server) state(w http.ResponseWriter, r *http.Request) (string, []schedule.Sample, bool) {
	id := chi.URLParam(r, "id")
	clock := s.queryClock(r)
	samples, err := s.sim.QueryState(r.Context(), id, clock)
	switch {
	case err == nil:
		return clock, samples, true
	case errors.Is(err, sim.ErrInvalidTime):
		writeError(w, http.StatusBadRequest, "Invalid time, expected HH:MM:SS", err)
	case errors.Is(err, sim.ErrSimulationNotFound), errors.Is(err, sim.ErrNoActiveSimulation):
		writeError(w, http.StatusNotFound, "Simulation not found", err)
	default:
		writeError(w, http.StatusInternalServerError, "Failed to query simulation", err)
	}
	return "", nil, false
}

// getState handles GET /api/simulations/state and /api/simulations/{id}/state
func (s *Server) getState(w http.ResponseWriter, r *http.Request) {
	clock, samples, ok := s.state(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if id == "" {
		if active, ok := s.sim.Active(); ok {
			id = active.ID
		}
	}
	if samples == nil {
		samples = []schedule.Sample{}
	}
	writeJSON(w, http.StatusOK, stateResponse{SimulationID: id, Time: clock, Trains: samples})
}

// getFeed handles GET /api/simulations/{id}/feed.pb
func (s *Server) getFeed(w http.ResponseWriter, r *http.Request) {
	_, samples, ok := s.state(w, r)
	if !ok {
		return
	}
	b, err := gtfsrt.Encode(samples, s.now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to encode feed", err)
		return
	}
	w.Header().Set("Content-Type", gtfsrt.ContentType)
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

type scheduleSummary struct {
	TrainID     string `json:"train_id"`
	TrainName   string `json:"train_name,omitempty"`
	Origin      string `json:"origin_station,omitempty"`
	Destination string `json:"destination_station,omitempty"`
	Departure   string `json:"departure_time"`
	Arrival     string `json:"arrival_time"`
	Strategy    string `json:"strategy"`
	RoutePoints int    `json:"route_points"`
	Stations    int    `json:"stations"`
}

// listSchedules handles GET /api/schedules
func (s *Server) listSchedules(w http.ResponseWriter, r *http.Request) {
	out := make([]scheduleSummary, 0, len(s.plans))
	for _, p := range s.plans {
		out = append(out, scheduleSummary{
			TrainID:     p.Train.ID,
			TrainName:   p.Train.Name,
			Origin:      p.Train.Origin,
			Destination: p.Train.Destination,
			Departure:   schedule.FormatClock(int(p.Departure)),
			Arrival:     schedule.FormatClock(int(p.Arrival)),
			Strategy:    p.Strategy.String(),
			RoutePoints: len(p.Train.Route),
			Stations:    len(p.Train.Stations),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"schedules": out, "count": len(out)})
}

// getCache handles GET /api/cache
func (s *Server) getCache(w http.ResponseWriter, r *http.Request) {
	c := s.tracks.Cache()
	stats, err := c.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read cache", err)
		return
	}
	keys, err := c.Keys(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read cache", err)
		return
	}
	if keys == nil {
		keys = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": stats, "keys": keys})
}

// clearCache handles DELETE /api/cache
func (s *Server) clearCache(w http.ResponseWriter, r *http.Request) {
	n, err := s.tracks.Cache().Clear(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to clear cache", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cleared": n})
}
