package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"train-simulator/internal/bbox"
	"train-simulator/internal/track"
)

func parseBBox(r *http.Request) (bbox.Key, error) {
	q := r.URL.Query()
	var vals [4]float64
	for i, name := range []string{"south", "west", "north", "east"} {
		raw := q.Get(name)
		if raw == "" {
			return bbox.Key{}, fmt.Errorf("missing %s", name)
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return bbox.Key{}, fmt.Errorf("invalid %s: %q", name, raw)
		}
		vals[i] = v
	}
	k := bbox.Key{South: vals[0], West: vals[1], North: vals[2], East: vals[3]}
	return k, k.Validate()
}

// getTracks handles GET /api/tracks?south=&west=&north=&east=
func (s *Server) getTracks(w http.ResponseWriter, r *http.Request) {
	k, err := parseBBox(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid bounding box", err)
		return
	}
	fc, hit, err := s.tracks.Tracks(r.Context(), k)
	if err != nil {
		writeError(w, http.StatusBadGateway, "Failed to fetch tracks", err)
		return
	}
	if hit {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(fc)
}

type snapRequest struct {
	Trains []trainInput `json:"trains" validate:"required,min=1,dive"`
	BBox   *bbox.Key    `json:"bbox"`
}

type trainInput struct {
	ID       string    `json:"id" validate:"required"`
	Type     string    `json:"type"`
	Position []float64 `json:"position" validate:"len=2"`
	LengthM  float64   `json:"length_m" validate:"gte=0"`
}

func (t trainInput) point() orb.Point { return orb.Point{t.Position[0], t.Position[1]} }

type snapResponse struct {
	Type      string             `json:"type"`
	Features  []*geojson.Feature `json:"features"`
	Unsnapped []string           `json:"unsnapped"`
}

// snapTrains handles POST /api/trains/snap. Each train is projected onto the
// nearest track within the snap radius and returned as a body LineString
// running tail to head. Trains with no track in range are listed in unsnapped.
func (s *Server) snapTrains(w http.ResponseWriter, r *http.Request) {
	var req snapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err)
		return
	}
	points := make([]orb.Point, 0, len(req.Trains))
	for _, t := range req.Trains {
		p := t.point()
		if p.Lon() < -180 || p.Lon() > 180 || p.Lat() < -90 || p.Lat() > 90 {
			writeError(w, http.StatusBadRequest, "Invalid request", fmt.Errorf("train %s position out of range", t.ID))
			return
		}
		points = append(points, p)
	}

	k := bbox.Around(points, s.opts.SnapRadiusM)
	if req.BBox != nil {
		k = *req.BBox
	}
	fc, _, err := s.tracks.Tracks(r.Context(), k)
	if err != nil {
		if errors.Is(err, bbox.ErrInvalidBBox) {
			writeError(w, http.StatusBadRequest, "Invalid bounding box", err)
			return
		}
		writeError(w, http.StatusBadGateway, "Failed to fetch tracks", err)
		return
	}
	tracks := track.FromFeatureCollection(fc)

	resp := snapResponse{Type: "FeatureCollection", Features: []*geojson.Feature{}, Unsnapped: []string{}}
	for i, t := range req.Trains {
		snap, ok := track.FindNearest(points[i], tracks, s.opts.SnapRadiusM)
		if !ok {
			resp.Unsnapped = append(resp.Unsnapped, t.ID)
			s.countSnap("unsnapped")
			continue
		}
		s.countSnap("snapped")
		length := t.LengthM
		if length <= 0 {
			length = s.opts.BodyLengthM
		}
		body := track.SynthesizeBody(snap, snap.Track.Line, length)

		f := geojson.NewFeature(orb.LineString{body.Tail, body.Head})
		f.ID = t.ID
		f.Properties["id"] = t.ID
		f.Properties["type"] = t.Type
		f.Properties["track_id"] = snap.Track.ID
		f.Properties["track_name"] = snap.Track.Name
		f.Properties["segment_index"] = snap.SegmentIndex
		f.Properties["distance_m"] = snap.DistanceMeters
		f.Properties["bearing"] = body.BearingDegrees
		f.Properties["snapped_point"] = []float64{snap.Point.Lon(), snap.Point.Lat()}
		f.Properties["length_m"] = length
		resp.Features = append(resp.Features, f)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) countSnap(result string) {
	if s.metrics != nil {
		s.metrics.Snaps.WithLabelValues(result).Inc()
	}
}
