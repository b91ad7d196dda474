package schedule

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// ErrNoData is returned when there is no schedule to simulate.
var ErrNoData = errors.New("no schedule data available")

// Record is the on-disk form of a train schedule.
type Record struct {
	TrainID       string          `json:"train_id"`
	TrainName     string          `json:"train_name"`
	Origin        string          `json:"origin_station"`
	Destination   string          `json:"destination_station"`
	DepartureTime string          `json:"departure_time"`
	SpeedKmph     float64         `json:"speed_kmph"`
	RouteGeometry []Waypoint      `json:"route_geometry"`
	Stations      []StationRecord `json:"stations"`
}

type StationRecord struct {
	Name          string  `json:"name"`
	Lat           float64 `json:"lat"`
	Lon           float64 `json:"lon"`
	ArrivalTime   string  `json:"arrival_time,omitempty"`
	ArrivalOffset *int    `json:"arrival_offset,omitempty"` // seconds after departure
}

// ResolveArrival turns a station's clock or offset into seconds since
// midnight. Both empty yields 0 (unknown).
func ResolveArrival(clock string, offset *int, departure int) (int, error) {
	if clock != "" {
		return ParseClock(clock)
	}
	if offset != nil {
		if *offset < 0 {
			return 0, fmt.Errorf("negative arrival offset %d", *offset)
		}
		return departure + *offset, nil
	}
	return 0, nil
}

// Train converts the record into its validated in-memory form.
func (r Record) Train() (Train, error) {
	if r.TrainID == "" {
		return Train{}, errors.New("missing train_id")
	}
	dep, err := ParseClock(r.DepartureTime)
	if err != nil {
		return Train{}, fmt.Errorf("train %s departure: %w", r.TrainID, err)
	}
	t := Train{
		ID:          r.TrainID,
		Name:        r.TrainName,
		Origin:      r.Origin,
		Destination: r.Destination,
		Departure:   dep,
		SpeedKmph:   r.SpeedKmph,
		Route:       r.RouteGeometry,
	}
	for _, s := range r.Stations {
		arr, err := ResolveArrival(s.ArrivalTime, s.ArrivalOffset, dep)
		if err != nil {
			return Train{}, fmt.Errorf("train %s station %q: %w", r.TrainID, s.Name, err)
		}
		t.Stations = append(t.Stations, Station{Name: s.Name, Lat: s.Lat, Lon: s.Lon, Arrival: arr})
	}
	return t, nil
}

// RecordOf is the inverse of Record.Train. Station arrivals are written as
// clock times; unknown arrivals are omitted.
func RecordOf(t Train) Record {
	r := Record{
		TrainID:       t.ID,
		TrainName:     t.Name,
		Origin:        t.Origin,
		Destination:   t.Destination,
		DepartureTime: FormatClock(t.Departure),
		SpeedKmph:     t.SpeedKmph,
		RouteGeometry: t.Route,
	}
	for _, s := range t.Stations {
		sr := StationRecord{Name: s.Name, Lat: s.Lat, Lon: s.Lon}
		if s.Arrival > 0 {
			sr.ArrivalTime = FormatClock(s.Arrival)
		}
		r.Stations = append(r.Stations, sr)
	}
	return r
}

// Decode parses either a bare JSON array of records or an object with a
// "trains" array. Train IDs must be unique.
func Decode(data []byte) ([]Train, error) {
	var records []Record
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var wrapped struct {
			Trains []Record `json:"trains"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, fmt.Errorf("decode schedules: %w", err)
		}
		records = wrapped.Trains
	} else if err := json.Unmarshal(trimmed, &records); err != nil {
		return nil, fmt.Errorf("decode schedules: %w", err)
	}
	return FromRecords(records)
}

// FromRecords converts records in order, rejecting duplicate IDs.
func FromRecords(records []Record) ([]Train, error) {
	trains := make([]Train, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	for _, r := range records {
		t, err := r.Train()
		if err != nil {
			return nil, err
		}
		if _, dup := seen[t.ID]; dup {
			return nil, fmt.Errorf("duplicate train_id %q", t.ID)
		}
		seen[t.ID] = struct{}{}
		trains = append(trains, t)
	}
	return trains, nil
}

// LoadFile reads schedules from a JSON file.
func LoadFile(path string) ([]Train, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schedules: %w", err)
	}
	return Decode(data)
}

// CompileAll compiles every train with the same policy, preserving order.
func CompileAll(trains []Train, p Policy) []*Plan {
	plans := make([]*Plan, 0, len(trains))
	for _, t := range trains {
		plans = append(plans, Compile(t, p))
	}
	return plans
}
