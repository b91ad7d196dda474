package schedule

import (
	"fmt"
	"strconv"
	"strings"
)

type Train struct {
	ID          string
	Name        string
	Origin      string
	Destination string
	Departure   int     // seconds since midnight
	SpeedKmph   float64
	Route       []Waypoint
	Stations    []Station
}

type Waypoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type Station struct {
	Name    string
	Lat     float64
	Lon     float64
	Arrival int // seconds since midnight; 0 when unknown
}

type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
)

// Sample is a train's computed position at one instant.
type Sample struct {
	TrainID     string  `json:"train_id"`
	TrainName   string  `json:"train_name,omitempty"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	SpeedKmph   float64 `json:"speed_kmph"`
	Bearing     float64 `json:"bearing"`
	Status      Status  `json:"status"`
	NextStation string  `json:"next_station,omitempty"`
	Progress    float64 `json:"progress"`
}

// Frame is the set of samples for every train at one simulated clock time.
type Frame struct {
	Time   string   `json:"time"`
	Trains []Sample `json:"trains"`
}

// ParseClock parses HH:MM:SS (or HH:MM) into seconds since midnight. Hours
// may exceed 23 for services running past midnight.
func ParseClock(s string) (int, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid clock %q", s)
	}
	vals := make([]int, 3)
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 {
			return 0, fmt.Errorf("invalid clock %q", s)
		}
		vals[i] = v
	}
	if vals[1] > 59 || vals[2] > 59 {
		return 0, fmt.Errorf("invalid clock %q", s)
	}
	return vals[0]*3600 + vals[1]*60 + vals[2], nil
}

// FormatClock renders seconds since midnight as HH:MM:SS.
func FormatClock(sec int) string {
	if sec < 0 {
		sec = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", sec/3600, (sec/60)%60, sec%60)
}
