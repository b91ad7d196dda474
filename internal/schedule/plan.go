package schedule

import (
	"math"
	"time"

	"github.com/paulmach/orb"

	"train-simulator/internal/geometry"
)

// Strategy selects how a plan interpolates positions. It is fixed when the
// plan is compiled.
type Strategy int

const (
	StrategyNone Strategy = iota
	StrategyGeometry
	StrategyStations
)

func (s Strategy) String() string {
	switch s {
	case StrategyGeometry:
		return "geometry"
	case StrategyStations:
		return "stations"
	default:
		return "none"
	}
}

// Policy controls journey duration when stations carry no usable arrival times.
type Policy struct {
	NominalJourney time.Duration
}

var DefaultPolicy = Policy{NominalJourney: time.Hour}

// Plan is a compiled, read-only interpolation plan for one train.
type Plan struct {
	Train     Train
	Strategy  Strategy
	Departure float64 // seconds since midnight
	Arrival   float64

	keyTimes []float64 // station keyframes, StrategyStations only
}

// Compile picks the interpolation strategy and resolves the journey duration.
// The duration comes from the last station's arrival when it lies after the
// departure, otherwise from the policy's nominal journey.
func Compile(t Train, p Policy) *Plan {
	nominal := p.NominalJourney
	if nominal <= 0 {
		nominal = DefaultPolicy.NominalJourney
	}
	pl := &Plan{Train: t, Departure: float64(t.Departure)}
	switch {
	case len(t.Route) > 0:
		pl.Strategy = StrategyGeometry
	case len(t.Stations) > 0:
		pl.Strategy = StrategyStations
	}
	if t.Departure == 0 && len(t.Stations) > 0 && t.Stations[0].Arrival > 0 {
		pl.Departure = float64(t.Stations[0].Arrival)
	}
	pl.Arrival = pl.Departure + nominal.Seconds()
	if n := len(t.Stations); n > 0 {
		if last := float64(t.Stations[n-1].Arrival); last > pl.Departure {
			pl.Arrival = last
		}
	}
	if pl.Strategy == StrategyStations {
		pl.keyTimes = stationKeyTimes(t.Stations, pl.Departure, pl.Arrival)
	}
	return pl
}

// HasData reports whether the plan can place the train anywhere.
func (p *Plan) HasData() bool { return p.Strategy != StrategyNone }

// Duration is the journey length in seconds.
func (p *Plan) Duration() float64 { return p.Arrival - p.Departure }

// stationKeyTimes pins the first station to the departure and the last to the
// arrival, spreads stations without arrival times evenly between known ones,
// and keeps the result non-decreasing.
func stationKeyTimes(st []Station, dep, arr float64) []float64 {
	n := len(st)
	kt := make([]float64, n)
	known := make([]bool, n)
	kt[0], known[0] = dep, true
	if n > 1 {
		kt[n-1], known[n-1] = arr, true
	}
	for i := 1; i < n-1; i++ {
		if st[i].Arrival > 0 {
			kt[i], known[i] = float64(st[i].Arrival), true
		}
	}
	prev := 0
	for i := 1; i < n; i++ {
		if !known[i] {
			continue
		}
		for j := prev + 1; j < i; j++ {
			kt[j] = kt[prev] + (kt[i]-kt[prev])*float64(j-prev)/float64(i-prev)
		}
		prev = i
	}
	for i := 1; i < n; i++ {
		kt[i] = geometry.Clamp(kt[i], kt[i-1], arr)
	}
	return kt
}

// PositionAt computes the train's sample at sec seconds since midnight.
// The result depends only on sec and the compiled plan.
func (p *Plan) PositionAt(sec float64) Sample {
	s := Sample{TrainID: p.Train.ID, TrainName: p.Train.Name}
	switch {
	case sec < p.Departure:
		s.Status = StatusWaiting
		p.place(&s, p.start(), p.firstBearing())
		s.NextStation = p.firstStation()
	case sec >= p.Arrival:
		s.Status = StatusCompleted
		s.Progress = 1
		p.place(&s, p.end(), p.lastBearing())
		s.NextStation = p.lastStation()
	default:
		s.Status = StatusRunning
		s.SpeedKmph = p.Train.SpeedKmph
		s.Progress = geometry.Clamp((sec-p.Departure)/p.Duration(), 0, 1)
		if p.Strategy == StrategyStations {
			p.alongStations(&s, sec)
		} else {
			p.alongRoute(&s)
		}
	}
	return s
}

func (p *Plan) alongRoute(s *Sample) {
	route := p.Train.Route
	n := len(route)
	if n == 0 {
		return
	}
	exact := s.Progress * float64(n-1)
	lower := int(math.Floor(exact))
	if lower > n-1 {
		lower = n - 1
	}
	upper := lower + 1
	if upper > n-1 {
		upper = n - 1
	}
	pt := geometry.Lerp(route[lower].Point(), route[upper].Point(), exact-float64(lower))
	bearing := p.lastBearing()
	if upper != lower {
		bearing = p.routeBearing(lower, upper)
	}
	p.place(s, pt, bearing)
	s.NextStation = p.stationAtProgress(s.Progress)
}

func (p *Plan) alongStations(s *Sample, sec float64) {
	st := p.Train.Stations
	if len(st) == 1 {
		p.place(s, st[0].Point(), 0)
		s.NextStation = st[0].Name
		return
	}
	kt := p.keyTimes
	i := 0
	for i < len(kt)-2 && sec >= kt[i+1] {
		i++
	}
	frac := 0.0
	if span := kt[i+1] - kt[i]; span > 0 {
		frac = geometry.Clamp((sec-kt[i])/span, 0, 1)
	}
	a, b := st[i].Point(), st[i+1].Point()
	p.place(s, geometry.Lerp(a, b, frac), geometry.Bearing(a, b))
	s.NextStation = st[i+1].Name
}

// stationAtProgress maps progress proportionally onto the station list. This
// is an index mapping, not a geometric nearest-station lookup.
func (p *Plan) stationAtProgress(progress float64) string {
	st := p.Train.Stations
	if len(st) == 0 {
		return p.Train.Destination
	}
	idx := int(progress * float64(len(st)))
	if idx > len(st)-1 {
		idx = len(st) - 1
	}
	return st[idx].Name
}

func (p *Plan) place(s *Sample, pt orb.Point, bearing float64) {
	s.Lon, s.Lat = pt[0], pt[1]
	s.Bearing = bearing
}

func (p *Plan) start() orb.Point {
	switch p.Strategy {
	case StrategyGeometry:
		return p.Train.Route[0].Point()
	case StrategyStations:
		return p.Train.Stations[0].Point()
	}
	return orb.Point{}
}

func (p *Plan) end() orb.Point {
	switch p.Strategy {
	case StrategyGeometry:
		return p.Train.Route[len(p.Train.Route)-1].Point()
	case StrategyStations:
		return p.Train.Stations[len(p.Train.Stations)-1].Point()
	}
	return orb.Point{}
}

func (p *Plan) firstBearing() float64 {
	switch p.Strategy {
	case StrategyGeometry:
		return p.routeBearing(0, 1)
	case StrategyStations:
		if st := p.Train.Stations; len(st) > 1 {
			return geometry.Bearing(st[0].Point(), st[1].Point())
		}
	}
	return 0
}

func (p *Plan) lastBearing() float64 {
	switch p.Strategy {
	case StrategyGeometry:
		n := len(p.Train.Route)
		return p.routeBearing(n-2, n-1)
	case StrategyStations:
		st := p.Train.Stations
		if n := len(st); n > 1 {
			return geometry.Bearing(st[n-2].Point(), st[n-1].Point())
		}
	}
	return 0
}

func (p *Plan) routeBearing(i, j int) float64 {
	r := p.Train.Route
	if i < 0 || j >= len(r) || i == j {
		return 0
	}
	return geometry.Bearing(r[i].Point(), r[j].Point())
}

func (p *Plan) firstStation() string {
	if len(p.Train.Stations) > 0 {
		return p.Train.Stations[0].Name
	}
	return p.Train.Origin
}

func (p *Plan) lastStation() string {
	if n := len(p.Train.Stations); n > 0 {
		return p.Train.Stations[n-1].Name
	}
	return p.Train.Destination
}

func (w Waypoint) Point() orb.Point { return orb.Point{w.Lon, w.Lat} }

func (s Station) Point() orb.Point { return orb.Point{s.Lon, s.Lat} }
