// Package sim owns the active simulation: it decides between the remote
// backend and local interpolation, answers state queries and streams
// positions.
package sim

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"train-simulator/internal/backend"
	mmetrics "train-simulator/internal/metrics"
	"train-simulator/internal/schedule"
)

var (
	ErrNoScheduleData     = schedule.ErrNoData
	ErrSimulationNotFound = errors.New("simulation not found")
	ErrNoActiveSimulation = errors.New("no active simulation")
	ErrInvalidTime        = errors.New("invalid time")
)

// Backend is the remote simulation service. *backend.Client implements it.
type Backend interface {
	Health(ctx context.Context) error
	Create(ctx context.Context, trains []schedule.Train) (string, error)
	Run(ctx context.Context, id string, w backend.Window) ([]schedule.Frame, error)
	State(ctx context.Context, id, clock string) ([]schedule.Sample, error)
}

type Source string

const (
	SourceBackend Source = "backend"
	SourceLocal   Source = "local"
)

// Fallback reasons, also used as metric labels.
const (
	ReasonDisabled     = "disabled"
	ReasonUnhealthy    = "unhealthy"
	ReasonCreateFailed = "create_failed"
	ReasonRunFailed    = "run_failed"
	ReasonStateFailed  = "state_failed"
)

type Options struct {
	Window        backend.Window
	Step          time.Duration // local frame spacing
	Horizon       time.Duration // local frame range
	HealthTimeout time.Duration
	CallTimeout   time.Duration
	Policy        schedule.Policy
	Location      *time.Location
}

// DefaultOptions matches the backend's 09:00-18:00 run at 30s and an 8h local horizon.
func DefaultOptions() Options {
	return Options{
		Window:        backend.Window{Start: "09:00:00", End: "18:00:00", StepSeconds: 30},
		Step:          30 * time.Second,
		Horizon:       8 * time.Hour,
		HealthTimeout: 5 * time.Second,
		CallTimeout:   30 * time.Second,
		Policy:        schedule.DefaultPolicy,
		Location:      time.Local,
	}
}

type Simulation struct {
	ID             string
	Source         Source
	FallbackReason string
	StartedAt      time.Time // wall clock at activation
	SimStart       int       // seconds since midnight at activation
	Running        bool
	Frames         []schedule.Frame

	plans []*schedule.Plan
}

// Plans returns the compiled plans that have position data.
func (s *Simulation) Plans() []*schedule.Plan { return s.plans }

// SamplesAt interpolates every plan locally at sec seconds since midnight.
func (s *Simulation) SamplesAt(sec float64) []schedule.Sample {
	out := make([]schedule.Sample, 0, len(s.plans))
	for _, p := range s.plans {
		out = append(out, p.PositionAt(sec))
	}
	return out
}

// ClockAt maps a wall time onto the simulated clock, scaled by speed.
func (s *Simulation) ClockAt(now time.Time, speed float64) float64 {
	return float64(s.SimStart) + now.Sub(s.StartedAt).Seconds()*speed
}

type Orchestrator struct {
	backend Backend // nil disables the remote path
	opts    Options
	metrics *mmetrics.Collector
	now     func() time.Time
	newID   func() string

	mu     sync.RWMutex
	active *Simulation
}

func NewOrchestrator(b Backend, opts Options, metrics *mmetrics.Collector) *Orchestrator {
	def := DefaultOptions()
	if opts.Location == nil {
		opts.Location = def.Location
	}
	if opts.HealthTimeout <= 0 {
		opts.HealthTimeout = def.HealthTimeout
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = def.CallTimeout
	}
	if opts.Window.Start == "" || opts.Window.End == "" {
		opts.Window = def.Window
	}
	return &Orchestrator{
		backend: b,
		opts:    opts,
		metrics: metrics,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// outcome is the result of trying the backend: either an id with frames,
// or the reason local generation must take over.
type outcome struct {
	id       string
	frames   []schedule.Frame
	fallback string
	err      error
}

// Activate starts a simulation for trains and makes it the active one.
// Backend failures never surface; they select the local path instead.
func (o *Orchestrator) Activate(ctx context.Context, trains []schedule.Train) (*Simulation, error) {
	if len(trains) == 0 {
		return nil, ErrNoScheduleData
	}
	now := o.now().In(o.opts.Location)
	sim := &Simulation{
		StartedAt: now,
		SimStart:  clockOf(now),
		Running:   true,
		plans:     compile(trains, o.opts.Policy),
	}

	res := o.tryBackend(ctx, trains)
	if res.fallback == "" {
		sim.ID = res.id
		sim.Source = SourceBackend
		sim.Frames = res.frames
	} else {
		if res.err != nil {
			log.Printf("warning: simulation backend %s, using local simulation: %v", res.fallback, res.err)
		} else {
			log.Printf("simulation backend %s, using local simulation", res.fallback)
		}
		o.countFallback(res.fallback)
		sim.ID = o.newID()
		sim.Source = SourceLocal
		sim.FallbackReason = res.fallback
		sim.Frames = o.localFrames(sim)
	}

	o.mu.Lock()
	o.active = sim
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.Activations.WithLabelValues(string(sim.Source)).Inc()
		o.metrics.ActiveTrains.Set(float64(len(sim.plans)))
	}
	log.Printf("simulation %s activated (source=%s, trains=%d, frames=%d)", sim.ID, sim.Source, len(sim.plans), len(sim.Frames))
	return sim, nil
}

func (o *Orchestrator) tryBackend(ctx context.Context, trains []schedule.Train) outcome {
	if o.backend == nil {
		return outcome{fallback: ReasonDisabled}
	}

	hctx, cancel := context.WithTimeout(ctx, o.opts.HealthTimeout)
	err := o.backend.Health(hctx)
	cancel()
	if err != nil {
		return outcome{fallback: ReasonUnhealthy, err: err}
	}

	cctx, cancel := context.WithTimeout(ctx, o.opts.CallTimeout)
	id, err := o.backend.Create(cctx, trains)
	cancel()
	if err != nil {
		return outcome{fallback: ReasonCreateFailed, err: err}
	}

	rctx, cancel := context.WithTimeout(ctx, o.opts.CallTimeout)
	frames, err := o.backend.Run(rctx, id, o.opts.Window)
	cancel()
	if err != nil {
		return outcome{fallback: ReasonRunFailed, err: err}
	}
	return outcome{id: id, frames: frames}
}

// localFrames samples every plan from the activation clock over the horizon,
// both ends included.
func (o *Orchestrator) localFrames(sim *Simulation) []schedule.Frame {
	step := int(o.opts.Step / time.Second)
	if step <= 0 {
		step = 30
	}
	end := sim.SimStart + int(o.opts.Horizon/time.Second)
	frames := make([]schedule.Frame, 0, (end-sim.SimStart)/step+1)
	for sec := sim.SimStart; sec <= end; sec += step {
		frames = append(frames, schedule.Frame{
			Time:   schedule.FormatClock(sec),
			Trains: sim.SamplesAt(float64(sec)),
		})
	}
	return frames
}

// QueryState returns every train's sample at clock ("HH:MM:SS") for the
// simulation id, or for the active one when id is empty.
func (o *Orchestrator) QueryState(ctx context.Context, id, clock string) ([]schedule.Sample, error) {
	start := time.Now()
	defer func() {
		if o.metrics != nil {
			o.metrics.QueryDuration.Observe(time.Since(start).Seconds())
		}
	}()

	sim, err := o.lookup(id)
	if err != nil {
		return nil, fmt.Errorf("simulation query failed: %w", err)
	}
	sec, err := schedule.ParseClock(clock)
	if err != nil {
		return nil, fmt.Errorf("simulation query failed: %w: %v", ErrInvalidTime, err)
	}

	if sim.Source == SourceBackend && o.backend != nil {
		sctx, cancel := context.WithTimeout(ctx, o.opts.CallTimeout)
		samples, err := o.backend.State(sctx, sim.ID, schedule.FormatClock(sec))
		cancel()
		if err == nil {
			return samples, nil
		}
		log.Printf("warning: backend state for simulation %s failed, interpolating locally: %v", sim.ID, err)
		o.countFallback(ReasonStateFailed)
	}
	return sim.SamplesAt(float64(sec)), nil
}

func (o *Orchestrator) lookup(id string) (*Simulation, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.active == nil {
		if id == "" {
			return nil, ErrNoActiveSimulation
		}
		return nil, ErrSimulationNotFound
	}
	if id != "" && id != o.active.ID {
		return nil, ErrSimulationNotFound
	}
	return o.active, nil
}

// Active returns the current simulation, if any.
func (o *Orchestrator) Active() (*Simulation, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.active, o.active != nil
}

// Plans returns the active simulation's plans, or nil.
func (o *Orchestrator) Plans() []*schedule.Plan {
	sim, ok := o.Active()
	if !ok {
		return nil
	}
	return sim.plans
}

func (o *Orchestrator) countFallback(reason string) {
	if o.metrics != nil {
		o.metrics.Fallbacks.WithLabelValues(reason).Inc()
	}
}

// compile drops trains with neither route nor stations.
func compile(trains []schedule.Train, p schedule.Policy) []*schedule.Plan {
	plans := make([]*schedule.Plan, 0, len(trains))
	for _, pl := range schedule.CompileAll(trains, p) {
		if !pl.HasData() {
			log.Printf("train %s has no route or stations, skipping", pl.Train.ID)
			continue
		}
		plans = append(plans, pl)
	}
	return plans
}

func clockOf(t time.Time) int {
	return t.Hour()*3600 + t.Minute()*60 + t.Second()
}
