package sim

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"train-simulator/internal/backend"
	"train-simulator/internal/metrics"
	"train-simulator/internal/schedule"
)

const nine = 9 * 3600

var activation = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeBackend struct {
	healthErr  error
	healthHang bool
	createErr  error
	runErr     error
	stateErr   error

	frames  []schedule.Frame
	samples []schedule.Sample

	mu         sync.Mutex
	window     backend.Window
	stateCalls int
}

func (f *fakeBackend) Health(ctx context.Context) error {
	if f.healthHang {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.healthErr
}

func (f *fakeBackend) Create(ctx context.Context, trains []schedule.Train) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	return "remote-" + trains[0].ID, nil
}

func (f *fakeBackend) Run(ctx context.Context, id string, w backend.Window) ([]schedule.Frame, error) {
	f.mu.Lock()
	f.window = w
	f.mu.Unlock()
	if f.runErr != nil {
		return nil, f.runErr
	}
	return f.frames, nil
}

func (f *fakeBackend) State(ctx context.Context, id, clock string) ([]schedule.Sample, error) {
	f.mu.Lock()
	f.stateCalls++
	f.mu.Unlock()
	if f.stateErr != nil {
		return nil, f.stateErr
	}
	return f.samples, nil
}

func testTrains() []schedule.Train {
	return []schedule.Train{{
		ID:        "12951",
		Departure: nine,
		SpeedKmph: 90,
		Route:     []schedule.Waypoint{{Lat: 19.00, Lon: 72.80}, {Lat: 19.10, Lon: 72.90}},
		Stations:  []schedule.Station{{Name: "Mumbai Central"}, {Name: "Borivali"}},
	}}
}

func newTestOrchestrator(b Backend) *Orchestrator {
	opts := DefaultOptions()
	opts.Location = time.UTC
	opts.HealthTimeout = 50 * time.Millisecond
	o := NewOrchestrator(b, opts, metrics.NewCollector(1, time.Second))
	o.now = func() time.Time { return activation }
	return o
}

func TestActivateWithoutSchedules(t *testing.T) {
	o := newTestOrchestrator(nil)
	_, err := o.Activate(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoScheduleData)
	assert.Equal(t, "no schedule data available", err.Error())

	_, ok := o.Active()
	assert.False(t, ok)
}

func TestActivateLocalWhenBackendDisabled(t *testing.T) {
	o := newTestOrchestrator(nil)
	sim, err := o.Activate(context.Background(), testTrains())
	require.NoError(t, err)

	assert.Equal(t, SourceLocal, sim.Source)
	assert.Equal(t, ReasonDisabled, sim.FallbackReason)
	assert.True(t, sim.Running)
	_, err = uuid.Parse(sim.ID)
	assert.NoError(t, err)

	require.Len(t, sim.Frames, 8*3600/30+1)
	assert.Equal(t, "09:00:00", sim.Frames[0].Time)
	assert.Equal(t, "17:00:00", sim.Frames[len(sim.Frames)-1].Time)
	assert.Equal(t, "09:30:00", sim.Frames[60].Time)

	mid := sim.Frames[60].Trains[0]
	assert.Equal(t, schedule.StatusRunning, mid.Status)
	assert.InDelta(t, 0.5, mid.Progress, 1e-9)
	assert.InDelta(t, 19.05, mid.Lat, 1e-9)
	assert.InDelta(t, 72.85, mid.Lon, 1e-9)

	done := sim.Frames[120].Trains[0]
	assert.Equal(t, schedule.StatusCompleted, done.Status)
	assert.Equal(t, 19.10, done.Lat)
}

func TestActivateUsesBackendFramesVerbatim(t *testing.T) {
	frames := []schedule.Frame{{Time: "09:00:00", Trains: []schedule.Sample{{TrainID: "12951", Status: schedule.StatusRunning, Lat: 1, Lon: 2}}}}
	fb := &fakeBackend{frames: frames}
	o := newTestOrchestrator(fb)

	sim, err := o.Activate(context.Background(), testTrains())
	require.NoError(t, err)
	assert.Equal(t, SourceBackend, sim.Source)
	assert.Equal(t, "remote-12951", sim.ID)
	assert.Empty(t, sim.FallbackReason)
	assert.Equal(t, frames, sim.Frames)
	assert.Equal(t, backend.Window{Start: "09:00:00", End: "18:00:00", StepSeconds: 30}, fb.window)
}

func TestActivateFallsBack(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name   string
		fb     *fakeBackend
		reason string
	}{
		{"unhealthy", &fakeBackend{healthErr: boom}, ReasonUnhealthy},
		{"health timeout", &fakeBackend{healthHang: true}, ReasonUnhealthy},
		{"create", &fakeBackend{createErr: &backend.StatusError{Op: "create", Code: 500}}, ReasonCreateFailed},
		{"run", &fakeBackend{runErr: boom}, ReasonRunFailed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			o := newTestOrchestrator(tc.fb)
			start := time.Now()
			sim, err := o.Activate(context.Background(), testTrains())
			require.NoError(t, err)
			assert.Less(t, time.Since(start), 2*time.Second)
			assert.Equal(t, SourceLocal, sim.Source)
			assert.Equal(t, tc.reason, sim.FallbackReason)
			assert.NotEmpty(t, sim.Frames)
		})
	}
}

func TestQueryStateErrors(t *testing.T) {
	o := newTestOrchestrator(nil)
	ctx := context.Background()

	_, err := o.QueryState(ctx, "", "09:30:00")
	assert.ErrorIs(t, err, ErrNoActiveSimulation)
	assert.Contains(t, err.Error(), "simulation query failed")

	_, err = o.QueryState(ctx, "missing", "09:30:00")
	assert.ErrorIs(t, err, ErrSimulationNotFound)

	sim, err := o.Activate(ctx, testTrains())
	require.NoError(t, err)

	_, err = o.QueryState(ctx, "missing", "09:30:00")
	assert.ErrorIs(t, err, ErrSimulationNotFound)

	_, err = o.QueryState(ctx, sim.ID, "half past nine")
	assert.ErrorIs(t, err, ErrInvalidTime)
	assert.Contains(t, err.Error(), "simulation query failed")
}

func TestQueryStateLocal(t *testing.T) {
	o := newTestOrchestrator(nil)
	ctx := context.Background()
	sim, err := o.Activate(ctx, testTrains())
	require.NoError(t, err)

	byID, err := o.QueryState(ctx, sim.ID, "09:30:00")
	require.NoError(t, err)
	byActive, err := o.QueryState(ctx, "", "09:30:00")
	require.NoError(t, err)
	assert.Equal(t, byID, byActive)

	require.Len(t, byID, 1)
	assert.InDelta(t, 0.5, byID[0].Progress, 1e-9)
	assert.Equal(t, "Borivali", byID[0].NextStation)

	before, err := o.QueryState(ctx, "", "08:00:00")
	require.NoError(t, err)
	assert.Equal(t, schedule.StatusWaiting, before[0].Status)
	assert.Equal(t, 19.00, before[0].Lat)
}

func TestQueryStateBackend(t *testing.T) {
	remote := []schedule.Sample{{TrainID: "12951", Status: schedule.StatusRunning, Lat: 42, Lon: 7}}
	fb := &fakeBackend{samples: remote}
	o := newTestOrchestrator(fb)
	ctx := context.Background()
	sim, err := o.Activate(ctx, testTrains())
	require.NoError(t, err)

	got, err := o.QueryState(ctx, sim.ID, "9:30")
	require.NoError(t, err)
	assert.Equal(t, remote, got)

	fb.stateErr = errors.New("backend gone")
	got, err = o.QueryState(ctx, sim.ID, "09:30:00")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 19.05, got[0].Lat, 1e-9)
	assert.Equal(t, 2, fb.stateCalls)
}

func TestActivateReplacesActive(t *testing.T) {
	o := newTestOrchestrator(nil)
	ctx := context.Background()
	first, err := o.Activate(ctx, testTrains())
	require.NoError(t, err)

	trains := testTrains()
	trains = append(trains, schedule.Train{ID: "empty"}, schedule.Train{
		ID:        "local",
		Departure: nine,
		Stations:  []schedule.Station{{Name: "A", Lat: 19, Lon: 72}, {Name: "B", Lat: 19.1, Lon: 72}},
	})
	second, err := o.Activate(ctx, trains)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	active, ok := o.Active()
	require.True(t, ok)
	assert.Equal(t, second.ID, active.ID)
	assert.Len(t, o.Plans(), 2)

	_, err = o.QueryState(ctx, first.ID, "09:00:00")
	assert.ErrorIs(t, err, ErrSimulationNotFound)
}

func TestConcurrentQueriesAndActivation(t *testing.T) {
	o := newTestOrchestrator(nil)
	ctx := context.Background()
	_, err := o.Activate(ctx, testTrains())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := o.QueryState(ctx, "", "09:15:00")
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := o.Activate(ctx, testTrains())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
}
