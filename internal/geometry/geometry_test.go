package geometry

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistance(t *testing.T) {
	// Mumbai CST to Dadar is roughly 9 km
	d := Distance(orb.Point{72.8355, 18.9398}, orb.Point{72.8426, 19.0178})
	if d < 8000 || d > 10000 {
		t.Fatalf("unexpected distance: %v", d)
	}
}

func TestBearingCardinals(t *testing.T) {
	origin := orb.Point{0, 0}
	assert.InDelta(t, 0, Bearing(origin, orb.Point{0, 1}), 1e-9)
	assert.InDelta(t, 90, Bearing(origin, orb.Point{1, 0}), 1e-9)
	assert.InDelta(t, 180, Bearing(origin, orb.Point{0, -1}), 1e-9)
	assert.InDelta(t, 270, Bearing(origin, orb.Point{-1, 0}), 1e-9)
}

func TestNormalize(t *testing.T) {
	assert.InDelta(t, 10, Normalize(370), 1e-9)
	assert.InDelta(t, 350, Normalize(-10), 1e-9)
	assert.InDelta(t, 0, Normalize(360), 1e-9)
}

func TestDestinationRoundTrip(t *testing.T) {
	start := orb.Point{72.85, 19.05}
	for _, bearing := range []float64{0, 45, 137, 270, -30} {
		end := Destination(start, bearing, 1000)
		assert.InDelta(t, 1000, Distance(start, end), 2, "bearing %v", bearing)
		assert.InDelta(t, Normalize(bearing), Bearing(start, end), 0.01, "bearing %v", bearing)
	}
}

func TestNearestOnSegment(t *testing.T) {
	a := orb.Point{0, 0}
	b := orb.Point{1, 0}
	tests := []struct {
		name  string
		p     orb.Point
		wantT float64
	}{
		{"middle", orb.Point{0.5, 0.1}, 0.5},
		{"start", orb.Point{0, 0.1}, 0},
		{"end", orb.Point{1, 0.1}, 1},
		{"before start is clamped", orb.Point{-1, 0}, 0},
		{"beyond end is clamped", orb.Point{2, 0}, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			q, frac := NearestOnSegment(tc.p, a, b)
			assert.InDelta(t, tc.wantT, frac, 1e-9)
			assert.InDelta(t, tc.wantT, q[0], 1e-9)
			assert.InDelta(t, 0, q[1], 1e-9)
		})
	}
}

func TestNearestOnSegmentDegenerate(t *testing.T) {
	a := orb.Point{3, 4}
	q, frac := NearestOnSegment(orb.Point{5, 5}, a, a)
	assert.Equal(t, a, q)
	assert.Equal(t, 0.0, frac)
}

func TestNearestOnLinePicksGlobalMinimum(t *testing.T) {
	// An L-shaped line: the point sits next to the second leg, far from every vertex.
	line := orb.LineString{{0, 0}, {0.1, 0}, {0.1, 0.2}}
	p := orb.Point{0.1005, 0.1}
	proj, ok := NearestOnLine(p, line)
	require.True(t, ok)
	assert.Equal(t, 1, proj.Segment)
	assert.InDelta(t, 0.5, proj.T, 1e-6)
	assert.Less(t, proj.Distance, 100.0)
}

func TestNearestOnLineTieKeepsFirstSegment(t *testing.T) {
	// Point equidistant to both legs of a symmetric V.
	line := orb.LineString{{-0.1, 0.1}, {0, 0}, {0.1, 0.1}}
	proj, ok := NearestOnLine(orb.Point{0, -0.01}, line)
	require.True(t, ok)
	assert.Equal(t, 0, proj.Segment)
}

func TestNearestOnLineEdgeCases(t *testing.T) {
	_, ok := NearestOnLine(orb.Point{0, 0}, nil)
	assert.False(t, ok)

	proj, ok := NearestOnLine(orb.Point{0, 0}, orb.LineString{{0, 0.01}})
	require.True(t, ok)
	assert.Equal(t, orb.Point{0, 0.01}, proj.Point)
	assert.InDelta(t, 1112, proj.Distance, 5)
}
