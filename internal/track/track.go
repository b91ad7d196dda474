// Package track locates the nearest railway line to a point and synthesizes
// oriented train bodies on it.
package track

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"train-simulator/internal/geometry"
)

const (
	DefaultMaxDistance = 1000.0 // meters
	DefaultBodyLength  = 150.0  // meters
)

// Track is a railway polyline with its descriptive attributes.
type Track struct {
	ID          string
	Name        string
	Operator    string
	Electrified string
	Gauge       string
	Line        orb.LineString
}

// SnapResult is a point projected onto the nearest track.
type SnapResult struct {
	Point          orb.Point
	SegmentIndex   int
	DistanceMeters float64
	BearingDegrees float64
	TrackIndex     int
	Track          *Track
}

// Body is the oriented segment a train occupies on a track.
type Body struct {
	Tail           orb.Point
	Head           orb.Point
	BearingDegrees float64
}

// FromFeatureCollection keeps only line features, in input order. Members of a
// MultiLineString become consecutive tracks sharing the feature's properties.
func FromFeatureCollection(fc *geojson.FeatureCollection) []Track {
	if fc == nil {
		return nil
	}
	var tracks []Track
	for i, f := range fc.Features {
		if f == nil || f.Geometry == nil {
			continue
		}
		base := Track{
			ID:          featureID(f, i),
			Name:        f.Properties.MustString("name", ""),
			Operator:    f.Properties.MustString("operator", ""),
			Electrified: f.Properties.MustString("electrified", ""),
			Gauge:       f.Properties.MustString("gauge", ""),
		}
		switch g := f.Geometry.(type) {
		case orb.LineString:
			if len(g) == 0 {
				continue
			}
			base.Line = g
			tracks = append(tracks, base)
		case orb.MultiLineString:
			for j, ls := range g {
				if len(ls) == 0 {
					continue
				}
				t := base
				t.ID = fmt.Sprintf("%s/%d", base.ID, j)
				t.Line = ls
				tracks = append(tracks, t)
			}
		}
	}
	return tracks
}

func featureID(f *geojson.Feature, idx int) string {
	if f.ID != nil {
		return fmt.Sprint(f.ID)
	}
	if id := f.Properties.MustString("id", ""); id != "" {
		return id
	}
	return fmt.Sprintf("track-%d", idx)
}

// FindNearest returns the track closest to p within maxDistance meters.
// Ties go to the earliest track in the slice, so callers must pass tracks in a
// stable order to get reproducible results. A non-positive maxDistance means
// DefaultMaxDistance.
func FindNearest(p orb.Point, tracks []Track, maxDistance float64) (SnapResult, bool) {
	if maxDistance <= 0 {
		maxDistance = DefaultMaxDistance
	}
	var (
		best    geometry.Projection
		bestIdx = -1
	)
	for i := range tracks {
		proj, ok := geometry.NearestOnLine(p, tracks[i].Line)
		if !ok {
			continue
		}
		if bestIdx < 0 || proj.Distance < best.Distance {
			best = proj
			bestIdx = i
		}
	}
	if bestIdx < 0 || best.Distance > maxDistance {
		return SnapResult{}, false
	}
	line := tracks[bestIdx].Line
	return SnapResult{
		Point:          best.Point,
		SegmentIndex:   best.Segment,
		DistanceMeters: best.Distance,
		BearingDegrees: segmentBearing(line, best.Segment),
		TrackIndex:     bestIdx,
		Track:          &tracks[bestIdx],
	}, true
}

// SynthesizeBody centres a body of the given length on the snapped point,
// oriented along the local track direction. A non-positive length means
// DefaultBodyLength.
func SynthesizeBody(snap SnapResult, line orb.LineString, length float64) Body {
	if length <= 0 {
		length = DefaultBodyLength
	}
	bearing := segmentBearing(line, snap.SegmentIndex)
	half := length / 2
	return Body{
		Head:           geometry.Destination(snap.Point, bearing, half),
		Tail:           geometry.Destination(snap.Point, bearing+180, half),
		BearingDegrees: bearing,
	}
}

// segmentBearing is the bearing of line[seg] -> line[seg+1], falling back to
// the previous segment at the end of the line.
func segmentBearing(line orb.LineString, seg int) float64 {
	n := len(line)
	if n < 2 {
		return 0
	}
	if seg < 0 {
		seg = 0
	}
	if seg > n-2 {
		seg = n - 2
	}
	return geometry.Bearing(line[seg], line[seg+1])
}
