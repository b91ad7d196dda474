// Package bbox caches track lookups by bounding box.
package bbox

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/paulmach/orb"
)

var ErrInvalidBBox = errors.New("invalid bounding box")

// Key is a south/west/north/east box in degrees.
type Key struct {
	South float64 `json:"south"`
	West  float64 `json:"west"`
	North float64 `json:"north"`
	East  float64 `json:"east"`
}

func (k Key) Validate() error {
	for _, v := range []float64{k.South, k.West, k.North, k.East} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite coordinate", ErrInvalidBBox)
		}
	}
	if k.South < -90 || k.North > 90 {
		return fmt.Errorf("%w: latitude out of range", ErrInvalidBBox)
	}
	if k.West < -180 || k.East > 180 {
		return fmt.Errorf("%w: longitude out of range", ErrInvalidBBox)
	}
	if k.South >= k.North {
		return fmt.Errorf("%w: south must be below north", ErrInvalidBBox)
	}
	if k.West >= k.East {
		return fmt.Errorf("%w: west must be below east", ErrInvalidBBox)
	}
	return nil
}

// String is the cache key. Coordinates are rounded to 4 decimals (about 11 m)
// so nearly identical viewports share an entry.
func (k Key) String() string {
	return fmt.Sprintf("%s,%s,%s,%s", round4(k.South), round4(k.West), round4(k.North), round4(k.East))
}

// Contains reports whether the point lies inside the box, edges included.
func (k Key) Contains(lon, lat float64) bool {
	return lat >= k.South && lat <= k.North && lon >= k.West && lon <= k.East
}

func round4(v float64) string {
	return strconv.FormatFloat(math.Round(v*1e4)/1e4, 'f', 4, 64)
}

// Around returns the bounds of pts padded by meters on every side, clamped
// to valid coordinates.
func Around(pts []orb.Point, meters float64) Key {
	b := orb.MultiPoint(pts).Bound()
	padLat := meters / 111320
	padLon := padLat / math.Max(math.Cos(b.Center().Lat()*math.Pi/180), 0.01)
	return Key{
		South: math.Max(b.Min.Lat()-padLat, -90),
		West:  math.Max(b.Min.Lon()-padLon, -180),
		North: math.Min(b.Max.Lat()+padLat, 90),
		East:  math.Min(b.Max.Lon()+padLon, 180),
	}
}
