package bbox

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var mumbai = Key{South: 18.9, West: 72.7, North: 19.3, East: 73.0}

type countingFetcher struct {
	calls atomic.Int32
	delay time.Duration
	err   error
}

func (f *countingFetcher) Fetch(ctx context.Context, k Key) (*geojson.FeatureCollection, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	fc := geojson.NewFeatureCollection()
	feat := geojson.NewFeature(orb.LineString{{72.80, 19.00}, {72.90, 19.10}})
	feat.ID = "way/1"
	feat.Properties["name"] = "Western Line"
	fc.Append(feat)
	return fc, nil
}

type countingMetrics struct{ hits, misses atomic.Int32 }

func (m *countingMetrics) CacheHit()  { m.hits.Add(1) }
func (m *countingMetrics) CacheMiss() { m.misses.Add(1) }

func TestServiceMissThenHit(t *testing.T) {
	ctx := context.Background()
	f := &countingFetcher{}
	m := &countingMetrics{}
	svc := NewService(NewMemoryCache(time.Hour), f, m)

	fc, hit, err := svc.Tracks(ctx, mumbai)
	require.NoError(t, err)
	assert.False(t, hit)
	require.Len(t, fc.Features, 1)

	fc, hit, err = svc.Tracks(ctx, mumbai)
	require.NoError(t, err)
	assert.True(t, hit)
	require.Len(t, fc.Features, 1)
	assert.Equal(t, "Western Line", fc.Features[0].Properties.MustString("name", ""))
	assert.Equal(t, orb.LineString{{72.80, 19.00}, {72.90, 19.10}}, fc.Features[0].Geometry)

	assert.Equal(t, int32(1), f.calls.Load())
	assert.Equal(t, int32(1), m.hits.Load())
	assert.Equal(t, int32(1), m.misses.Load())
}

func TestServiceRejectsInvalidBox(t *testing.T) {
	f := &countingFetcher{}
	svc := NewService(NewMemoryCache(time.Hour), f, nil)
	_, _, err := svc.Tracks(context.Background(), Key{South: 2, North: 1, West: 0, East: 1})
	assert.ErrorIs(t, err, ErrInvalidBBox)
	assert.Equal(t, int32(0), f.calls.Load())
}

func TestServiceFetchErrorIsNotCached(t *testing.T) {
	ctx := context.Background()
	f := &countingFetcher{err: errors.New("overpass 504")}
	cache := NewMemoryCache(time.Hour)
	svc := NewService(cache, f, nil)

	_, _, err := svc.Tracks(ctx, mumbai)
	assert.ErrorContains(t, err, "overpass 504")
	keys, _ := cache.Keys(ctx)
	assert.Empty(t, keys)
}

func TestServiceRefetchesUnreadableEntry(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache(time.Hour)
	require.NoError(t, cache.Set(ctx, mumbai.String(), []byte("not json")))
	f := &countingFetcher{}
	svc := NewService(cache, f, nil)

	_, hit, err := svc.Tracks(ctx, mumbai)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestServiceCollapsesConcurrentMisses(t *testing.T) {
	f := &countingFetcher{delay: 50 * time.Millisecond}
	svc := NewService(NewMemoryCache(time.Hour), f, nil)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := svc.Tracks(context.Background(), mumbai)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), f.calls.Load())
}
