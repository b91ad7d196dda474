package bbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/paulmach/orb/geojson"
	"golang.org/x/sync/singleflight"
)

// Fetcher loads the tracks inside a box from the upstream source.
type Fetcher interface {
	Fetch(ctx context.Context, k Key) (*geojson.FeatureCollection, error)
}

// Metrics counts cache outcomes. *metrics.Collector implements it.
type Metrics interface {
	CacheHit()
	CacheMiss()
}

// Service is cache-aside over a Fetcher. Concurrent misses for the same box
// share one upstream fetch.
type Service struct {
	cache   Cache
	fetcher Fetcher
	metrics Metrics
	group   singleflight.Group
}

func NewService(cache Cache, fetcher Fetcher, m Metrics) *Service {
	return &Service{cache: cache, fetcher: fetcher, metrics: m}
}

func (s *Service) Cache() Cache { return s.cache }

// Tracks returns the tracks in k and whether they came from the cache.
// Cache failures degrade to a fetch; they are logged, not returned.
func (s *Service) Tracks(ctx context.Context, k Key) (*geojson.FeatureCollection, bool, error) {
	if err := k.Validate(); err != nil {
		return nil, false, err
	}
	key := k.String()

	b, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		log.Printf("warning: bbox cache get %s: %v", key, err)
	}
	if ok {
		fc, err := geojson.UnmarshalFeatureCollection(b)
		if err == nil {
			s.hit()
			return fc, true, nil
		}
		log.Printf("warning: bbox cache entry %s unreadable, refetching: %v", key, err)
	}
	s.miss()

	v, err, _ := s.group.Do(key, func() (any, error) {
		fc, err := s.fetcher.Fetch(ctx, k)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(fc)
		if err != nil {
			return nil, fmt.Errorf("encode tracks: %w", err)
		}
		if err := s.cache.Set(ctx, key, data); err != nil {
			log.Printf("warning: bbox cache set %s: %v", key, err)
		}
		return fc, nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("fetch tracks: %w", err)
	}
	return v.(*geojson.FeatureCollection), false, nil
}

func (s *Service) hit() {
	if s.metrics != nil {
		s.metrics.CacheHit()
	}
}

func (s *Service) miss() {
	if s.metrics != nil {
		s.metrics.CacheMiss()
	}
}
