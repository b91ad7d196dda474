// Package osm fetches railway tracks from an Overpass API endpoint.
package osm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"train-simulator/internal/bbox"
)

const DefaultURL = "https://overpass-api.de/api/interpreter"

type Fetcher struct {
	endpoint string
	client   *http.Client
}

func NewFetcher(endpoint string, timeout time.Duration) *Fetcher {
	if endpoint == "" {
		endpoint = DefaultURL
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Fetcher{endpoint: endpoint, client: &http.Client{Timeout: timeout}}
}

// Query is the Overpass QL for every rail way in k, with inline geometry.
func Query(k bbox.Key) string {
	return fmt.Sprintf(`[out:json][timeout:50];way["railway"="rail"](%g,%g,%g,%g);out geom;`, k.South, k.West, k.North, k.East)
}

type response struct {
	Elements []element `json:"elements"`
}

type element struct {
	Type     string            `json:"type"`
	ID       int64             `json:"id"`
	Tags     map[string]string `json:"tags"`
	Geometry []struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	} `json:"geometry"`
}

// Fetch implements bbox.Fetcher.
func (f *Fetcher) Fetch(ctx context.Context, k bbox.Key) (*geojson.FeatureCollection, error) {
	form := url.Values{"data": {Query(k)}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create overpass request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", "train-simulator")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("overpass request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("overpass returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var r response
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("failed to decode overpass response: %w", err)
	}
	return toFeatureCollection(r), nil
}

// toFeatureCollection keeps ways with at least two vertices.
func toFeatureCollection(r response) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, el := range r.Elements {
		if el.Type != "way" || len(el.Geometry) < 2 {
			continue
		}
		line := make(orb.LineString, 0, len(el.Geometry))
		for _, g := range el.Geometry {
			line = append(line, orb.Point{g.Lon, g.Lat})
		}
		feat := geojson.NewFeature(line)
		feat.ID = fmt.Sprintf("way/%d", el.ID)
		for _, tag := range []string{"name", "operator", "electrified", "gauge", "railway", "usage"} {
			if v, ok := el.Tags[tag]; ok {
				feat.Properties[tag] = v
			}
		}
		fc.Append(feat)
	}
	return fc
}
