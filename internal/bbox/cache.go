package bbox

import (
	"context"
	"time"
)

// DefaultTTL is how long a fetched box stays valid.
const DefaultTTL = 24 * time.Hour

// Cache stores encoded track collections by Key.String().
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Keys(ctx context.Context) ([]string, error)
	Clear(ctx context.Context) (int, error)
	Stats(ctx context.Context) (Stats, error)
}

type Stats struct {
	Backend string `json:"backend"`
	Entries int    `json:"entries"`
	Hits    int64  `json:"hits"`
	Misses  int64  `json:"misses"`
	TTL     string `json:"ttl"`
}
