package cache

import (
	"context"
	"time"
)

// Cache is a JSON blob cache with TTLs. It backs the first timeline page
// and memoized reverse-geocode lookups; a miss is never an error.
type Cache interface {
	GetJSON(ctx context.Context, key string, dst any) (hit bool, err error)
	SetJSON(ctx context.Context, key string, val any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}
