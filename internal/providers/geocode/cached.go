package geocode

import (
	"context"
	"fmt"
	"time"

	"github.com/selfscribe/selfscribe/internal/cache"
)

// Cached memoizes reverse lookups; nearby chunks from the same spot
// should not hammer the geocoder.
type Cached struct {
	next  Reverser
	cache cache.Cache
	ttl   time.Duration
}

func NewCached(next Reverser, c cache.Cache, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Cached{next: next, cache: c, ttl: ttl}
}

func (c *Cached) Reverse(ctx context.Context, lat, lon float64) (string, error) {
	// ~11m grid: close enough for a street address, coarse enough to hit.
	key := fmt.Sprintf("geocode:%.4f:%.4f", lat, lon)

	var addr string
	if hit, err := c.cache.GetJSON(ctx, key, &addr); err == nil && hit {
		return addr, nil
	}

	addr, err := c.next.Reverse(ctx, lat, lon)
	if err != nil {
		return "", err
	}
	_ = c.cache.SetJSON(ctx, key, addr, c.ttl)
	return addr, nil
}
