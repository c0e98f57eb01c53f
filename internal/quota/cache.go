package quota

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cached memoizes another Resolver. Lookup errors are not cached.
type Cached struct {
	next  Resolver
	cache *expirable.LRU[int64, int]
}

func NewCached(next Resolver, size int, ttl time.Duration) *Cached {
	if size <= 0 {
		size = 10_000
	}
	return &Cached{next: next, cache: expirable.NewLRU[int64, int](size, nil, ttl)}
}

func (c *Cached) RetentionDays(ctx context.Context, organizationID int64) (int, error) {
	if days, ok := c.cache.Get(organizationID); ok {
		return days, nil
	}
	days, err := c.next.RetentionDays(ctx, organizationID)
	if err != nil {
		return 0, err
	}
	c.cache.Add(organizationID, days)
	return days, nil
}
