package explain

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/inodb/pharmguard/internal/report"
)

// Cache memoizes successful explanations by decision context.
type Cache struct {
	next  Explainer
	cache *lru.Cache[Context, report.Explanation]
}

// NewCache wraps next with an LRU cache holding up to size explanations.
func NewCache(next Explainer, size int) (*Cache, error) {
	c, err := lru.New[Context, report.Explanation](size)
	if err != nil {
		return nil, fmt.Errorf("create explanation cache: %w", err)
	}
	return &Cache{next: next, cache: c}, nil
}

// Explain returns a cached explanation or delegates and caches the result.
// Errors are not cached.
func (c *Cache) Explain(ctx context.Context, dc Context) (report.Explanation, error) {
	if exp, ok := c.cache.Get(dc); ok {
		return exp, nil
	}
	exp, err := c.next.Explain(ctx, dc)
	if err != nil {
		return report.Explanation{}, err
	}
	c.cache.Add(dc, exp)
	return exp, nil
}

// Len returns the number of cached explanations.
func (c *Cache) Len() int {
	return c.cache.Len()
}
