package imagematch

import (
	"fmt"
	"sync"
)

// FeatureCache is an in-memory cache of extracted feature bundles, keyed
// by image URL. Safe for concurrent use.
type FeatureCache struct {
	mu      sync.RWMutex
	bundles map[string]FeatureBundle
}

func NewFeatureCache() *FeatureCache {
	return &FeatureCache{bundles: make(map[string]FeatureBundle)}
}

// CacheKey builds a cache key for an image URL. When the same URL can
// legitimately appear multiple times in one session (e.g. listings that
// reuse a stock photo), a non-zero ordinal disambiguates the entries.
func CacheKey(url string, ordinal int) string {
	if ordinal == 0 {
		return url
	}
	return fmt.Sprintf("%s#%d", url, ordinal)
}

func (c *FeatureCache) Get(key string) (FeatureBundle, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.bundles[key]
	return b, ok
}

func (c *FeatureCache) Set(key string, bundle FeatureBundle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bundles[key] = bundle
}

func (c *FeatureCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.bundles)
}
