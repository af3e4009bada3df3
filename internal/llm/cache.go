package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/rs/zerolog/log"
)

// QueryCache is the subset of the storage layer the cached suggester
// needs.
type QueryCache interface {
	GetQueryCache(key string) (string, bool, error)
	SetQueryCache(key, value string) error
}

// CachedSuggester wraps a QuerySuggester with persistent caching, keyed
// by title and image content, so repeated runs over the same items do
// not burn API quota.
type CachedSuggester struct {
	inner QuerySuggester
	cache QueryCache
}

func NewCachedSuggester(inner QuerySuggester, cache QueryCache) *CachedSuggester {
	return &CachedSuggester{inner: inner, cache: cache}
}

func (c *CachedSuggester) SuggestQuery(ctx context.Context, title string, imageData []byte) (string, error) {
	key := cacheKey(title, imageData)

	if query, found, err := c.cache.GetQueryCache(key); err != nil {
		log.Warn().Err(err).Msg("Query cache read failed")
	} else if found {
		return query, nil
	}

	query, err := c.inner.SuggestQuery(ctx, title, imageData)
	if err != nil {
		return "", err
	}

	if err := c.cache.SetQueryCache(key, query); err != nil {
		log.Warn().Err(err).Msg("Query cache write failed")
	}
	return query, nil
}

func cacheKey(title string, imageData []byte) string {
	h := sha256.New()
	h.Write([]byte(title))
	h.Write([]byte{0})
	h.Write(imageData)
	return hex.EncodeToString(h.Sum(nil))
}
