package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSuggester struct {
	query string
	err   error
	calls int
}

func (s *stubSuggester) SuggestQuery(_ context.Context, _ string, _ []byte) (string, error) {
	s.calls++
	return s.query, s.err
}

type memCache map[string]string

func (m memCache) GetQueryCache(key string) (string, bool, error) {
	v, ok := m[key]
	return v, ok, nil
}

func (m memCache) SetQueryCache(key, value string) error {
	m[key] = value
	return nil
}

func TestCachedSuggester(t *testing.T) {
	inner := &stubSuggester{query: "hatsune miku figure"}
	cached := NewCachedSuggester(inner, memCache{})
	ctx := context.Background()

	query, err := cached.SuggestQuery(ctx, "初音ミク フィギュア", []byte("img"))
	require.NoError(t, err)
	assert.Equal(t, "hatsune miku figure", query)

	_, err = cached.SuggestQuery(ctx, "初音ミク フィギュア", []byte("img"))
	require.NoError(t, err)
	assert.Equal(t, 1, inner.calls, "second call should hit the cache")

	_, err = cached.SuggestQuery(ctx, "初音ミク フィギュア", []byte("other"))
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls, "different image means different key")
}

func TestCachedSuggesterError(t *testing.T) {
	inner := &stubSuggester{err: errors.New("quota exceeded")}
	cached := NewCachedSuggester(inner, memCache{})

	_, err := cached.SuggestQuery(context.Background(), "title", nil)
	assert.Error(t, err)
}

func TestCacheKeyDistinct(t *testing.T) {
	// The separator prevents ("ab", "c") colliding with ("a", "bc").
	assert.NotEqual(t, cacheKey("ab", []byte("c")), cacheKey("a", []byte("bc")))
	assert.Equal(t, cacheKey("a", []byte("b")), cacheKey("a", []byte("b")))
}
