package imagematch

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 20, 20))
	for y := 0; y < 20; y++ {
		for x := 0; x < 20; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestDownloadRejectsNonImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>not an image</html>"))
	}))
	defer srv.Close()

	_, err := NewImageDownloader().Download(context.Background(), srv.URL)
	assert.ErrorContains(t, err, "content type")
}

func TestDownloadRejectsOversized(t *testing.T) {
	data := pngBytes(t, color.RGBA{255, 0, 0, 255})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(data)
	}))
	defer srv.Close()

	_, err := NewImageDownloader().WithMaxSize(10).Download(context.Background(), srv.URL)
	assert.ErrorContains(t, err, "maximum size")
}

func TestDownloadRejectsNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewImageDownloader().Download(context.Background(), srv.URL)
	assert.ErrorContains(t, err, "status 404")
}

func TestFeatureSourceCaches(t *testing.T) {
	data := pngBytes(t, color.RGBA{255, 0, 0, 255})
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Content-Type", "image/png")
		w.Write(data)
	}))
	defer srv.Close()

	source := NewFeatureSource(NewImageDownloader(), "")
	ctx := context.Background()

	first, ok := source.ForURL(ctx, srv.URL, 0)
	require.True(t, ok)
	second, ok := source.ForURL(ctx, srv.URL, 0)
	require.True(t, ok)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, hits, "second lookup should come from cache")
	assert.Equal(t, 1, source.CacheLen())
}

func TestFeatureSourceOrdinalKeys(t *testing.T) {
	data := pngBytes(t, color.RGBA{0, 255, 0, 255})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(data)
	}))
	defer srv.Close()

	source := NewFeatureSource(NewImageDownloader(), "")
	ctx := context.Background()

	_, ok := source.ForURL(ctx, srv.URL, 0)
	require.True(t, ok)
	_, ok = source.ForURL(ctx, srv.URL, 1)
	require.True(t, ok)

	assert.Equal(t, 2, source.CacheLen())
}

func TestFeatureSourceSkipsUndecodable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("definitely not a png"))
	}))
	defer srv.Close()

	source := NewFeatureSource(NewImageDownloader(), "")
	_, ok := source.ForURL(context.Background(), srv.URL, 0)

	assert.False(t, ok)
	assert.Zero(t, source.CacheLen())
}

func TestFeatureSourceEmptyURL(t *testing.T) {
	source := NewFeatureSource(NewImageDownloader(), "")
	_, ok := source.ForURL(context.Background(), "", 0)

	assert.False(t, ok)
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, "http://example.com/a.jpg", CacheKey("http://example.com/a.jpg", 0))
	assert.Equal(t, "http://example.com/a.jpg#2", CacheKey("http://example.com/a.jpg", 2))
}
