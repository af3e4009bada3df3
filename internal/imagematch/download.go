package imagematch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultDownloadTimeout = 30 * time.Second
	DefaultMaxImageSize    = 10 * 1024 * 1024
)

// ImageDownloader fetches remote images with a timeout and a size cap.
type ImageDownloader struct {
	client  *http.Client
	maxSize int64
}

func NewImageDownloader() *ImageDownloader {
	return &ImageDownloader{
		client:  &http.Client{Timeout: DefaultDownloadTimeout},
		maxSize: DefaultMaxImageSize,
	}
}

func (d *ImageDownloader) WithTimeout(timeout time.Duration) *ImageDownloader {
	d.client.Timeout = timeout
	return d
}

func (d *ImageDownloader) WithMaxSize(maxSize int64) *ImageDownloader {
	d.maxSize = maxSize
	return d
}

// Download fetches the image at url and returns its raw bytes. Responses
// that are not images or exceed the size cap are rejected.
func (d *ImageDownloader) Download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d downloading image", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType != "" && !strings.HasPrefix(contentType, "image/") {
		return nil, fmt.Errorf("unexpected content type %q", contentType)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, d.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image body: %w", err)
	}
	if int64(len(data)) > d.maxSize {
		return nil, fmt.Errorf("image exceeds maximum size of %d bytes", d.maxSize)
	}
	return data, nil
}

// FeatureSource resolves image URLs to feature bundles, downloading and
// extracting on cache misses. Failures are logged and reported to the
// caller as a missing bundle so that one broken image never aborts a
// whole matching run.
type FeatureSource struct {
	downloader *ImageDownloader
	cache      *FeatureCache
	debugDir   string
	seq        int
}

// NewFeatureSource builds a feature source. When debugDir is non-empty,
// every downloaded image is also written there for manual inspection.
func NewFeatureSource(downloader *ImageDownloader, debugDir string) *FeatureSource {
	return &FeatureSource{
		downloader: downloader,
		cache:      NewFeatureCache(),
		debugDir:   debugDir,
	}
}

// ForURL returns the feature bundle for an image URL. The second return
// value is false when the URL is empty or the image could not be fetched
// or decoded.
func (s *FeatureSource) ForURL(ctx context.Context, imageURL string, ordinal int) (FeatureBundle, bool) {
	if imageURL == "" {
		return FeatureBundle{}, false
	}

	key := CacheKey(imageURL, ordinal)
	if bundle, ok := s.cache.Get(key); ok {
		return bundle, true
	}

	data, err := s.downloader.Download(ctx, imageURL)
	if err != nil {
		log.Warn().Err(err).Str("url", imageURL).Msg("Image download failed")
		return FeatureBundle{}, false
	}

	img, err := DecodeImage(data)
	if err != nil {
		log.Warn().Err(err).Str("url", imageURL).Msg("Image decode failed")
		return FeatureBundle{}, false
	}

	s.saveDebugImage(data)

	bundle := ExtractFeatures(img)
	s.cache.Set(key, bundle)
	return bundle, true
}

func (s *FeatureSource) CacheLen() int {
	return s.cache.Len()
}

func (s *FeatureSource) saveDebugImage(data []byte) {
	if s.debugDir == "" {
		return
	}
	s.seq++
	path := filepath.Join(s.debugDir, fmt.Sprintf("candidate_%03d.img", s.seq))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Failed to save debug image")
	}
}
