package matcher

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/mkoski/resale-scout/internal/ebay"
	"github.com/mkoski/resale-scout/internal/imagematch"
)

const (
	DefaultSimilarityThreshold = 0.7
	DefaultMaxResults          = 5
	DefaultDaysBack            = 90
)

// SoldSearcher finds sold listings for a text query.
type SoldSearcher interface {
	SearchSold(ctx context.Context, query string, maxResults, daysBack int) ([]ebay.Listing, error)
}

// FeatureProvider resolves an image URL to its feature bundle.
type FeatureProvider interface {
	ForURL(ctx context.Context, imageURL string, ordinal int) (imagematch.FeatureBundle, bool)
}

// ProgressFunc is called after each candidate listing has been scored.
type ProgressFunc func(processed, total int)

// Options tunes one matching run. Zero values fall back to the package
// defaults.
type Options struct {
	MaxResults          int
	DaysBack            int
	SimilarityThreshold float64
	Weights             *imagematch.Weights
	Progress            ProgressFunc
}

func (o Options) withDefaults() Options {
	if o.MaxResults == 0 {
		o.MaxResults = DefaultMaxResults
	}
	if o.DaysBack == 0 {
		o.DaysBack = DefaultDaysBack
	}
	if o.SimilarityThreshold == 0 {
		o.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if o.Weights == nil {
		w := imagematch.DefaultWeights
		o.Weights = &w
	}
	return o
}

// Matcher compares a reference image against eBay sold listings.
type Matcher struct {
	searcher SoldSearcher
	features FeatureProvider
}

func New(searcher SoldSearcher, features FeatureProvider) *Matcher {
	return &Matcher{searcher: searcher, features: features}
}

// FindMatches loads a reference image from disk, searches sold listings
// for the query and returns the listings whose photos look like the
// reference. A reference image that cannot be loaded yields an error
// result; a failed search degrades to no matches.
func (m *Matcher) FindMatches(ctx context.Context, referenceImagePath, query string, opts Options) MatchResult {
	img, err := imagematch.LoadImage(referenceImagePath)
	if err != nil {
		log.Error().Err(err).Str("path", referenceImagePath).Msg("Failed to load reference image")
		return errorResult(query)
	}
	return m.MatchAgainst(ctx, imagematch.ExtractFeatures(img), query, opts)
}

// MatchAgainst matches a pre-extracted reference bundle against sold
// listings for the query.
func (m *Matcher) MatchAgainst(ctx context.Context, reference imagematch.FeatureBundle, query string, opts Options) MatchResult {
	opts = opts.withDefaults()

	listings, err := m.searcher.SearchSold(ctx, query, opts.MaxResults, opts.DaysBack)
	if err != nil {
		log.Warn().Err(err).Str("query", query).Msg("Sold listing search failed")
		listings = nil
	}
	return m.matchListings(ctx, reference, query, listings, opts)
}

// matchListings scores each candidate listing against the reference and
// keeps those above the similarity threshold. Cancellation between items
// returns the partial result accumulated so far.
func (m *Matcher) matchListings(ctx context.Context, reference imagematch.FeatureBundle, query string, listings []ebay.Listing, opts Options) MatchResult {
	var matches []ScoredMatch
	for i, listing := range listings {
		if ctx.Err() != nil {
			log.Warn().Str("query", query).Msg("Matching cancelled, returning partial result")
			break
		}

		if match, ok := m.scoreListing(ctx, reference, listing, opts); ok {
			matches = append(matches, match)
		}

		// Skipped listings still count toward progress so the callback
		// reaches total.
		if opts.Progress != nil {
			opts.Progress(i+1, len(listings))
		}
	}

	result := summarize(query, matches)
	log.Info().
		Str("query", query).
		Int("candidates", len(listings)).
		Int("matches", result.MatchesFound).
		Str("confidence", string(result.Confidence)).
		Msg("Image matching complete")
	return result
}

// scoreListing scores one candidate against the reference. Listings
// without a usable price or image, failed downloads and scores below the
// threshold all report ok=false. Features are keyed by URL alone, so
// listings sharing an image resolve from cache after the first download.
func (m *Matcher) scoreListing(ctx context.Context, reference imagematch.FeatureBundle, listing ebay.Listing, opts Options) (ScoredMatch, bool) {
	if listing.Price <= 0 || listing.ImageURL == "" {
		return ScoredMatch{}, false
	}

	candidate, ok := m.features.ForURL(ctx, listing.ImageURL, 0)
	if !ok {
		return ScoredMatch{}, false
	}

	similarity := imagematch.Similarity(reference, candidate, *opts.Weights)
	if similarity < opts.SimilarityThreshold {
		return ScoredMatch{}, false
	}

	return ScoredMatch{
		Listing:         listing,
		ImageSimilarity: similarity,
		ConfidenceScore: confidenceScore(similarity, listing),
	}, true
}
