// Package cart verifies that the items in a marketplace cart still have
// resale value before purchase, by re-checking each item against eBay
// sold listings by text, by image, or both.
package cart

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/stat"

	"github.com/mkoski/resale-scout/internal/matcher"
)

// Method selects how an item's resale value is verified.
type Method string

const (
	MethodText   Method = "text"
	MethodImage  Method = "image"
	MethodHybrid Method = "hybrid"
)

const (
	// DefaultMinSimilarity is the image similarity bar for cart
	// verification, deliberately softer than the matching default since
	// seller photos rarely match listing photos exactly.
	DefaultMinSimilarity = 0.6

	// lowROIPercent is the soft-flag threshold for a verified item's
	// return on investment.
	lowROIPercent = 20.0

	// nearThresholdMargin soft-flags image verifications that only just
	// cleared the similarity bar.
	nearThresholdMargin = 0.10
)

// Item is one cart entry awaiting verification.
type Item struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Keyword  string  `json:"keyword"`
	PriceJPY float64 `json:"price_jpy"`
	Status   string  `json:"status"`
	ImageURL string  `json:"image_url"`
}

// SoldOut reports whether the item can no longer be bought.
func (i Item) SoldOut() bool {
	return strings.Contains(strings.ToLower(i.Status), "sold out")
}

// VerifiedItem is a cart item whose resale value was confirmed.
type VerifiedItem struct {
	Item              Item     `json:"item"`
	MethodUsed        Method   `json:"method_used"`
	MatchCount        int      `json:"match_count"`
	AveragePrice      float64  `json:"average_price"`
	AverageSimilarity float64  `json:"average_similarity,omitempty"`
	CostUSD           float64  `json:"cost_usd"`
	ROIPercent        float64  `json:"roi_percent"`
	Warnings          []string `json:"warnings,omitempty"`
}

// FlaggedItem is a cart item that needs the buyer's attention. Hard
// flags (no sold listings found) exclude the item from the aggregate
// totals; soft flags (low ROI, borderline similarity) do not.
type FlaggedItem struct {
	Item   Item   `json:"item"`
	Reason string `json:"reason"`
}

// Result summarizes a cart verification run.
type Result struct {
	TotalCost     float64        `json:"total_cost"`
	TotalRevenue  float64        `json:"total_revenue"`
	NetProfit     float64        `json:"net_profit"`
	ROIPercent    float64        `json:"roi_percent"`
	ExchangeRate  float64        `json:"exchange_rate"`
	ItemsVerified int            `json:"items_verified"`
	ItemsFlagged  int            `json:"items_flagged"`
	ItemsSkipped  int            `json:"items_skipped"`
	VerifiedItems []VerifiedItem `json:"verified_items,omitempty"`
	FlaggedItems  []FlaggedItem  `json:"flagged_items,omitempty"`
}

// Options tunes a verification run.
type Options struct {
	Method        Method
	ExchangeRate  float64
	MaxResults    int
	DaysBack      int
	MinSimilarity float64
}

func (o Options) withDefaults() Options {
	if o.Method == "" {
		o.Method = MethodHybrid
	}
	if o.MinSimilarity == 0 {
		o.MinSimilarity = DefaultMinSimilarity
	}
	return o
}

// Verifier re-checks cart items against eBay sold listings.
type Verifier struct {
	searcher matcher.SoldSearcher
	features matcher.FeatureProvider
	matcher  *matcher.Matcher
}

func NewVerifier(searcher matcher.SoldSearcher, features matcher.FeatureProvider) *Verifier {
	return &Verifier{
		searcher: searcher,
		features: features,
		matcher:  matcher.New(searcher, features),
	}
}

// Verify checks every item in the cart. Sold-out items are skipped
// entirely; items with no sold listings are hard-flagged; verified items
// with low ROI or borderline similarity are counted as verified but also
// flagged. Cancellation between items returns the partial result.
func (v *Verifier) Verify(ctx context.Context, items []Item, opts Options) Result {
	opts = opts.withDefaults()
	result := Result{ExchangeRate: opts.ExchangeRate}

	for _, item := range items {
		if ctx.Err() != nil {
			log.Warn().Msg("Cart verification cancelled, returning partial result")
			break
		}

		if item.SoldOut() {
			result.ItemsSkipped++
			log.Debug().Str("item", item.Title).Msg("Skipping sold out cart item")
			continue
		}

		v.verifyItem(ctx, item, opts, &result)
	}

	if result.TotalCost > 0 {
		result.ROIPercent = result.NetProfit / result.TotalCost * 100
	}
	result.ItemsFlagged = len(result.FlaggedItems)

	log.Info().
		Int("verified", result.ItemsVerified).
		Int("flagged", result.ItemsFlagged).
		Int("skipped", result.ItemsSkipped).
		Float64("roi_percent", result.ROIPercent).
		Msg("Cart verification complete")
	return result
}

func (v *Verifier) verifyItem(ctx context.Context, item Item, opts Options, result *Result) {
	switch opts.Method {
	case MethodText:
		if verified, ok := v.verifyByText(ctx, item, opts); ok {
			v.record(verified, opts, result)
			return
		}
		v.flag(item, "No eBay sold listings found", result)
	case MethodImage:
		if verified, ok := v.verifyByImage(ctx, item, opts); ok {
			v.record(verified, opts, result)
			return
		}
		v.flag(item, "No eBay sold listings matched by image", result)
	default:
		if verified, ok := v.verifyByImage(ctx, item, opts); ok {
			v.record(verified, opts, result)
			return
		}
		if verified, ok := v.verifyByText(ctx, item, opts); ok {
			v.record(verified, opts, result)
			return
		}
		v.flag(item, "No eBay results (image or text)", result)
	}
}

func (v *Verifier) flag(item Item, reason string, result *Result) {
	result.FlaggedItems = append(result.FlaggedItems, FlaggedItem{Item: item, Reason: reason})
}

// verifyByText averages the sold prices of text-search results for the
// item's keyword.
func (v *Verifier) verifyByText(ctx context.Context, item Item, opts Options) (VerifiedItem, bool) {
	query := item.Keyword
	if query == "" {
		query = item.Title
	}

	listings, err := v.searcher.SearchSold(ctx, query, opts.MaxResults, opts.DaysBack)
	if err != nil {
		log.Warn().Err(err).Str("item", item.Title).Msg("Text verification search failed")
		return VerifiedItem{}, false
	}
	if len(listings) == 0 {
		return VerifiedItem{}, false
	}

	prices := make([]float64, len(listings))
	for i, l := range listings {
		prices[i] = l.Price
	}

	return VerifiedItem{
		Item:         item,
		MethodUsed:   MethodText,
		MatchCount:   len(listings),
		AveragePrice: stat.Mean(prices, nil),
	}, true
}

// verifyByImage matches the item's photo against sold listing photos.
func (v *Verifier) verifyByImage(ctx context.Context, item Item, opts Options) (VerifiedItem, bool) {
	reference, ok := v.features.ForURL(ctx, item.ImageURL, 0)
	if !ok {
		return VerifiedItem{}, false
	}

	query := item.Keyword
	if query == "" {
		query = item.Title
	}

	match := v.matcher.MatchAgainst(ctx, reference, query, matcher.Options{
		MaxResults:          opts.MaxResults,
		DaysBack:            opts.DaysBack,
		SimilarityThreshold: opts.MinSimilarity,
	})
	if match.MatchesFound == 0 {
		return VerifiedItem{}, false
	}

	totalSim := 0.0
	for _, m := range match.AllMatches {
		totalSim += m.ImageSimilarity
	}

	return VerifiedItem{
		Item:              item,
		MethodUsed:        MethodImage,
		MatchCount:        match.MatchesFound,
		AveragePrice:      match.AveragePrice,
		AverageSimilarity: totalSim / float64(match.MatchesFound),
	}, true
}

// record finalizes a verified item: computes its cost and ROI, applies
// soft flags and adds it to the aggregate totals.
func (v *Verifier) record(verified VerifiedItem, opts Options, result *Result) {
	if opts.ExchangeRate > 0 {
		verified.CostUSD = verified.Item.PriceJPY / opts.ExchangeRate
	}
	if verified.CostUSD > 0 {
		verified.ROIPercent = (verified.AveragePrice - verified.CostUSD) / verified.CostUSD * 100
	}

	if verified.CostUSD > 0 && verified.ROIPercent < lowROIPercent {
		warning := fmt.Sprintf("Low ROI: %.1f%%", verified.ROIPercent)
		verified.Warnings = append(verified.Warnings, warning)
		v.flag(verified.Item, warning, result)
	}
	if verified.MethodUsed == MethodImage &&
		verified.AverageSimilarity > 0 &&
		verified.AverageSimilarity < opts.MinSimilarity+nearThresholdMargin {
		warning := fmt.Sprintf("Low similarity: %.2f", verified.AverageSimilarity)
		verified.Warnings = append(verified.Warnings, warning)
		v.flag(verified.Item, warning, result)
	}

	result.VerifiedItems = append(result.VerifiedItems, verified)
	result.ItemsVerified++
	result.TotalCost += verified.CostUSD
	result.TotalRevenue += verified.AveragePrice
	result.NetProfit += verified.AveragePrice - verified.CostUSD
}
