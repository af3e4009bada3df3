package cart

import (
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkoski/resale-scout/internal/ebay"
	"github.com/mkoski/resale-scout/internal/imagematch"
)

// querySearcher returns canned listings per query string.
type querySearcher struct {
	byQuery map[string][]ebay.Listing
	calls   int
}

func (s *querySearcher) SearchSold(_ context.Context, query string, _, _ int) ([]ebay.Listing, error) {
	s.calls++
	return s.byQuery[query], nil
}

type stubFeatures map[string]imagematch.FeatureBundle

func (s stubFeatures) ForURL(_ context.Context, imageURL string, _ int) (imagematch.FeatureBundle, bool) {
	b, ok := s[imageURL]
	return b, ok
}

func solidBundle(c color.RGBA) imagematch.FeatureBundle {
	img := image.NewRGBA(image.Rect(0, 0, 50, 50))
	for y := 0; y < 50; y++ {
		for x := 0; x < 50; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return imagematch.ExtractFeatures(img)
}

var (
	redBundle  = solidBundle(color.RGBA{255, 0, 0, 255})
	blueBundle = solidBundle(color.RGBA{0, 0, 255, 255})
)

func soldListing(title, imageURL string, price float64) ebay.Listing {
	return ebay.Listing{
		Title:      title,
		Price:      price,
		Currency:   "USD",
		ImageURL:   imageURL,
		ListingURL: "https://www.ebay.com/itm/" + title,
	}
}

func TestVerifyTextMethod(t *testing.T) {
	searcher := &querySearcher{byQuery: map[string][]ebay.Listing{
		"good figure": {soldListing("g1", "http://img/g1", 30)},
		"weak poster": {soldListing("w1", "http://img/w1", 11)},
	}}
	items := []Item{
		{ID: "1", Title: "Good Figure", Keyword: "good figure", PriceJPY: 3000},
		{ID: "2", Title: "Weak Poster", Keyword: "weak poster", PriceJPY: 1500},
		{ID: "3", Title: "Gone Item", Keyword: "gone", PriceJPY: 1000, Status: "Sold Out"},
	}

	v := NewVerifier(searcher, stubFeatures{})
	result := v.Verify(context.Background(), items, Options{Method: MethodText, ExchangeRate: 150})

	// 3000 JPY = $20, revenue $30, ROI 50%. 1500 JPY = $10, revenue $11,
	// ROI 10% which is below the 20% bar.
	assert.Equal(t, 2, result.ItemsVerified)
	assert.Equal(t, 1, result.ItemsSkipped)
	require.Len(t, result.FlaggedItems, 1)
	assert.Equal(t, "2", result.FlaggedItems[0].Item.ID)
	assert.Contains(t, result.FlaggedItems[0].Reason, "Low ROI")

	assert.InDelta(t, 30.0, result.TotalCost, 1e-9)
	assert.InDelta(t, 41.0, result.TotalRevenue, 1e-9)
	assert.InDelta(t, 11.0, result.NetProfit, 1e-9)
	assert.InDelta(t, 36.666, result.ROIPercent, 0.01)

	require.Len(t, result.VerifiedItems, 2)
	assert.Equal(t, MethodText, result.VerifiedItems[0].MethodUsed)
	assert.InDelta(t, 50.0, result.VerifiedItems[0].ROIPercent, 1e-9)
	assert.Contains(t, result.VerifiedItems[1].Warnings[0], "Low ROI")
}

func TestVerifyTextNoResults(t *testing.T) {
	searcher := &querySearcher{byQuery: map[string][]ebay.Listing{}}
	items := []Item{{ID: "1", Title: "Unknown Thing", Keyword: "unknown thing", PriceJPY: 1000}}

	result := NewVerifier(searcher, stubFeatures{}).Verify(context.Background(), items, Options{Method: MethodText, ExchangeRate: 150})

	assert.Zero(t, result.ItemsVerified)
	require.Len(t, result.FlaggedItems, 1)
	assert.Equal(t, "No eBay sold listings found", result.FlaggedItems[0].Reason)
	assert.Zero(t, result.TotalCost, "hard-flagged items stay out of the totals")
}

func TestVerifyImageMethod(t *testing.T) {
	searcher := &querySearcher{byQuery: map[string][]ebay.Listing{
		"red figure": {
			soldListing("match", "http://img/red-sold", 40),
			soldListing("mismatch", "http://img/blue-sold", 90),
		},
	}}
	features := stubFeatures{
		"http://cart/red-item": redBundle,
		"http://img/red-sold":  redBundle,
		"http://img/blue-sold": blueBundle,
	}
	items := []Item{{ID: "1", Title: "Red Figure", Keyword: "red figure", PriceJPY: 3000, ImageURL: "http://cart/red-item"}}

	result := NewVerifier(searcher, features).Verify(context.Background(), items, Options{Method: MethodImage, ExchangeRate: 150})

	require.Equal(t, 1, result.ItemsVerified)
	verified := result.VerifiedItems[0]
	assert.Equal(t, MethodImage, verified.MethodUsed)
	assert.Equal(t, 1, verified.MatchCount, "only visually matching listings count")
	assert.InDelta(t, 40.0, verified.AveragePrice, 1e-9)
	// $20 cost against $40 revenue.
	assert.InDelta(t, 100.0, verified.ROIPercent, 1e-9)
}

func TestVerifyHybridFallsBackToText(t *testing.T) {
	searcher := &querySearcher{byQuery: map[string][]ebay.Listing{
		"niche zine": {soldListing("z1", "http://img/z1", 30)},
	}}
	// No feature bundle for the cart item, so image verification fails.
	items := []Item{{ID: "1", Title: "Niche Zine", Keyword: "niche zine", PriceJPY: 1500, ImageURL: "http://cart/broken"}}

	result := NewVerifier(searcher, stubFeatures{}).Verify(context.Background(), items, Options{ExchangeRate: 150})

	require.Equal(t, 1, result.ItemsVerified)
	assert.Equal(t, MethodText, result.VerifiedItems[0].MethodUsed)
}

func TestVerifyHybridBothFail(t *testing.T) {
	searcher := &querySearcher{byQuery: map[string][]ebay.Listing{}}
	items := []Item{{ID: "1", Title: "Mystery Box", Keyword: "mystery box", PriceJPY: 1000}}

	result := NewVerifier(searcher, stubFeatures{}).Verify(context.Background(), items, Options{ExchangeRate: 150})

	require.Len(t, result.FlaggedItems, 1)
	assert.Equal(t, "No eBay results (image or text)", result.FlaggedItems[0].Reason)
}

func TestVerifyCancellationPartial(t *testing.T) {
	searcher := &querySearcher{byQuery: map[string][]ebay.Listing{
		"a": {soldListing("a1", "http://img/a1", 30)},
		"b": {soldListing("b1", "http://img/b1", 30)},
	}}
	items := []Item{
		{ID: "1", Title: "A", Keyword: "a", PriceJPY: 1500},
		{ID: "2", Title: "B", Keyword: "b", PriceJPY: 1500},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := NewVerifier(searcher, stubFeatures{}).Verify(ctx, items, Options{Method: MethodText, ExchangeRate: 150})
	assert.Zero(t, result.ItemsVerified, "cancelled before any item was processed")
	assert.Zero(t, searcher.calls)
}

func TestVerifyZeroCostGuard(t *testing.T) {
	searcher := &querySearcher{byQuery: map[string][]ebay.Listing{
		"free item": {soldListing("f1", "http://img/f1", 30)},
	}}
	items := []Item{{ID: "1", Title: "Free Item", Keyword: "free item", PriceJPY: 0}}

	result := NewVerifier(searcher, stubFeatures{}).Verify(context.Background(), items, Options{Method: MethodText, ExchangeRate: 150})

	require.Equal(t, 1, result.ItemsVerified)
	assert.Zero(t, result.VerifiedItems[0].ROIPercent, "ROI undefined at zero cost")
	assert.Zero(t, result.ROIPercent)
}

func TestItemSoldOut(t *testing.T) {
	tests := []struct {
		status string
		want   bool
	}{
		{"Sold Out", true},
		{"SOLD OUT", true},
		{"In stock", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Item{Status: tt.status}.SoldOut(), tt.status)
	}
}
