package ebay

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// currencySymbols maps price prefixes to ISO currency codes. Longer
// prefixes must come before their shorter variants.
var currencySymbols = []struct {
	prefix   string
	currency string
}{
	{"US $", "USD"},
	{"C $", "CAD"},
	{"AU $", "AUD"},
	{"$", "USD"},
	{"£", "GBP"},
	{"EUR", "EUR"},
	{"€", "EUR"},
	{"JPY", "JPY"},
	{"¥", "JPY"},
}

var soldDateLayouts = []string{
	"Jan 2, 2006",
	"2 Jan 2006",
	"Jan-2 15:04",
}

var blockedMarkers = [][]byte{
	[]byte("Pardon Our Interruption"),
	[]byte("pardon our interruption"),
	[]byte("checking your browser"),
	[]byte("captcha"),
}

func isBlockedPage(body []byte) bool {
	for _, marker := range blockedMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

// parseSoldListings extracts listings from an eBay sold-search results
// page. Cards that cannot be parsed into a usable listing are skipped;
// filtering on price/image/recency happens in filterListings.
func parseSoldListings(body []byte) ([]Listing, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse search results: %w", err)
	}

	var listings []Listing
	doc.Find("li.s-item, div.s-item").Each(func(_ int, s *goquery.Selection) {
		title := strings.TrimSpace(s.Find(".s-item__title").First().Text())
		// eBay pads results with a promo card.
		if title == "" || strings.EqualFold(title, "Shop on eBay") {
			return
		}

		price, currency := parsePrice(s.Find(".s-item__price").First().Text())
		imageURL := firstAttr(s.Find(".s-item__image-wrapper img"), "src", "data-src")
		listingURL, _ := s.Find("a.s-item__link").First().Attr("href")

		soldText := strings.TrimSpace(s.Find(".POSITIVE").First().Text())
		soldText = strings.TrimSpace(strings.TrimPrefix(soldText, "Sold"))

		listings = append(listings, Listing{
			Title:      title,
			Price:      price,
			Currency:   currency,
			SoldDate:   soldText,
			ImageURL:   imageURL,
			ListingURL: normalizeListingURL(listingURL),
		})
	})
	return listings, nil
}

// filterListings drops listings without a usable price or image,
// deduplicates by listing URL, and when daysBack > 0 drops listings whose
// sold date parses to something older than the window. Unparseable dates
// are kept.
func filterListings(listings []Listing, daysBack int, now time.Time) []Listing {
	cutoff := now.AddDate(0, 0, -daysBack)
	seen := make(map[string]bool)

	var out []Listing
	for _, l := range listings {
		if l.Price <= 0 || l.ImageURL == "" {
			continue
		}
		if l.ListingURL != "" {
			if seen[l.ListingURL] {
				continue
			}
			seen[l.ListingURL] = true
		}
		if daysBack > 0 {
			if soldAt, ok := parseSoldDate(l.SoldDate, now); ok && soldAt.Before(cutoff) {
				continue
			}
		}
		out = append(out, l)
	}
	return out
}

// parsePrice extracts a numeric price and a currency code from eBay's
// price text. Range prices ("$10.00 to $15.00") resolve to the lower
// bound. Returns 0 when no number can be extracted.
func parsePrice(text string) (float64, string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, ""
	}
	if lower, _, found := strings.Cut(text, " to "); found {
		text = lower
	}

	currency := ""
	for _, sym := range currencySymbols {
		if strings.HasPrefix(text, sym.prefix) {
			currency = sym.currency
			text = strings.TrimPrefix(text, sym.prefix)
			break
		}
	}

	text = strings.ReplaceAll(strings.TrimSpace(text), ",", "")
	price, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, currency
	}
	return price, currency
}

func parseSoldDate(text string, now time.Time) (time.Time, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, false
	}
	for _, layout := range soldDateLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			if t.Year() == 0 {
				t = t.AddDate(now.Year(), 0, 0)
			}
			return t, true
		}
	}
	return time.Time{}, false
}

// normalizeListingURL strips tracking query parameters so that the same
// listing reached through different result pages deduplicates.
func normalizeListingURL(rawURL string) string {
	if i := strings.Index(rawURL, "?"); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}

func firstAttr(s *goquery.Selection, attrs ...string) string {
	for _, attr := range attrs {
		if v, ok := s.First().Attr(attr); ok && v != "" {
			return v
		}
	}
	return ""
}
