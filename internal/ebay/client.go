package ebay

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	BaseURL = "https://www.ebay.com"

	// DefaultRequestInterval spaces out search requests so that polite
	// scraping does not trip eBay's bot detection.
	DefaultRequestInterval = 3 * time.Second

	resultsPerPage = 60
)

type ClientOpts struct {
	BaseURL         string
	RequestInterval time.Duration
}

// Client searches eBay sold listings by scraping the public search page.
type Client struct {
	httpClient *resty.Client
	limiter    *rate.Limiter
}

func NewClient(opts ClientOpts) *Client {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = BaseURL
	}
	interval := opts.RequestInterval
	if interval == 0 {
		interval = DefaultRequestInterval
	}

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetHeader("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36").
		SetHeader("Accept", "text/html,application/xhtml+xml").
		SetHeader("Accept-Language", "en-US,en;q=0.9")

	return &Client{
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Every(interval), 1),
	}
}

// SearchSold fetches sold listings for a text query and returns up to
// maxResults of them, filtered to listings sold within daysBack days
// (dates that fail to parse are kept). A blocked or captcha page yields
// an empty result rather than an error, so callers can distinguish "eBay
// said no results" from a transport failure.
func (c *Client) SearchSold(ctx context.Context, query string, maxResults, daysBack int) ([]Listing, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"_nkw":        query,
			"LH_Sold":     "1",
			"LH_Complete": "1",
			"_ipg":        fmt.Sprint(resultsPerPage),
		}).
		Get("/sch/i.html")
	if err := handleError("sold listing search failed", resp, err); err != nil {
		return nil, err
	}

	body := resp.Body()
	if isBlockedPage(body) {
		log.Warn().Str("query", query).Msg("eBay returned a blocked or captcha page")
		return nil, nil
	}

	listings, err := parseSoldListings(body)
	if err != nil {
		return nil, err
	}

	listings = filterListings(listings, daysBack, time.Now())
	if maxResults > 0 && len(listings) > maxResults {
		listings = listings[:maxResults]
	}

	log.Debug().
		Str("query", query).
		Int("results", len(listings)).
		Msg("eBay sold search complete")
	return listings, nil
}

func handleError(msg string, res *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w", msg, err)
	}
	if res.IsError() {
		return fmt.Errorf("%s: %s (%s)", msg, res.Status(), res.String())
	}
	return nil
}
