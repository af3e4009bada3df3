package ebay

// Listing is one sold listing scraped from eBay search results.
type Listing struct {
	Title      string  `json:"title"`
	Price      float64 `json:"price"`
	Currency   string  `json:"currency"`
	SoldDate   string  `json:"sold_date,omitempty"`
	ImageURL   string  `json:"image_url"`
	ListingURL string  `json:"listing_url"`
}
