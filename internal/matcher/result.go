package matcher

import (
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/mkoski/resale-scout/internal/ebay"
)

// Confidence is the qualitative tier of a match result.
type Confidence string

const (
	ConfidenceHigh      Confidence = "high"
	ConfidenceMedium    Confidence = "medium"
	ConfidenceLow       Confidence = "low"
	ConfidenceNoMatches Confidence = "no_matches"
	ConfidenceError     Confidence = "error"
)

// ScoredMatch is a sold listing that passed the similarity threshold,
// annotated with its scores.
type ScoredMatch struct {
	ebay.Listing
	ImageSimilarity float64 `json:"image_similarity"`
	ConfidenceScore float64 `json:"confidence_score"`
}

type PriceRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// MatchResult aggregates all matches found for one reference image.
type MatchResult struct {
	Query        string        `json:"query"`
	MatchesFound int           `json:"matches_found"`
	BestMatch    *ScoredMatch  `json:"best_match,omitempty"`
	AllMatches   []ScoredMatch `json:"all_matches,omitempty"`
	AveragePrice float64       `json:"average_price"`
	MedianPrice  float64       `json:"median_price"`
	PriceRange   PriceRange    `json:"price_range"`
	Confidence   Confidence    `json:"confidence"`
}

func errorResult(query string) MatchResult {
	return MatchResult{Query: query, Confidence: ConfidenceError}
}

// summarize sorts matches by similarity and fills in the aggregate price
// statistics and confidence tier.
func summarize(query string, matches []ScoredMatch) MatchResult {
	result := MatchResult{
		Query:        query,
		MatchesFound: len(matches),
		Confidence:   confidenceTier(len(matches)),
	}
	if len(matches) == 0 {
		return result
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].ImageSimilarity > matches[j].ImageSimilarity
	})
	result.AllMatches = matches
	result.BestMatch = &matches[0]

	prices := make([]float64, len(matches))
	for i, m := range matches {
		prices[i] = m.Price
	}
	sorted := append([]float64(nil), prices...)
	sort.Float64s(sorted)

	result.AveragePrice = stat.Mean(prices, nil)
	result.MedianPrice = stat.Quantile(0.5, stat.Empirical, sorted, nil)
	result.PriceRange = PriceRange{Min: sorted[0], Max: sorted[len(sorted)-1]}
	return result
}

func confidenceTier(matches int) Confidence {
	switch {
	case matches >= 3:
		return ConfidenceHigh
	case matches == 2:
		return ConfidenceMedium
	case matches == 1:
		return ConfidenceLow
	default:
		return ConfidenceNoMatches
	}
}

const (
	bonusSoldYesterday = 0.10
	bonusSoldThisWeek  = 0.05
	bonusSanePrice     = 0.05

	sanePriceMin = 10.0
	sanePriceMax = 1000.0
)

// confidenceScore augments the raw similarity with bonuses for freshness
// and a plausible price. Each bonus is independent and additive; the
// result is clamped to 1.
func confidenceScore(similarity float64, listing ebay.Listing) float64 {
	score := similarity

	soldDate := strings.ToLower(listing.SoldDate)
	if strings.Contains(soldDate, "yesterday") || strings.Contains(soldDate, "1 d") {
		score += bonusSoldYesterday
	} else if strings.Contains(soldDate, "week") {
		score += bonusSoldThisWeek
	}
	if listing.Price >= sanePriceMin && listing.Price <= sanePriceMax {
		score += bonusSanePrice
	}

	if score > 1 {
		score = 1
	}
	return score
}
