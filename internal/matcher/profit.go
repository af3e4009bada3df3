package matcher

import "fmt"

// ProfitScenario estimates the outcome of buying at a fraction of the
// observed eBay price and reselling.
type ProfitScenario struct {
	Name                string  `json:"name"`
	BuyInFraction       float64 `json:"buy_in_fraction"`
	PurchaseCost        float64 `json:"purchase_cost"`
	PurchaseCostJPY     float64 `json:"purchase_cost_jpy"`
	EstimatedFees       float64 `json:"estimated_fees"`
	ShippingCost        float64 `json:"shipping_cost"`
	NetProfit           float64 `json:"net_profit"`
	ProfitMarginPercent float64 `json:"profit_margin_percent"`
	RiskLevel           string  `json:"risk_level"`
}

var scenarioDefs = []struct {
	name  string
	buyIn float64
	risk  string
}{
	{"Conservative", 0.3, "Low"},
	{"Moderate", 0.5, "Medium"},
	{"Aggressive", 0.7, "High"},
}

// ProfitScenarios derives buy-in scenarios from a match result's average
// sold price. Fees are a flat fraction of the sale price; shipping is a
// fixed cost in USD.
func ProfitScenarios(result MatchResult, exchangeRate, feeRate, shippingCost float64) []ProfitScenario {
	salePrice := result.AveragePrice

	scenarios := make([]ProfitScenario, 0, len(scenarioDefs))
	for _, def := range scenarioDefs {
		cost := salePrice * def.buyIn
		fees := salePrice * feeRate
		net := salePrice - cost - fees - shippingCost

		margin := 0.0
		if salePrice > 0 {
			margin = net / salePrice * 100
		}

		scenarios = append(scenarios, ProfitScenario{
			Name:                def.name,
			BuyInFraction:       def.buyIn,
			PurchaseCost:        cost,
			PurchaseCostJPY:     cost * exchangeRate,
			EstimatedFees:       fees,
			ShippingCost:        shippingCost,
			NetProfit:           net,
			ProfitMarginPercent: margin,
			RiskLevel:           def.risk,
		})
	}
	return scenarios
}

const (
	demandTierLow    = 5
	demandTierMedium = 10
	demandTierHigh   = 20

	spreadStable   = 0.3
	spreadModerate = 0.6

	highValuePrice = 200.0
	lowValuePrice  = 20.0
)

// Recommendations turns a match result into human-readable guidance
// about demand, price stability and value tier.
func Recommendations(result MatchResult) []string {
	var recs []string

	switch {
	case result.MatchesFound >= demandTierHigh:
		recs = append(recs, fmt.Sprintf("Very high demand: %d recent sales found", result.MatchesFound))
	case result.MatchesFound >= demandTierMedium:
		recs = append(recs, fmt.Sprintf("Strong demand: %d recent sales found", result.MatchesFound))
	case result.MatchesFound >= demandTierLow:
		recs = append(recs, fmt.Sprintf("Moderate demand: %d recent sales found", result.MatchesFound))
	case result.MatchesFound > 0:
		recs = append(recs, fmt.Sprintf("Limited sales history: only %d recent sales", result.MatchesFound))
	default:
		recs = append(recs, "No recent sales found, resale value unverified")
		return recs
	}

	if result.AveragePrice > 0 {
		spread := (result.PriceRange.Max - result.PriceRange.Min) / result.AveragePrice
		switch {
		case spread <= spreadStable:
			recs = append(recs, "Stable pricing, sold prices cluster tightly")
		case spread <= spreadModerate:
			recs = append(recs, "Moderate price variance, condition likely matters")
		default:
			recs = append(recs, "Wide price spread, inspect condition and completeness carefully")
		}
	}

	switch {
	case result.AveragePrice >= highValuePrice:
		recs = append(recs, fmt.Sprintf("High-value item, average sold price $%.2f", result.AveragePrice))
	case result.AveragePrice > 0 && result.AveragePrice < lowValuePrice:
		recs = append(recs, "Low-value item, fees and shipping will eat most of the margin")
	}

	return recs
}
