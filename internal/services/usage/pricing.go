package usage

import (
	"github.com/furgapp/furgo/internal/models"
)

// PriceRow holds the three per-million-token rates for one backend.
type PriceRow struct {
	FreshInputPerM  float64
	CachedInputPerM float64
	OutputPerM      float64
}

// PriceTable maps each backend to its rates. It is loaded at construction and
// never mutated; changing prices means restarting the process.
type PriceTable map[models.ModelID]PriceRow

// DefaultPriceTable carries the launch rates for the three backends.
func DefaultPriceTable() PriceTable {
	return PriceTable{
		models.ModelRoaster: {FreshInputPerM: 0.20, CachedInputPerM: 0.05, OutputPerM: 0.50},
		models.ModelAdvisor: {FreshInputPerM: 3.00, CachedInputPerM: 0.30, OutputPerM: 15.00},
		models.ModelUtility: {FreshInputPerM: 0.075, CachedInputPerM: 0.02, OutputPerM: 0.30},
	}
}

// CostOf prices one invocation. Cached prompt tokens bill at the cached rate;
// the remainder of the input bills fresh. The synthetic fallback has no price
// row and always costs zero.
func (t PriceTable) CostOf(model models.ModelID, inputTokens, cachedInputTokens, outputTokens int) float64 {
	row, ok := t[model]
	if !ok {
		return 0
	}

	fresh := inputTokens - cachedInputTokens
	if fresh < 0 {
		fresh = 0
	}

	const perM = 1_000_000
	return float64(fresh)/perM*row.FreshInputPerM +
		float64(cachedInputTokens)/perM*row.CachedInputPerM +
		float64(outputTokens)/perM*row.OutputPerM
}
