package universe

import "factorsim/internal/domain"

// Selector screens estimated tickers by regression quality and, optionally,
// realized volatility.
type Selector struct {
	minR2         float64
	maxVolatility float64         // annualized; 0 disables the screen
	allowed       map[string]bool // nil admits every ticker
}

// NewSelector creates a selector admitting tickers whose factor regression
// explains at least minR2 of variance.
func NewSelector(minR2 float64) *Selector {
	return &Selector{minR2: minR2}
}

// WithMaxVolatility adds an annualized-volatility ceiling to the screen.
func (s *Selector) WithMaxVolatility(maxVolatility float64) *Selector {
	s.maxVolatility = maxVolatility
	return s
}

// WithAllowedTickers restricts selection to a catalog-derived candidate
// list, typically the output of Catalog.Filter.
func (s *Selector) WithAllowedTickers(tickers []string) *Selector {
	s.allowed = toSet(tickers)
	return s
}

// Select returns the eligible tickers in the table's stable order. Tickers
// missing from the r2 map are excluded; tickers missing from the volatility
// map pass the volatility screen.
func (s *Selector) Select(exposures *domain.ExposureTable, r2 map[string]float64, volatility map[string]float64) []string {
	if exposures == nil {
		return nil
	}
	var eligible []string
	for _, ticker := range exposures.Tickers {
		if s.allowed != nil && !s.allowed[ticker] {
			continue
		}
		fit, ok := r2[ticker]
		if !ok || fit < s.minR2 {
			continue
		}
		if s.maxVolatility > 0 {
			if vol, ok := volatility[ticker]; ok && vol > s.maxVolatility {
				continue
			}
		}
		eligible = append(eligible, ticker)
	}
	return eligible
}
