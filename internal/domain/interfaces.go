package domain

import "time"

// PriceSource provides a closing price for a ticker on a given simulated date.
// Implementations define their own missing-value policy; the in-memory market
// data service falls back to the last known prior price, or 0 if none exists.
type PriceSource interface {
	GetPrice(ticker string, date time.Time) float64
}

// ReturnsSource provides a window of daily returns for a set of tickers.
type ReturnsSource interface {
	GetReturns(tickers []string, start, end time.Time) *ReturnsWindow
}

// MarketData combines the price and returns views of a data provider.
type MarketData interface {
	PriceSource
	ReturnsSource

	// AllTickers returns every ticker the provider has data for, in a
	// stable order.
	AllTickers() []string
}

// ExposureEstimator estimates factor exposures from a returns window.
// The second return value is the regression R² per ticker.
type ExposureEstimator interface {
	EstimateExposures(returns *ReturnsWindow) (*ExposureTable, map[string]float64, error)
}

// UniverseSelector filters candidate tickers by model quality and risk.
type UniverseSelector interface {
	Select(exposures *ExposureTable, r2 map[string]float64, volatility map[string]float64) []string
}
