package backtest

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"factorsim/internal/config"
	"factorsim/internal/domain"
	"factorsim/internal/modules/decisions"
	"factorsim/internal/modules/execution"
	"factorsim/internal/modules/portfolio"
	"factorsim/internal/modules/strategy"
	"factorsim/internal/modules/tax"
)

type stubMarket struct {
	prices  map[string]float64
	tickers []string
}

func (m *stubMarket) GetPrice(ticker string, _ time.Time) float64 { return m.prices[ticker] }

func (m *stubMarket) GetReturns(tickers []string, _, _ time.Time) *domain.ReturnsWindow {
	return &domain.ReturnsWindow{Tickers: tickers}
}

func (m *stubMarket) AllTickers() []string { return m.tickers }

type stubEstimator struct {
	table *domain.ExposureTable
	r2    map[string]float64
}

func (e *stubEstimator) EstimateExposures(*domain.ReturnsWindow) (*domain.ExposureTable, map[string]float64, error) {
	return e.table, e.r2, nil
}

type stubSelector struct{ eligible []string }

func (s *stubSelector) Select(*domain.ExposureTable, map[string]float64, map[string]float64) []string {
	return s.eligible
}

func TestRunReplaysDatesWithinRange(t *testing.T) {
	market := &stubMarket{prices: map[string]float64{"AAA": 100}, tickers: []string{"AAA"}}
	exec := execution.New(market, zerolog.Nop())
	p := portfolio.New(10000)

	s := strategy.New(
		strategy.Config{TargetWeights: map[string]float64{"Value": 1.0}, LookbackDays: 60},
		strategy.Deps{
			Portfolio: p,
			Market:    market,
			Estimator: &stubEstimator{
				table: &domain.ExposureTable{
					Factors:  []string{"Value"},
					Tickers:  []string{"AAA"},
					Loadings: map[string][]float64{"AAA": {1.0}},
				},
				r2: map[string]float64{"AAA": 0.9},
			},
			Selector:  &stubSelector{eligible: []string{"AAA"}},
			Executor:  exec,
			Decisions: decisions.NewEngine(tax.NewEngine(config.DefaultTaxConfig()), config.DefaultTradingCostConfig()),
		},
		zerolog.Nop(),
	)

	dates := []time.Time{
		day(2023, 12, 29), // before start, skipped
		day(2024, 1, 2),
		day(2024, 1, 3),
		day(2024, 1, 4),
		day(2024, 2, 1), // after end, skipped
	}
	engine := NewEngine(s, market, zerolog.Nop())
	result := engine.Run(dates, day(2024, 1, 1), day(2024, 1, 31))

	require.Len(t, result.Dates, 3)
	require.Len(t, result.Values, 3)

	// The first date rebalances fully into AAA; prices are flat, so equity
	// stays at the initial cash.
	assert.InDelta(t, 10000, result.FinalValue(), 1e-9)
	for _, v := range result.Values {
		assert.InDelta(t, 10000, v, 1e-9)
	}
	assert.NotEmpty(t, result.Trades)
	assert.Len(t, result.ExposureHistory, 1)
	assert.Zero(t, result.InterestPaid)
}
