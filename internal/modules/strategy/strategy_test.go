package strategy

import (
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"factorsim/internal/config"
	"factorsim/internal/domain"
	"factorsim/internal/modules/decisions"
	"factorsim/internal/modules/execution"
	"factorsim/internal/modules/margin"
	"factorsim/internal/modules/portfolio"
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
	err   error
}

func (e *stubEstimator) EstimateExposures(*domain.ReturnsWindow) (*domain.ExposureTable, map[string]float64, error) {
	return e.table, e.r2, e.err
}

type stubSelector struct{ eligible []string }

func (s *stubSelector) Select(*domain.ExposureTable, map[string]float64, map[string]float64) []string {
	return s.eligible
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func emptyEstimator() *stubEstimator {
	return &stubEstimator{table: &domain.ExposureTable{}, r2: map[string]float64{}}
}

func taxEngine() *tax.Engine {
	return tax.NewEngine(config.DefaultTaxConfig())
}

func TestFirstCallRebalancesIntoEligibleUniverse(t *testing.T) {
	market := &stubMarket{
		prices:  map[string]float64{"AAA": 100, "BBB": 50},
		tickers: []string{"AAA", "BBB"},
	}
	exec := execution.New(market, zerolog.Nop())
	p := portfolio.New(10000)

	s := New(
		Config{TargetWeights: map[string]float64{"Value": 0.5}, LookbackDays: 60},
		Deps{
			Portfolio: p,
			Market:    market,
			Estimator: &stubEstimator{
				table: &domain.ExposureTable{
					Factors: []string{"Value"},
					Tickers: []string{"AAA", "BBB"},
					Loadings: map[string][]float64{
						"AAA": {0.5},
						"BBB": {0.5},
					},
				},
				r2: map[string]float64{"AAA": 0.9, "BBB": 0.9},
			},
			Selector:  &stubSelector{eligible: []string{"AAA", "BBB"}},
			Executor:  exec,
			Decisions: decisions.NewEngine(taxEngine(), config.DefaultTradingCostConfig()),
		},
		zerolog.Nop(),
	)

	s.OnDate(day(2024, 1, 5))

	// Equal-weight fallback: 5000 into each ticker.
	require.NotNil(t, p.Position("AAA"))
	require.NotNil(t, p.Position("BBB"))
	assert.InDelta(t, 50, p.Position("AAA").TotalShares(), 1e-9)
	assert.InDelta(t, 100, p.Position("BBB").TotalShares(), 1e-9)
	assert.InDelta(t, 0, p.Cash, 1e-9)
	require.Len(t, s.ExposureHistory(), 1)
	assert.Equal(t, []string{"Value"}, s.ExposureHistory()[0].Factors)

	// Same month: no second rebalance.
	trades := len(s.Trades())
	s.OnDate(day(2024, 1, 20))
	assert.Len(t, s.Trades(), trades)

	// Month rollover triggers the next attempt.
	s.OnDate(day(2024, 2, 3))
	assert.Len(t, s.ExposureHistory(), 2)
}

func TestDecisionGateRejectsWhenImprovementTooSmall(t *testing.T) {
	market := &stubMarket{
		prices:  map[string]float64{"AAA": 100},
		tickers: []string{"AAA"},
	}
	exec := execution.New(market, zerolog.Nop())
	p := portfolio.New(10000)

	// No managed factors in the target: tracking error is 0, so the expected
	// improvement cannot clear the trading-cost floor.
	s := New(
		Config{TargetWeights: map[string]float64{}, LookbackDays: 60},
		Deps{
			Portfolio: p,
			Market:    market,
			Estimator: &stubEstimator{
				table: &domain.ExposureTable{
					Factors:  []string{"Value"},
					Tickers:  []string{"AAA"},
					Loadings: map[string][]float64{"AAA": {0.5}},
				},
				r2: map[string]float64{"AAA": 0.9},
			},
			Selector:  &stubSelector{eligible: []string{"AAA"}},
			Executor:  exec,
			Decisions: decisions.NewEngine(taxEngine(), config.DefaultTradingCostConfig()),
		},
		zerolog.Nop(),
	)

	s.OnDate(day(2024, 1, 5))

	assert.Empty(t, s.Trades())
	// The exposure snapshot is still recorded for observability.
	assert.Len(t, s.ExposureHistory(), 1)
}

func TestForcedLiquidationRestoresLeverage(t *testing.T) {
	market := &stubMarket{
		prices:  map[string]float64{"SMALL": 10, "BIG": 100},
		tickers: []string{"SMALL", "BIG"},
	}
	exec := execution.New(market, zerolog.Nop())
	p := portfolio.New(0)
	p.AddPosition("SMALL", portfolio.NewLot(100, 10, day(2023, 6, 1))) // 1000
	p.AddPosition("BIG", portfolio.NewLot(100, 100, day(2023, 6, 1)))  // 10000
	p.MarginBalance = 5000

	marginCfg := config.DefaultMarginConfig()
	marginCfg.Enabled = true
	marginCfg.MaxLeverage = 1.2

	s := New(
		Config{TargetWeights: map[string]float64{"Value": 0.5}, LookbackDays: 60},
		Deps{
			Portfolio: p,
			Market:    market,
			Estimator: emptyEstimator(),
			Selector:  &stubSelector{},
			Executor:  exec,
			Decisions: decisions.NewEngine(taxEngine(), config.DefaultTradingCostConfig()),
			MarginCfg: &marginCfg,
			CostModel: margin.NewCostModel(),
		},
		zerolog.Nop(),
	)

	// Leverage 11000/6000 is well above the cap: both positions get sold,
	// smallest first, with proceeds repaying debt.
	s.OnDate(day(2024, 1, 5))

	assert.Zero(t, p.MarginBalance)
	assert.Zero(t, p.Position("SMALL").TotalShares())
	assert.Zero(t, p.Position("BIG").TotalShares())
	assert.InDelta(t, 1.0, p.LeverageRatio(market, day(2024, 1, 5)), 1e-9)

	records := s.RealizedGains()
	require.Len(t, records, 2)
	assert.Equal(t, "SMALL", records[0].Ticker)
	assert.True(t, records[0].IsForcedLiquidation)
	assert.Equal(t, "BIG", records[1].Ticker)
	assert.True(t, s.TotalInterestPaid() > 0)
}

func TestHarvestRunsIndependentOfRebalanceGate(t *testing.T) {
	market := &stubMarket{
		prices:  map[string]float64{"AAA": 100, "GAIN": 200, "LOSS": 50},
		tickers: []string{"AAA", "GAIN", "LOSS"},
	}
	exec := execution.New(market, zerolog.Nop())
	p := portfolio.New(1000)
	p.AddPosition("GAIN", portfolio.NewLot(5, 100, day(2023, 6, 1))) // +500 unrealized
	p.AddPosition("LOSS", portfolio.NewLot(10, 100, day(2023, 6, 1))) // -500 unrealized

	taxCfg := config.DefaultTaxConfig()
	taxCfg.HarvestMonths = []int{1}
	taxCfg.MinLossThreshold = 50
	engine := tax.NewEngine(taxCfg)
	harvester := tax.NewHarvestingEngine(taxCfg, engine, exec, zerolog.Nop())

	s := New(
		Config{TargetWeights: map[string]float64{"Value": 0.6}, LookbackDays: 60},
		Deps{
			Portfolio: p,
			Market:    market,
			Estimator: &stubEstimator{
				table: &domain.ExposureTable{
					Factors: []string{"Value"},
					Tickers: []string{"AAA", "LOSS"},
					Loadings: map[string][]float64{
						"AAA":  {0.6},
						"LOSS": {0.2},
					},
				},
				r2: map[string]float64{"AAA": 0.9, "LOSS": 0.9},
			},
			Selector:  &stubSelector{eligible: []string{"AAA", "LOSS"}},
			Executor:  exec,
			Decisions: decisions.NewEngine(engine, config.DefaultTradingCostConfig()),
			Harvester: harvester,
		},
		zerolog.Nop(),
	)

	// Day 1 rebalances: GAIN is not in the target universe and gets sold at
	// a +500 realized gain; LOSS stays under-allocated and is topped up.
	s.OnDate(day(2024, 1, 5))
	require.NotEmpty(t, s.Trades())

	var dayOneGain float64
	for _, rec := range s.RealizedGains() {
		assert.False(t, rec.IsHarvest)
		dayOneGain += rec.RealizedGain
	}
	assert.InDelta(t, 500, dayOneGain, 1e-9)

	// Day 2 is not a rebalance date, but harvesting still fires: the year
	// now has gains to offset, and LOSS carries a -500 loss lot.
	s.OnDate(day(2024, 1, 6))

	var harvest *domain.RealizedGainRecord
	for i := range s.RealizedGains() {
		if s.RealizedGains()[i].IsHarvest {
			harvest = &s.RealizedGains()[i]
		}
	}
	require.NotNil(t, harvest)
	assert.Equal(t, "LOSS", harvest.Ticker)
	assert.InDelta(t, -500, harvest.RealizedGain, 1e-9)
	assert.InDelta(t, 0.27*500, harvest.TaxSaved, 1e-9)

	// The harvested ticker sits in the wash-sale window and cannot be
	// repurchased by the next rebalance.
	assert.True(t, harvester.IsWashSaleBlocked("LOSS", day(2024, 1, 6).AddDate(0, 0, 29)))
	assert.False(t, harvester.IsWashSaleBlocked("LOSS", day(2024, 1, 6).AddDate(0, 0, 30)))
}

func TestBorrowInsteadOfSellCappedByLeverageHeadroom(t *testing.T) {
	market := &stubMarket{
		prices:  map[string]float64{"TICK": 100, "OTHER": 100},
		tickers: []string{"TICK", "OTHER"},
	}
	exec := execution.New(market, zerolog.Nop())
	p := portfolio.New(0)
	// 100 shares at cost 10, now 100: value 10000 with a +9000 unrealized
	// gain, so selling it out of the portfolio triggers a large tax bill.
	p.AddPosition("TICK", portfolio.NewLot(100, 10, day(2023, 1, 10)))

	marginCfg := config.DefaultMarginConfig()
	marginCfg.Enabled = true
	marginCfg.MaxLeverage = 1.2

	engine := taxEngine()
	s := New(
		Config{TargetWeights: map[string]float64{"Value": 1.0}, LookbackDays: 60},
		Deps{
			Portfolio: p,
			Market:    market,
			Estimator: &stubEstimator{
				table: &domain.ExposureTable{
					Factors: []string{"Value"},
					Tickers: []string{"TICK", "OTHER"},
					Loadings: map[string][]float64{
						"TICK":  {1.0},
						"OTHER": {1.0},
					},
				},
				r2: map[string]float64{"TICK": 0.3, "OTHER": 0.3},
			},
			Selector:  &stubSelector{eligible: []string{"OTHER"}},
			Executor:  exec,
			Decisions: decisions.NewEngineWithMargin(engine, config.DefaultTradingCostConfig(), &marginCfg, margin.NewCostModel()),
			MarginCfg: &marginCfg,
			CostModel: margin.NewCostModel(),
		},
		zerolog.Nop(),
	)

	// TICK is screened out, so its full 10000 is overweight. Borrowing beats
	// the 2430 tax bill, but at 1.2x max leverage on 10000 equity only 2000
	// of headroom exists.
	s.OnDate(day(2024, 1, 5))

	var borrowed float64
	for _, trade := range s.Trades() {
		assert.NotEqual(t, domain.TradeTypeSell, trade.Type)
		if trade.Type == domain.TradeTypeBorrow {
			borrowed += trade.Amount
		}
	}
	assert.InDelta(t, 2000, borrowed, 1e-9)
	assert.InDelta(t, 2000, p.MarginBalance, 1e-9)
	assert.InDelta(t, 100, p.Position("TICK").TotalShares(), 1e-9)
	assert.InDelta(t, 20, p.Position("OTHER").TotalShares(), 1e-9)
	assert.InDelta(t, 1.2, p.LeverageRatio(market, day(2024, 1, 5)), 1e-9)
	assert.Empty(t, s.RealizedGains())
}

func TestBorrowInsteadOfSellSkippedWhenHeadroomExhausted(t *testing.T) {
	market := &stubMarket{
		prices:  map[string]float64{"TICK": 100, "OTHER": 100},
		tickers: []string{"TICK", "OTHER"},
	}
	exec := execution.New(market, zerolog.Nop())
	// The 2003 cash buffer keeps the facility a fraction under its cap after
	// the day's interest accrues: no forced deleveraging, but the residual
	// headroom (about 0.52) sits below the 1.0 borrow floor.
	p := portfolio.New(2003)
	p.AddPosition("TICK", portfolio.NewLot(100, 10, day(2023, 1, 10)))
	p.MarginBalance = 2000

	marginCfg := config.DefaultMarginConfig()
	marginCfg.Enabled = true
	marginCfg.MaxLeverage = 1.2

	engine := taxEngine()
	s := New(
		Config{TargetWeights: map[string]float64{"Value": 1.0}, LookbackDays: 60},
		Deps{
			Portfolio: p,
			Market:    market,
			Estimator: &stubEstimator{
				table: &domain.ExposureTable{
					Factors: []string{"Value"},
					Tickers: []string{"TICK", "OTHER"},
					Loadings: map[string][]float64{
						"TICK":  {1.0},
						"OTHER": {1.0},
					},
				},
				r2: map[string]float64{"TICK": 0.3, "OTHER": 0.3},
			},
			Selector:  &stubSelector{eligible: []string{"OTHER"}},
			Executor:  exec,
			Decisions: decisions.NewEngineWithMargin(engine, config.DefaultTradingCostConfig(), &marginCfg, margin.NewCostModel()),
			MarginCfg: &marginCfg,
			CostModel: margin.NewCostModel(),
		},
		zerolog.Nop(),
	)

	// Carrying still beats the tax bill, but with no headroom left the
	// overweight is neither sold nor financed: it just stays put.
	s.OnDate(day(2024, 1, 5))

	for _, trade := range s.Trades() {
		assert.Equal(t, domain.TradeTypeBuy, trade.Type)
	}
	assert.InDelta(t, 100, p.Position("TICK").TotalShares(), 1e-9)
	assert.InDelta(t, 2000, p.MarginBalance, 1e-9)
	assert.Empty(t, s.RealizedGains())
}

func TestScreenedOutHoldingExcludedFromSnapshot(t *testing.T) {
	market := &stubMarket{
		prices:  map[string]float64{"HELD": 100, "OTHER": 50},
		tickers: []string{"HELD", "OTHER"},
	}
	exec := execution.New(market, zerolog.Nop())
	p := portfolio.New(0)
	p.AddPosition("HELD", portfolio.NewLot(10, 100, day(2023, 6, 1)))

	s := New(
		Config{TargetWeights: map[string]float64{"Value": 1.0}, LookbackDays: 60},
		Deps{
			Portfolio: p,
			Market:    market,
			Estimator: &stubEstimator{
				table: &domain.ExposureTable{
					Factors: []string{"Value"},
					Tickers: []string{"HELD", "OTHER"},
					Loadings: map[string][]float64{
						"HELD":  {1.0},
						"OTHER": {0.2},
					},
				},
				r2: map[string]float64{"HELD": 0.9, "OTHER": 0.9},
			},
			Selector:  &stubSelector{eligible: []string{"OTHER"}},
			Executor:  exec,
			Decisions: decisions.NewEngine(taxEngine(), config.DefaultTradingCostConfig()),
		},
		zerolog.Nop(),
	)

	s.OnDate(day(2024, 1, 5))

	// HELD fails the universe screen, so despite its 1.0 loading the
	// portfolio exposure is zero and the full gap to the target remains.
	require.Len(t, s.ExposureHistory(), 1)
	snapshot := s.ExposureHistory()[0]
	require.Len(t, snapshot.Exposure, 1)
	assert.InDelta(t, 0, snapshot.Exposure[0], 1e-9)

	// The rebalance then rotates out of the screened holding.
	assert.Zero(t, p.Position("HELD").TotalShares())
	assert.InDelta(t, 20, p.Position("OTHER").TotalShares(), 1e-9)
}

func TestConvictionAveragesAllEstimatedTickers(t *testing.T) {
	market := &stubMarket{
		prices:  map[string]float64{"AAA": 100, "JUNK": 10},
		tickers: []string{"AAA", "JUNK"},
	}
	exec := execution.New(market, zerolog.Nop())
	p := portfolio.New(10000)

	marginCfg := config.DefaultMarginConfig()
	marginCfg.Enabled = true
	marginCfg.MaxLeverage = 1.5
	marginCfg.ConvictionThreshold = 0.6

	engine := taxEngine()
	s := New(
		Config{TargetWeights: map[string]float64{"Value": 1.0}, LookbackDays: 60},
		Deps{
			Portfolio: p,
			Market:    market,
			Estimator: &stubEstimator{
				table: &domain.ExposureTable{
					Factors: []string{"Value"},
					Tickers: []string{"AAA", "JUNK"},
					Loadings: map[string][]float64{
						"AAA":  {1.0},
						"JUNK": {0.5},
					},
				},
				r2: map[string]float64{"AAA": 0.9, "JUNK": 0.1},
			},
			Selector:  &stubSelector{eligible: []string{"AAA"}},
			Executor:  exec,
			Decisions: decisions.NewEngineWithMargin(engine, config.DefaultTradingCostConfig(), &marginCfg, margin.NewCostModel()),
			MarginCfg: &marginCfg,
			CostModel: margin.NewCostModel(),
		},
		zerolog.Nop(),
	)

	// Mean R² over the whole estimate set is (0.9 + 0.1) / 2 = 0.5, under
	// the 0.6 threshold even though the one eligible ticker fits at 0.9.
	s.OnDate(day(2024, 1, 5))

	for _, trade := range s.Trades() {
		assert.NotEqual(t, domain.TradeTypeBorrow, trade.Type)
	}
	assert.Zero(t, p.MarginBalance)
	assert.InDelta(t, 100, p.Position("AAA").TotalShares(), 1e-9)
}

func TestConvictionBorrowDrawsHeadroom(t *testing.T) {
	market := &stubMarket{
		prices:  map[string]float64{"AAA": 100},
		tickers: []string{"AAA"},
	}
	exec := execution.New(market, zerolog.Nop())
	p := portfolio.New(10000)

	marginCfg := config.DefaultMarginConfig()
	marginCfg.Enabled = true
	marginCfg.MaxLeverage = 1.5
	marginCfg.ConvictionThreshold = 0.5

	engine := taxEngine()
	s := New(
		Config{TargetWeights: map[string]float64{"Value": 1.0}, LookbackDays: 60},
		Deps{
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
			Decisions: decisions.NewEngineWithMargin(engine, config.DefaultTradingCostConfig(), &marginCfg, margin.NewCostModel()),
			MarginCfg: &marginCfg,
			CostModel: margin.NewCostModel(),
		},
		zerolog.Nop(),
	)

	// Empty portfolio against a 1.0 target: tracking error 1.0, conviction
	// 0.9, above the threshold. Headroom = 10000 * (1.5 - 1) = 5000.
	s.OnDate(day(2024, 1, 5))

	var borrowed float64
	for _, trade := range s.Trades() {
		if trade.Type == domain.TradeTypeBorrow {
			borrowed += trade.Amount
		}
	}
	assert.InDelta(t, 5000, borrowed, 1e-9)

	// The whole budget (cash plus borrowed) goes into the single eligible
	// ticker, and no spare cash remains to repay afterwards.
	assert.InDelta(t, 150, p.Position("AAA").TotalShares(), 1e-9)
	assert.True(t, math.Abs(p.Cash) < 1e-6)
	assert.InDelta(t, 5000, p.MarginBalance, 1e-9)
}
