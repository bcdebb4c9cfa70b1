package tax

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"factorsim/internal/config"
	"factorsim/internal/modules/execution"
	"factorsim/internal/modules/portfolio"
)

type stubPrices map[string]float64

func (s stubPrices) GetPrice(ticker string, _ time.Time) float64 { return s[ticker] }

func nov(d int) time.Time {
	return time.Date(2024, time.November, d, 0, 0, 0, 0, time.UTC)
}

func harvestSetup(t *testing.T, cfg config.TaxConfig, prices stubPrices) (*HarvestingEngine, *portfolio.Portfolio) {
	t.Helper()
	exec := execution.New(prices, zerolog.Nop())
	engine := NewEngine(cfg)
	h := NewHarvestingEngine(cfg, engine, exec, zerolog.Nop())
	return h, portfolio.New(10000)
}

func lossConfig() config.TaxConfig {
	cfg := config.DefaultTaxConfig()
	cfg.HarvestMonths = []int{11, 12}
	cfg.MinLossThreshold = 50
	cfg.WashSaleWaitingDays = 30
	return cfg
}

func TestHarvestGates(t *testing.T) {
	prices := stubPrices{"AAA": 50}

	t.Run("disabled", func(t *testing.T) {
		cfg := lossConfig()
		cfg.HarvestEnabled = false
		h, p := harvestSetup(t, cfg, prices)
		p.AddPosition("AAA", portfolio.NewLot(10, 100, nov(1)))
		assert.Empty(t, h.Harvest(p, prices, nov(15), 1000))
	})

	t.Run("wrong month", func(t *testing.T) {
		h, p := harvestSetup(t, lossConfig(), prices)
		p.AddPosition("AAA", portfolio.NewLot(10, 100, nov(1)))
		july := time.Date(2024, time.July, 15, 0, 0, 0, 0, time.UTC)
		assert.Empty(t, h.Harvest(p, prices, july, 1000))
	})

	t.Run("no gains to offset", func(t *testing.T) {
		h, p := harvestSetup(t, lossConfig(), prices)
		p.AddPosition("AAA", portfolio.NewLot(10, 100, nov(1)))
		assert.Empty(t, h.Harvest(p, prices, nov(15), 0))
		assert.Empty(t, h.Harvest(p, prices, nov(15), -100))
	})

	t.Run("loss below threshold", func(t *testing.T) {
		h, p := harvestSetup(t, lossConfig(), prices)
		// 10 shares, 4 under water each: only a 40 loss.
		p.AddPosition("AAA", portfolio.NewLot(10, 54, nov(1)))
		assert.Empty(t, h.Harvest(p, prices, nov(15), 1000))
	})
}

func TestHarvestTargetsRemainingGains(t *testing.T) {
	prices := stubPrices{"AAA": 50}
	h, p := harvestSetup(t, lossConfig(), prices)
	// 10 shares at 100, now 50: 500 available loss, but only 300 of YTD
	// gains to offset.
	p.AddPosition("AAA", portfolio.NewLot(10, 100, nov(1)))

	records := h.Harvest(p, prices, nov(15), 300)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, "AAA", rec.Ticker)
	assert.InDelta(t, 6, rec.SharesSold, 1e-9)
	assert.InDelta(t, 300, rec.RealizedLoss, 1e-9)
	assert.InDelta(t, 300, rec.Proceeds, 1e-9)
	// Offsetting 300 of gains in the 27% bracket.
	assert.InDelta(t, 81, rec.TaxSaved, 1e-9)

	assert.InDelta(t, 4, p.Position("AAA").TotalShares(), 1e-9)
}

func TestHarvestRespectsAnnualCap(t *testing.T) {
	prices := stubPrices{"AAA": 50}
	cfg := lossConfig()
	cfg.MaxHarvestPerYear = 200
	h, p := harvestSetup(t, cfg, prices)
	p.AddPosition("AAA", portfolio.NewLot(10, 100, nov(1)))

	records := h.Harvest(p, prices, nov(15), 1000)
	require.Len(t, records, 1)
	assert.InDelta(t, 200, records[0].RealizedLoss, 1e-9)

	// The cap is exhausted for the rest of the year, even on a later
	// eligible day outside the wash-sale window.
	assert.Empty(t, h.Harvest(p, prices, nov(15).AddDate(0, 0, 31), 1000))

	// A new simulated year resets the counter.
	records = h.Harvest(p, prices, nov(15).AddDate(1, 0, 0), 1000)
	require.Len(t, records, 1)
}

func TestHarvestWashSaleWindow(t *testing.T) {
	prices := stubPrices{"AAA": 50}
	h, p := harvestSetup(t, lossConfig(), prices)
	p.AddPosition("AAA", portfolio.NewLot(20, 100, nov(1)))

	records := h.Harvest(p, prices, nov(1), 300)
	require.Len(t, records, 1)

	// Blocked through day D+29, unblocked on D+30 exactly.
	assert.True(t, h.IsWashSaleBlocked("AAA", nov(1).AddDate(0, 0, 29)))
	assert.False(t, h.IsWashSaleBlocked("AAA", nov(1).AddDate(0, 0, 30)))
	assert.False(t, h.IsWashSaleBlocked("BBB", nov(2)))

	// While blocked, the same position is skipped despite remaining losses.
	assert.Empty(t, h.Harvest(p, prices, nov(10), 300))
}

func TestSharesForTargetLossSkipsGainLots(t *testing.T) {
	// HIFO order visits the 200-cost lot (at a loss) before the 100-cost
	// lot (at a gain); the gain lot contributes nothing to the count.
	pos := portfolio.NewPosition("AAA")
	pos.Lots = append(pos.Lots,
		portfolio.NewLot(5, 100, nov(1)),
		portfolio.NewLot(5, 200, nov(2)),
	)

	shares := sharesForTargetLoss(pos, 120, 400)
	assert.InDelta(t, 5, shares, 1e-9)
}

func TestHarvestStopsOnceGainsOffset(t *testing.T) {
	prices := stubPrices{"AAA": 50, "BBB": 50}
	h, p := harvestSetup(t, lossConfig(), prices)
	p.AddPosition("AAA", portfolio.NewLot(10, 100, nov(1))) // 500 loss available
	p.AddPosition("BBB", portfolio.NewLot(10, 100, nov(1))) // 500 loss available

	records := h.Harvest(p, prices, nov(15), 400)
	require.Len(t, records, 1)
	assert.Equal(t, "AAA", records[0].Ticker)
	assert.InDelta(t, 400, records[0].RealizedLoss, 1e-9)

	// BBB is untouched: the year's gains were fully offset by AAA.
	assert.InDelta(t, 10, p.Position("BBB").TotalShares(), 1e-9)
}
