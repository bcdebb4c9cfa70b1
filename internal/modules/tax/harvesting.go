package tax

import (
	"sort"
	"time"

	"github.com/rs/zerolog"

	"factorsim/internal/config"
	"factorsim/internal/domain"
	"factorsim/internal/modules/portfolio"
)

const sharesEpsilon = 1e-12

// HarvestRecord reports one executed harvest sale.
type HarvestRecord struct {
	Date         time.Time
	Ticker       string
	SharesSold   float64
	Proceeds     float64
	RealizedLoss float64 // positive magnitude
	TaxSaved     float64
}

// sellExecutor is the slice of the executor the harvester needs.
type sellExecutor interface {
	Sell(p *portfolio.Portfolio, ticker string, shares float64, date time.Time, method domain.LotMethod) domain.SellResult
}

// HarvestingEngine proactively realizes losses to offset capital gains,
// reducing net tax owed under the configured progressive bracket schedule.
//
// It owns two pieces of state scoped to one simulation run: the amount
// harvested in the current simulated year (reset when the year changes, never
// from wall-clock time) and the wash-sale registry of tickers sold at a loss.
type HarvestingEngine struct {
	cfg       config.TaxConfig
	taxEngine *Engine
	executor  sellExecutor

	harvestedThisYear float64
	currentYear       int
	washSaleRegistry  map[string]time.Time // ticker -> date of last harvest sale

	log zerolog.Logger
}

// NewHarvestingEngine creates a harvesting engine bound to one simulation run.
func NewHarvestingEngine(cfg config.TaxConfig, taxEngine *Engine, executor sellExecutor, log zerolog.Logger) *HarvestingEngine {
	return &HarvestingEngine{
		cfg:              cfg,
		taxEngine:        taxEngine,
		executor:         executor,
		washSaleRegistry: make(map[string]time.Time),
		log:              log.With().Str("service", "tax_harvesting").Logger(),
	}
}

// Harvest scans all positions for harvestable losses and executes sells.
//
// Gates applied in order:
//  1. harvesting enabled
//  2. current month in the eligible set
//  3. realizedGainsYTD > 0 (nothing to offset otherwise)
//  4. per position: shares above epsilon, not wash-sale-blocked, and net
//     unrealized loss of at least the minimum threshold
//
// Positions are visited in the portfolio's stable ticker order. Harvesting
// stops early once year-to-date gains are fully offset or the annual cap is
// reached.
func (h *HarvestingEngine) Harvest(p *portfolio.Portfolio, prices domain.PriceSource, date time.Time, realizedGainsYTD float64) []HarvestRecord {
	h.resetAnnualIfNeeded(date)

	if !h.cfg.HarvestEnabled {
		return nil
	}
	if !h.monthEligible(date.Month()) {
		return nil
	}
	if realizedGainsYTD <= 0 {
		return nil
	}

	var records []HarvestRecord
	remainingGains := realizedGainsYTD

	for _, ticker := range p.Tickers() {
		if remainingGains <= 0 {
			break
		}
		annualRoom := h.cfg.MaxHarvestPerYear - h.harvestedThisYear
		if annualRoom <= 0 {
			break
		}

		position := p.Position(ticker)
		if position.TotalShares() < sharesEpsilon {
			continue
		}
		if h.IsWashSaleBlocked(ticker, date) {
			continue
		}

		currentPrice := prices.GetPrice(ticker, date)
		totalPnL := position.UnrealizedPL(currentPrice)
		if totalPnL >= -h.cfg.MinLossThreshold {
			continue // position not in sufficient loss
		}

		availableLoss := -totalPnL
		lossToHarvest := min3(availableLoss, remainingGains, annualRoom)
		if lossToHarvest < h.cfg.MinLossThreshold {
			continue
		}

		sharesToSell := sharesForTargetLoss(position, currentPrice, lossToHarvest)
		if sharesToSell < 1e-9 {
			continue
		}

		result := h.executor.Sell(p, ticker, sharesToSell, date, domain.LotMethodHIFO)

		realizedLoss := result.RealizedGain
		if realizedLoss < 0 {
			realizedLoss = -realizedLoss
		}
		taxSaved := h.taxSaved(realizedLoss, remainingGains)

		h.washSaleRegistry[ticker] = date
		h.harvestedThisYear += realizedLoss
		remainingGains -= realizedLoss
		if remainingGains < 0 {
			remainingGains = 0
		}

		h.log.Debug().
			Str("ticker", ticker).
			Float64("shares_sold", result.SharesSold).
			Float64("realized_loss", realizedLoss).
			Float64("tax_saved", taxSaved).
			Msg("Harvested loss")

		records = append(records, HarvestRecord{
			Date:         date,
			Ticker:       ticker,
			SharesSold:   result.SharesSold,
			Proceeds:     result.Proceeds,
			RealizedLoss: realizedLoss,
			TaxSaved:     taxSaved,
		})
	}

	return records
}

// IsWashSaleBlocked reports whether the ticker was harvested within the
// waiting window ending on date.
func (h *HarvestingEngine) IsWashSaleBlocked(ticker string, date time.Time) bool {
	last, ok := h.washSaleRegistry[ticker]
	if !ok {
		return false
	}
	daysSince := int(date.Sub(last).Hours() / 24)
	return daysSince < h.cfg.WashSaleWaitingDays
}

func (h *HarvestingEngine) resetAnnualIfNeeded(date time.Time) {
	if h.currentYear != date.Year() {
		h.harvestedThisYear = 0
		h.currentYear = date.Year()
	}
}

func (h *HarvestingEngine) monthEligible(month time.Month) bool {
	for _, m := range h.cfg.HarvestMonths {
		if time.Month(m) == month {
			return true
		}
	}
	return false
}

// taxSaved is the tax reduction from offsetting realizedLoss against the
// year-to-date gains.
func (h *HarvestingEngine) taxSaved(realizedLoss, realizedGainsYTD float64) float64 {
	before := h.taxEngine.TaxDue(realizedGainsYTD)
	after := h.taxEngine.TaxDue(realizedGainsYTD - realizedLoss)
	return before - after
}

// sharesForTargetLoss computes the minimum shares to sell, in HIFO order, to
// realize targetLoss (positive magnitude). Lots currently at a gain are
// skipped when accumulating the target; an actual HIFO sell will still
// consume them in sequence. This loss-targeting walk can under-harvest when
// gain and loss lots interleave, which is deliberate.
func sharesForTargetLoss(position *portfolio.Position, currentPrice, targetLoss float64) float64 {
	hifo := make([]*portfolio.Lot, len(position.Lots))
	copy(hifo, position.Lots)
	sort.SliceStable(hifo, func(i, j int) bool {
		return hifo[i].CostBasis > hifo[j].CostBasis
	})

	var sharesToSell float64
	remainingNeeded := targetLoss

	for _, lot := range hifo {
		lossPerShare := lot.CostBasis - currentPrice
		if lossPerShare <= 0 {
			continue
		}
		lotTotalLoss := lossPerShare * lot.Shares
		if lotTotalLoss >= remainingNeeded {
			sharesToSell += remainingNeeded / lossPerShare
			break
		}
		sharesToSell += lot.Shares
		remainingNeeded -= lotTotalLoss
	}

	return sharesToSell
}

func min3(a, b, c float64) float64 {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
