// Package strategy implements the daily state machine that ties the ledger,
// tax, margin and optimization components together. One OnDate call fully
// processes one simulated trading date; later steps within a date depend on
// ledger mutations made by earlier steps, so there is no parallelism.
package strategy

import (
	"math"
	"time"

	"github.com/rs/zerolog"

	"factorsim/internal/config"
	"factorsim/internal/domain"
	"factorsim/internal/modules/decisions"
	"factorsim/internal/modules/execution"
	"factorsim/internal/modules/margin"
	"factorsim/internal/modules/marketdata"
	"factorsim/internal/modules/optimization"
	"factorsim/internal/modules/portfolio"
	"factorsim/internal/modules/tax"
)

const buyEpsilon = 1e-6

// Config holds the orchestrator's own parameters. TargetWeights maps factor
// names to target exposures; factors estimated by the model but absent from
// the target are recorded for observability and excluded from the tracking
// error.
type Config struct {
	TargetWeights      map[string]float64
	LookbackDays       int
	RebalanceFrequency string // "M" (month), "Q" (quarter) or "W" (ISO week)
	LotMethod          domain.LotMethod
}

// Deps wires the collaborators for one simulation run. Optimizer, Harvester
// and MarginCfg are optional capability slots: the orchestrator's behavior is
// a strict superset when they are present.
type Deps struct {
	Portfolio *portfolio.Portfolio
	Market    domain.MarketData
	Estimator domain.ExposureEstimator
	Selector  domain.UniverseSelector
	Executor  *execution.Executor
	Decisions *decisions.Engine

	Optimizer *optimization.ReplicationOptimizer
	Harvester *tax.HarvestingEngine
	MarginCfg *config.MarginConfig
	CostModel *margin.CostModel
}

// Strategy is the per-day orchestrator. It owns the run's history logs and
// the last-rebalance marker; all ledger mutation goes through the executor.
type Strategy struct {
	cfg  Config
	deps Deps

	lastRebalanceDate time.Time
	totalInterestPaid float64
	realizedGains     []domain.RealizedGainRecord
	exposureHistory   []domain.ExposureSnapshot

	log zerolog.Logger
}

// New creates a strategy for one simulation run.
func New(cfg Config, deps Deps, log zerolog.Logger) *Strategy {
	if cfg.LotMethod == "" {
		cfg.LotMethod = domain.LotMethodHIFO
	}
	if cfg.RebalanceFrequency == "" {
		cfg.RebalanceFrequency = "M"
	}
	return &Strategy{
		cfg:  cfg,
		deps: deps,
		log:  log.With().Str("service", "strategy").Logger(),
	}
}

// OnDate processes one simulated trading date: margin accrual and forced
// deleveraging, tax-loss harvesting, then the rebalance pipeline when the
// calendar period has rolled over.
func (s *Strategy) OnDate(date time.Time) {
	s.accrueMargin(date)
	s.runHarvest(date)

	if !s.isRebalanceDate(date) {
		return
	}
	s.rebalancePipeline(date)
}

// RealizedGains returns the append-only realized-gains log.
func (s *Strategy) RealizedGains() []domain.RealizedGainRecord {
	return s.realizedGains
}

// ExposureHistory returns one snapshot per rebalance attempt.
func (s *Strategy) ExposureHistory() []domain.ExposureSnapshot {
	return s.exposureHistory
}

// Trades returns the executor's trade log.
func (s *Strategy) Trades() []domain.TradeRecord {
	return s.deps.Executor.Trades()
}

// TotalInterestPaid returns cumulative margin interest debited so far.
func (s *Strategy) TotalInterestPaid() float64 {
	return s.totalInterestPaid
}

// Portfolio returns the live ledger for valuation and reporting.
func (s *Strategy) Portfolio() *portfolio.Portfolio {
	return s.deps.Portfolio
}

func (s *Strategy) marginEnabled() bool {
	return s.deps.MarginCfg != nil && s.deps.MarginCfg.Enabled
}

func (s *Strategy) accrueMargin(date time.Time) {
	if !s.marginEnabled() || s.deps.Portfolio.MarginBalance <= 0 {
		return
	}
	interest := s.deps.CostModel.DailyInterest(s.deps.Portfolio.MarginBalance, s.deps.MarginCfg.AnnualRate)
	s.deps.Executor.AccrueInterest(s.deps.Portfolio, interest)
	s.totalInterestPaid += interest

	if s.deps.Portfolio.LeverageRatio(s.deps.Market, date) > s.deps.MarginCfg.MaxLeverage {
		s.forcedLiquidation(date)
	}
}

// forcedLiquidation sells down positions until leverage is back under the
// cap, smallest position first since it is the cheapest to unwind. All
// proceeds go straight to debt repayment.
func (s *Strategy) forcedLiquidation(date time.Time) {
	p := s.deps.Portfolio
	for p.MarginBalance > 0 && p.LeverageRatio(s.deps.Market, date) > s.deps.MarginCfg.MaxLeverage {
		ticker, value := s.smallestPosition(date)
		if ticker == "" || value <= 0 {
			return
		}
		pos := p.Position(ticker)
		result := s.deps.Executor.Sell(p, ticker, pos.TotalShares(), date, s.cfg.LotMethod)
		s.realizedGains = append(s.realizedGains, domain.RealizedGainRecord{
			Date:                date,
			Ticker:              ticker,
			RealizedGain:        result.RealizedGain,
			Proceeds:            result.Proceeds,
			IsForcedLiquidation: true,
		})
		repaid := s.deps.Executor.Repay(p, result.Proceeds, date)
		s.log.Warn().
			Str("ticker", ticker).
			Float64("proceeds", result.Proceeds).
			Float64("repaid", repaid).
			Float64("leverage", p.LeverageRatio(s.deps.Market, date)).
			Msg("Forced liquidation")
	}
}

func (s *Strategy) smallestPosition(date time.Time) (string, float64) {
	var best string
	bestValue := math.Inf(1)
	for _, ticker := range s.deps.Portfolio.Tickers() {
		pos := s.deps.Portfolio.Position(ticker)
		value := pos.TotalShares() * s.deps.Market.GetPrice(ticker, date)
		if value > 0 && value < bestValue {
			best, bestValue = ticker, value
		}
	}
	if best == "" {
		return "", 0
	}
	return best, bestValue
}

// runHarvest invokes the harvesting engine every day it is configured,
// independent of the rebalance gate.
func (s *Strategy) runHarvest(date time.Time) {
	if s.deps.Harvester == nil {
		return
	}
	ytd := s.realizedGainsYTD(date.Year())
	for _, rec := range s.deps.Harvester.Harvest(s.deps.Portfolio, s.deps.Market, date, ytd) {
		s.realizedGains = append(s.realizedGains, domain.RealizedGainRecord{
			Date:         rec.Date,
			Ticker:       rec.Ticker,
			RealizedGain: -rec.RealizedLoss,
			Proceeds:     rec.Proceeds,
			IsHarvest:    true,
			TaxSaved:     rec.TaxSaved,
		})
	}
}

func (s *Strategy) realizedGainsYTD(year int) float64 {
	var total float64
	for _, rec := range s.realizedGains {
		if rec.Date.Year() == year {
			total += rec.RealizedGain
		}
	}
	return total
}

// isRebalanceDate reports whether the configured calendar period has changed
// since the last executed rebalance. The first call is always a rebalance
// date.
func (s *Strategy) isRebalanceDate(date time.Time) bool {
	if s.lastRebalanceDate.IsZero() {
		return true
	}
	last := s.lastRebalanceDate
	switch s.cfg.RebalanceFrequency {
	case "W":
		ly, lw := last.ISOWeek()
		y, w := date.ISOWeek()
		return ly != y || lw != w
	case "Q":
		return last.Year() != date.Year() || quarter(last) != quarter(date)
	default: // "M"
		return last.Year() != date.Year() || last.Month() != date.Month()
	}
}

func quarter(t time.Time) int {
	return (int(t.Month())-1)/3 + 1
}

func (s *Strategy) rebalancePipeline(date time.Time) {
	start := date.AddDate(0, 0, -s.cfg.LookbackDays)
	window := s.deps.Market.GetReturns(s.deps.Market.AllTickers(), start, date)

	exposures, r2, err := s.deps.Estimator.EstimateExposures(window)
	if err != nil || len(exposures.Tickers) == 0 {
		s.log.Warn().Err(err).Time("date", date).Msg("Exposure estimation failed, rebalance skipped")
		return
	}

	vols := marketdata.AnnualizedVolatility(window)
	eligible := s.deps.Selector.Select(exposures, r2, vols)
	if len(eligible) == 0 {
		s.log.Info().Time("date", date).Msg("No eligible tickers, rebalance skipped")
		return
	}

	// Everything downstream sees the screened universe only: a held ticker
	// that failed the screen contributes nothing to the snapshot or the
	// tracking error.
	exposures = exposures.Filter(eligible)

	portfolioExposure := s.portfolioExposure(exposures, date)
	s.exposureHistory = append(s.exposureHistory, domain.ExposureSnapshot{
		Date:     date,
		Exposure: portfolioExposure,
		Factors:  exposures.Factors,
	})

	trackingError := s.trackingError(exposures.Factors, portfolioExposure)
	portfolioValue := s.deps.Portfolio.MarketValue(s.deps.Market, date)
	unrealized := s.totalUnrealized(date)
	expectedImprovement := trackingError * portfolioValue

	if !s.deps.Decisions.ShouldRebalance(trackingError, unrealized, expectedImprovement, portfolioValue) {
		s.log.Debug().
			Time("date", date).
			Float64("tracking_error", trackingError).
			Msg("Rebalance rejected by decision gate")
		return
	}

	if s.marginEnabled() {
		s.convictionBorrow(date, r2, trackingError)
	}

	s.rebalance(date, eligible, exposures)
	s.lastRebalanceDate = date

	if s.marginEnabled() && s.deps.Portfolio.MarginBalance > 0 {
		s.deps.Executor.Repay(s.deps.Portfolio, s.deps.Portfolio.MarginBalance, date)
	}
}

// portfolioExposure is the value-weighted sum of held positions' loadings
// across all estimated factors. An empty portfolio has zero exposure.
func (s *Strategy) portfolioExposure(exposures *domain.ExposureTable, date time.Time) []float64 {
	result := make([]float64, len(exposures.Factors))

	var total float64
	values := make(map[string]float64)
	for _, ticker := range s.deps.Portfolio.Tickers() {
		if exposures.Row(ticker) == nil {
			continue
		}
		value := s.deps.Portfolio.Position(ticker).TotalShares() * s.deps.Market.GetPrice(ticker, date)
		if value > 0 {
			values[ticker] = value
			total += value
		}
	}
	if total <= 0 {
		return result
	}
	for ticker, value := range values {
		row := exposures.Row(ticker)
		w := value / total
		for i := range result {
			result[i] += w * row[i]
		}
	}
	return result
}

// trackingError is the Euclidean distance between portfolio and target
// exposure, over the managed factors only. Including factors absent from the
// target would add a permanent component the optimizer cannot close.
func (s *Strategy) trackingError(factorNames []string, portfolioExposure []float64) float64 {
	var sum float64
	for i, name := range factorNames {
		target, managed := s.cfg.TargetWeights[name]
		if !managed {
			continue
		}
		d := portfolioExposure[i] - target
		sum += d * d
	}
	return math.Sqrt(sum)
}

func (s *Strategy) totalUnrealized(date time.Time) float64 {
	var total float64
	for _, ticker := range s.deps.Portfolio.Tickers() {
		pos := s.deps.Portfolio.Position(ticker)
		total += pos.UnrealizedPL(s.deps.Market.GetPrice(ticker, date))
	}
	return total
}

// convictionBorrow draws down leverage headroom ahead of a rebalance when
// the model fit and the exposure gap together clear the conviction threshold.
// Conviction uses the mean R² of every estimated ticker, screened or not:
// it measures how well the factor model explains the market as a whole.
func (s *Strategy) convictionBorrow(date time.Time, r2 map[string]float64, trackingError float64) {
	if len(r2) == 0 {
		return
	}
	var sum float64
	for _, v := range r2 {
		sum += v
	}
	conviction := (sum / float64(len(r2))) * math.Min(trackingError, 1)
	if conviction < s.deps.MarginCfg.ConvictionThreshold {
		return
	}

	equity := s.deps.Portfolio.EquityValue(s.deps.Market, date)
	headroom := equity*(s.deps.MarginCfg.MaxLeverage-1) - s.deps.Portfolio.MarginBalance
	if headroom > 1.0 {
		s.deps.Executor.Borrow(s.deps.Portfolio, headroom, date)
		s.log.Info().
			Float64("conviction", conviction).
			Float64("borrowed", headroom).
			Msg("High-conviction leverage drawdown")
	}
}

// rebalance moves the ledger toward the optimizer's currency allocations,
// selling overweights first (or borrowing instead when cheaper than the tax
// bill) and then buying underweights from available cash.
func (s *Strategy) rebalance(date time.Time, eligible []string, exposures *domain.ExposureTable) {
	p := s.deps.Portfolio
	budget := p.MarketValue(s.deps.Market, date)
	allocations := s.targetAllocations(eligible, exposures, budget)

	for _, ticker := range p.Tickers() {
		pos := p.Position(ticker)
		price := s.deps.Market.GetPrice(ticker, date)
		if price <= 0 {
			continue
		}
		current := pos.TotalShares() * price
		target := allocations[ticker]
		if current <= target+buyEpsilon {
			continue
		}
		excess := current - target

		if s.marginEnabled() && s.deps.Decisions.ShouldBorrowInsteadOfSell(pos.UnrealizedPL(price), excess, s.deps.MarginCfg.ExpectedHoldDays) {
			// Borrowing instead of selling must stay within the leverage cap.
			// When the remaining headroom is negligible, do neither: the
			// taxable sale was already judged more expensive than carrying.
			equity := p.EquityValue(s.deps.Market, date)
			headroom := equity*(s.deps.MarginCfg.MaxLeverage-1) - p.MarginBalance
			amount := math.Min(excess, math.Max(headroom, 0))
			if amount > 1.0 {
				s.deps.Executor.Borrow(p, amount, date)
			}
			continue
		}

		result := s.deps.Executor.Sell(p, ticker, excess/price, date, s.cfg.LotMethod)
		s.realizedGains = append(s.realizedGains, domain.RealizedGainRecord{
			Date:         date,
			Ticker:       ticker,
			RealizedGain: result.RealizedGain,
			Proceeds:     result.Proceeds,
		})
	}

	for _, ticker := range eligible {
		target := allocations[ticker]
		if target <= 0 {
			continue
		}
		if s.deps.Harvester != nil && s.deps.Harvester.IsWashSaleBlocked(ticker, date) {
			s.log.Debug().Str("ticker", ticker).Msg("Buy skipped, wash-sale window")
			continue
		}
		price := s.deps.Market.GetPrice(ticker, date)
		if price <= 0 {
			continue
		}
		var current float64
		if pos := p.Position(ticker); pos != nil {
			current = pos.TotalShares() * price
		}
		shortfall := target - current
		if shortfall <= buyEpsilon {
			continue
		}
		amount := math.Min(shortfall, p.Cash)
		if amount > buyEpsilon {
			s.deps.Executor.Buy(p, ticker, amount, date)
		}
	}
}

// targetAllocations runs the replication optimizer against the eligible
// universe, falling back to equal weight when it reports no solution.
func (s *Strategy) targetAllocations(eligible []string, exposures *domain.ExposureTable, budget float64) map[string]float64 {
	if s.deps.Optimizer != nil {
		if allocations, ok := s.deps.Optimizer.Allocate(exposures.Tickers, exposures.Factors, exposures.Loadings, s.cfg.TargetWeights, budget); ok {
			return allocations
		}
		s.log.Warn().Msg("Optimizer returned no solution, falling back to equal weight")
	}
	allocations := make(map[string]float64, len(eligible))
	for _, ticker := range eligible {
		allocations[ticker] = budget / float64(len(eligible))
	}
	return allocations
}
