// Package backtest drives the daily simulation loop and computes performance
// statistics over the resulting equity curve.
package backtest

import (
	"time"

	"github.com/rs/zerolog"

	"factorsim/internal/domain"
	"factorsim/internal/modules/strategy"
)

// Result is the output of one simulation run: the daily equity curve plus
// read-only views of the strategy's history logs.
type Result struct {
	Dates  []time.Time
	Values []float64 // equity value at each date's close

	Trades          []domain.TradeRecord
	RealizedGains   []domain.RealizedGainRecord
	ExposureHistory []domain.ExposureSnapshot
	InterestPaid    float64
}

// Engine replays trading dates through a strategy, strictly sequentially.
// Each date is fully processed before the next begins.
type Engine struct {
	strategy *strategy.Strategy
	market   domain.MarketData

	log zerolog.Logger
}

// NewEngine creates a backtest engine for one strategy run.
func NewEngine(s *strategy.Strategy, market domain.MarketData, log zerolog.Logger) *Engine {
	return &Engine{
		strategy: s,
		market:   market,
		log:      log.With().Str("service", "backtest").Logger(),
	}
}

// Run replays every trading date in [start, end] and records the equity
// value after each day's processing.
func (e *Engine) Run(dates []time.Time, start, end time.Time) *Result {
	result := &Result{}
	for _, date := range dates {
		if date.Before(start) || date.After(end) {
			continue
		}
		e.strategy.OnDate(date)
		result.Dates = append(result.Dates, date)
		result.Values = append(result.Values, e.strategy.Portfolio().EquityValue(e.market, date))
	}

	result.Trades = e.strategy.Trades()
	result.RealizedGains = e.strategy.RealizedGains()
	result.ExposureHistory = e.strategy.ExposureHistory()
	result.InterestPaid = e.strategy.TotalInterestPaid()

	e.log.Info().
		Int("days", len(result.Dates)).
		Int("trades", len(result.Trades)).
		Float64("final_equity", result.FinalValue()).
		Msg("Backtest complete")
	return result
}

// FinalValue returns the last equity value, or 0 for an empty run.
func (r *Result) FinalValue() float64 {
	if len(r.Values) == 0 {
		return 0
	}
	return r.Values[len(r.Values)-1]
}

// Returns computes the daily simple returns of the equity curve. Days where
// the prior value is zero or negative yield 0.
func (r *Result) Returns() []float64 {
	if len(r.Values) < 2 {
		return nil
	}
	out := make([]float64, len(r.Values)-1)
	for i := 1; i < len(r.Values); i++ {
		if r.Values[i-1] > 0 {
			out[i-1] = r.Values[i]/r.Values[i-1] - 1
		}
	}
	return out
}
