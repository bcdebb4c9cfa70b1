package portfolio

import (
	"math"
	"time"

	"factorsim/internal/domain"
)

// Portfolio is the shared mutable ledger for one simulation run: cash,
// outstanding margin debt and the positions keyed by ticker. It is passed by
// reference to every collaborating component; only the executor mutates it.
//
// Tickers iterate in insertion order so that per-position policies (tax
// harvesting, rebalance sells) behave identically across runs.
type Portfolio struct {
	Cash          float64
	MarginBalance float64 // outstanding margin debt, never negative

	positions map[string]*Position
	order     []string
}

// New creates a portfolio holding only the initial cash.
func New(initialCash float64) *Portfolio {
	return &Portfolio{
		Cash:      initialCash,
		positions: make(map[string]*Position),
	}
}

// AddPosition appends a lot to the ticker's position, creating the position
// if it does not exist yet.
func (p *Portfolio) AddPosition(ticker string, lot *Lot) {
	pos, ok := p.positions[ticker]
	if !ok {
		pos = NewPosition(ticker)
		p.positions[ticker] = pos
		p.order = append(p.order, ticker)
	}
	pos.Lots = append(pos.Lots, lot)
}

// Position returns the position for a ticker, or nil if none exists. A
// position with zero lots is logically empty but remains keyed.
func (p *Portfolio) Position(ticker string) *Position {
	return p.positions[ticker]
}

// Tickers returns all position tickers in insertion order, including
// logically empty positions.
func (p *Portfolio) Tickers() []string {
	out := make([]string, len(p.order))
	copy(out, p.order)
	return out
}

// MarketValue is cash plus the value of all positions at the date's prices.
func (p *Portfolio) MarketValue(prices domain.PriceSource, date time.Time) float64 {
	value := p.Cash
	for _, ticker := range p.order {
		value += p.positions[ticker].TotalShares() * prices.GetPrice(ticker, date)
	}
	return value
}

// EquityValue is market value net of margin debt.
func (p *Portfolio) EquityValue(prices domain.PriceSource, date time.Time) float64 {
	return p.MarketValue(prices, date) - p.MarginBalance
}

// LeverageRatio is market value over equity. It is exactly 1.0 with no debt
// outstanding, and +Inf once equity is wiped out while debt remains.
func (p *Portfolio) LeverageRatio(prices domain.PriceSource, date time.Time) float64 {
	if p.MarginBalance <= 0 {
		return 1.0
	}
	equity := p.EquityValue(prices, date)
	if equity <= 0 {
		return math.Inf(1)
	}
	return (equity + p.MarginBalance) / equity
}
