// Package execution implements the executor, the only component permitted to
// mutate the portfolio ledger. Every call appends one record to the trade
// log, which keeps all mutation auditable.
package execution

import (
	"time"

	"github.com/rs/zerolog"

	"factorsim/internal/domain"
	"factorsim/internal/modules/portfolio"
)

// Executor converts trade intents into ledger mutations at market prices.
type Executor struct {
	prices domain.PriceSource
	trades []domain.TradeRecord

	log zerolog.Logger
}

// New creates an executor pricing trades from the given source.
func New(prices domain.PriceSource, log zerolog.Logger) *Executor {
	return &Executor{
		prices: prices,
		log:    log.With().Str("service", "execution").Logger(),
	}
}

// Trades returns the append-only trade log.
func (e *Executor) Trades() []domain.TradeRecord {
	return e.trades
}

// Buy converts cashAmount into shares at the date's price, creating a new
// lot. Cash is decremented by the full amount.
func (e *Executor) Buy(p *portfolio.Portfolio, ticker string, cashAmount float64, date time.Time) {
	price := e.prices.GetPrice(ticker, date)
	if price <= 0 {
		e.log.Warn().Str("ticker", ticker).Time("date", date).Msg("No price, buy skipped")
		return
	}
	shares := cashAmount / price
	p.Cash -= cashAmount
	p.AddPosition(ticker, portfolio.NewLot(shares, price, date))
	e.trades = append(e.trades, domain.TradeRecord{
		Type: domain.TradeTypeBuy, Date: date, Ticker: ticker,
		Shares: shares, Price: price, Amount: cashAmount,
	})
}

// Sell consumes lots from the ticker's position and credits the proceeds to
// cash. A request for more shares than held sells only what exists; the
// shortfall shows up as SharesSold < requested.
func (e *Executor) Sell(p *portfolio.Portfolio, ticker string, shares float64, date time.Time, method domain.LotMethod) domain.SellResult {
	pos := p.Position(ticker)
	if pos == nil {
		return domain.SellResult{}
	}
	price := e.prices.GetPrice(ticker, date)
	result := pos.SellShares(shares, price, method)
	p.Cash += result.Proceeds
	e.trades = append(e.trades, domain.TradeRecord{
		Type: domain.TradeTypeSell, Date: date, Ticker: ticker,
		Shares: result.SharesSold, Price: price, Amount: result.Proceeds,
	})
	return result
}

// AccrueInterest debits daily margin interest from cash. Interest is a
// financing charge, not a trade, so it is not logged.
func (e *Executor) AccrueInterest(p *portfolio.Portfolio, amount float64) {
	p.Cash -= amount
}

// Borrow draws down amount from the margin facility: cash and debt increase
// equally.
func (e *Executor) Borrow(p *portfolio.Portfolio, amount float64, date time.Time) {
	p.Cash += amount
	p.MarginBalance += amount
	e.log.Debug().Float64("amount", amount).Float64("margin_balance", p.MarginBalance).Msg("Borrowed on margin")
	e.trades = append(e.trades, domain.TradeRecord{
		Type: domain.TradeTypeBorrow, Date: date, Amount: amount,
	})
}

// Repay reduces margin debt from available cash. It never drives cash
// negative nor over-repays: the amount actually repaid is
// min(amount, debt, max(cash, 0)), returned to the caller (0 if cash is
// already negative).
func (e *Executor) Repay(p *portfolio.Portfolio, amount float64, date time.Time) float64 {
	repayable := amount
	if p.MarginBalance < repayable {
		repayable = p.MarginBalance
	}
	cash := p.Cash
	if cash < 0 {
		cash = 0
	}
	if cash < repayable {
		repayable = cash
	}
	if repayable < 1e-9 {
		return 0
	}
	p.Cash -= repayable
	p.MarginBalance -= repayable
	e.trades = append(e.trades, domain.TradeRecord{
		Type: domain.TradeTypeRepay, Date: date, Amount: repayable,
	})
	return repayable
}
