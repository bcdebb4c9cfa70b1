// Package domain provides core domain models and types.
package domain

import "time"

// TradeType identifies the kind of ledger mutation recorded by the executor.
type TradeType string

const (
	TradeTypeBuy    TradeType = "buy"
	TradeTypeSell   TradeType = "sell"
	TradeTypeBorrow TradeType = "borrow"
	TradeTypeRepay  TradeType = "repay"
)

// LotMethod selects the lot-consumption order used when selling shares.
type LotMethod string

const (
	// LotMethodHIFO consumes lots with the highest cost basis first.
	LotMethodHIFO LotMethod = "HIFO"
	// LotMethodFIFO consumes the oldest lots first.
	LotMethodFIFO LotMethod = "FIFO"
)

// TradeRecord is one entry in the append-only trade log. The executor writes
// exactly one record per call, which keeps every ledger mutation auditable.
type TradeRecord struct {
	Date   time.Time `json:"date"`
	Type   TradeType `json:"type"`
	Ticker string    `json:"ticker,omitempty"` // empty for borrow/repay
	Shares float64   `json:"shares"`
	Price  float64   `json:"price"`
	Amount float64   `json:"amount"`
}

// RealizedGainRecord is one entry in the append-only realized-gains log.
type RealizedGainRecord struct {
	Date                time.Time `json:"date"`
	Ticker              string    `json:"ticker"`
	RealizedGain        float64   `json:"realized_gain"` // signed; negative for harvested losses
	Proceeds            float64   `json:"proceeds"`
	IsHarvest           bool      `json:"is_harvest,omitempty"`
	IsForcedLiquidation bool      `json:"is_forced_liquidation,omitempty"`
	TaxSaved            float64   `json:"tax_saved,omitempty"`
}

// ExposureSnapshot captures the portfolio's value-weighted factor exposure on
// a rebalance date. All estimated factors are recorded, managed or not.
type ExposureSnapshot struct {
	Date     time.Time `json:"date"`
	Exposure []float64 `json:"exposure"`
	Factors  []string  `json:"factors"`
}

// SellResult reports the outcome of consuming lots from a position.
// SharesSold may be less than requested when the position is exhausted.
type SellResult struct {
	SharesSold   float64
	Proceeds     float64
	RealizedGain float64 // signed
	LotsConsumed int
}

// ReturnsWindow is a date-aligned matrix of simple returns, one column per
// ticker in Tickers order.
type ReturnsWindow struct {
	Dates   []time.Time
	Tickers []string
	Data    [][]float64 // Data[i][j] = return of Tickers[j] on Dates[i]
}

// ExposureTable maps tickers to their factor loadings, in Factors order.
type ExposureTable struct {
	Factors  []string
	Tickers  []string // stable estimation order
	Loadings map[string][]float64
}

// Row returns the factor loadings for a ticker, or nil if absent.
func (t *ExposureTable) Row(ticker string) []float64 {
	if t == nil {
		return nil
	}
	return t.Loadings[ticker]
}

// Filter returns a copy of the table restricted to the given tickers,
// preserving their order.
func (t *ExposureTable) Filter(tickers []string) *ExposureTable {
	out := &ExposureTable{
		Factors:  t.Factors,
		Tickers:  make([]string, 0, len(tickers)),
		Loadings: make(map[string][]float64, len(tickers)),
	}
	for _, ticker := range tickers {
		row, ok := t.Loadings[ticker]
		if !ok {
			continue
		}
		out.Tickers = append(out.Tickers, ticker)
		out.Loadings[ticker] = row
	}
	return out
}
