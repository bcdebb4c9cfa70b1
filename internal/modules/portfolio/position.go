package portfolio

import (
	"sort"

	"factorsim/internal/domain"
)

// Position holds all lots of a single ticker. Lots keep their insertion
// order; sorting for a sell works on a copy of the slice headers so that
// equal cost bases resolve by insertion order (stable sort), keeping sell
// results deterministic.
type Position struct {
	Ticker string
	Lots   []*Lot
}

// NewPosition creates an empty position for a ticker.
func NewPosition(ticker string) *Position {
	return &Position{Ticker: ticker}
}

// TotalShares returns the sum of shares across all lots.
func (p *Position) TotalShares() float64 {
	var total float64
	for _, lot := range p.Lots {
		total += lot.Shares
	}
	return total
}

// UnrealizedPL returns the signed profit or loss of the position at the
// given price.
func (p *Position) UnrealizedPL(price float64) float64 {
	var pnl float64
	for _, lot := range p.Lots {
		pnl += (price - lot.CostBasis) * lot.Shares
	}
	return pnl
}

// SellShares consumes lots front-to-back in the order given by method until
// the requested share count is met or the lots are exhausted. Fully consumed
// lots are pruned. The realized gain is signed and may be negative.
func (p *Position) SellShares(shares, currentPrice float64, method domain.LotMethod) domain.SellResult {
	ordered := p.orderedLots(method)

	var result domain.SellResult
	remaining := shares

	for _, lot := range ordered {
		if remaining <= pruneThreshold {
			break
		}
		sold := lot.Shares
		if sold > remaining {
			sold = remaining
		}
		result.SharesSold += sold
		result.Proceeds += sold * currentPrice
		result.RealizedGain += sold * (currentPrice - lot.CostBasis)
		lot.Shares -= sold
		remaining -= sold
		if lot.Shares <= pruneThreshold {
			result.LotsConsumed++
		}
	}

	p.prune()
	return result
}

// orderedLots returns the lots in consumption order for the given method:
// HIFO sorts by descending cost basis, FIFO by ascending purchase date.
// The underlying lots are shared; only the slice header is copied.
func (p *Position) orderedLots(method domain.LotMethod) []*Lot {
	ordered := make([]*Lot, len(p.Lots))
	copy(ordered, p.Lots)

	switch method {
	case domain.LotMethodFIFO:
		sort.SliceStable(ordered, func(i, j int) bool {
			return ordered[i].PurchaseDate.Before(ordered[j].PurchaseDate)
		})
	default: // HIFO
		sort.SliceStable(ordered, func(i, j int) bool {
			return ordered[i].CostBasis > ordered[j].CostBasis
		})
	}
	return ordered
}

// prune drops fully consumed lots so the ledger does not grow without bound.
func (p *Position) prune() {
	kept := p.Lots[:0]
	for _, lot := range p.Lots {
		if lot.Shares > pruneThreshold {
			kept = append(kept, lot)
		}
	}
	p.Lots = kept
}
