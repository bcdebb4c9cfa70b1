// Package portfolio implements the tax-lot ledger: lots, positions and the
// portfolio aggregate that owns them. It is the single source of truth for
// share and cash ownership; all mutation goes through the execution package.
package portfolio

import "time"

// pruneThreshold is the share count below which a lot is considered fully
// consumed and removed from its position.
const pruneThreshold = 1e-12

// Lot is a discrete purchase record: shares acquired at a specific cost basis.
// It is the atomic unit of tax accounting. Shares decrease in place as sells
// consume the lot; the originating position prunes it once empty.
type Lot struct {
	Shares       float64
	CostBasis    float64 // price per share at acquisition
	PurchaseDate time.Time
}

// NewLot creates a lot. A zero PurchaseDate means the acquisition date is
// unknown; FIFO ordering treats such lots as oldest.
func NewLot(shares, costBasis float64, purchaseDate time.Time) *Lot {
	return &Lot{Shares: shares, CostBasis: costBasis, PurchaseDate: purchaseDate}
}
