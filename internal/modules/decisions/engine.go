// Package decisions implements the stateless cost/benefit gates that approve
// or reject rebalancing and compare borrowing against selling.
package decisions

import (
	"math"

	"factorsim/internal/config"
	"factorsim/internal/modules/margin"
	"factorsim/internal/modules/tax"
)

// Engine weighs the expected benefit of an action against its tax and
// trading cost. All outcomes are booleans; a rejection is a policy result,
// not a fault.
type Engine struct {
	taxEngine   *tax.Engine
	tradingCost config.TradingCostConfig

	// Optional: only set when a margin facility is configured.
	marginCfg       *config.MarginConfig
	marginCostModel *margin.CostModel
}

// NewEngine creates a decision engine without margin support.
func NewEngine(taxEngine *tax.Engine, tradingCost config.TradingCostConfig) *Engine {
	return &Engine{taxEngine: taxEngine, tradingCost: tradingCost}
}

// NewEngineWithMargin creates a decision engine that can also arbitrate
// borrow-versus-sell.
func NewEngineWithMargin(taxEngine *tax.Engine, tradingCost config.TradingCostConfig, marginCfg *config.MarginConfig, costModel *margin.CostModel) *Engine {
	return &Engine{
		taxEngine:       taxEngine,
		tradingCost:     tradingCost,
		marginCfg:       marginCfg,
		marginCostModel: costModel,
	}
}

// ShouldRebalance approves a rebalance iff the expected improvement strictly
// exceeds the tax cost of crystallising the unrealized gain plus the trading
// cost of the turnover. Ties reject.
func (e *Engine) ShouldRebalance(trackingError, unrealizedGain, expectedImprovement, tradeValue float64) bool {
	cost := e.taxEngine.TaxDue(unrealizedGain) + e.TradingCost(tradeValue)
	return expectedImprovement > cost
}

// ShouldBorrowInsteadOfSell approves borrowing iff the interest cost of
// carrying sellAmount of debt over the expected holding horizon is strictly
// lower than the tax triggered by selling. Without a margin facility, or
// when selling costs no tax, it always rejects.
func (e *Engine) ShouldBorrowInsteadOfSell(unrealizedGain, sellAmount float64, expectedHoldDays int) bool {
	if e.marginCfg == nil || !e.marginCfg.Enabled || e.marginCostModel == nil {
		return false
	}
	taxCost := e.taxEngine.TaxDue(unrealizedGain)
	if taxCost <= 0 {
		return false
	}
	interestCost := e.marginCostModel.TotalCost(sellAmount, e.marginCfg.AnnualRate, expectedHoldDays)
	return interestCost < taxCost
}

// TradingCost is the execution cost of a trade: a percentage of absolute
// trade value floored at the configured minimum.
func (e *Engine) TradingCost(tradeValue float64) float64 {
	return math.Max(math.Abs(tradeValue)*e.tradingCost.PctCost, e.tradingCost.MinCost)
}
