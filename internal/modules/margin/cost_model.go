// Package margin implements the interest-cost model for the leverage
// facility.
package margin

// tradingDaysPerYear is the accrual convention for daily interest.
const tradingDaysPerYear = 252

// CostModel is a stateless interest calculator.
//
// The two methods use different day-count conventions on purpose: daily
// accrual runs on trading days (interest is charged once per simulated
// trading date), while the horizon cost estimate quotes simple interest over
// calendar days. They must not be unified.
type CostModel struct{}

// NewCostModel creates a cost model.
func NewCostModel() *CostModel {
	return &CostModel{}
}

// DailyInterest returns the interest owed for one trading day on the
// outstanding balance.
func (m *CostModel) DailyInterest(marginBalance, annualRate float64) float64 {
	return marginBalance * annualRate / tradingDaysPerYear
}

// TotalCost returns simple (non-compounding) interest on amount over days
// calendar days.
func (m *CostModel) TotalCost(amount, annualRate float64, days int) float64 {
	return amount * annualRate * float64(days) / 365
}
