package backtest

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"factorsim/internal/domain"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func curveResult(values ...float64) *Result {
	r := &Result{Values: values}
	for i := range values {
		r.Dates = append(r.Dates, day(2024, 1, 2).AddDate(0, 0, i))
	}
	return r
}

func TestReturnsFromEquityCurve(t *testing.T) {
	r := curveResult(100, 110, 99, 108.9)
	returns := r.Returns()
	assert.InDeltaSlice(t, []float64{0.1, -0.1, 0.1}, returns, 1e-9)
}

func TestTotalAndAnnualizedReturn(t *testing.T) {
	m := ComputeMetrics(curveResult(100, 110, 99, 108.9), nil, 0)
	assert.InDelta(t, 0.089, m.TotalReturn, 1e-9)

	years := 3.0 / 252
	assert.InDelta(t, math.Pow(1.089, 1/years)-1, m.AnnualizedReturn, 1e-9)
}

func TestSharpeAndSortino(t *testing.T) {
	m := ComputeMetrics(curveResult(100, 110, 99, 108.9), nil, 0)

	// returns [0.1, -0.1, 0.1]: mean 1/30, sample stddev 0.11547,
	// downside deviation sqrt(0.01/3).
	assert.InDelta(t, 4.582576, m.Sharpe, 1e-5)
	assert.InDelta(t, 9.165151, m.Sortino, 1e-5)
}

func TestSortinoAllPositiveIsInf(t *testing.T) {
	m := ComputeMetrics(curveResult(100, 101, 102, 103), nil, 0)
	assert.True(t, math.IsInf(m.Sortino, 1))
}

func TestDrawdown(t *testing.T) {
	worst, days := drawdown([]float64{100, 110, 99, 108.9, 111, 105})
	assert.InDelta(t, 0.1, worst, 1e-9)
	// 110 is underwater for two observations before 111 regains it.
	assert.Equal(t, 2, days)
}

func TestAlphaBetaAgainstSelfBenchmark(t *testing.T) {
	r := curveResult(100, 110, 99, 108.9)
	m := ComputeMetrics(r, r.Returns(), 0)

	assert.InDelta(t, 1.0, m.Beta, 1e-9)
	assert.InDelta(t, 0.0, m.Alpha, 1e-9)
	// Active returns are identically zero: no information ratio.
	assert.True(t, math.IsNaN(m.InformationRatio))
	assert.InDelta(t, 0.0, m.TrackingError, 1e-12)
}

func TestConstantBenchmarkYieldsNaNBeta(t *testing.T) {
	r := curveResult(100, 110, 99, 108.9)
	m := ComputeMetrics(r, []float64{0.01, 0.01, 0.01}, 0)
	assert.True(t, math.IsNaN(m.Beta))
	assert.True(t, math.IsNaN(m.Alpha))
}

func TestDegenerateCurve(t *testing.T) {
	m := ComputeMetrics(curveResult(100), nil, 0)
	assert.True(t, math.IsNaN(m.TotalReturn))
	assert.True(t, math.IsNaN(m.Sharpe))
	assert.Zero(t, m.MaxDrawdown)
}

func TestMonthlyTurnoverIgnoresFinancing(t *testing.T) {
	trades := []domain.TradeRecord{
		{Type: domain.TradeTypeBuy, Date: day(2024, 1, 5), Amount: 1000},
		{Type: domain.TradeTypeSell, Date: day(2024, 1, 20), Amount: 500},
		{Type: domain.TradeTypeBorrow, Date: day(2024, 1, 20), Amount: 99999},
		{Type: domain.TradeTypeBuy, Date: day(2024, 2, 5), Amount: 300},
	}
	assert.InDelta(t, 900, monthlyTurnover(trades), 1e-9)
	assert.Zero(t, monthlyTurnover(nil))
}
