package backtest

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"factorsim/internal/domain"
)

const tradingDaysPerYear = 252

// Metrics summarizes a run's performance. Degenerate inputs (constant or
// too-short series, zero-variance benchmarks) yield NaN sentinels rather
// than errors; callers must check.
type Metrics struct {
	TotalReturn      float64
	AnnualizedReturn float64
	Sharpe           float64
	Sortino          float64
	MaxDrawdown      float64 // positive fraction, e.g. 0.25 for a 25% peak-to-trough loss
	DrawdownDays     int     // longest peak-to-recovery stretch, in trading days
	Alpha            float64 // annualized, vs the benchmark
	Beta             float64
	InformationRatio float64
	TrackingError    float64 // annualized stddev of active returns
	MonthlyTurnover  float64 // average traded value per calendar month
}

// ComputeMetrics derives performance statistics from a run. The benchmark
// series may be nil, in which case the relative statistics are NaN.
func ComputeMetrics(result *Result, benchmark []float64, riskFreeAnnual float64) Metrics {
	returns := result.Returns()
	m := Metrics{
		TotalReturn:      math.NaN(),
		AnnualizedReturn: math.NaN(),
		Sharpe:           math.NaN(),
		Sortino:          math.NaN(),
		Alpha:            math.NaN(),
		Beta:             math.NaN(),
		InformationRatio: math.NaN(),
		TrackingError:    math.NaN(),
	}
	if len(result.Values) >= 2 && result.Values[0] > 0 {
		m.TotalReturn = result.FinalValue()/result.Values[0] - 1
		years := float64(len(returns)) / tradingDaysPerYear
		if years > 0 && 1+m.TotalReturn > 0 {
			m.AnnualizedReturn = math.Pow(1+m.TotalReturn, 1/years) - 1
		}
	}

	rfDaily := riskFreeAnnual / tradingDaysPerYear
	m.Sharpe = sharpe(returns, rfDaily)
	m.Sortino = sortino(returns, rfDaily)
	m.MaxDrawdown, m.DrawdownDays = drawdown(result.Values)

	if len(benchmark) == len(returns) && len(returns) >= 2 {
		m.Alpha, m.Beta = alphaBeta(returns, benchmark, rfDaily)
		m.InformationRatio, m.TrackingError = activeStats(returns, benchmark)
	}

	m.MonthlyTurnover = monthlyTurnover(result.Trades)
	return m
}

// sharpe is the annualized mean excess return over its volatility.
func sharpe(returns []float64, rfDaily float64) float64 {
	if len(returns) < 2 {
		return math.NaN()
	}
	excess := make([]float64, len(returns))
	for i, r := range returns {
		excess[i] = r - rfDaily
	}
	mean, std := stat.MeanStdDev(excess, nil)
	if std == 0 {
		return math.NaN()
	}
	return mean / std * math.Sqrt(tradingDaysPerYear)
}

// sortino penalizes only downside volatility. With no negative excess
// returns the ratio is +Inf, matching the degenerate-input convention.
func sortino(returns []float64, rfDaily float64) float64 {
	if len(returns) < 2 {
		return math.NaN()
	}
	var mean, downSq float64
	var nDown int
	for _, r := range returns {
		excess := r - rfDaily
		mean += excess
		if excess < 0 {
			downSq += excess * excess
			nDown++
		}
	}
	mean /= float64(len(returns))
	if nDown == 0 {
		return math.Inf(1)
	}
	downside := math.Sqrt(downSq / float64(len(returns)))
	if downside == 0 {
		return math.Inf(1)
	}
	return mean / downside * math.Sqrt(tradingDaysPerYear)
}

// drawdown returns the worst peak-to-trough loss as a positive fraction and
// the longest stretch, in observations, from a peak until it is regained.
func drawdown(values []float64) (float64, int) {
	if len(values) == 0 {
		return 0, 0
	}
	peak := values[0]
	var worst float64
	var longest, current int
	for _, v := range values {
		if v >= peak {
			peak = v
			current = 0
		} else {
			current++
			if current > longest {
				longest = current
			}
			if peak > 0 {
				if dd := 1 - v/peak; dd > worst {
					worst = dd
				}
			}
		}
	}
	return worst, longest
}

// alphaBeta regresses portfolio excess returns on benchmark excess returns.
// Alpha is annualized. A zero-variance benchmark yields NaN for both.
func alphaBeta(returns, benchmark []float64, rfDaily float64) (float64, float64) {
	px := make([]float64, len(returns))
	bx := make([]float64, len(returns))
	for i := range returns {
		px[i] = returns[i] - rfDaily
		bx[i] = benchmark[i] - rfDaily
	}
	if stat.Variance(bx, nil) == 0 {
		return math.NaN(), math.NaN()
	}
	aDaily, beta := stat.LinearRegression(bx, px, nil, false)
	return aDaily * tradingDaysPerYear, beta
}

// activeStats returns the information ratio and the annualized tracking
// error of the portfolio against the benchmark.
func activeStats(returns, benchmark []float64) (float64, float64) {
	active := make([]float64, len(returns))
	for i := range returns {
		active[i] = returns[i] - benchmark[i]
	}
	mean, std := stat.MeanStdDev(active, nil)
	if std == 0 {
		return math.NaN(), 0
	}
	annStd := std * math.Sqrt(tradingDaysPerYear)
	return mean * tradingDaysPerYear / annStd, annStd
}

// monthlyTurnover averages traded value (buys and sells, not financing) over
// the calendar months the trade log spans.
func monthlyTurnover(trades []domain.TradeRecord) float64 {
	if len(trades) == 0 {
		return 0
	}
	months := make(map[string]float64)
	for _, trade := range trades {
		if trade.Type != domain.TradeTypeBuy && trade.Type != domain.TradeTypeSell {
			continue
		}
		months[trade.Date.Format("2006-01")] += math.Abs(trade.Amount)
	}
	if len(months) == 0 {
		return 0
	}
	var total float64
	for _, v := range months {
		total += v
	}
	return total / float64(len(months))
}
