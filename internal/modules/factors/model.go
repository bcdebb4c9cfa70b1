// Package factors estimates security factor exposures by time-series
// regression of daily returns on factor returns.
package factors

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"factorsim/internal/domain"
)

// FactorReturns is a date-aligned matrix of daily factor returns.
type FactorReturns struct {
	Dates   []time.Time
	Factors []string
	Data    [][]float64 // Data[i][j] = return of Factors[j] on Dates[i]
}

// Model estimates exposures with ordinary least squares: each ticker's
// returns are regressed on the factor returns (plus an intercept) over the
// dates both series share. The slope coefficients are the loadings; the
// intercept is dropped.
type Model struct {
	factorReturns *FactorReturns
	dateIndex     map[time.Time]int

	log zerolog.Logger
}

// NewModel creates a factor model over the given factor return history.
func NewModel(factorReturns *FactorReturns, log zerolog.Logger) *Model {
	index := make(map[time.Time]int, len(factorReturns.Dates))
	for i, d := range factorReturns.Dates {
		index[d] = i
	}
	return &Model{
		factorReturns: factorReturns,
		dateIndex:     index,
		log:           log.With().Str("service", "factors").Logger(),
	}
}

// FactorNames returns the model's factor names in estimation order.
func (m *Model) FactorNames() []string {
	return m.factorReturns.Factors
}

// EstimateExposures regresses each ticker in the window on the factor
// returns. Tickers with too few shared observations, or with a singular
// design matrix, are dropped from the result rather than failing the batch.
// The second return value is the regression R² per ticker; a zero-variance
// ticker gets R² = 0.
func (m *Model) EstimateExposures(returns *domain.ReturnsWindow) (*domain.ExposureTable, map[string]float64, error) {
	if returns == nil || len(returns.Dates) == 0 {
		return nil, nil, fmt.Errorf("empty returns window")
	}

	k := len(m.factorReturns.Factors)

	// Intersect the window's dates with the factor history.
	var windowRows, factorRows []int
	for i, d := range returns.Dates {
		if j, ok := m.dateIndex[d]; ok {
			windowRows = append(windowRows, i)
			factorRows = append(factorRows, j)
		}
	}
	nObs := len(windowRows)
	if nObs < k+2 {
		return nil, nil, fmt.Errorf("only %d overlapping observations for %d factors", nObs, k)
	}

	// Shared design matrix: intercept column plus factor returns.
	design := mat.NewDense(nObs, k+1, nil)
	for row, j := range factorRows {
		design.Set(row, 0, 1)
		for f := 0; f < k; f++ {
			design.Set(row, f+1, m.factorReturns.Data[j][f])
		}
	}
	var qr mat.QR
	qr.Factorize(design)

	table := &domain.ExposureTable{
		Factors:  m.factorReturns.Factors,
		Loadings: make(map[string][]float64, len(returns.Tickers)),
	}
	r2 := make(map[string]float64, len(returns.Tickers))

	for col, ticker := range returns.Tickers {
		y := mat.NewDense(nObs, 1, nil)
		var mean float64
		gap := false
		for row, i := range windowRows {
			v := returns.Data[i][col]
			if math.IsNaN(v) {
				gap = true
				break
			}
			y.Set(row, 0, v)
			mean += v
		}
		if gap {
			m.log.Debug().Str("ticker", ticker).Msg("Dropping ticker, missing observations")
			continue
		}
		mean /= float64(nObs)

		var beta mat.Dense
		if err := qr.SolveTo(&beta, false, y); err != nil {
			m.log.Debug().Str("ticker", ticker).Err(err).Msg("Dropping ticker, singular design matrix")
			continue
		}

		// R² = 1 - SSR/SST
		var ssr, sst float64
		for row := range windowRows {
			var fitted float64
			for c := 0; c <= k; c++ {
				fitted += design.At(row, c) * beta.At(c, 0)
			}
			resid := y.At(row, 0) - fitted
			ssr += resid * resid
			dev := y.At(row, 0) - mean
			sst += dev * dev
		}

		loadings := make([]float64, k)
		for f := 0; f < k; f++ {
			loadings[f] = beta.At(f+1, 0)
		}
		table.Tickers = append(table.Tickers, ticker)
		table.Loadings[ticker] = loadings
		if sst > 0 {
			r2[ticker] = 1 - ssr/sst
		} else {
			r2[ticker] = 0
		}
	}

	return table, r2, nil
}
