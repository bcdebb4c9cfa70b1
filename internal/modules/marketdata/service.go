// Package marketdata provides historical price and return series to the
// simulation: in-memory date-aligned frames, a persistent price cache and
// loaders for external sources.
package marketdata

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"factorsim/internal/domain"
)

// Service holds closing prices and daily returns for a fixed ticker set,
// indexed by date. It implements domain.MarketData.
type Service struct {
	dates   []time.Time // ascending
	tickers []string
	prices  [][]float64 // prices[i][j]: Tickers[j] close on Dates[i]; NaN = missing
	returns [][]float64 // simple returns, aligned to dates[1:]

	tickerIndex map[string]int
	dateIndex   map[time.Time]int

	log zerolog.Logger
}

// NewService builds a service from a price frame. Rows must be in ascending
// date order; missing observations are NaN. Returns are derived as simple
// day-over-day changes, NaN wherever either endpoint is missing.
func NewService(dates []time.Time, tickers []string, prices [][]float64, log zerolog.Logger) (*Service, error) {
	if len(dates) != len(prices) {
		return nil, fmt.Errorf("price frame has %d rows for %d dates", len(prices), len(dates))
	}
	if !sort.SliceIsSorted(dates, func(i, j int) bool { return dates[i].Before(dates[j]) }) {
		return nil, fmt.Errorf("price frame dates must be ascending")
	}
	for i, row := range prices {
		if len(row) != len(tickers) {
			return nil, fmt.Errorf("price row %d has %d columns for %d tickers", i, len(row), len(tickers))
		}
	}

	s := &Service{
		dates:       dates,
		tickers:     tickers,
		prices:      prices,
		tickerIndex: make(map[string]int, len(tickers)),
		dateIndex:   make(map[time.Time]int, len(dates)),
		log:         log.With().Str("service", "marketdata").Logger(),
	}
	for j, t := range tickers {
		s.tickerIndex[t] = j
	}
	for i, d := range dates {
		s.dateIndex[d] = i
	}
	s.computeReturns()
	return s, nil
}

func (s *Service) computeReturns() {
	s.returns = make([][]float64, len(s.dates))
	for i := range s.dates {
		row := make([]float64, len(s.tickers))
		for j := range s.tickers {
			if i == 0 {
				row[j] = math.NaN()
				continue
			}
			prev, cur := s.prices[i-1][j], s.prices[i][j]
			if math.IsNaN(prev) || math.IsNaN(cur) || prev == 0 {
				row[j] = math.NaN()
				continue
			}
			row[j] = cur/prev - 1
		}
		s.returns[i] = row
	}
}

// Dates returns the trading dates the service covers, ascending.
func (s *Service) Dates() []time.Time {
	out := make([]time.Time, len(s.dates))
	copy(out, s.dates)
	return out
}

// AllTickers returns the tickers in frame order.
func (s *Service) AllTickers() []string {
	out := make([]string, len(s.tickers))
	copy(out, s.tickers)
	return out
}

// Series returns the ticker's raw close series, NaN gaps included, aligned
// with Dates. The second value is false for unknown tickers.
func (s *Service) Series(ticker string) ([]time.Time, []float64, bool) {
	j, ok := s.tickerIndex[ticker]
	if !ok {
		return nil, nil, false
	}
	closes := make([]float64, len(s.dates))
	for i := range s.dates {
		closes[i] = s.prices[i][j]
	}
	return s.Dates(), closes, true
}

// GetPrice returns the ticker's close on the given date. Missing values fall
// back to the last known prior price, or 0 if the ticker has never printed.
func (s *Service) GetPrice(ticker string, date time.Time) float64 {
	j, ok := s.tickerIndex[ticker]
	if !ok {
		return 0
	}
	i, ok := s.dateIndex[date]
	if !ok {
		// Date between observations: walk back from the latest date <= requested.
		i = sort.Search(len(s.dates), func(n int) bool { return s.dates[n].After(date) }) - 1
		if i < 0 {
			return 0
		}
	}
	for ; i >= 0; i-- {
		if p := s.prices[i][j]; !math.IsNaN(p) {
			return p
		}
	}
	return 0
}

// GetReturns returns the daily-return window for the tickers over
// [start, end], inclusive. Unknown tickers yield NaN columns.
func (s *Service) GetReturns(tickers []string, start, end time.Time) *domain.ReturnsWindow {
	window := &domain.ReturnsWindow{Tickers: tickers}
	for i, date := range s.dates {
		if date.Before(start) || date.After(end) {
			continue
		}
		row := make([]float64, len(tickers))
		for c, ticker := range tickers {
			if j, ok := s.tickerIndex[ticker]; ok {
				row[c] = s.returns[i][j]
			} else {
				row[c] = math.NaN()
			}
		}
		window.Dates = append(window.Dates, date)
		window.Data = append(window.Data, row)
	}
	return window
}

// AnnualizedVolatility computes per-ticker annualized volatility over a
// returns window, skipping NaN observations. A ticker with fewer than two
// valid observations gets NaN.
func AnnualizedVolatility(window *domain.ReturnsWindow) map[string]float64 {
	vols := make(map[string]float64, len(window.Tickers))
	for c, ticker := range window.Tickers {
		var series []float64
		for i := range window.Dates {
			if v := window.Data[i][c]; !math.IsNaN(v) {
				series = append(series, v)
			}
		}
		if len(series) < 2 {
			vols[ticker] = math.NaN()
			continue
		}
		vols[ticker] = stat.StdDev(series, nil) * math.Sqrt(252)
	}
	return vols
}
