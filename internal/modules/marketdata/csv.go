package marketdata

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// LoadPricesCSV reads a wide price frame from a CSV file. The first column
// holds ISO dates, the remaining columns one ticker each. Empty cells become
// NaN so the returns computation can propagate the gap.
func LoadPricesCSV(path string, log zerolog.Logger) (*Service, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open price file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse price file: %w", err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("price file %s has no data rows", path)
	}

	header := records[0]
	if len(header) < 2 {
		return nil, fmt.Errorf("price file %s has no ticker columns", path)
	}
	tickers := make([]string, len(header)-1)
	for i, h := range header[1:] {
		tickers[i] = strings.TrimSpace(h)
	}

	dates := make([]time.Time, 0, len(records)-1)
	prices := make([][]float64, 0, len(records)-1)
	for n, rec := range records[1:] {
		date, err := time.Parse("2006-01-02", strings.TrimSpace(rec[0]))
		if err != nil {
			return nil, fmt.Errorf("bad date on row %d: %w", n+2, err)
		}
		row := make([]float64, len(tickers))
		for i, cell := range rec[1:] {
			cell = strings.TrimSpace(cell)
			if cell == "" {
				row[i] = math.NaN()
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("bad price %q on row %d: %w", cell, n+2, err)
			}
			row[i] = v
		}
		dates = append(dates, date)
		prices = append(prices, row)
	}

	return NewService(dates, tickers, prices, log)
}
