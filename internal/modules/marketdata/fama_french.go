package marketdata

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"factorsim/internal/modules/factors"
)

// Kenneth French's daily research factor archives.
const (
	famaFrenchFactorsURL  = "https://mba.tuck.dartmouth.edu/pages/faculty/ken.french/ftp/F-F_Research_Data_Factors_daily_CSV.zip"
	famaFrenchMomentumURL = "https://mba.tuck.dartmouth.edu/pages/faculty/ken.french/ftp/F-F_Momentum_Factor_daily_CSV.zip"
)

// FamaFrenchClient downloads and parses daily factor returns.
type FamaFrenchClient struct {
	client *http.Client
	log    zerolog.Logger
}

// NewFamaFrenchClient creates a client with a 30 second request timeout.
func NewFamaFrenchClient(log zerolog.Logger) *FamaFrenchClient {
	return &FamaFrenchClient{
		client: &http.Client{Timeout: 30 * time.Second},
		log:    log.With().Str("client", "fama_french").Logger(),
	}
}

// FetchFactorReturns downloads the research factors and momentum archives
// and assembles a MKT/Value/Momentum daily return frame over [start, end].
// Value is HML, Momentum is UMD; the published percentages are converted to
// fractions.
func (c *FamaFrenchClient) FetchFactorReturns(start, end time.Time) (*factors.FactorReturns, error) {
	ff, err := c.fetchCSV(famaFrenchFactorsURL, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch research factors: %w", err)
	}
	mom, err := c.fetchCSV(famaFrenchMomentumURL, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch momentum factor: %w", err)
	}

	mktCol, err := columnIndex(ff.header, "Mkt-RF")
	if err != nil {
		return nil, err
	}
	hmlCol, err := columnIndex(ff.header, "HML")
	if err != nil {
		return nil, err
	}
	// The momentum file has a single data column whose header spelling
	// varies (Mom / UMD); take the first column.
	momCol := 0

	momByDate := make(map[time.Time]float64, len(mom.dates))
	for i, d := range mom.dates {
		momByDate[d] = mom.rows[i][momCol]
	}

	out := &factors.FactorReturns{Factors: []string{"MKT", "Value", "Momentum"}}
	for i, d := range ff.dates {
		umd, ok := momByDate[d]
		if !ok {
			continue // keep only dates both files cover
		}
		out.Dates = append(out.Dates, d)
		out.Data = append(out.Data, []float64{
			ff.rows[i][mktCol] / 100,
			ff.rows[i][hmlCol] / 100,
			umd / 100,
		})
	}

	c.log.Info().Int("days", len(out.Dates)).Msg("Fetched Fama-French daily factors")
	return out, nil
}

type ffTable struct {
	header []string
	dates  []time.Time
	rows   [][]float64
}

// fetchCSV downloads a zipped French-library CSV and parses the daily data
// block. The files carry free-text preamble; the data block starts at the
// first line whose leading field is an 8-digit date, and the last non-blank
// line before it is the column header.
func (c *FamaFrenchClient) fetchCSV(url string, start, end time.Time) (*ffTable, error) {
	resp, err := c.client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive: %w", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	var csvContent string
	for _, f := range zr.File {
		if strings.HasSuffix(strings.ToUpper(f.Name), ".CSV") {
			rc, err := f.Open()
			if err != nil {
				return nil, fmt.Errorf("failed to open %s: %w", f.Name, err)
			}
			data, err := io.ReadAll(rc)
			rc.Close()
			if err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", f.Name, err)
			}
			csvContent = string(data)
			break
		}
	}
	if csvContent == "" {
		return nil, fmt.Errorf("no CSV member in archive %s", url)
	}

	return parseFrenchCSV(csvContent, start, end)
}

func parseFrenchCSV(content string, start, end time.Time) (*ffTable, error) {
	lines := strings.Split(content, "\n")

	dataStart := -1
	for i, line := range lines {
		first := strings.TrimSpace(strings.SplitN(line, ",", 2)[0])
		if len(first) == 8 && isDigits(first) {
			dataStart = i
			break
		}
	}
	if dataStart <= 0 {
		return nil, fmt.Errorf("no daily data block found")
	}

	headerIdx := dataStart - 1
	for headerIdx >= 0 && strings.TrimSpace(lines[headerIdx]) == "" {
		headerIdx--
	}
	rawHeader := strings.Split(lines[headerIdx], ",")
	// First column is the unnamed date column.
	header := make([]string, 0, len(rawHeader)-1)
	for _, h := range rawHeader[1:] {
		header = append(header, strings.TrimSpace(h))
	}

	table := &ffTable{header: header}
	for _, line := range lines[dataStart:] {
		fields := strings.Split(line, ",")
		first := strings.TrimSpace(fields[0])
		if len(first) != 8 || !isDigits(first) {
			break // annual summary block or EOF
		}
		date, err := time.Parse("20060102", first)
		if err != nil {
			continue
		}
		if date.Before(start) || date.After(end) {
			continue
		}
		row := make([]float64, len(fields)-1)
		for i, f := range fields[1:] {
			v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
			if err != nil {
				v = 0
			}
			row[i] = v
		}
		table.dates = append(table.dates, date)
		table.rows = append(table.rows, row)
	}
	return table, nil
}

func columnIndex(header []string, name string) (int, error) {
	for i, h := range header {
		if h == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("column %q not found in factor file header %v", name, header)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
