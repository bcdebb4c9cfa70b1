package marketdata

import (
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"factorsim/internal/database"
)

// PriceCache persists downloaded close prices so repeated backtests over the
// same window do not refetch from the network. The cache is rebuildable;
// losing it costs a re-download, nothing more.
type PriceCache struct {
	db  *database.DB
	log zerolog.Logger
}

const priceCacheSchema = `
CREATE TABLE IF NOT EXISTS prices (
	ticker TEXT NOT NULL,
	date   TEXT NOT NULL,
	close  REAL NOT NULL,
	PRIMARY KEY (ticker, date)
);
CREATE INDEX IF NOT EXISTS idx_prices_date ON prices(date);
`

// NewPriceCache opens (and migrates) a price cache at the given path.
func NewPriceCache(path string, log zerolog.Logger) (*PriceCache, error) {
	db, err := database.New(database.Config{Path: path, Profile: database.ProfileCache, Name: "prices"})
	if err != nil {
		return nil, err
	}
	if _, err := db.Conn().Exec(priceCacheSchema); err != nil {
		return nil, fmt.Errorf("failed to create price cache schema: %w", err)
	}
	return &PriceCache{db: db, log: log.With().Str("service", "price_cache").Logger()}, nil
}

// Close releases the underlying database.
func (c *PriceCache) Close() error {
	return c.db.Close()
}

// SaveSeries upserts one ticker's close series in a single transaction.
func (c *PriceCache) SaveSeries(ticker string, dates []time.Time, closes []float64) error {
	if len(dates) != len(closes) {
		return fmt.Errorf("series length mismatch: %d dates, %d closes", len(dates), len(closes))
	}
	return database.WithTransaction(c.db.Conn(), func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`INSERT OR REPLACE INTO prices (ticker, date, close) VALUES (?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for i := range dates {
			if math.IsNaN(closes[i]) {
				continue
			}
			if _, err := stmt.Exec(ticker, dates[i].Format("2006-01-02"), closes[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadSeries returns a ticker's cached closes within [start, end], ascending.
func (c *PriceCache) LoadSeries(ticker string, start, end time.Time) ([]time.Time, []float64, error) {
	rows, err := c.db.Conn().Query(
		`SELECT date, close FROM prices WHERE ticker = ? AND date >= ? AND date <= ? ORDER BY date`,
		ticker, start.Format("2006-01-02"), end.Format("2006-01-02"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query price cache: %w", err)
	}
	defer rows.Close()

	var dates []time.Time
	var closes []float64
	for rows.Next() {
		var dateStr string
		var close float64
		if err := rows.Scan(&dateStr, &close); err != nil {
			return nil, nil, fmt.Errorf("failed to scan cached price: %w", err)
		}
		date, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			c.log.Warn().Str("ticker", ticker).Str("date", dateStr).Msg("Skipping unparseable cached date")
			continue
		}
		dates = append(dates, date)
		closes = append(closes, close)
	}
	return dates, closes, rows.Err()
}
