// Package universe provides the candidate security catalog and the
// quality/liquidity screens that produce the eligible ticker list.
package universe

// Security is one catalog entry.
type Security struct {
	Ticker   string
	Sector   string
	Region   string
	Currency string
	CapTier  string  // mega, large, mid, small
	ADV      float64 // average daily volume, USD
}

// Catalog is a static list of candidate securities.
type Catalog struct {
	securities []Security
}

// NewCatalog creates a catalog from the given entries. With no entries the
// built-in default catalog is used.
func NewCatalog(securities []Security) *Catalog {
	if len(securities) == 0 {
		securities = defaultCatalog
	}
	return &Catalog{securities: securities}
}

// Filter returns tickers matching the region, cap-tier and liquidity
// screens, in catalog order. Empty filter slices mean "no filter".
func (c *Catalog) Filter(regions, capTiers []string, minADV float64) []string {
	regionSet := toSet(regions)
	tierSet := toSet(capTiers)

	var tickers []string
	for _, sec := range c.securities {
		if len(regionSet) > 0 && !regionSet[sec.Region] {
			continue
		}
		if len(tierSet) > 0 && !tierSet[sec.CapTier] {
			continue
		}
		if minADV > 0 && sec.ADV < minADV {
			continue
		}
		tickers = append(tickers, sec.Ticker)
	}
	return tickers
}

// AllTickers returns every catalog ticker in catalog order.
func (c *Catalog) AllTickers() []string {
	tickers := make([]string, len(c.securities))
	for i, sec := range c.securities {
		tickers[i] = sec.Ticker
	}
	return tickers
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

// defaultCatalog covers liquid mega/large caps across the major regions.
var defaultCatalog = []Security{
	// US - Technology
	{Ticker: "AAPL", Sector: "Technology", Region: "US", Currency: "USD", CapTier: "mega", ADV: 1.2e10},
	{Ticker: "MSFT", Sector: "Technology", Region: "US", Currency: "USD", CapTier: "mega", ADV: 9e9},
	{Ticker: "NVDA", Sector: "Technology", Region: "US", Currency: "USD", CapTier: "mega", ADV: 3e10},
	// US - Communication Services
	{Ticker: "GOOGL", Sector: "Communication Services", Region: "US", Currency: "USD", CapTier: "mega", ADV: 6e9},
	{Ticker: "META", Sector: "Communication Services", Region: "US", Currency: "USD", CapTier: "mega", ADV: 7e9},
	// US - Consumer Discretionary
	{Ticker: "AMZN", Sector: "Consumer Discretionary", Region: "US", Currency: "USD", CapTier: "mega", ADV: 8e9},
	{Ticker: "TSLA", Sector: "Consumer Discretionary", Region: "US", Currency: "USD", CapTier: "mega", ADV: 2.5e10},
	{Ticker: "MCD", Sector: "Consumer Discretionary", Region: "US", Currency: "USD", CapTier: "large", ADV: 1.1e9},
	{Ticker: "NKE", Sector: "Consumer Discretionary", Region: "US", Currency: "USD", CapTier: "large", ADV: 1.3e9},
	// US - Consumer Staples
	{Ticker: "PG", Sector: "Consumer Staples", Region: "US", Currency: "USD", CapTier: "large", ADV: 1.4e9},
	{Ticker: "KO", Sector: "Consumer Staples", Region: "US", Currency: "USD", CapTier: "large", ADV: 1.0e9},
	{Ticker: "PEP", Sector: "Consumer Staples", Region: "US", Currency: "USD", CapTier: "large", ADV: 1.0e9},
	{Ticker: "WMT", Sector: "Consumer Staples", Region: "US", Currency: "USD", CapTier: "mega", ADV: 1.5e9},
	{Ticker: "COST", Sector: "Consumer Staples", Region: "US", Currency: "USD", CapTier: "mega", ADV: 1.6e9},
	// US - Financials
	{Ticker: "JPM", Sector: "Financials", Region: "US", Currency: "USD", CapTier: "mega", ADV: 2.0e9},
	{Ticker: "BAC", Sector: "Financials", Region: "US", Currency: "USD", CapTier: "large", ADV: 1.5e9},
	{Ticker: "GS", Sector: "Financials", Region: "US", Currency: "USD", CapTier: "large", ADV: 1.0e9},
	{Ticker: "BRK-B", Sector: "Financials", Region: "US", Currency: "USD", CapTier: "mega", ADV: 1.6e9},
	{Ticker: "V", Sector: "Financials", Region: "US", Currency: "USD", CapTier: "mega", ADV: 1.8e9},
	{Ticker: "MA", Sector: "Financials", Region: "US", Currency: "USD", CapTier: "mega", ADV: 1.5e9},
	// US - Health Care
	{Ticker: "JNJ", Sector: "Health Care", Region: "US", Currency: "USD", CapTier: "large", ADV: 1.2e9},
	{Ticker: "UNH", Sector: "Health Care", Region: "US", Currency: "USD", CapTier: "mega", ADV: 1.7e9},
	{Ticker: "PFE", Sector: "Health Care", Region: "US", Currency: "USD", CapTier: "large", ADV: 1.0e9},
	{Ticker: "ABBV", Sector: "Health Care", Region: "US", Currency: "USD", CapTier: "large", ADV: 1.1e9},
	{Ticker: "MRK", Sector: "Health Care", Region: "US", Currency: "USD", CapTier: "large", ADV: 1.1e9},
	{Ticker: "LLY", Sector: "Health Care", Region: "US", Currency: "USD", CapTier: "mega", ADV: 2.2e9},
	// US - Industrials
	{Ticker: "CAT", Sector: "Industrials", Region: "US", Currency: "USD", CapTier: "large", ADV: 1.2e9},
	{Ticker: "HON", Sector: "Industrials", Region: "US", Currency: "USD", CapTier: "large", ADV: 9e8},
	{Ticker: "UPS", Sector: "Industrials", Region: "US", Currency: "USD", CapTier: "large", ADV: 8e8},
	{Ticker: "BA", Sector: "Industrials", Region: "US", Currency: "USD", CapTier: "large", ADV: 1.4e9},
	{Ticker: "GE", Sector: "Industrials", Region: "US", Currency: "USD", CapTier: "large", ADV: 9e8},
	// US - Energy
	{Ticker: "XOM", Sector: "Energy", Region: "US", Currency: "USD", CapTier: "mega", ADV: 1.8e9},
	{Ticker: "CVX", Sector: "Energy", Region: "US", Currency: "USD", CapTier: "large", ADV: 1.3e9},
	{Ticker: "COP", Sector: "Energy", Region: "US", Currency: "USD", CapTier: "large", ADV: 9e8},
	// US - Utilities
	{Ticker: "NEE", Sector: "Utilities", Region: "US", Currency: "USD", CapTier: "large", ADV: 8e8},
	{Ticker: "DUK", Sector: "Utilities", Region: "US", Currency: "USD", CapTier: "large", ADV: 5e8},
	// US - Real Estate
	{Ticker: "AMT", Sector: "Real Estate", Region: "US", Currency: "USD", CapTier: "large", ADV: 6e8},
	// US - Materials
	{Ticker: "LIN", Sector: "Materials", Region: "US", Currency: "USD", CapTier: "large", ADV: 7e8},
	// Europe
	{Ticker: "NESN.SW", Sector: "Consumer Staples", Region: "Europe", Currency: "CHF", CapTier: "mega", ADV: 6e8},
	{Ticker: "NOVO-B.CO", Sector: "Health Care", Region: "Europe", Currency: "DKK", CapTier: "mega", ADV: 8e8},
	{Ticker: "ASML", Sector: "Technology", Region: "Europe", Currency: "USD", CapTier: "mega", ADV: 1.5e9},
	{Ticker: "SAP", Sector: "Technology", Region: "Europe", Currency: "USD", CapTier: "large", ADV: 6e8},
	{Ticker: "MC.PA", Sector: "Consumer Discretionary", Region: "Europe", Currency: "EUR", CapTier: "mega", ADV: 5e8},
	{Ticker: "SHEL", Sector: "Energy", Region: "Europe", Currency: "USD", CapTier: "large", ADV: 7e8},
	{Ticker: "AZN", Sector: "Health Care", Region: "Europe", Currency: "USD", CapTier: "large", ADV: 6e8},
	// Asia-Pacific
	{Ticker: "TSM", Sector: "Technology", Region: "Asia-Pacific", Currency: "USD", CapTier: "mega", ADV: 1.8e9},
	{Ticker: "BABA", Sector: "Consumer Discretionary", Region: "Asia-Pacific", Currency: "USD", CapTier: "large", ADV: 1.5e9},
	{Ticker: "TM", Sector: "Consumer Discretionary", Region: "Asia-Pacific", Currency: "USD", CapTier: "large", ADV: 4e8},
	{Ticker: "SONY", Sector: "Technology", Region: "Asia-Pacific", Currency: "USD", CapTier: "large", ADV: 4e8},
}
