package broker

import "strings"

// usMarketSuffix is appended to bare watchlist tickers; the broker of
// record identifies US equities as TICKER.US.
const usMarketSuffix = ".US"

// ToBrokerSymbol converts a bare watchlist ticker to the broker format.
// Symbols already carrying a market suffix pass through unchanged.
func ToBrokerSymbol(ticker string) string {
	t := strings.ToUpper(strings.TrimSpace(ticker))
	if t == "" {
		return ""
	}
	if strings.Contains(t, ".") {
		return t
	}
	return t + usMarketSuffix
}

// FromBrokerSymbol strips the market suffix from a broker symbol.
func FromBrokerSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return s[:i]
	}
	return s
}
