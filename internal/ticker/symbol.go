package ticker

import "strings"

// QuoteAssetCatalog lists known quote-asset tickers in priority order.
// Splitting tests suffixes first to last, so longer/ambiguous entries
// (USDT before USD, FDUSD before USD) must come first.
var QuoteAssetCatalog = []string{
	"USDT", "FDUSD", "USDC", "TUSD", "BUSD", "USDP", "DAI",
	"BTC", "ETH", "BNB", "SOL",
	"EUR", "EURI", "GBP", "TRY", "BRL", "ARS", "JPY", "PLN",
	"RON", "ZAR", "UAH", "MXN", "CZK", "COP",
}

// SplitSymbol splits an exchange symbol into base and quote assets by
// longest-match-first suffix test against the catalog. A symbol with no
// matching suffix is wholly base with an empty quote.
func SplitSymbol(symbol string) (base, quote string) {
	for _, q := range QuoteAssetCatalog {
		if len(symbol) > len(q) && strings.HasSuffix(symbol, q) {
			return symbol[:len(symbol)-len(q)], q
		}
	}
	return symbol, ""
}
