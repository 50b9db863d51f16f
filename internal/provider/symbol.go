package provider

import (
	"strings"
)

var knownSymbols = map[string]string{
	"bitcoin":   "BTC",
	"ethereum":  "ETH",
	"solana":    "SOL",
	"cardano":   "ADA",
	"binance":   "BNB",
	"polygon":   "MATIC",
	"avalanche": "AVAX",
	"polkadot":  "DOT",
	"chainlink": "LINK",
	"uniswap":   "UNI",
	"aave":      "AAVE",
	"maker":     "MKR",
	"compound":  "COMP",
	"shiba inu": "SHIB",
	"dogecoin":  "DOGE",
}

var symbolSuffixes = []string{" TOKEN", " COIN", " PROTOCOL", " NETWORK", " FINANCE", " CHAIN"}

// Symbol guesses the ticker symbol for a subject name.
func Symbol(subject string) string {
	trimmed := strings.TrimSpace(subject)
	if s, ok := knownSymbols[strings.ToLower(trimmed)]; ok {
		return s
	}
	if trimmed != "" && trimmed == strings.ToUpper(trimmed) && len(trimmed) <= 10 {
		return trimmed
	}

	sym := strings.ToUpper(trimmed)
	for _, suffix := range symbolSuffixes {
		if strings.HasSuffix(sym, suffix) {
			sym = strings.TrimSuffix(sym, suffix)
			break
		}
	}
	if len(sym) > 10 && strings.Contains(sym, " ") {
		sym = strings.Fields(sym)[0]
	}
	if len(sym) > 10 {
		sym = sym[:5]
	}
	return sym
}

var llamaSlugs = map[string]string{
	"BTC":  "bitcoin-staking",
	"ETH":  "ethereum-staking",
	"ONDO": "ondo-finance",
	"MKR":  "makerdao",
	"UNI":  "uniswap",
}

// coinGeckoID guesses a CoinGecko coin id from a subject name.
func coinGeckoID(subject string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(subject)), " ", "-")
}
