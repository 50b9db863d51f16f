// Package fields resolves logical metric names across provider buckets.
// It owns the one alias table used by reconciliation, charts and writing.
package fields

import (
	"github.com/sells-group/coin-research/internal/model"
)

// Canonical field names.
const (
	CurrentPrice      = "current_price"
	MarketCap         = "market_cap"
	Volume24h         = "24h_volume"
	PriceChange24h    = "price_change_percentage_24h"
	CirculatingSupply = "circulating_supply"
	TotalSupply       = "total_supply"
	MaxSupply         = "max_supply"
	TVL               = "tvl"
	PriceHistory      = "price_history"
	VolumeHistory     = "volume_history"
	TVLHistory        = "tvl_history"
	TokenDistribution = "token_distribution"
	Competitors       = "competitors"
	DataSource        = "data_source"
)

// Aliases maps each canonical name to the synonyms providers use for it,
// in lookup order.
var Aliases = map[string][]string{
	Volume24h:         {"volume_24h", "trading_volume_24h", "total_volume"},
	PriceChange24h:    {"percent_change_24h"},
	MarketCap:         {"marketcap", "market_cap_usd"},
	CurrentPrice:      {"price", "price_usd"},
	CirculatingSupply: {"supply_circulating"},
	TotalSupply:       {"supply_total"},
	TVL:               {"total_value_locked"},
}

var aliasToCanonical = func() map[string]string {
	m := make(map[string]string)
	for canonical, aliases := range Aliases {
		for _, a := range aliases {
			m[a] = canonical
		}
	}
	return m
}()

// VisualizationFields are the fields chart rendering depends on.
var VisualizationFields = []string{
	PriceHistory, VolumeHistory, TVLHistory, TVL, TokenDistribution, Competitors,
	CurrentPrice, MarketCap, Volume24h, CirculatingSupply, TotalSupply, MaxSupply,
}

// Estimable are the single-valued metrics a model may be asked to estimate
// when no provider supplies them. Histories and lists are never estimated.
var Estimable = []string{
	CurrentPrice, MarketCap, Volume24h, PriceChange24h,
	CirculatingSupply, TotalSupply, MaxSupply, TVL,
}

// IsEstimable reports whether field, or the canonical field it aliases,
// is in Estimable.
func IsEstimable(field string) bool {
	c := Canonical(field)
	for _, f := range Estimable {
		if f == c {
			return true
		}
	}
	return false
}

// Canonical returns the canonical name for field. Unknown names map to
// themselves.
func Canonical(field string) string {
	if c, ok := aliasToCanonical[field]; ok {
		return c
	}
	return field
}

// Names returns the canonical name followed by its aliases.
func Names(field string) []string {
	c := Canonical(field)
	return append([]string{c}, Aliases[c]...)
}

// Normalize writes every canonical field that is absent from m but present
// under an alias. The first alias present wins. Alias keys are left in place.
func Normalize(m map[string]any) {
	for canonical, aliases := range Aliases {
		if v, ok := m[canonical]; ok && !model.IsEmpty(v) {
			continue
		}
		for _, a := range aliases {
			if v, ok := m[a]; ok && !model.IsEmpty(v) {
				m[canonical] = v
				break
			}
		}
	}
}
