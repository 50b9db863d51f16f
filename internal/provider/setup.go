package provider

import (
	"github.com/sells-group/coin-research/internal/config"
	"github.com/sells-group/coin-research/internal/resilience"
)

// NewRegistryFromConfig registers the three market-data adapters in merge
// priority order: CoinMarketCap, CoinGecko, DeFiLlama. Disabled providers
// stay registered so they can be toggled on at runtime.
func NewRegistryFromConfig(cfg config.ProvidersConfig, guard *resilience.Guard, extra ...Option) *Registry {
	build := func(pc config.ProviderConfig) []Option {
		opts := []Option{WithRate(pc.RatePerSec), WithGuard(guard)}
		if pc.BaseURL != "" {
			opts = append(opts, WithBaseURL(pc.BaseURL))
		}
		return append(opts, extra...)
	}

	r := NewRegistry()
	r.Register(NewCoinMarketCap(cfg.CoinMarketCap.Key, build(cfg.CoinMarketCap)...), cfg.CoinMarketCap.Enabled && cfg.CoinMarketCap.Key != "")
	r.Register(NewCoinGecko(cfg.CoinGecko.Key, build(cfg.CoinGecko)...), cfg.CoinGecko.Enabled)
	r.Register(NewDefiLlama(build(cfg.DefiLlama)...), cfg.DefiLlama.Enabled)
	return r
}
