package provider

import (
	"context"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/coin-research/internal/fields"
	"github.com/sells-group/coin-research/internal/model"
)

const defaultCoinGeckoBaseURL = "https://api.coingecko.com/api/v3"

type geckoCoin struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Symbol     string `json:"symbol"`
	MarketData struct {
		CurrentPrice             map[string]float64 `json:"current_price"`
		MarketCap                map[string]float64 `json:"market_cap"`
		TotalVolume              map[string]float64 `json:"total_volume"`
		TotalSupply              *float64           `json:"total_supply"`
		CirculatingSupply        *float64           `json:"circulating_supply"`
		MaxSupply                *float64           `json:"max_supply"`
		PriceChangePercentage24h *float64           `json:"price_change_percentage_24h"`
	} `json:"market_data"`
}

type geckoChart struct {
	Prices       [][]float64 `json:"prices"`
	TotalVolumes [][]float64 `json:"total_volumes"`
}

// CoinGeckoAdapter is the secondary market-data source and the source of
// price and volume history.
type CoinGeckoAdapter struct {
	c *client
}

// NewCoinGecko creates the CoinGecko adapter. apiKey may be empty for the
// public tier.
func NewCoinGecko(apiKey string, opts ...Option) *CoinGeckoAdapter {
	c := newClient(CoinGecko, defaultCoinGeckoBaseURL, opts)
	if apiKey != "" {
		c.headers["x-cg-pro-api-key"] = apiKey
	}
	return &CoinGeckoAdapter{c: c}
}

func (a *CoinGeckoAdapter) Name() string { return CoinGecko }

func (a *CoinGeckoAdapter) Fetch(ctx context.Context, subjectID string) model.ProviderRecord {
	return a.c.record(ctx, func(ctx context.Context) (map[string]any, error) {
		return a.fetch(ctx, subjectID)
	})
}

func (a *CoinGeckoAdapter) fetch(ctx context.Context, subjectID string) (map[string]any, error) {
	id, err := a.search(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	var coin geckoCoin
	q := url.Values{"localization": {"false"}, "tickers": {"false"}, "community_data": {"false"}, "developer_data": {"false"}}
	if err := a.c.getJSON(ctx, "/coins/"+url.PathEscape(id), q, &coin); err != nil {
		return nil, err
	}

	md := coin.MarketData
	out := map[string]any{
		"coingecko_id": id,
		"name":         coin.Name,
		"symbol":       strings.ToUpper(coin.Symbol),
	}
	setUSD(out, fields.CurrentPrice, md.CurrentPrice)
	setUSD(out, fields.MarketCap, md.MarketCap)
	setUSD(out, "volume_24h", md.TotalVolume)
	setPtr(out, fields.TotalSupply, md.TotalSupply)
	setPtr(out, fields.CirculatingSupply, md.CirculatingSupply)
	setPtr(out, fields.MaxSupply, md.MaxSupply)
	setPtr(out, fields.PriceChange24h, md.PriceChangePercentage24h)

	var chart geckoChart
	cq := url.Values{"vs_currency": {"usd"}, "days": {"60"}, "interval": {"daily"}}
	if err := a.c.getJSON(ctx, "/coins/"+url.PathEscape(id)+"/market_chart", cq, &chart); err != nil {
		zap.L().Debug("coingecko: market chart failed", zap.String("id", id), zap.Error(err))
	} else {
		if len(chart.Prices) > 0 {
			out[fields.PriceHistory] = chart.Prices
		}
		if len(chart.TotalVolumes) > 0 {
			out[fields.VolumeHistory] = chart.TotalVolumes
		}
	}
	return out, nil
}

// search finds the coin id: an exact symbol or name match, else the first
// search hit, else the slugified subject name.
func (a *CoinGeckoAdapter) search(ctx context.Context, subjectID string) (string, error) {
	var resp struct {
		Coins []struct {
			ID     string `json:"id"`
			Name   string `json:"name"`
			Symbol string `json:"symbol"`
		} `json:"coins"`
	}
	if err := a.c.getJSON(ctx, "/search", url.Values{"query": {subjectID}}, &resp); err != nil {
		return "", err
	}
	if len(resp.Coins) == 0 {
		return "", eris.Errorf("coingecko: coin not found: %s", subjectID)
	}

	symbol := Symbol(subjectID)
	for _, c := range resp.Coins {
		if strings.EqualFold(c.Symbol, symbol) || strings.EqualFold(c.Name, subjectID) || c.ID == coinGeckoID(subjectID) {
			return c.ID, nil
		}
	}
	zap.L().Warn("coingecko: no exact match, using first result",
		zap.String("subject", subjectID), zap.String("id", resp.Coins[0].ID))
	return resp.Coins[0].ID, nil
}

func setUSD(out map[string]any, field string, byCurrency map[string]float64) {
	if v, ok := byCurrency["usd"]; ok {
		out[field] = v
	}
}

func setPtr(out map[string]any, field string, v *float64) {
	if v != nil {
		out[field] = *v
	}
}
