package provider

import (
	"context"
	"net/url"
	"sort"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/coin-research/internal/fields"
	"github.com/sells-group/coin-research/internal/model"
)

const defaultCMCBaseURL = "https://pro-api.coinmarketcap.com"

// wellKnownCMCIDs pins ids for tickers shared by many listings.
var wellKnownCMCIDs = map[string]int{"BTC": 1, "ETH": 1027, "SOL": 5426, "BNB": 1839}

type cmcMapEntry struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Rank     int    `json:"rank"`
	IsActive int    `json:"is_active"`
}

type cmcUSDQuote struct {
	Price            float64 `json:"price"`
	Volume24h        float64 `json:"volume_24h"`
	PercentChange24h float64 `json:"percent_change_24h"`
	MarketCap        float64 `json:"market_cap"`
}

type cmcCoin struct {
	ID                int      `json:"id"`
	Name              string   `json:"name"`
	Symbol            string   `json:"symbol"`
	Slug              string   `json:"slug"`
	CMCRank           int      `json:"cmc_rank"`
	CirculatingSupply float64  `json:"circulating_supply"`
	TotalSupply       float64  `json:"total_supply"`
	MaxSupply         *float64 `json:"max_supply"`
	Quote             struct {
		USD cmcUSDQuote `json:"USD"`
	} `json:"quote"`
}

// CoinMarketCapAdapter is the primary market-data source.
type CoinMarketCapAdapter struct {
	c *client
}

// NewCoinMarketCap creates the CoinMarketCap adapter.
func NewCoinMarketCap(apiKey string, opts ...Option) *CoinMarketCapAdapter {
	c := newClient(CoinMarketCap, defaultCMCBaseURL, opts)
	c.headers["X-CMC_PRO_API_KEY"] = apiKey
	return &CoinMarketCapAdapter{c: c}
}

func (a *CoinMarketCapAdapter) Name() string { return CoinMarketCap }

func (a *CoinMarketCapAdapter) Fetch(ctx context.Context, subjectID string) model.ProviderRecord {
	return a.c.record(ctx, func(ctx context.Context) (map[string]any, error) {
		return a.fetch(ctx, subjectID)
	})
}

func (a *CoinMarketCapAdapter) fetch(ctx context.Context, subjectID string) (map[string]any, error) {
	symbol := Symbol(subjectID)

	id, err := a.lookupID(ctx, symbol)
	if err != nil {
		return nil, err
	}

	var quotes struct {
		Data map[string]cmcCoin `json:"data"`
	}
	q := url.Values{"id": {strconv.Itoa(id)}, "convert": {"USD"}}
	if err := a.c.getJSON(ctx, "/v1/cryptocurrency/quotes/latest", q, &quotes); err != nil {
		return nil, err
	}
	coin, ok := quotes.Data[strconv.Itoa(id)]
	if !ok {
		return nil, eris.Errorf("coinmarketcap: no quote for %s (id %d)", symbol, id)
	}

	usd := coin.Quote.USD
	out := map[string]any{
		fields.CurrentPrice:      usd.Price,
		fields.MarketCap:         usd.MarketCap,
		"volume_24h":             usd.Volume24h,
		"percent_change_24h":     usd.PercentChange24h,
		fields.CirculatingSupply: coin.CirculatingSupply,
		fields.TotalSupply:       coin.TotalSupply,
		"symbol":                 coin.Symbol,
		"name":                   coin.Name,
		"cmc_id":                 id,
		"cmc_rank":               coin.CMCRank,
	}
	if coin.MaxSupply != nil {
		out[fields.MaxSupply] = *coin.MaxSupply
	}

	if competitors, err := a.competitors(ctx, id); err != nil {
		zap.L().Debug("coinmarketcap: competitor listing failed", zap.String("symbol", symbol), zap.Error(err))
	} else if len(competitors) > 0 {
		out[fields.Competitors] = competitors
	}
	return out, nil
}

// lookupID resolves a ticker to a CoinMarketCap id: a pinned id for
// well-known tickers, else the best-ranked active exact match, else the
// first result.
func (a *CoinMarketCapAdapter) lookupID(ctx context.Context, symbol string) (int, error) {
	var resp struct {
		Data []cmcMapEntry `json:"data"`
	}
	if err := a.c.getJSON(ctx, "/v1/cryptocurrency/map", url.Values{"symbol": {symbol}}, &resp); err != nil {
		return 0, err
	}
	if len(resp.Data) == 0 {
		return 0, eris.Errorf("coinmarketcap: symbol not found: %s", symbol)
	}

	if pinned, ok := wellKnownCMCIDs[symbol]; ok {
		for _, e := range resp.Data {
			if e.ID == pinned {
				return pinned, nil
			}
		}
	}

	var best *cmcMapEntry
	for i := range resp.Data {
		e := &resp.Data[i]
		if e.IsActive != 1 || e.Symbol != symbol {
			continue
		}
		if best == nil || e.Rank < best.Rank {
			best = e
		}
	}
	if best == nil {
		zap.L().Warn("coinmarketcap: no active exact match, using first result", zap.String("symbol", symbol))
		best = &resp.Data[0]
	}
	return best.ID, nil
}

// competitors returns the five largest listings other than the subject.
func (a *CoinMarketCapAdapter) competitors(ctx context.Context, id int) ([]map[string]any, error) {
	var resp struct {
		Data []cmcCoin `json:"data"`
	}
	q := url.Values{"limit": {"20"}, "convert": {"USD"}, "sort": {"market_cap"}, "sort_dir": {"desc"}}
	if err := a.c.getJSON(ctx, "/v1/cryptocurrency/listings/latest", q, &resp); err != nil {
		return nil, err
	}

	listings := resp.Data
	sort.SliceStable(listings, func(i, j int) bool {
		return listings[i].Quote.USD.MarketCap > listings[j].Quote.USD.MarketCap
	})

	var out []map[string]any
	for _, c := range listings {
		if c.ID == id {
			continue
		}
		out = append(out, map[string]any{
			"name":                c.Name,
			"symbol":              c.Symbol,
			fields.MarketCap:      c.Quote.USD.MarketCap,
			fields.PriceChange24h: c.Quote.USD.PercentChange24h,
		})
		if len(out) == 5 {
			break
		}
	}
	return out, nil
}
