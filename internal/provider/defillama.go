package provider

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/coin-research/internal/fields"
	"github.com/sells-group/coin-research/internal/model"
)

const defaultDefiLlamaBaseURL = "https://api.llama.fi"

type llamaProtocol struct {
	Name     string   `json:"name"`
	Slug     string   `json:"slug"`
	Symbol   string   `json:"symbol"`
	TVL      *float64 `json:"tvl"`
	Category string   `json:"category"`
}

type llamaTVLPoint struct {
	Date              json.Number `json:"date"`
	TotalLiquidityUSD float64     `json:"totalLiquidityUSD"`
}

type llamaProtocolDetail struct {
	Category         string                     `json:"category"`
	Chains           []string                   `json:"chains"`
	TVL              json.RawMessage            `json:"tvl"`
	CurrentChainTvls map[string]float64         `json:"currentChainTvls"`
	ChainTvls        map[string]json.RawMessage `json:"chainTvls"`
}

// DefiLlamaAdapter supplies protocol TVL and TVL history.
type DefiLlamaAdapter struct {
	c *client
}

// NewDefiLlama creates the DeFiLlama adapter. The API needs no key.
func NewDefiLlama(opts ...Option) *DefiLlamaAdapter {
	return &DefiLlamaAdapter{c: newClient(DefiLlama, defaultDefiLlamaBaseURL, opts)}
}

func (a *DefiLlamaAdapter) Name() string { return DefiLlama }

func (a *DefiLlamaAdapter) Fetch(ctx context.Context, subjectID string) model.ProviderRecord {
	return a.c.record(ctx, func(ctx context.Context) (map[string]any, error) {
		return a.fetch(ctx, subjectID)
	})
}

func (a *DefiLlamaAdapter) fetch(ctx context.Context, subjectID string) (map[string]any, error) {
	symbol := Symbol(subjectID)
	out := map[string]any{}

	slug, known := llamaSlugs[symbol]
	if !known {
		var protocols []llamaProtocol
		if err := a.c.getJSON(ctx, "/protocols", nil, &protocols); err != nil {
			return nil, err
		}
		p, ok := matchProtocol(protocols, subjectID, symbol)
		if !ok {
			return nil, eris.Errorf("defillama: protocol not found: %s", subjectID)
		}
		slug = p.Slug
		if p.TVL != nil {
			out[fields.TVL] = *p.TVL
		}
		if p.Category != "" {
			out["category"] = p.Category
		}
	}

	var detail llamaProtocolDetail
	if err := a.c.getJSON(ctx, "/protocol/"+url.PathEscape(slug), nil, &detail); err != nil {
		if len(out) > 0 {
			return out, nil
		}
		return nil, err
	}

	if _, ok := out[fields.TVL]; !ok {
		var scalar float64
		if err := json.Unmarshal(detail.TVL, &scalar); err == nil {
			out[fields.TVL] = scalar
		} else if total := sumChains(detail.CurrentChainTvls); total > 0 {
			out[fields.TVL] = total
		}
	}

	if history := tvlHistory(detail); len(history) > 0 {
		out[fields.TVLHistory] = history
		if v, ok := out[fields.TVL]; !ok || model.IsFalsy(v) {
			series, _ := model.ToSeries(history)
			if latest, ok := series.Latest(); ok {
				out[fields.TVL] = latest.Value
			}
		}
	}
	if detail.Category != "" {
		out["category"] = detail.Category
	}
	if len(detail.Chains) > 0 {
		out["chains"] = detail.Chains
	}
	out["defillama_slug"] = slug
	return out, nil
}

func matchProtocol(protocols []llamaProtocol, subjectID, symbol string) (llamaProtocol, bool) {
	name := strings.ToLower(subjectID)
	terms := []string{coinGeckoID(subjectID), name, strings.ToLower(symbol), coinGeckoID(subjectID) + "-finance"}
	for _, p := range protocols {
		if strings.EqualFold(p.Symbol, symbol) || strings.Contains(strings.ToLower(p.Name), name) {
			return p, true
		}
		slug := strings.ToLower(p.Slug)
		for _, t := range terms {
			if t != "" && strings.Contains(slug, t) {
				return p, true
			}
		}
	}
	return llamaProtocol{}, false
}

func sumChains(chains map[string]float64) float64 {
	var total float64
	for _, v := range chains {
		total += v
	}
	return total
}

// tvlHistory reads the protocol's TVL series from either the top-level tvl
// array or chainTvls.all.tvl, as [ms, usd] pairs.
func tvlHistory(detail llamaProtocolDetail) [][]float64 {
	var points []llamaTVLPoint
	if err := json.Unmarshal(detail.TVL, &points); err != nil || len(points) == 0 {
		points = nil
		if raw, ok := detail.ChainTvls["all"]; ok {
			var all struct {
				TVL []llamaTVLPoint `json:"tvl"`
			}
			if err := json.Unmarshal(raw, &all); err == nil {
				points = all.TVL
			}
		}
	}

	out := make([][]float64, 0, len(points))
	for _, p := range points {
		secs, err := p.Date.Int64()
		if err != nil {
			continue
		}
		out = append(out, []float64{float64(secs * 1000), p.TotalLiquidityUSD})
	}
	return out
}
