package report

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/coin-research/internal/fields"
	"github.com/sells-group/coin-research/internal/model"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NotEmpty(t, cfg.Sections)
	assert.Equal(t, "Executive Summary", cfg.Sections[0].Title)

	chart, ok := cfg.Chart("price_history_chart")
	require.True(t, ok)
	assert.Equal(t, ChartLine, chart.Type)
	assert.Equal(t, []string{fields.PriceHistory}, chart.Fields)

	_, ok = cfg.Chart("nope")
	assert.False(t, ok)
}

func TestLoadConfig(t *testing.T) {
	t.Run("empty path uses default", func(t *testing.T) {
		cfg, err := LoadConfig("")
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig(), cfg)
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "sections.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
sections:
  - title: Overview
    data_fields: [current_price]
    visualizations: [price]
visualizations:
  - name: price
    type: line_chart
    data_fields: [price_history]
`), 0o644))

		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		require.Len(t, cfg.Sections, 1)
		assert.Equal(t, []string{"current_price"}, cfg.Sections[0].Fields)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"no sections", Config{}, "no sections"},
		{"unknown chart type", Config{
			Sections:       []Section{{Title: "A"}},
			Visualizations: []ChartSpec{{Name: "x", Type: "radar"}},
		}, "unknown type radar"},
		{"duplicate section", Config{
			Sections: []Section{{Title: "A"}, {Title: "A"}},
		}, "duplicate section A"},
		{"unknown chart reference", Config{
			Sections: []Section{{Title: "A", Visualizations: []string{"missing"}}},
		}, "unknown chart missing"},
		{"word bounds", Config{
			Sections: []Section{{Title: "A", MinWords: 10, MaxWords: 5}},
		}, "min_words exceeds max_words"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

type floatMap map[string]float64

func (m floatMap) Float(field string) (float64, bool) {
	v, ok := m[field]
	return v, ok
}

func TestKeyMetrics(t *testing.T) {
	rows := KeyMetrics(floatMap{
		fields.CurrentPrice: 1.25,
		fields.MarketCap:    1.25e9,
		fields.TotalSupply:  5e6,
	})

	require.Len(t, rows, len(keyMetrics))
	byName := make(map[string]MetricRow, len(rows))
	for _, r := range rows {
		byName[r.Metric] = r
	}
	assert.Equal(t, "$1.25", byName["Current Price"].Value)
	assert.Equal(t, "$1.25 billion", byName["Market Cap"].Value)
	assert.Equal(t, "5.00 million", byName["Total Supply"].Value)
	assert.True(t, byName["Market Cap"].OK)

	assert.Equal(t, NotAvailable, byName["24h Trading Volume"].Value)
	assert.Equal(t, NotAvailable, byName["Total Value Locked"].Value)
	assert.False(t, byName["Max Supply"].OK)
}

func TestKeyMetrics_ResolvesAliases(t *testing.T) {
	r := fields.NewResolver(fields.Bucket{Name: "generic", Values: map[string]any{"volume_24h": 2.5e6}})
	rows := KeyMetrics(r)
	assert.Equal(t, "$2.50 million", rows[2].Value)
}

func TestMarkEstimated(t *testing.T) {
	rows := KeyMetrics(floatMap{fields.CurrentPrice: 2, fields.TVL: 3e6})
	MarkEstimated(rows, []string{"total_value_locked", fields.MaxSupply})

	byName := make(map[string]MetricRow, len(rows))
	for _, r := range rows {
		byName[r.Metric] = r
	}
	assert.True(t, byName["Total Value Locked"].Estimated)
	assert.Equal(t, "$3.00 million (estimated)", byName["Total Value Locked"].Value)
	assert.False(t, byName["Current Price"].Estimated)
	assert.Equal(t, "$2.00", byName["Current Price"].Value)
	assert.False(t, byName["Max Supply"].Estimated, "unresolved rows stay N/A")
	assert.Equal(t, NotAvailable, byName["Max Supply"].Value)
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "ondo_finance", Slug("Ondo Finance"))
	assert.Equal(t, "btc", Slug("  BTC "))
	assert.Equal(t, "a_b", Slug("a -- b!"))
	assert.Equal(t, "unknown", Slug("!!"))
}

func TestSpecRenderer(t *testing.T) {
	dir := t.TempDir()
	r := NewSpecRenderer(dir)
	r.nowFunc = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }

	chart := ChartSpec{Name: "price_history_chart", Type: ChartLine, Title: "Price"}
	path, err := r.Render(context.Background(), "Ondo Finance", chart, map[string]any{
		fields.PriceHistory: [][]float64{{1, 2}},
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "ondo_finance", "price_history_chart.json"), path)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, "line_chart", doc["type"])
	assert.Equal(t, "Ondo Finance", doc["subject"])
	assert.Contains(t, doc["data"], fields.PriceHistory)

	_, err = r.Render(context.Background(), "Ondo", chart, nil)
	assert.Error(t, err)
}

func TestMarkdownPublisher(t *testing.T) {
	dir := t.TempDir()
	p := NewMarkdownPublisher(dir)
	p.nowFunc = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }

	state := model.NewState("ondo finance", "job-1")
	state.Data = model.CanonicalDataMap{
		fields.CurrentPrice: 1.25,
		fields.DataSource:   "providers",
		fields.PriceHistory: [][]float64{{1700000000000, 1.0}, {1700086400000, 1.25}},
	}
	state.Draft = "## Executive Summary\n\nOndo tokenizes real-world assets."
	state.Visualizations["price_history_chart"] = model.Visualization{
		Type:  ChartLine,
		Title: "Price History",
		Path:  filepath.Join(dir, "ondo_finance", "price_history_chart.json"),
	}
	state.AddError("writer: timeout")

	path, err := p.Publish(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "ondo_finance", ReportFile), path)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	md := string(raw)
	assert.Contains(t, md, "# Ondo Finance Research Report")
	assert.Contains(t, md, "_Generated March 1, 2026 from providers data._")
	assert.Contains(t, md, "| Current Price | $1.25 |")
	assert.Contains(t, md, "| Market Cap | N/A |")
	assert.Contains(t, md, "Ondo tokenizes real-world assets.")
	assert.Contains(t, md, "- [Price History](price_history_chart.json)")
	assert.Contains(t, md, "## Processing Notes\n\n- writer: timeout")

	wb, err := xlsx.OpenFile(filepath.Join(dir, "ondo_finance", WorkbookFile))
	require.NoError(t, err)
	require.Contains(t, wb.Sheet, SheetKeyMetrics)
	require.Contains(t, wb.Sheet, "Price History")
	assert.NotContains(t, wb.Sheet, "TVL History")

	metrics := wb.Sheet[SheetKeyMetrics]
	require.Len(t, metrics.Rows, len(keyMetrics)+1)
	assert.Equal(t, "Current Price", metrics.Rows[1].Cells[0].String())
	assert.Equal(t, "$1.25", metrics.Rows[1].Cells[1].String())

	history := wb.Sheet["Price History"]
	require.Len(t, history.Rows, 3)
	assert.Equal(t, "2023-11-14", history.Rows[1].Cells[0].String())
}

func TestMarkdownPublisher_EmptyDraft(t *testing.T) {
	p := NewMarkdownPublisher(t.TempDir())

	path, err := p.Publish(context.Background(), model.NewState("BTC", "job-1"))
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "_No report content was generated._")
	assert.NotContains(t, string(raw), "## Processing Notes")
}

func TestMarkdownPublisher_Errors(t *testing.T) {
	p := NewMarkdownPublisher(t.TempDir())

	_, err := p.Publish(context.Background(), nil)
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Publish(ctx, model.NewState("BTC", "job-1"))
	assert.Error(t, err)
}
