package report

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/coin-research/internal/fields"
)

// NotAvailable is shown for metrics that could not be resolved.
const NotAvailable = "N/A"

// MetricRow is one line of the key-metrics table.
type MetricRow struct {
	Metric string
	Field  string
	Value  string
	// Raw is the unformatted number, zero when Value is NotAvailable.
	Raw float64
	OK  bool
	// Estimated marks a value a model inferred rather than a provider reported.
	Estimated bool
}

type metricDef struct {
	label  string
	field  string
	format func(p *message.Printer, v float64) string
}

var keyMetrics = []metricDef{
	{"Current Price", fields.CurrentPrice, formatPrice},
	{"Market Cap", fields.MarketCap, formatUSD},
	{"24h Trading Volume", fields.Volume24h, formatUSD},
	{"24h Price Change", fields.PriceChange24h, formatPercent},
	{"Circulating Supply", fields.CirculatingSupply, formatAmount},
	{"Total Supply", fields.TotalSupply, formatAmount},
	{"Max Supply", fields.MaxSupply, formatAmount},
	{"Total Value Locked", fields.TVL, formatUSD},
}

// Lookup resolves numeric fields. *fields.Resolver satisfies it.
type Lookup interface {
	Float(field string) (float64, bool)
}

// KeyMetrics builds the key-metrics table. Every row is present; fields
// that do not resolve read NotAvailable.
func KeyMetrics(r Lookup) []MetricRow {
	p := message.NewPrinter(language.English)
	rows := make([]MetricRow, 0, len(keyMetrics))
	for _, m := range keyMetrics {
		row := MetricRow{Metric: m.label, Field: m.field, Value: NotAvailable}
		if v, ok := r.Float(m.field); ok {
			row.Value = m.format(p, v)
			row.Raw = v
			row.OK = true
		}
		rows = append(rows, row)
	}
	return rows
}

// MarkEstimated flags the resolved rows whose field is in inferred and
// suffixes their display value.
func MarkEstimated(rows []MetricRow, inferred []string) {
	if len(inferred) == 0 {
		return
	}
	set := make(map[string]bool, len(inferred))
	for _, f := range inferred {
		set[fields.Canonical(f)] = true
	}
	for i := range rows {
		if rows[i].OK && set[rows[i].Field] {
			rows[i].Estimated = true
			rows[i].Value += " (estimated)"
		}
	}
}

func formatPrice(p *message.Printer, v float64) string {
	if v >= 1 {
		return p.Sprintf("$%.2f", v)
	}
	return p.Sprintf("$%.6f", v)
}

func formatUSD(p *message.Printer, v float64) string {
	return "$" + formatAmount(p, v)
}

func formatAmount(p *message.Printer, v float64) string {
	switch {
	case v >= 1e12:
		return p.Sprintf("%.2f trillion", v/1e12)
	case v >= 1e9:
		return p.Sprintf("%.2f billion", v/1e9)
	case v >= 1e6:
		return p.Sprintf("%.2f million", v/1e6)
	default:
		return p.Sprintf("%.2f", v)
	}
}

func formatPercent(p *message.Printer, v float64) string {
	return p.Sprintf("%+.2f%%", v)
}
