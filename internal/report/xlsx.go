package report

import (
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/coin-research/internal/fields"
	"github.com/sells-group/coin-research/internal/model"
)

// Sheet names in the data workbook.
const (
	SheetKeyMetrics = "Key Metrics"
)

var historySheets = []struct {
	name  string
	field string
}{
	{"Price History", fields.PriceHistory},
	{"Volume History", fields.VolumeHistory},
	{"TVL History", fields.TVLHistory},
}

// WriteWorkbook saves the key metrics and every available history series
// to an xlsx file at path.
func WriteWorkbook(path string, metrics []MetricRow, data model.CanonicalDataMap) error {
	f := xlsx.NewFile()

	sheet, err := f.AddSheet(SheetKeyMetrics)
	if err != nil {
		return eris.Wrap(err, "xlsx: add metrics sheet")
	}
	addRow(sheet, "Metric", "Value", "Raw")
	for _, m := range metrics {
		row := sheet.AddRow()
		row.AddCell().SetString(m.Metric)
		row.AddCell().SetString(m.Value)
		if m.OK {
			row.AddCell().SetFloat(m.Raw)
		} else {
			row.AddCell().SetString("")
		}
	}

	for _, h := range historySheets {
		series, ok := data.Series(h.field)
		if !ok || len(series) == 0 {
			continue
		}
		sheet, err := f.AddSheet(h.name)
		if err != nil {
			return eris.Wrapf(err, "xlsx: add sheet %s", h.name)
		}
		addRow(sheet, "Date", "Value")
		for _, pt := range series {
			row := sheet.AddRow()
			row.AddCell().SetString(time.UnixMilli(pt.Timestamp).UTC().Format("2006-01-02"))
			row.AddCell().SetFloat(pt.Value)
		}
	}

	if err := f.Save(path); err != nil {
		return eris.Wrap(err, "xlsx: save workbook")
	}
	return nil
}

func addRow(sheet *xlsx.Sheet, values ...string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}
