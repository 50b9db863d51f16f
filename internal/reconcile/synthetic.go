package reconcile

import (
	"math/rand/v2"
	"time"

	"github.com/sells-group/coin-research/internal/fields"
	"github.com/sells-group/coin-research/internal/model"
)

// SyntheticPoints is the length of generated history series.
const SyntheticPoints = 60

var syntheticSeeds = []struct {
	field string
	value float64
}{
	{fields.CurrentPrice, 1.0},
	{fields.MarketCap, 1e6},
	{fields.TotalSupply, 1e8},
	{fields.CirculatingSupply, 5e7},
	{fields.MaxSupply, 1e8},
	{fields.Volume24h, 5e5},
	{fields.PriceChange24h, 0},
}

// synthesize fills absent scalars with seed values, adds random-walk
// price and volume histories and tags the map as synthetic.
func synthesize(data model.CanonicalDataMap, rng *rand.Rand, now time.Time) {
	for _, s := range syntheticSeeds {
		if _, ok := data[s.field]; !ok {
			data[s.field] = s.value
		}
	}

	price, _ := data.Float(fields.CurrentPrice)
	if price <= 0 {
		price = 1.0
	}
	volume, _ := data.Float(fields.Volume24h)
	if volume <= 0 {
		volume = 5e5
	}

	data[fields.PriceHistory] = randomWalk(rng, now, price, 0.05, 0.01)
	if !data.Has(fields.VolumeHistory) {
		data[fields.VolumeHistory] = randomWalk(rng, now, volume, 0.20, 1e4)
	}
	data[fields.DataSource] = SourceSynthetic
}

// randomWalk returns SyntheticPoints daily samples ending at now. Each step
// moves by up to ±step of the previous value and never drops below floor.
func randomWalk(rng *rand.Rand, now time.Time, start, step, floor float64) [][]float64 {
	out := make([][]float64, SyntheticPoints)
	end := now.Truncate(time.Millisecond)
	v := start
	for i := 0; i < SyntheticPoints; i++ {
		ts := end.AddDate(0, 0, i-(SyntheticPoints-1)).UnixMilli()
		if i > 0 {
			v *= 1 + (rng.Float64()*2-1)*step
		}
		v = max(v, floor)
		out[i] = []float64{float64(ts), v}
	}
	return out
}
