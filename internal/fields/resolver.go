package fields

import (
	"github.com/sells-group/coin-research/internal/model"
)

// Bucket names in default priority order.
const (
	BucketResearch      = "research"
	BucketCoinMarketCap = "coinmarketcap"
	BucketCoinGecko     = "coingecko"
	BucketDefiLlama     = "defillama"
	BucketGeneric       = "generic"
)

// DefaultPriority is the order buckets are consulted in.
var DefaultPriority = []string{
	BucketResearch, BucketCoinMarketCap, BucketCoinGecko, BucketDefiLlama, BucketGeneric,
}

// Bucket is one named source of field values.
type Bucket struct {
	Name   string
	Values map[string]any
}

// Resolve looks field up bucket by bucket, trying the canonical name and
// then each alias, and returns the first present value.
func Resolve(buckets []Bucket, field string) (any, bool) {
	names := Names(field)
	for _, b := range buckets {
		if b.Values == nil {
			continue
		}
		for _, n := range names {
			if v, ok := b.Values[n]; ok && v != nil {
				return v, true
			}
		}
	}
	return nil, false
}

// Resolver resolves fields against a fixed bucket list.
type Resolver struct {
	buckets []Bucket
}

// NewResolver returns a resolver over buckets in the given order.
func NewResolver(buckets ...Bucket) *Resolver {
	return &Resolver{buckets: buckets}
}

// FromState builds a resolver over a pipeline state using DefaultPriority:
// research values, then each provider's raw fields, then the reconciled map.
func FromState(s *model.PipelineState) *Resolver {
	buckets := make([]Bucket, 0, len(DefaultPriority))
	for _, name := range DefaultPriority {
		switch name {
		case BucketResearch:
			buckets = append(buckets, Bucket{Name: name, Values: s.ResearchData})
		case BucketGeneric:
			buckets = append(buckets, Bucket{Name: name, Values: s.Data})
		default:
			buckets = append(buckets, Bucket{Name: name, Values: s.ProviderData[name]})
		}
	}
	return NewResolver(buckets...)
}

// Get resolves one field.
func (r *Resolver) Get(field string) (any, bool) {
	return Resolve(r.buckets, field)
}

// Float resolves a numeric field.
func (r *Resolver) Float(field string) (float64, bool) {
	v, ok := r.Get(field)
	if !ok {
		return 0, false
	}
	return model.ToFloat(v)
}

// Series resolves a history field.
func (r *Resolver) Series(field string) (model.Series, bool) {
	v, ok := r.Get(field)
	if !ok {
		return nil, false
	}
	return model.ToSeries(v)
}

// Lookup resolves every field and returns those found, keyed by the
// requested name.
func (r *Resolver) Lookup(fieldNames []string) map[string]any {
	out := make(map[string]any, len(fieldNames))
	for _, f := range fieldNames {
		if v, ok := r.Get(f); ok {
			out[f] = v
		}
	}
	return out
}

// Missing returns the fields that resolve to nothing, in input order.
func (r *Resolver) Missing(fieldNames []string) []string {
	var missing []string
	for _, f := range fieldNames {
		if _, ok := r.Get(f); !ok {
			missing = append(missing, f)
		}
	}
	return missing
}
