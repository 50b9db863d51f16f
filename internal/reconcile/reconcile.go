// Package reconcile gathers market data for a subject from every enabled
// provider and merges it into one canonical field map.
package reconcile

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/coin-research/internal/cache"
	"github.com/sells-group/coin-research/internal/events"
	"github.com/sells-group/coin-research/internal/fields"
	"github.com/sells-group/coin-research/internal/model"
	"github.com/sells-group/coin-research/internal/provider"
)

// Data source tags written under fields.DataSource.
const (
	SourceProviders = "providers"
	SourceSynthetic = "synthetic"
)

// GatherOptions controls one Gather call.
type GatherOptions struct {
	UseCache bool
	CacheTTL time.Duration
}

// Result is the outcome of a Gather call. Records holds one entry per
// enabled provider, keyed by provider name.
type Result struct {
	Data    model.CanonicalDataMap
	Records map[string]model.ProviderRecord
	// Order lists provider names in merge priority.
	Order []string
}

// ProviderData returns the successful records' fields keyed by provider.
func (r *Result) ProviderData() map[string]map[string]any {
	out := make(map[string]map[string]any, len(r.Records))
	for name, rec := range r.Records {
		if rec.OK() {
			out[name] = model.CloneMap(rec.Fields)
		}
	}
	return out
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithCache sets the payload cache. Without one every Gather hits the
// network.
func WithCache(c cache.Cache) Option {
	return func(r *Reconciler) { r.cache = c }
}

// WithReporter sets where provider failures are reported.
func WithReporter(rep *events.ErrorReporter) Option {
	return func(r *Reconciler) { r.reporter = rep }
}

// WithCallTimeout bounds each provider fetch.
func WithCallTimeout(d time.Duration) Option {
	return func(r *Reconciler) { r.callTimeout = d }
}

// WithRand sets the random source for synthetic series.
func WithRand(rng *rand.Rand) Option {
	return func(r *Reconciler) { r.rng = rng }
}

// WithClock sets the clock used for synthetic timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.nowFunc = now }
}

// Reconciler fans out to provider adapters and merges their records.
type Reconciler struct {
	registry    *provider.Registry
	cache       cache.Cache
	reporter    *events.ErrorReporter
	callTimeout time.Duration
	nowFunc     func() time.Time

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New creates a Reconciler over the registry's enabled adapters.
func New(registry *provider.Registry, opts ...Option) *Reconciler {
	r := &Reconciler{
		registry:    registry,
		cache:       cache.Disabled{},
		callTimeout: 20 * time.Second,
		nowFunc:     time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	if r.rng == nil {
		r.rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15))
	}
	return r
}

// Gather collects every enabled provider's view of subjectID and merges
// them. It never fails: provider failures become error records and, when
// nothing usable arrives, the map is filled with tagged synthetic data.
func (r *Reconciler) Gather(ctx context.Context, subjectID string, opts GatherOptions) *Result {
	adapters := r.registry.Enabled()
	res := &Result{
		Records: make(map[string]model.ProviderRecord, len(adapters)),
		Order:   make([]string, len(adapters)),
	}
	records := make([]model.ProviderRecord, len(adapters))
	failures := make([]string, len(adapters))

	g, gctx := errgroup.WithContext(ctx)
	for i, a := range adapters {
		res.Order[i] = a.Name()
		g.Go(func() error {
			records[i], failures[i] = r.fetchOne(gctx, a, subjectID, opts)
			return nil
		})
	}
	_ = g.Wait()

	for i, rec := range records {
		name := adapters[i].Name()
		res.Records[name] = rec
		if failures[i] != "" {
			r.report(name, failures[i], subjectID)
		}
	}

	res.Data = r.merge(subjectID, records)
	return res
}

// fetchOne resolves one provider's record: fresh cache, then network, then
// stale cache. failure is the fetch error message, set even when a stale
// entry stands in for the result.
func (r *Reconciler) fetchOne(ctx context.Context, a provider.Adapter, subjectID string, opts GatherOptions) (rec model.ProviderRecord, failure string) {
	name := a.Name()
	key := cache.Key{Subject: subjectID, Provider: name}
	log := zap.L().With(zap.String("subject", subjectID), zap.String("provider", name))

	if opts.UseCache && opts.CacheTTL > 0 {
		if payload, ok := r.cache.Get(ctx, key, opts.CacheTTL); ok {
			log.Debug("reconcile: cache hit")
			rec = model.Succeeded(name, payload)
			rec.FromCache = true
			return rec, ""
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	rec = r.safeFetch(callCtx, a, subjectID)
	cancel()
	if rec.Provider == "" {
		rec.Provider = name
	}

	if rec.OK() {
		if err := r.cache.Put(ctx, key, rec.Fields); err != nil {
			log.Warn("reconcile: cache write failed", zap.Error(err))
		}
		return rec, ""
	}

	if payload, written, ok := r.cache.GetStale(ctx, key); ok {
		log.Info("reconcile: using stale cache entry after fetch failure",
			zap.Time("written_at", written),
			zap.String("fetch_error", rec.Err),
		)
		stale := model.Succeeded(name, payload)
		stale.FetchedAt = written
		stale.FromCache = true
		stale.Stale = true
		return stale, rec.Err
	}
	return rec, rec.Err
}

func (r *Reconciler) safeFetch(ctx context.Context, a provider.Adapter, subjectID string) (rec model.ProviderRecord) {
	defer func() {
		if p := recover(); p != nil {
			rec = model.Failed(a.Name(), eris.Errorf("%s: fetch panicked: %v", a.Name(), p))
		}
	}()
	rec = a.Fetch(ctx, subjectID)
	if rec.Err == "" && rec.Fields == nil {
		rec = model.Failed(a.Name(), eris.Errorf("%s: returned no data", a.Name()))
	}
	return rec
}

func (r *Reconciler) report(providerName, msg, subjectID string) {
	if r.reporter == nil {
		return
	}
	r.reporter.Report(eris.New(msg), model.CategoryProvider, "provider."+providerName, map[string]any{
		"subject_id": subjectID,
		"provider":   providerName,
	})
}

// merge folds records into a canonical map in priority order, then
// derives scalars from series and falls back to synthetic data.
func (r *Reconciler) merge(subjectID string, records []model.ProviderRecord) model.CanonicalDataMap {
	data := model.CanonicalDataMap{}
	for _, rec := range records {
		if !rec.OK() {
			continue
		}
		normalized := model.CloneMap(rec.Fields)
		fields.Normalize(normalized)
		fill(data, normalized)
	}

	derive(data)

	if data.Has(fields.CurrentPrice) || data.Has(fields.MarketCap) {
		data[fields.DataSource] = SourceProviders
	} else {
		zap.L().Warn("reconcile: no provider supplied price or market cap, using synthetic data",
			zap.String("subject", subjectID))
		r.rngMu.Lock()
		synthesize(data, r.rng, r.nowFunc())
		r.rngMu.Unlock()
	}

	logCoverage(subjectID, data)
	return data
}

// fill copies fields from src that are absent or falsy in dst.
func fill(dst model.CanonicalDataMap, src map[string]any) {
	for k, v := range src {
		if existing, ok := dst[k]; ok && !model.IsFalsy(existing) {
			continue
		}
		if model.IsEmpty(v) {
			continue
		}
		if _, ok := dst[k]; ok && model.IsFalsy(v) {
			continue
		}
		dst[k] = model.CloneValue(v)
	}
}

var derivations = []struct {
	scalar, series string
}{
	{fields.TVL, fields.TVLHistory},
	{fields.CurrentPrice, fields.PriceHistory},
	{fields.Volume24h, fields.VolumeHistory},
}

// derive fills scalars from the latest point of their history series.
func derive(data model.CanonicalDataMap) {
	for _, d := range derivations {
		if v, ok := data[d.scalar]; ok && !model.IsFalsy(v) {
			continue
		}
		s, ok := data.Series(d.series)
		if !ok {
			continue
		}
		if p, ok := s.Latest(); ok {
			data[d.scalar] = p.Value
		}
	}
}

func logCoverage(subjectID string, data model.CanonicalDataMap) {
	var found, missing []string
	for _, f := range fields.VisualizationFields {
		if data.Has(f) {
			found = append(found, f)
		} else {
			missing = append(missing, f)
		}
	}
	log := zap.L().With(zap.String("subject", subjectID), zap.Strings("found", found))
	if len(missing) > 0 {
		log.Warn("reconcile: visualization fields missing", zap.Strings("missing", missing))
		return
	}
	log.Debug("reconcile: all visualization fields present")
}
