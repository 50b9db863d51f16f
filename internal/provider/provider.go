// Package provider adapts market-data APIs into uniform provider records.
package provider

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/coin-research/internal/model"
)

// Provider names, which double as cache keys and resolver bucket names.
const (
	CoinMarketCap = "coinmarketcap"
	CoinGecko     = "coingecko"
	DefiLlama     = "defillama"
)

// Adapter fetches one provider's view of a subject. Fetch never panics on
// upstream failure and never returns a nil-field success: failures come
// back as error records.
type Adapter interface {
	Name() string
	Fetch(ctx context.Context, subjectID string) model.ProviderRecord
}

// Status reports one adapter's registration and toggle state.
type Status struct {
	Name     string `json:"name"`
	Enabled  bool   `json:"enabled"`
	Priority int    `json:"priority"`
}

// Registry holds adapters in priority order. Registration order is merge
// priority: the first adapter registered is the primary source.
type Registry struct {
	mu       sync.RWMutex
	order    []string
	adapters map[string]Adapter
	enabled  map[string]bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
		enabled:  make(map[string]bool),
	}
}

// Register adds an adapter at the lowest priority. Registering a name twice
// replaces the adapter but keeps its position.
func (r *Registry) Register(a Adapter, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := a.Name()
	if _, exists := r.adapters[name]; !exists {
		r.order = append(r.order, name)
	}
	r.adapters[name] = a
	r.enabled[name] = enabled
}

// Get returns the adapter registered under name.
func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// Enabled returns the enabled adapters in priority order.
func (r *Registry) Enabled() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Adapter, 0, len(r.order))
	for _, name := range r.order {
		if r.enabled[name] {
			out = append(out, r.adapters[name])
		}
	}
	return out
}

// SetEnabled toggles an adapter at runtime.
func (r *Registry) SetEnabled(name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.adapters[name]; !ok {
		return eris.Errorf("provider: unknown provider %q", name)
	}
	r.enabled[name] = enabled
	return nil
}

// Statuses returns every adapter's state in priority order.
func (r *Registry) Statuses() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Status, len(r.order))
	for i, name := range r.order {
		out[i] = Status{Name: name, Enabled: r.enabled[name], Priority: i}
	}
	return out
}
