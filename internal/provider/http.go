package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/coin-research/internal/model"
	"github.com/sells-group/coin-research/internal/resilience"
)

// adaptiveLimiter paces requests to one provider. A 429 halves the rate
// down to a quarter of the initial rate; successes creep back up to it.
type adaptiveLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	initial rate.Limit
	current rate.Limit
}

func newAdaptiveLimiter(perSec float64) *adaptiveLimiter {
	if perSec <= 0 {
		return nil
	}
	lim := rate.Limit(perSec)
	return &adaptiveLimiter{limiter: rate.NewLimiter(lim, 1), initial: lim, current: lim}
}

func (a *adaptiveLimiter) wait(ctx context.Context) error {
	if a == nil {
		return nil
	}
	return a.limiter.Wait(ctx)
}

func (a *adaptiveLimiter) onSuccess() {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current >= a.initial {
		return
	}
	a.current = min(a.current*1.2, a.initial)
	a.limiter.SetLimit(a.current)
}

func (a *adaptiveLimiter) onRateLimit(provider string) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.current = max(a.current*0.5, a.initial/4)
	a.limiter.SetLimit(a.current)
	zap.L().Warn("provider rate limited, slowing down",
		zap.String("provider", provider),
		zap.Float64("rate_per_sec", float64(a.current)),
	)
}

// Option configures an adapter.
type Option func(*client)

// WithBaseURL overrides the API base URL.
func WithBaseURL(u string) Option {
	return func(c *client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient overrides the http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) { c.http = hc }
}

// WithRate limits requests to perSec. Zero disables limiting.
func WithRate(perSec float64) Option {
	return func(c *client) { c.limiter = newAdaptiveLimiter(perSec) }
}

// WithGuard routes calls through retry and circuit breaker policies.
func WithGuard(g *resilience.Guard) Option {
	return func(c *client) { c.guard = g }
}

// client is the JSON-over-HTTP plumbing shared by adapters.
type client struct {
	name    string
	baseURL string
	headers map[string]string
	http    *http.Client
	limiter *adaptiveLimiter
	guard   *resilience.Guard
}

func newClient(name, baseURL string, opts []Option) *client {
	c := &client{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		headers: map[string]string{"Accept": "application/json"},
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// getJSON issues GET baseURL+path and decodes the body into out.
func (c *client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	if err := c.limiter.wait(ctx); err != nil {
		return eris.Wrapf(err, "%s: rate limit wait", c.name)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return eris.Wrapf(err, "%s: create request", c.name)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrapf(err, "%s: send request", c.name)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrapf(err, "%s: read response", c.name)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		c.limiter.onRateLimit(c.name)
	}
	if resp.StatusCode != http.StatusOK {
		return resilience.StatusError(c.name, resp.StatusCode, body)
	}
	c.limiter.onSuccess()

	if err := json.Unmarshal(body, out); err != nil {
		return eris.Wrapf(err, "%s: decode response", c.name)
	}
	return nil
}

// record runs fn under the guard and turns the outcome into a provider
// record. A panic inside fn becomes an error record.
func (c *client) record(ctx context.Context, fn func(ctx context.Context) (map[string]any, error)) (rec model.ProviderRecord) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("provider adapter panicked", zap.String("provider", c.name), zap.Any("panic", r))
			rec = model.Failed(c.name, eris.Errorf("%s: adapter panic: %v", c.name, r))
		}
	}()

	fields, err := resilience.Call(ctx, c.guard, c.name, fn)
	if err != nil {
		zap.L().Warn("provider fetch failed", zap.String("provider", c.name), zap.Error(err))
		return model.Failed(c.name, err)
	}
	return model.Succeeded(c.name, fields)
}
