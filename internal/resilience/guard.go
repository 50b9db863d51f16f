package resilience

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Guard combines a retry policy with per-provider circuit breakers.
// Each retry attempt passes through the provider's breaker, so an open
// circuit ends the retry loop immediately.
type Guard struct {
	Retry    RetryConfig
	Breakers *Breakers
}

// NewGuard builds a Guard from the given policies.
func NewGuard(retry RetryConfig, circuit CircuitBreakerConfig) *Guard {
	return &Guard{Retry: retry, Breakers: NewBreakers(circuit)}
}

// Call runs fn for provider under the guard's retry and breaker policies.
func Call[T any](ctx context.Context, g *Guard, provider string, fn func(ctx context.Context) (T, error)) (T, error) {
	if g == nil {
		return fn(ctx)
	}

	cb := g.Breakers.Get(provider)
	retry := g.Retry
	if retry.OnRetry == nil {
		retry.OnRetry = RetryLogger(provider)
	}
	shouldRetry := retry.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = IsTransient
	}
	retry.ShouldRetry = func(err error) bool {
		return !errors.Is(err, ErrCircuitOpen) && shouldRetry(err)
	}

	val, err := DoVal(ctx, retry, func(ctx context.Context) (T, error) {
		return ExecuteVal(ctx, cb, fn)
	})
	if errors.Is(err, ErrCircuitOpen) {
		zap.L().Debug("provider circuit open, skipping call", zap.String("provider", provider))
	}
	return val, err
}
