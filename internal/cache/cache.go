// Package cache stores provider payloads per (subject, provider) with a
// time-to-live. Entries older than the TTL read as absent.
package cache

import (
	"context"
	"strings"
	"time"
	"unicode"

	"github.com/rotisserie/eris"

	"github.com/sells-group/coin-research/internal/config"
)

// Key identifies one cache entry.
type Key struct {
	Subject  string
	Provider string
}

// Cache is the provider payload cache.
type Cache interface {
	// Get returns the payload if it was written less than ttl ago.
	Get(ctx context.Context, key Key, ttl time.Duration) (map[string]any, bool)
	// GetStale returns the payload regardless of age, with its write time.
	GetStale(ctx context.Context, key Key) (map[string]any, time.Time, bool)
	// Put replaces the payload for key.
	Put(ctx context.Context, key Key, payload map[string]any) error
	// Prune removes entries older than maxAge and returns how many went.
	Prune(ctx context.Context, maxAge time.Duration) (int, error)
}

// New returns the cache selected by cfg.Driver.
func New(cfg config.CacheConfig) (Cache, error) {
	switch cfg.Driver {
	case "", "file":
		return NewFileCache(cfg.Dir)
	case "sqlite":
		return NewSQLiteCache(cfg.DSN)
	case "none":
		return Disabled{}, nil
	default:
		return nil, eris.Errorf("cache: unknown driver %q", cfg.Driver)
	}
}

// Disabled is a cache that never holds anything.
type Disabled struct{}

func (Disabled) Get(context.Context, Key, time.Duration) (map[string]any, bool) { return nil, false }

func (Disabled) GetStale(context.Context, Key) (map[string]any, time.Time, bool) {
	return nil, time.Time{}, false
}

func (Disabled) Put(context.Context, Key, map[string]any) error { return nil }

func (Disabled) Prune(context.Context, time.Duration) (int, error) { return 0, nil }

// fresh reports whether an entry written at written is still inside ttl.
func fresh(now, written time.Time, ttl time.Duration) bool {
	return now.Sub(written) < ttl
}

// slug turns a subject name into a filesystem-safe token.
func slug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '.' {
			return r
		}
		return '_'
	}, s)
}
