package main

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/coin-research/internal/cache"
	"github.com/sells-group/coin-research/internal/config"
)

func TestCachePrune_RemovesOldEntries(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg = &config.Config{Cache: config.CacheConfig{Driver: "file", Dir: dir, TTLSecs: 3600}}

	fc, err := cache.NewFileCache(dir)
	require.NoError(t, err)
	oldKey := cache.Key{Subject: "bitcoin", Provider: "coingecko"}
	newKey := cache.Key{Subject: "bitcoin", Provider: "defillama"}
	require.NoError(t, fc.Put(ctx, oldKey, map[string]any{"current_price": 65000.0}))
	require.NoError(t, fc.Put(ctx, newKey, map[string]any{"tvl": 1.0}))

	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(fc.Path(oldKey), old, old))

	var out bytes.Buffer
	cachePruneCmd.SetOut(&out)
	cachePruneCmd.SetContext(ctx)
	t.Cleanup(func() { cachePruneCmd.SetOut(nil) })
	require.NoError(t, cachePruneCmd.Flags().Set("older-than", "24h"))
	t.Cleanup(func() { _ = cachePruneCmd.Flags().Set("older-than", "0s") })

	require.NoError(t, cachePruneCmd.RunE(cachePruneCmd, nil))
	assert.Equal(t, "Removed 1 cache entries older than 24h0m0s.\n", out.String())

	_, _, ok := fc.GetStale(ctx, oldKey)
	assert.False(t, ok)
	_, _, ok = fc.GetStale(ctx, newKey)
	assert.True(t, ok)
}

func TestCachePrune_DefaultsToTTL(t *testing.T) {
	cfg = &config.Config{Cache: config.CacheConfig{Driver: "none", TTLSecs: 7200}}

	var out bytes.Buffer
	cachePruneCmd.SetOut(&out)
	cachePruneCmd.SetContext(context.Background())
	t.Cleanup(func() { cachePruneCmd.SetOut(nil) })

	require.NoError(t, cachePruneCmd.RunE(cachePruneCmd, nil))
	assert.Equal(t, "Removed 0 cache entries older than 2h0m0s.\n", out.String())
}
