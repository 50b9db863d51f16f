package main

import (
	"fmt"
	"io"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/coin-research/internal/cache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the provider response cache",
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete cached provider payloads older than a given age",
	RunE: func(cmd *cobra.Command, _ []string) error {
		maxAge, _ := cmd.Flags().GetDuration("older-than")
		if maxAge <= 0 {
			maxAge = cfg.Cache.TTL()
		}

		c, err := cache.New(cfg.Cache)
		if err != nil {
			return eris.Wrap(err, "open cache")
		}
		if closer, ok := c.(io.Closer); ok {
			defer closer.Close() //nolint:errcheck
		}

		removed, err := c.Prune(cmd.Context(), maxAge)
		if err != nil {
			return eris.Wrap(err, "cache prune")
		}

		zap.L().Info("cache pruned",
			zap.String("driver", cfg.Cache.Driver),
			zap.Duration("older_than", maxAge),
			zap.Int("removed", removed),
		)
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Removed %d cache entries older than %s.\n", removed, maxAge.Round(time.Second))
		return nil
	},
}

func init() {
	cachePruneCmd.Flags().Duration("older-than", 0, "maximum entry age to keep (default cache.ttl_secs)")
	cacheCmd.AddCommand(cachePruneCmd)
	rootCmd.AddCommand(cacheCmd)
}
