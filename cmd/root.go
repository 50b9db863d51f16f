package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/coin-research/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "coin-research",
	Short: "Automated cryptocurrency research reports",
	Long:  "Gathers market data from CoinMarketCap, CoinGecko and DeFiLlama, researches each report section, drafts and edits the report with Claude and publishes markdown with a data appendix.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
