package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"crypto-alerts/internal/app"
)

var (
	warmCandles int
	warmNoPrune bool
)

var warmCmd = &cobra.Command{
	Use:   "warm",
	Short: "Prefetch and archive candles for every active indicator alert",
	RunE: func(cmd *cobra.Command, args []string) error {
		if warmCandles < 0 {
			return fmt.Errorf("--candles cannot be negative")
		}
		opts := app.WarmOptions{
			Candles: warmCandles,
			Prune:   !warmNoPrune,
		}
		return getApp().Warm(cmd.Context(), opts)
	},
}

func init() {
	warmCmd.Flags().IntVar(&warmCandles, "candles", 0, "Minimum candles per pair (defaults to period + history buffer)")
	warmCmd.Flags().BoolVar(&warmNoPrune, "no-prune", false, "Skip deleting candles older than market.history.retention")
}
