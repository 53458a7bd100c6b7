package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"crypto-alerts/internal/alert"
	"crypto-alerts/internal/app"
)

var (
	chartSymbol    string
	chartTimeframe string
	chartPeriod    int
	chartCandles   int
	chartPNGPath   string
	chartCSVPath   string
)

var chartCmd = &cobra.Command{
	Use:   "chart",
	Short: "Export closes and RSI as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		tf, err := alert.ParseTimeframe(chartTimeframe)
		if err != nil {
			return err
		}
		opts := app.ChartOptions{
			Symbol:    strings.ToUpper(strings.TrimSpace(chartSymbol)),
			Timeframe: tf,
			Period:    chartPeriod,
			Candles:   chartCandles,
			PNGPath:   chartPNGPath,
			CSVPath:   chartCSVPath,
		}
		return getApp().Chart(cmd.Context(), opts)
	},
}

func init() {
	chartCmd.Flags().StringVar(&chartSymbol, "symbol", "", "Base symbol, e.g. BTC")
	chartCmd.Flags().StringVar(&chartTimeframe, "timeframe", "1h", "Candle timeframe (1m|5m|15m|1h|4h|1d)")
	chartCmd.Flags().IntVar(&chartPeriod, "period", 14, "RSI period")
	chartCmd.Flags().IntVar(&chartCandles, "candles", 0, "Number of candles (defaults to config)")
	chartCmd.Flags().StringVar(&chartPNGPath, "png", "", "Path to write PNG chart")
	chartCmd.Flags().StringVar(&chartCSVPath, "csv", "", "Path to write CSV data")
}
