package cli

import (
	"github.com/spf13/cobra"

	"crypto-alerts/internal/app"
)

var (
	listType    string
	listSymbol  string
	listEnabled string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ListOptions{
			Type:    listType,
			Symbol:  listSymbol,
			Enabled: listEnabled,
		}
		return getApp().List(cmd.Context(), cmd.OutOrStdout(), opts)
	},
}

var rearmCmd = &cobra.Command{
	Use:   "rearm <alert-id>",
	Short: "Clear the fired state of an alert so it is evaluated again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Rearm(cmd.Context(), cmd.OutOrStdout(), args[0])
	},
}

func init() {
	listCmd.Flags().StringVar(&listType, "type", "", "Filter by alert type (price|indicator)")
	listCmd.Flags().StringVar(&listSymbol, "symbol", "", "Filter by symbol")
	listCmd.Flags().StringVar(&listEnabled, "enabled", "", "Filter by enabled state (true|false)")
}
