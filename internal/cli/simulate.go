package cli

import (
	"github.com/spf13/cobra"

	"crypto-alerts/internal/app"
)

var simulatePrices []string

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "以静态价格演练一次处理周期, 不执行动作也不写入存储",
	RunE: func(cmd *cobra.Command, args []string) error {
		prices, err := app.ParsePrices(simulatePrices)
		if err != nil {
			return err
		}
		return getApp().Simulate(cmd.Context(), cmd.OutOrStdout(), prices)
	},
}

func init() {
	simulateCmd.Flags().StringArrayVar(&simulatePrices, "price", nil, "模拟价格 SYMBOL=VALUE, 可重复")
}
