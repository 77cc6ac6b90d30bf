/*
Copyright © 2026 Michael Putera Wardana <michaelputeraw@gmail.com>
*/
package cmd

import (
	"github.com/krobus00/market-collector/internal/bootstrap"
	"github.com/spf13/cobra"
)

// marketDataWorkerCmd represents the marketDataWorker command
var marketDataWorkerCmd = &cobra.Command{
	Use:   "market-data-worker",
	Short: "Persist market events published by the collector",
	Long: `Consumes normalized market events from the market_event jetstream and stores
trades, tickers, book updates and connection statuses in postgres.`,
	Run: bootstrap.StartMarketDataWorker,
}

func init() {
	rootCmd.AddCommand(marketDataWorkerCmd)
}
