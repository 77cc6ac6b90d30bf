/*
Copyright © 2026 Michael Putera Wardana <michaelputeraw@gmail.com>
*/
package cmd

import (
	"github.com/krobus00/market-collector/internal/bootstrap"
	"github.com/spf13/cobra"
)

// collectorCmd represents the collector command
var collectorCmd = &cobra.Command{
	Use:   "collector",
	Short: "Stream normalized market data from the configured exchanges",
	Long: `Connects to every enabled exchange, keeps the sessions authenticated and subscribed,
normalizes book updates, trades and tickers into one event shape and fans them out to the
configured sinks (log, jetstream, redis, kafka).`,
	Run: bootstrap.StartCollector,
}

func init() {
	rootCmd.AddCommand(collectorCmd)
}
