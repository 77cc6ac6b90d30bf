/*
Copyright © 2026 Michael Putera Wardana <michaelputeraw@gmail.com>
*/
package cmd

import (
	"github.com/krobus00/market-collector/internal/bootstrap"
	"github.com/spf13/cobra"
)

// coinbaseTokenCmd represents the coinbase-token command
var coinbaseTokenCmd = &cobra.Command{
	Use:   "coinbase-token",
	Short: "Print a signed coinbase CDP jwt",
	Long:  `Signs a short-lived ES256 jwt with the coinbase key from config or a key file and prints it.`,
	Run:   bootstrap.PrintCoinbaseToken,
}

func init() {
	rootCmd.AddCommand(coinbaseTokenCmd)
	coinbaseTokenCmd.Flags().String("exchange", "coinbase", "exchange whose credential section holds the key")
	coinbaseTokenCmd.Flags().String("uri", "", "request uri claim, e.g. \"GET api.coinbase.com/api/v3/brokerage/accounts\"")
	coinbaseTokenCmd.Flags().String("keyFile", "", "path to a cdp_api_key.json file")
}
