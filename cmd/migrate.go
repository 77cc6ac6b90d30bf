/*
Copyright © 2026 Michael Putera Wardana <michaelputeraw@gmail.com>
*/
package cmd

import (
	"github.com/krobus00/market-collector/internal/bootstrap"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "apply the goose migrations of a configured database",
	Long: `Runs goose against migration/postgresql/<databaseName>. The market_data
database holds the symbol mappings read by the collector and the tables written
by market-data-worker.`,
	Run: bootstrap.StartMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().String("action", "up", "create|up|up-by-one|up-to|down|down-to|reset|status")
	migrateCmd.Flags().Int64("version", 0, "target version for up-to and down-to")
	migrateCmd.Flags().String("name", "", "migration name for create")
	migrateCmd.Flags().String("databaseName", "market_data", "database.<name> block to migrate")
}
