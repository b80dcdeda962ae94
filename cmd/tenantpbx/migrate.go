package main

import (
	"github.com/spf13/cobra"

	"github.com/flowpbx/tenantpbx/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create and/or upgrade the database schema",
	Long: `Create and/or upgrade the database schema.

Applies all pending migrations for the configured driver. serve does the
same on startup; this command is for deployments that migrate separately.

Example:
  tenantpbx migrate --db-driver pgx --db-dsn postgres://pbx@db/pbx`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		db, err := database.Open(database.Options{
			Driver:   cfg.DBDriver,
			DSN:      cfg.DBDSN,
			MaxConns: 1,
		})
		if err != nil {
			return err
		}
		defer db.Close()
		logger.Info("schema up to date", "driver", cfg.DBDriver)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
