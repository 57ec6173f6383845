package main

import (
	"github.com/spf13/cobra"

	idb "membership_billing/internal/infra/database"
	"membership_billing/internal/infra/logger"
)

func migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDatabase(cmd.Context(), appCfg)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := idb.Migrate(cmd.Context(), db); err != nil {
				return err
			}
			logger.Log.Info("Schema applied.")
			return nil
		},
	}
}
