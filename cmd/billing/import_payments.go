package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"membership_billing/internal/app"
)

func importPaymentsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import-payments FILE",
		Short: "Import a semicolon-separated bank ledger export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := buildServices(cmd.Context(), appCfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			importer, err := app.NewPaymentImporter(svc.billingRepo, appCfg.CSVEncoding, svc.log)
			if err != nil {
				return err
			}

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open ledger: %w", err)
			}
			defer f.Close()

			summary, err := importer.Import(cmd.Context(), f)
			if err != nil {
				return err
			}
			fmt.Printf("rows: %d, imported: %d, duplicates: %d, skipped: %d, cycles paid: %d\n",
				summary.Rows, summary.Imported, summary.Duplicates, summary.Skipped, summary.CyclesPaid)
			return nil
		},
	}
}
