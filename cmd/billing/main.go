package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"membership_billing/internal/infra/config"
	"membership_billing/internal/infra/logger"
)

const programName = "billing"

var (
	configFile string
	appCfg     *config.AppConfig
)

func main() {
	rootCmd := &cobra.Command{
		Use:           programName,
		Short:         "Membership billing cycles, bills and payment reminders",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to YAML config file")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		logger.Init(cfg.LogLevel, cfg.Environment)
		logger.Log.WithFields(logrus.Fields{
			"environment": cfg.Environment,
			"command":     cmd.Name(),
		}).Info("Configuration loaded.")
		appCfg = cfg
		return nil
	}

	rootCmd.AddCommand(runCommand())
	rootCmd.AddCommand(serveCommand())
	rootCmd.AddCommand(importPaymentsCommand())
	rootCmd.AddCommand(migrateCommand())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}
}
