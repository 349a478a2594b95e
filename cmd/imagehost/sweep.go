package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stefando/imageHostAWS/internal/app"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one reconciliation pass over stale pending records and print the report",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}

		a, err := app.Build(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.Reaper.RunOnce(cmd.Context())
		if err != nil {
			return fmt.Errorf("sweep failed: %w", err)
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}
