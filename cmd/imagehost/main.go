// Command imagehost runs the image metadata API as a standalone HTTP server.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/stefando/imageHostAWS/internal/config"
	"github.com/stefando/imageHostAWS/internal/logging"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:           "imagehost",
	Short:         "Image hosting metadata API",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, sweepCmd)
}

// loadConfig reads the configuration and installs the default logger.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, nil, err
	}
	logger := logging.New(os.Stderr, cfg.Log.Level)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("failed to execute command", "error", err)
		os.Exit(1)
	}
}
