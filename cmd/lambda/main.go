package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/stefando/imageHostAWS/internal/api"
	"github.com/stefando/imageHostAWS/internal/app"
	"github.com/stefando/imageHostAWS/internal/config"
	"github.com/stefando/imageHostAWS/internal/logging"
)

func main() {
	// Load configuration from the function environment
	cfg, err := config.New()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.NewJSON(os.Stdout, cfg.Log.Level)
	slog.SetDefault(logger)

	// Initialize services once per execution environment
	a, err := app.Build(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to initialize services", "error", err)
		os.Exit(1)
	}

	// lambda.Start never returns; the runtime ends the process, so the
	// stores and publisher are not closed here
	handler := api.NewLambdaHandler(a.Router, logger)
	lambda.Start(handler.Handle)
}
