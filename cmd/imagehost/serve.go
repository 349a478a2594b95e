package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/stefando/imageHostAWS/internal/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and run the pending-record reaper",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := app.Build(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		server := &http.Server{
			Addr:         net.JoinHostPort("", cfg.HTTP.Port),
			Handler:      a.Router,
			ReadTimeout:  cfg.HTTP.ReadTimeout,
			WriteTimeout: cfg.HTTP.WriteTimeout,
		}

		if cfg.Reaper.Enabled {
			if err := a.Reaper.Start(ctx); err != nil {
				return fmt.Errorf("failed to start reaper: %w", err)
			}
		}

		eg, ctx := errgroup.WithContext(ctx)
		eg.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
			defer cancel()

			logger.Info("shutting down")
			return errors.Join(server.Shutdown(shutdownCtx), a.Reaper.Shutdown(shutdownCtx))
		})

		eg.Go(func() error {
			logger.Info("starting HTTP server", "port", cfg.HTTP.Port, "reaper", cfg.Reaper.Enabled)
			err := server.ListenAndServe()
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})

		return eg.Wait()
	},
}
