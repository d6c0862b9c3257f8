package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/maltedev/materials-scraper/internal/api"
	"github.com/maltedev/materials-scraper/internal/jobs"
	"github.com/maltedev/materials-scraper/internal/metrics"
	"github.com/maltedev/materials-scraper/internal/pipeline"
)

var servePort int

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on. Overrides server.port.")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve [--port N]",
	Short: "Serves the dataset over a read-only HTTP API, scraping on server.scrape_interval when set.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		port := cfg.Server.Port
		if servePort > 0 {
			port = servePort
		}

		svc, err := openServices(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer func() {
			// stop the relay before its redis client goes away
			cancel()
			svc.Close()
		}()

		var outbox api.OutboxStats
		if svc.relay != nil {
			outbox = svc.relay
			go func() {
				if err := svc.relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("relay stopped with error", "error", err)
				}
			}()
		}

		reg := metrics.NewRegistry()
		var handlerOpts []api.Option
		if svc.db != nil {
			handlerOpts = append(handlerOpts, api.WithRunHistory(svc.db))
		}

		if cfg.Server.ScrapeInterval > 0 {
			p, release, err := buildPipeline(cfg, logger, svc, reg, true)
			if err != nil {
				return err
			}
			defer func() {
				cancel()
				release()
			}()

			scheduler := jobs.NewScheduler(p, pipeline.Options{Simple: cfg.Storage.SimplePath != ""}, cfg.Server.ScrapeInterval, logger)
			handlerOpts = append(handlerOpts, api.WithScheduler(scheduler))
			go func() {
				if err := scheduler.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("scheduler stopped with error", "error", err)
				}
			}()
		}

		handlers := api.NewHandlers(newStore(cfg), outbox, logger, handlerOpts...)
		router := api.NewRouter(handlers, api.RouterConfig{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			Metrics:        reg.Handler(),
		})

		server := &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			logger.Info("starting server", "port", port)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("server failed: %w", err)
			}
			return nil
		case <-ctx.Done():
		}

		logger.Info("shutting down server...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		logger.Info("server stopped")
		return nil
	},
}
