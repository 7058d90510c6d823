package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/prism-data/prism/internal/api"
	"github.com/prism-data/prism/internal/audit"
	"github.com/prism-data/prism/internal/config"
	"github.com/prism-data/prism/internal/domain/changesets"
	"github.com/prism-data/prism/internal/domain/resources"
	"github.com/prism-data/prism/internal/jobs"
	"github.com/prism-data/prism/internal/registry"
	"github.com/prism-data/prism/internal/storage/postgres"
	"github.com/prism-data/prism/internal/telemetry"
)

var (
	serverHost string
	serverPort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the prism HTTP server",
	Long: `Start the prism HTTP server and begin accepting API requests.

The server loads the type catalog, connects to PostgreSQL, starts the
scheduled re-save workers and handles graceful shutdown on SIGINT/SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func init() {
	serveCmd.Flags().StringVar(&serverHost, "host", "", "server host address (default: 0.0.0.0)")
	serveCmd.Flags().IntVar(&serverPort, "port", 0, "server port (default: 8080)")
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if serverHost != "" {
		cfg.Server.Host = serverHost
	}
	if serverPort != 0 {
		cfg.Server.Port = serverPort
	}

	logger := config.NewLogger(cfg.Logging)
	logger.Info().Msg("starting prism server")

	tracingShutdown, err := telemetry.InitTracing(context.Background(), cfg.Tracing, Version)
	if err != nil {
		return fmt.Errorf("tracing init failed: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := tracingShutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("tracing shutdown error")
		}
	}()

	reg, err := registry.LoadFile(cfg.Catalog.Path, registry.Hooks{})
	if err != nil {
		return fmt.Errorf("load catalog %s: %w", cfg.Catalog.Path, err)
	}
	logger.Info().Str("catalog", cfg.Catalog.Path).Int("types", len(reg.Types())).Msg("catalog loaded")

	poolCtx, poolCancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := pgxpool.New(poolCtx, cfg.Database.URL)
	poolCancel()
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer pool.Close()

	store, err := postgres.NewStore(pool)
	if err != nil {
		return err
	}

	workers := river.NewWorkers()
	riverClient, err := jobs.NewClient(pool, workers, slog.New(slog.NewJSONHandler(os.Stdout, nil)),
		cfg.Jobs.ResaveWorkers, cfg.Jobs.ResaveRetries)
	if err != nil {
		return fmt.Errorf("river client init failed: %w", err)
	}

	sink := audit.NewSink(logger)
	scheduler := jobs.NewRiverScheduler(riverClient)
	regen := resources.NewRegenerator(reg, sink, scheduler)
	resourcesSvc := resources.NewService(store, regen, nil)
	changesetsSvc := changesets.NewService(store, reg, regen, nil, sink, scheduler)

	river.AddWorker(workers, jobs.NewResaveWorker(resourcesSvc, logger))
	river.AddWorker(workers, jobs.NewPerformWorker(changesetsSvc, logger))

	riverCtx, riverCancel := context.WithCancel(context.Background())
	defer riverCancel()
	if err := riverClient.Start(riverCtx); err != nil {
		return fmt.Errorf("river workers failed to start: %w", err)
	}
	logger.Info().Msg("resave workers started")
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		if err := riverClient.Stop(stopCtx); err != nil {
			logger.Error().Err(err).Msg("river workers shutdown error")
		}
	}()

	server := &http.Server{
		Addr: fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: api.NewRouter(api.Deps{
			Resources:   resourcesSvc,
			Changesets:  changesetsSvc,
			Pool:        pool,
			Environment: cfg.Environment,
		}, logger),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		logger.Info().Str("addr", server.Addr).Msg("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server error")
		}
	}()

	return gracefulShutdown(server, logger)
}

func gracefulShutdown(server *http.Server, logger zerolog.Logger) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info().Str("signal", sig.String()).Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}
