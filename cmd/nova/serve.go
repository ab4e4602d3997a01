package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kailas-cloud/nova/internal/config"
	logpkg "github.com/kailas-cloud/nova/internal/logger"
	"github.com/kailas-cloud/nova/internal/metrics"
	chiTransport "github.com/kailas-cloud/nova/internal/transport/chi"
	"github.com/kailas-cloud/nova/internal/version"
)

func newServeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the configured named queries over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return serve(cmd.Context(), opts.Env, cfg)
		},
	}
}

func serve(ctx context.Context, env string, cfg config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting nova server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("db_driver", cfg.Database.Driver),
		zap.String("cache_driver", cfg.Cache.Driver),
	)

	// Register metrics explicitly (no init())
	metrics.RegisterQueryMetrics()

	rt, err := newRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())

	logger.Info("Named queries registered",
		zap.Strings("collections", rt.registry.Names()),
		zap.Strings("queries", rt.queries.Names()),
		zap.Strings("methods", rt.methods.Methods()),
	)

	server := chiTransport.NewServer(rt.methods, rt.checks, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(wideEventMiddleware(logger))
	r.Use(metrics.Middleware(rt.methods))
	server.Routes(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	case <-quit:
		logger.Info("Received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
	return nil
}
