package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/joshwilsdon-forks/sdc-napi/internal/api"
	"github.com/joshwilsdon-forks/sdc-napi/internal/config"
	"github.com/joshwilsdon-forks/sdc-napi/internal/nic"
	"github.com/joshwilsdon-forks/sdc-napi/internal/observability"
)

func main() {
	logCfg := observability.ConfigFromEnv()
	logger := observability.NewLogger(logCfg)

	cfgPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.Error("configuration error", "error", err)
		os.Exit(1)
	}

	sentryEnabled := false
	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Environment:      envOr("SENTRY_ENVIRONMENT", "production"),
			Release:          envOr("APP_VERSION", "dev"),
			TracesSampleRate: 1.0,
			AttachStacktrace: true,
		})
		if err != nil {
			logger.Warn("sentry initialization failed", "error", err)
		} else {
			sentryEnabled = true
			logger.Info("sentry initialized")
		}
	}

	// Select storage based on build tags (see store_*.go in this package).
	store := selectStore(logger, cfg)

	// Create the topology buckets up front so first requests don't race
	// bucket creation.
	if err := nic.Init(context.Background(), store); err != nil {
		logger.Error("bucket initialization failed", "error", err)
		os.Exit(1)
	}

	metrics := observability.NewMetrics("napi")

	rateCfg := api.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		Burst:             cfg.RateLimitBurst,
	}
	if rateCfg.Enabled() {
		logger.Info("rate limiting configured",
			"requests_per_second", rateCfg.RequestsPerSecond,
			"burst", rateCfg.Burst,
		)
	} else {
		logger.Info("rate limiting disabled")
	}

	mux := http.NewServeMux()
	srv := api.NewServer(mux, store, logger, metrics)
	srv.RegisterRoutes()

	handler := api.ApplyMiddlewares(
		mux,
		api.RequestIDMiddleware(),
		api.LoggingMiddleware(logger, metrics),
		api.RateLimitMiddleware(rateCfg, logger),
	)
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.RequestTimeout,
		IdleTimeout:       60 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("napid listening", "addr", cfg.ListenAddr)
		serverErrors <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
		}
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	if err := store.Close(); err != nil {
		logger.Error("error closing store", "error", err)
	}

	if sentryEnabled {
		sentry.Flush(2 * time.Second)
	}
	logger.Info("shutdown complete")
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
