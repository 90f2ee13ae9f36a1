package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/wolfman30/studio-booking/cmd/mainconfig"
	"github.com/wolfman30/studio-booking/internal/api/router"
	"github.com/wolfman30/studio-booking/internal/app/bootstrap"
	"github.com/wolfman30/studio-booking/internal/booking"
	appconfig "github.com/wolfman30/studio-booking/internal/config"
	"github.com/wolfman30/studio-booking/internal/mirror"
	"github.com/wolfman30/studio-booking/internal/observability/tracing"
	"github.com/wolfman30/studio-booking/pkg/logging"
)

func main() {
	cfg := mainconfig.LoadConfig()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting studio-booking API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		Enabled:      cfg.OTelEnabled,
		ServiceName:  "studio-booking-api",
		OTLPEndpoint: cfg.OTelEndpoint,
		SampleRatio:  cfg.OTelSamplingRatio,
	})
	if err != nil {
		logger.Error("failed to set up tracing", "error", err)
		os.Exit(1)
	}

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	app, err := bootstrap.Build(ctx, cfg, awsCfg, prometheus.DefaultRegisterer, logger)
	if err != nil {
		logger.Error("failed to build booking runtime", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	stopMirrorWorker := startLocalMirrorWorker(ctx, cfg, app, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newHandler(cfg, app, prometheus.DefaultGatherer, logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	stopMirrorWorker()
	cancel()
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown failed", "error", err)
	}
	logger.Info("server stopped")
}

// startLocalMirrorWorker drains an in-memory retry queue, which only this
// process can see. The returned func stops the worker and waits for it.
func startLocalMirrorWorker(ctx context.Context, cfg *appconfig.Config, app *bootstrap.App, logger *logging.Logger) func() {
	if cfg.MirrorQueueURL != "" {
		return func() {}
	}
	worker := app.NewMirrorWorker(logger)
	if worker == nil {
		return func() {}
	}
	workerCtx, cancel := context.WithCancel(ctx)
	worker.Start(workerCtx)
	return func() {
		cancel()
		worker.Wait()
		if q, ok := app.Queue.(*mirror.MemoryQueue); ok {
			if pending := q.Len() + q.Delayed(); pending > 0 {
				logger.Warn("dropping in-memory mirror jobs on shutdown", "pending", pending)
			}
		}
		logger.Info("mirror worker stopped")
	}
}

func newHandler(cfg *appconfig.Config, app *bootstrap.App, gatherer prometheus.Gatherer, logger *logging.Logger) http.Handler {
	r := router.New(&router.Config{
		Logger:             logger,
		Booking:            booking.NewHandler(app.Service, gatherer, logger),
		Callable:           booking.NewCallable(app.Service, logger),
		AdminAuthSecret:    cfg.AdminJWTSecret,
		MetricsHandler:     promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}),
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimitPerSecond: cfg.RateLimitRPS,
		RateLimitBurst:     cfg.RateLimitBurst,
		HealthCheck:        app.HealthCheck,
	})
	return otelhttp.NewHandler(r, "studio-booking-api")
}
