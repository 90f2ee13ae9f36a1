package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wolfman30/studio-booking/cmd/mainconfig"
	"github.com/wolfman30/studio-booking/internal/app/bootstrap"
	"github.com/wolfman30/studio-booking/internal/mirror"
	"github.com/wolfman30/studio-booking/internal/observability/tracing"
	"github.com/wolfman30/studio-booking/pkg/logging"
)

func main() {
	cfg := mainconfig.LoadConfig()
	logger := logging.New(cfg.LogLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.MirrorQueueURL == "" || cfg.GoogleCalendarID == "" {
		logger.Error("mirror worker requires MIRROR_QUEUE_URL and GOOGLE_CALENDAR_ID")
		os.Exit(1)
	}

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		Enabled:      cfg.OTelEnabled,
		ServiceName:  "studio-booking-mirror-worker",
		OTLPEndpoint: cfg.OTelEndpoint,
		SampleRatio:  cfg.OTelSamplingRatio,
	})
	if err != nil {
		logger.Error("failed to set up tracing", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

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

	worker := app.NewMirrorWorker(logger,
		mirror.WithWorkerCount(2),
		mirror.WithReceiveWaitSeconds(20),
	)
	worker.Start(ctx)
	logger.Info("mirror worker running", "queue", cfg.MirrorQueueURL)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("mirror worker shutting down")
	cancel()
	worker.Wait()
}
