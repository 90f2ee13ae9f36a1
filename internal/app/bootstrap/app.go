package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/studio-booking/internal/booking"
	appconfig "github.com/wolfman30/studio-booking/internal/config"
	"github.com/wolfman30/studio-booking/internal/mirror"
	"github.com/wolfman30/studio-booking/internal/observability/metrics"
	"github.com/wolfman30/studio-booking/pkg/logging"
)

// App is the fully wired booking runtime shared by the binaries.
type App struct {
	Settings  booking.Settings
	Service   *booking.Service
	Store     *Store
	Calendars Calendars
	Queue     mirror.Queue
	Metrics   *metrics.BookingMetrics
	Redis     *redis.Client
}

// Build wires every dependency from configuration. reg receives the booking
// metrics; pass prometheus.DefaultRegisterer in binaries.
func Build(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, reg prometheus.Registerer, logger *logging.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	settings, err := cfg.Scheduling()
	if err != nil {
		return nil, err
	}
	m := metrics.NewBookingMetrics(reg)

	store, err := BuildReservationStore(ctx, cfg, awsCfg, logger)
	if err != nil {
		return nil, err
	}
	cals, err := BuildCalendars(ctx, cfg, settings.Location, m, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	email, err := BuildEmailSender(cfg, awsCfg, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	queue := BuildMirrorQueue(cfg, awsCfg, logger)
	redisClient := BuildRedisClient(ctx, cfg, logger, true)

	opts := booking.Options{
		Store:    store,
		Busy:     cals.Busy,
		Mirror:   cals.Mirror,
		Failures: mirror.NewRecorder(queue, logger),
		Notifier: BuildNotifier(cfg, email, settings.Location, logger),
		Metrics:  m,
		Logger:   logger,
	}
	// Typed nils must not reach the interface fields.
	if limiter := BuildVelocityLimiter(redisClient, cfg, logger); limiter != nil {
		opts.Velocity = limiter
	}
	if archiver := BuildArchiver(cfg, awsCfg, logger); archiver != nil {
		opts.Archiver = archiver
	}

	svc, err := booking.NewService(settings, opts)
	if err != nil {
		store.Close()
		return nil, err
	}
	logger.Info("booking runtime ready",
		"store", store.Driver,
		"busy_source", cfg.BusySource,
		"mirror", cals.Mirror != nil,
		"email", cfg.EmailProvider,
		"velocity", opts.Velocity != nil,
		"archive", opts.Archiver != nil,
	)
	return &App{
		Settings:  settings,
		Service:   svc,
		Store:     store,
		Calendars: cals,
		Queue:     queue,
		Metrics:   m,
		Redis:     redisClient,
	}, nil
}

// NewMirrorWorker builds the retry worker, or nil when no mirror is configured.
func (a *App) NewMirrorWorker(logger *logging.Logger, opts ...mirror.WorkerOption) *mirror.Worker {
	if a.Calendars.Mirror == nil {
		return nil
	}
	return mirror.NewWorker(a.Queue, a.Calendars.Mirror, a.Store, a.Metrics, logger, opts...)
}

// HealthCheck probes the store and Redis.
func (a *App) HealthCheck(ctx context.Context) error {
	var errs []error
	if a.Store.Ping != nil {
		if err := a.Store.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("store: %w", err))
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Close releases connections.
func (a *App) Close() {
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	a.Store.Close()
}
