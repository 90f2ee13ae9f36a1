package bootstrap

import (
	"context"
	"crypto/tls"
	"strings"

	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/studio-booking/internal/config"
	"github.com/wolfman30/studio-booking/internal/velocity"
	"github.com/wolfman30/studio-booking/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available; booking velocity checks disabled", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildVelocityLimiter returns nil when Redis is unavailable or the limit is
// switched off with BOOKING_VELOCITY_MAX=0.
func BuildVelocityLimiter(client redis.Cmdable, cfg *appconfig.Config, logger *logging.Logger) *velocity.Limiter {
	if client == nil || cfg == nil || cfg.BookingVelocityMax <= 0 {
		return nil
	}
	return velocity.NewLimiter(client, velocity.Config{
		MaxBookings: cfg.BookingVelocityMax,
		Window:      cfg.BookingVelocityWindow,
	}, logger)
}
