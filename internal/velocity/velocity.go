// Package velocity caps how many bookings one client can make in a window,
// keyed by phone number and by email address.
package velocity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/studio-booking/pkg/logging"
)

var velocityTracer = otel.Tracer("studio.internal.velocity")

type Config struct {
	// MaxBookings per phone and per email within Window.
	MaxBookings int
	Window      time.Duration
	// KeyPrefix namespaces the counters; defaults to "velocity:booking".
	KeyPrefix string
}

func DefaultConfig() Config {
	return Config{MaxBookings: 3, Window: 24 * time.Hour}
}

// Limiter is a fixed-window counter in Redis.
type Limiter struct {
	redis  redis.Cmdable
	config Config
	logger *logging.Logger
}

func NewLimiter(client redis.Cmdable, cfg Config, logger *logging.Logger) *Limiter {
	if client == nil {
		panic("velocity: redis client required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.MaxBookings <= 0 {
		cfg.MaxBookings = DefaultConfig().MaxBookings
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "velocity:booking"
	}
	return &Limiter{redis: client, config: cfg, logger: logger}
}

// Allow reports whether phone and email are both still below the limit. It
// does not count anything; call Record once the booking is stored. On a Redis
// error it returns true with the error so callers can fail open.
func (l *Limiter) Allow(ctx context.Context, phone, email string) (bool, error) {
	ctx, span := velocityTracer.Start(ctx, "velocity.allow")
	defer span.End()

	allowed := true
	for _, key := range l.keys(phone, email) {
		count, err := l.redis.Get(ctx, key).Int()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			span.RecordError(err)
			return true, fmt.Errorf("velocity: read %s: %w", key, err)
		}
		if count >= l.config.MaxBookings {
			allowed = false
			l.logger.Warn("booking velocity exceeded", "key", key, "count", count, "max", l.config.MaxBookings)
		}
	}
	span.SetAttributes(attribute.Bool("velocity.exceeded", !allowed))
	return allowed, nil
}

// Record counts one stored booking for phone and email.
func (l *Limiter) Record(ctx context.Context, phone, email string) error {
	ctx, span := velocityTracer.Start(ctx, "velocity.record")
	defer span.End()

	for _, key := range l.keys(phone, email) {
		if _, err := l.incrementAndGet(ctx, key); err != nil {
			span.RecordError(err)
			return fmt.Errorf("velocity: increment %s: %w", key, err)
		}
	}
	return nil
}

// Reset clears both counters of a client (admin use).
func (l *Limiter) Reset(ctx context.Context, phone, email string) error {
	keys := l.keys(phone, email)
	if len(keys) == 0 {
		return nil
	}
	return l.redis.Del(ctx, keys...).Err()
}

func (l *Limiter) incrementAndGet(ctx context.Context, key string) (int, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	// expiry only on the first hit so the window stays fixed
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.config.Window).Err(); err != nil {
			return 0, err
		}
	}
	return int(count), nil
}

func (l *Limiter) keys(phone, email string) []string {
	var keys []string
	if p := normalizePhone(phone); p != "" {
		keys = append(keys, l.config.KeyPrefix+":phone:"+p)
	}
	if e := strings.ToLower(strings.TrimSpace(email)); e != "" {
		keys = append(keys, l.config.KeyPrefix+":email:"+e)
	}
	return keys
}

// normalizePhone keeps digits and a leading plus.
func normalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	var b strings.Builder
	for i, r := range phone {
		if unicode.IsDigit(r) || (r == '+' && i == 0) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
