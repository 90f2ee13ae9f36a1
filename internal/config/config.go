package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/wolfman30/studio-booking/internal/booking"
	"github.com/wolfman30/studio-booking/internal/scheduling"
)

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	// Scheduling rules
	WorkStartHour          int
	WorkEndHour            int
	SlotGranularityMinutes int
	ServiceDurationMinutes int
	BufferBeforeMinutes    int
	BufferAfterMinutes     int
	CalendarTimezone       string
	DefaultServiceName     string
	StudioLocation         string

	// Reservation store
	StoreDriver             string
	DatabaseURL             string
	ReservationsTable       string
	FirebaseProjectID       string
	FirebaseCredentialsFile string

	// External calendars
	BusySource            string
	GoogleCalendarID      string
	GoogleCredentialsFile string
	ICalFeedURL           string
	MirrorQueueURL        string

	RedisAddr             string
	RedisPassword         string
	RedisTLS              bool
	BookingVelocityMax    int
	BookingVelocityWindow time.Duration

	// Email
	EmailProvider  string
	SendGridAPIKey string
	EmailFrom      string
	EmailFromName  string
	OwnerEmail     string

	ArchiveBucket      string
	ArchiveRedact      bool
	AdminJWTSecret     string
	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	OTelEnabled       bool
	OTelEndpoint      string
	OTelSamplingRatio float64
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		WorkStartHour:          getEnvAsInt("WORK_START_HOUR", 9),
		WorkEndHour:            getEnvAsInt("WORK_END_HOUR", 17),
		SlotGranularityMinutes: getEnvAsInt("SLOT_GRANULARITY_MINUTES", 60),
		ServiceDurationMinutes: getEnvAsInt("SERVICE_DURATION_MINUTES", 240),
		BufferBeforeMinutes:    getEnvAsInt("BUFFER_BEFORE_MINUTES", 300),
		BufferAfterMinutes:     getEnvAsInt("BUFFER_AFTER_MINUTES", 60),
		CalendarTimezone:       getEnv("CALENDAR_TIMEZONE", "Europe/Prague"),
		DefaultServiceName:     getEnv("DEFAULT_SERVICE_NAME", "Manikúra"),
		StudioLocation:         getEnv("STUDIO_LOCATION", "Nail Studio"),

		StoreDriver:             strings.ToLower(strings.TrimSpace(getEnv("STORE_DRIVER", "memory"))),
		DatabaseURL:             getEnv("DATABASE_URL", ""),
		ReservationsTable:       getEnv("RESERVATIONS_TABLE", "reservations"),
		FirebaseProjectID:       getEnv("FIREBASE_PROJECT_ID", ""),
		FirebaseCredentialsFile: getEnv("FIREBASE_CREDENTIALS_FILE", ""),

		BusySource:            strings.ToLower(strings.TrimSpace(getEnv("BUSY_SOURCE", "none"))),
		GoogleCalendarID:      getEnv("GOOGLE_CALENDAR_ID", ""),
		GoogleCredentialsFile: getEnv("GOOGLE_CREDENTIALS_FILE", ""),
		ICalFeedURL:           getEnv("ICAL_FEED_URL", ""),
		MirrorQueueURL:        getEnv("MIRROR_QUEUE_URL", ""),

		RedisAddr:             getEnv("REDIS_ADDR", ""),
		RedisPassword:         getEnv("REDIS_PASSWORD", ""),
		RedisTLS:              getEnvAsBool("REDIS_TLS", false),
		BookingVelocityMax:    getEnvAsInt("BOOKING_VELOCITY_MAX", 3),
		BookingVelocityWindow: getEnvAsDuration("BOOKING_VELOCITY_WINDOW", 24*time.Hour),

		EmailProvider:  strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "stub"))),
		SendGridAPIKey: getEnv("SENDGRID_API_KEY", ""),
		EmailFrom:      getEnv("EMAIL_FROM", ""),
		EmailFromName:  getEnv("EMAIL_FROM_NAME", "Nail Studio"),
		OwnerEmail:     getEnv("OWNER_EMAIL", ""),

		ArchiveBucket:      getEnv("ARCHIVE_BUCKET", ""),
		ArchiveRedact:      getEnvAsBool("ARCHIVE_REDACT", true),
		AdminJWTSecret:     getEnv("ADMIN_JWT_SECRET", ""),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		RateLimitRPS:       getEnvAsFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 20),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		OTelEnabled:       getEnvAsBool("OTEL_ENABLED", false),
		OTelEndpoint:      getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTelSamplingRatio: getEnvAsFloat("OTEL_SAMPLING_RATIO", 1),
	}
}

// Scheduling builds the validated booking rules from the configuration.
func (c *Config) Scheduling() (booking.Settings, error) {
	loc, err := time.LoadLocation(c.CalendarTimezone)
	if err != nil {
		return booking.Settings{}, scheduling.Misconfigured("CALENDAR_TIMEZONE", fmt.Sprintf("unknown timezone %q", c.CalendarTimezone))
	}
	if c.BufferBeforeMinutes < 0 || c.BufferAfterMinutes < 0 {
		return booking.Settings{}, scheduling.Misconfigured("BUFFER_*_MINUTES", "must not be negative")
	}
	s := booking.Settings{
		Window:             scheduling.WorkingWindow{StartHour: c.WorkStartHour, EndHour: c.WorkEndHour},
		Granularity:        time.Duration(c.SlotGranularityMinutes) * time.Minute,
		ServiceDuration:    time.Duration(c.ServiceDurationMinutes) * time.Minute,
		Policy:             scheduling.BufferedPolicy(time.Duration(c.BufferBeforeMinutes)*time.Minute, time.Duration(c.BufferAfterMinutes)*time.Minute),
		Location:           loc,
		DefaultServiceName: c.DefaultServiceName,
		StudioLocation:     c.StudioLocation,
	}
	if err := s.Validate(); err != nil {
		return booking.Settings{}, err
	}
	return s, nil
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma separated variable, dropping empty entries.
func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
