package router

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/wolfman30/studio-booking/internal/booking"
	httpmiddleware "github.com/wolfman30/studio-booking/internal/http/middleware"
	"github.com/wolfman30/studio-booking/pkg/logging"
)

const maxCallableBody = 64 << 10

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	Booking            *booking.Handler
	Callable           *booking.Callable
	AdminAuthSecret    string
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string

	// Public endpoint throttling; zero disables it.
	RateLimitPerSecond float64
	RateLimitBurst     int

	// HealthCheck reports dependency health; nil means always healthy.
	HealthCheck func(ctx context.Context) error
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}

	r.Get("/health", healthHandler(cfg.HealthCheck))
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	r.Group(func(public chi.Router) {
		if cfg.RateLimitPerSecond > 0 {
			public.Use(httpmiddleware.RateLimit(cfg.RateLimitPerSecond, cfg.RateLimitBurst))
		}
		if cfg.Booking != nil {
			public.Route("/api", cfg.Booking.PublicRoutes)
		}
		if cfg.Callable != nil {
			public.Post("/callable/{name}", callableHandler(cfg.Callable))
		}
	})

	// Admin routes are only mounted when a signing secret is configured.
	if cfg.AdminAuthSecret != "" && cfg.Booking != nil {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			cfg.Booking.AdminRoutes(admin)
		})
	}

	return r
}

func healthHandler(check func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, body := http.StatusOK, map[string]string{"status": "ok"}
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				status, body = http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()}
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}

func callableHandler(c *booking.Callable) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxCallableBody))
		if err != nil {
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}
		status, payload := c.Invoke(r.Context(), chi.URLParam(r, "name"), body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write(payload)
	}
}
