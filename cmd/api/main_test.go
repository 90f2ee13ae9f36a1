package main

import (
	"context"
	"net/http"
	"errors"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/studio-booking/internal/app/bootstrap"
	"github.com/wolfman30/studio-booking/internal/calendar"
	appconfig "github.com/wolfman30/studio-booking/internal/config"
	"github.com/wolfman30/studio-booking/internal/mirror"
	"github.com/wolfman30/studio-booking/internal/reservations"
	"github.com/wolfman30/studio-booking/pkg/logging"
)

func TestNewHandlerServesHealthAndMetrics(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("EMAIL_PROVIDER", "stub")
	t.Setenv("BUSY_SOURCE", "none")
	t.Setenv("REDIS_ADDR", "")
	cfg := appconfig.Load()
	logger := logging.New("error")
	registry := prometheus.NewRegistry()

	app, err := bootstrap.Build(context.Background(), cfg, aws.Config{}, registry, logger)
	require.NoError(t, err)
	t.Cleanup(app.Close)

	h := newHandler(cfg, app, registry, logger)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/availability?date=bogus", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/availability?date=2099-03-16", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "studio_booking_availability_total")
}

type downMirror struct{ calls atomic.Int32 }

func (m *downMirror) InsertEvent(context.Context, calendar.Event) (string, error) {
	m.calls.Add(1)
	return "", errors.New("calendar unavailable")
}

func TestLocalMirrorWorkerStopsOnShutdown(t *testing.T) {
	queue := mirror.NewMemoryQueue(4)
	app := &bootstrap.App{
		Store:     &bootstrap.Store{Store: reservations.NewMemoryStore()},
		Calendars: bootstrap.Calendars{Mirror: &downMirror{}},
		Queue:     queue,
	}
	stop := startLocalMirrorWorker(context.Background(), &appconfig.Config{}, app, logging.New("error"))

	done := make(chan struct{})
	go func() {
		stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(15 * time.Second):
		t.Fatal("mirror worker did not stop")
	}
}

func TestLocalMirrorWorkerSkippedForSQS(t *testing.T) {
	m := &downMirror{}
	app := &bootstrap.App{
		Store:     &bootstrap.Store{Store: reservations.NewMemoryStore()},
		Calendars: bootstrap.Calendars{Mirror: m},
		Queue:     mirror.NewMemoryQueue(1),
	}
	stop := startLocalMirrorWorker(context.Background(), &appconfig.Config{MirrorQueueURL: "https://sqs.local/mirror"}, app, logging.New("error"))
	stop()
	assert.Zero(t, m.calls.Load())
}
