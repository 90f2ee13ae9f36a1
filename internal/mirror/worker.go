package mirror

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wolfman30/studio-booking/internal/calendar"
	"github.com/wolfman30/studio-booking/internal/observability/metrics"
	"github.com/wolfman30/studio-booking/internal/reservations"
	"github.com/wolfman30/studio-booking/pkg/logging"
)

const (
	defaultWorkerCount   = 1
	defaultWaitSeconds   = 10
	defaultBatchSize     = 5
	defaultMaxAttempts   = 5
	maxWaitSeconds       = 20
	maxReceiveBatchSize  = 10
	deleteTimeoutSeconds = 5
)

type reservationStore interface {
	Get(ctx context.Context, id string) (*reservations.Reservation, error)
	Update(ctx context.Context, id string, patch reservations.Patch) (*reservations.Reservation, error)
}

// Worker drains the retry queue and inserts the calendar events again.
type Worker struct {
	queue   Queue
	mirror  calendar.Mirror
	store   reservationStore
	metrics *metrics.BookingMetrics
	logger  *logging.Logger

	cfg workerConfig
	wg  sync.WaitGroup
}

type workerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
	maxAttempts      int
	retryBaseDelay   time.Duration
}

// WorkerOption customizes worker behavior.
type WorkerOption func(*workerConfig)

// WithWorkerCount sets the number of concurrent consumer goroutines.
func WithWorkerCount(count int) WorkerOption {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the long-poll wait duration.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(cfg *workerConfig) {
		if seconds < 0 {
			return
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

func WithReceiveBatchSize(size int) WorkerOption {
	return func(cfg *workerConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		cfg.receiveBatchSize = size
	}
}

// WithMaxAttempts sets how many inserts a job gets, counting the one made
// while booking, before it is dropped.
func WithMaxAttempts(n int) WorkerOption {
	return func(cfg *workerConfig) {
		if n > 0 {
			cfg.maxAttempts = n
		}
	}
}

// WithRetryBaseDelay sets the backoff base. A job that has failed n times
// waits base*2^(n-1) before its next attempt, capped at 15 minutes. Zero
// requeues at once.
func WithRetryBaseDelay(d time.Duration) WorkerOption {
	return func(cfg *workerConfig) {
		if d >= 0 {
			cfg.retryBaseDelay = d
		}
	}
}

func NewWorker(queue Queue, mirror calendar.Mirror, store reservationStore, m *metrics.BookingMetrics, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if queue == nil || mirror == nil || store == nil {
		panic("mirror: queue, mirror and store are required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	cfg := workerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
		maxAttempts:      defaultMaxAttempts,
		retryBaseDelay:   defaultRetryBaseDelay,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Worker{queue: queue, mirror: mirror, store: store, metrics: m, logger: logger, cfg: cfg}
}

// Start launches worker goroutines until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until all worker goroutines exit.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("mirror worker started", "worker_id", workerID)

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("mirror worker stopping", "worker_id", workerID)
			return
		default:
		}

		n, err := w.ProcessOnce(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.logger.Error("failed to receive mirror jobs", "error", err, "worker_id", workerID)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
		if n == 0 && w.cfg.receiveWaitSecs == 0 {
			// in-memory queue without long polling
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}
}

// ProcessOnce receives one batch and handles it. It returns how many
// messages were received.
func (w *Worker) ProcessOnce(ctx context.Context) (int, error) {
	messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
	if err != nil {
		return 0, err
	}
	for _, msg := range messages {
		w.handleMessage(ctx, msg)
	}
	return len(messages), nil
}

func (w *Worker) handleMessage(ctx context.Context, msg Message) {
	job, err := decodeJob(msg.Body)
	if err != nil {
		w.logger.Error("dropping undecodable mirror job", "error", err, "msg_id", msg.ID)
		w.deleteMessage(ctx, msg.ReceiptHandle)
		return
	}

	res, err := w.store.Get(ctx, job.ReservationID)
	switch {
	case errors.Is(err, reservations.ErrNotFound):
		w.logger.Warn("mirror job for unknown reservation", "reservation_id", job.ReservationID)
		w.deleteMessage(ctx, msg.ReceiptHandle)
		return
	case err != nil:
		// leave the message; it becomes visible again
		w.logger.Error("failed to load reservation for mirror", "reservation_id", job.ReservationID, "error", err)
		return
	case res.CalendarEventID != "" || !res.Blocking():
		w.logger.Info("mirror job no longer needed", "reservation_id", job.ReservationID, "status", string(res.Status))
		w.metrics.ObserveMirrorRetry("skipped")
		w.deleteMessage(ctx, msg.ReceiptHandle)
		return
	}

	eventID, err := w.mirror.InsertEvent(ctx, job.Event)
	if err != nil {
		w.retryOrDrop(ctx, msg, job, err)
		return
	}
	if eventID != "" {
		if _, err := w.store.Update(ctx, job.ReservationID, reservations.Patch{CalendarEventID: &eventID}); err != nil {
			w.logger.Warn("failed to store calendar event id", "reservation_id", job.ReservationID, "error", err)
		}
	}
	w.metrics.ObserveMirrorRetry("ok")
	w.logger.Info("calendar mirror retried", "reservation_id", job.ReservationID, "calendar_event_id", eventID, "attempts", job.Attempts+1)
	w.deleteMessage(ctx, msg.ReceiptHandle)
}

func (w *Worker) retryOrDrop(ctx context.Context, msg Message, job Job, cause error) {
	job.Attempts++
	job.LastError = cause.Error()
	if job.Attempts >= w.cfg.maxAttempts {
		w.metrics.ObserveMirrorRetry("dropped")
		w.logger.Error("calendar mirror abandoned", "reservation_id", job.ReservationID, "attempts", job.Attempts, "error", cause)
		w.deleteMessage(ctx, msg.ReceiptHandle)
		return
	}
	delay := retryDelay(w.cfg.retryBaseDelay, job.Attempts)
	body, err := encodeJob(job)
	if err == nil {
		err = w.queue.Send(ctx, body, delay)
	}
	if err != nil {
		w.logger.Error("failed to requeue mirror job", "reservation_id", job.ReservationID, "error", err)
		return
	}
	w.metrics.ObserveMirrorRetry("retry")
	w.logger.Warn("calendar mirror failed again", "reservation_id", job.ReservationID, "attempts", job.Attempts, "next_attempt_in", delay.String(), "error", cause)
	w.deleteMessage(ctx, msg.ReceiptHandle)
}

func (w *Worker) deleteMessage(ctx context.Context, receiptHandle string) {
	if receiptHandle == "" {
		return
	}
	deleteCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deleteTimeoutSeconds*time.Second)
	defer cancel()
	if err := w.queue.Delete(deleteCtx, receiptHandle); err != nil {
		w.logger.Error("failed to delete mirror job", "error", err)
	}
}
