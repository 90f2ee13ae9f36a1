package mirror

import (
	"context"
	"time"

	"github.com/wolfman30/studio-booking/internal/calendar"
	"github.com/wolfman30/studio-booking/pkg/logging"
)

// Recorder queues failed mirrors for the retry worker.
type Recorder struct {
	queue  Queue
	logger *logging.Logger
	now    func() time.Time
	delay  time.Duration
}

// RecorderOption customizes a Recorder.
type RecorderOption func(*Recorder)

// WithFirstRetryDelay sets how long a new job stays hidden from the worker.
// Zero hands it over immediately.
func WithFirstRetryDelay(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d >= 0 {
			r.delay = d
		}
	}
}

func NewRecorder(queue Queue, logger *logging.Logger, opts ...RecorderOption) *Recorder {
	if queue == nil {
		panic("mirror: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	r := &Recorder{queue: queue, logger: logger, now: time.Now, delay: retryDelay(defaultRetryBaseDelay, 1)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Recorder) RecordMirrorFailure(ctx context.Context, reservationID string, event calendar.Event, cause error) error {
	job := Job{
		ReservationID: reservationID,
		Event:         event,
		Attempts:      1,
		FailedAt:      r.now().UTC(),
	}
	if cause != nil {
		job.LastError = cause.Error()
	}
	body, err := encodeJob(job)
	if err != nil {
		return err
	}
	if err := r.queue.Send(ctx, body, r.delay); err != nil {
		return err
	}
	r.logger.Info("calendar mirror queued for retry", "reservation_id", reservationID, "delay", r.delay.String())
	return nil
}
