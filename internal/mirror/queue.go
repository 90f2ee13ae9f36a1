// Package mirror retries calendar mirrors that failed while a booking was
// being confirmed.
package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wolfman30/studio-booking/internal/calendar"
)

// Queue carries encoded jobs between the API and the retry worker. Send
// hides the message from receivers until delay has passed.
type Queue interface {
	Send(ctx context.Context, body string, delay time.Duration) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]Message, error)
	Delete(ctx context.Context, receiptHandle string) error
}

type Message struct {
	ID            string
	Body          string
	ReceiptHandle string
}

// Job is one pending calendar mirror.
type Job struct {
	ReservationID string         `json:"reservation_id"`
	Event         calendar.Event `json:"event"`
	Attempts      int            `json:"attempts"`
	LastError     string         `json:"last_error,omitempty"`
	FailedAt      time.Time      `json:"failed_at"`
}

const (
	defaultRetryBaseDelay = 30 * time.Second
	// SQS rejects a DelaySeconds above 15 minutes.
	maxRetryDelay = 15 * time.Minute
)

// retryDelay doubles base for every attempt after the first, capped at
// maxRetryDelay.
func retryDelay(base time.Duration, attempts int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempts < 1 {
		attempts = 1
	}
	delay := base
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	if delay > maxRetryDelay {
		return maxRetryDelay
	}
	return delay
}

func encodeJob(job Job) (string, error) {
	body, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("mirror: encode job: %w", err)
	}
	return string(body), nil
}

func decodeJob(body string) (Job, error) {
	var job Job
	if err := json.Unmarshal([]byte(body), &job); err != nil {
		return Job{}, fmt.Errorf("mirror: decode job: %w", err)
	}
	if job.ReservationID == "" {
		return Job{}, fmt.Errorf("mirror: job without reservation id")
	}
	return job, nil
}
