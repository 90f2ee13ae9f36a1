package mirror

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue is a Queue on a buffered channel, used when no SQS queue is
// configured. Jobs do not survive a restart.
type MemoryQueue struct {
	ch      chan Message
	delayed atomic.Int64
}

func NewMemoryQueue(buffer int) *MemoryQueue {
	if buffer <= 0 {
		buffer = 64
	}
	return &MemoryQueue{ch: make(chan Message, buffer)}
}

// Send enqueues body or blocks until ctx is done. A positive delay parks the
// message on a timer and returns at once.
func (q *MemoryQueue) Send(ctx context.Context, body string, delay time.Duration) error {
	msg := Message{ID: uuid.NewString(), Body: body, ReceiptHandle: uuid.NewString()}
	if delay > 0 {
		q.delayed.Add(1)
		time.AfterFunc(delay, func() {
			q.delayed.Add(-1)
			q.ch <- msg
		})
		return nil
	}
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive blocks until a message is available, ctx is done, or waitSeconds
// elapses. A non-positive wait returns immediately when the queue is empty.
func (q *MemoryQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]Message, error) {
	if maxMessages <= 0 {
		maxMessages = 1
	}
	if waitSeconds <= 0 {
		select {
		case msg := <-q.ch:
			return q.collect(msg, maxMessages), nil
		default:
			return nil, nil
		}
	}

	timer := time.NewTimer(time.Duration(waitSeconds) * time.Second)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	case msg := <-q.ch:
		return q.collect(msg, maxMessages), nil
	}
}

func (q *MemoryQueue) Delete(context.Context, string) error { return nil }

// Len reports how many messages can be received now.
func (q *MemoryQueue) Len() int { return len(q.ch) }

// Delayed reports how many messages are still waiting out their delay.
func (q *MemoryQueue) Delayed() int { return int(q.delayed.Load()) }

func (q *MemoryQueue) collect(first Message, max int) []Message {
	messages := make([]Message, 0, max)
	messages = append(messages, first)
	for len(messages) < max {
		select {
		case msg := <-q.ch:
			messages = append(messages, msg)
		default:
			return messages
		}
	}
	return messages
}
