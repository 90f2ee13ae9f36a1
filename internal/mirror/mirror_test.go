package mirror

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/studio-booking/internal/calendar"
	"github.com/wolfman30/studio-booking/internal/observability/metrics"
	"github.com/wolfman30/studio-booking/internal/reservations"
	"github.com/wolfman30/studio-booking/pkg/logging"
)

type mockSQS struct {
	sent     []*sqs.SendMessageInput
	deleted  []string
	received *sqs.ReceiveMessageOutput
	err      error
}

func (m *mockSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	m.sent = append(m.sent, in)
	return &sqs.SendMessageOutput{}, m.err
}

func (m *mockSQS) ReceiveMessage(_ context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.received == nil {
		return &sqs.ReceiveMessageOutput{}, nil
	}
	return m.received, nil
}

func (m *mockSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	m.deleted = append(m.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, m.err
}

type flakyMirror struct {
	failures int
	calls    int
}

func (m *flakyMirror) InsertEvent(context.Context, calendar.Event) (string, error) {
	m.calls++
	if m.calls <= m.failures {
		return "", errors.New("calendar unavailable")
	}
	return "evt-retried", nil
}

var slotStart = time.Date(2030, time.March, 14, 9, 0, 0, 0, time.UTC)

func seedReservation(t *testing.T, store *reservations.MemoryStore, status reservations.Status) {
	t.Helper()
	require.NoError(t, store.Insert(context.Background(), &reservations.Reservation{
		ID:           "res-1",
		ClientName:   "Jana",
		ServiceName:  "Manikúra",
		ServiceStart: slotStart,
		ServiceEnd:   slotStart.Add(4 * time.Hour),
		Status:       status,
	}, reservations.Guard{}))
}

func testEvent() calendar.Event {
	return calendar.Event{Summary: "Rezervace: Manikúra - Jana", Start: slotStart, End: slotStart.Add(4 * time.Hour)}
}

func TestSQSQueue(t *testing.T) {
	client := &mockSQS{received: &sqs.ReceiveMessageOutput{Messages: []sqstypes.Message{
		{MessageId: aws.String("m1"), Body: aws.String("{}"), ReceiptHandle: aws.String("rh1")},
	}}}
	q := NewSQSQueue(client, "https://sqs.local/mirror")
	ctx := context.Background()

	require.NoError(t, q.Send(ctx, "payload", 0))
	require.NoError(t, q.Send(ctx, "later", 90*time.Second))
	require.NoError(t, q.Send(ctx, "much later", 2*time.Hour))
	require.Len(t, client.sent, 3)
	assert.Equal(t, "https://sqs.local/mirror", aws.ToString(client.sent[0].QueueUrl))
	assert.Equal(t, "payload", aws.ToString(client.sent[0].MessageBody))
	assert.Zero(t, client.sent[0].DelaySeconds)
	assert.Equal(t, int32(90), client.sent[1].DelaySeconds)
	assert.Equal(t, int32(900), client.sent[2].DelaySeconds)

	msgs, err := q.Receive(ctx, 5, 10)
	require.NoError(t, err)
	assert.Equal(t, []Message{{ID: "m1", Body: "{}", ReceiptHandle: "rh1"}}, msgs)

	require.NoError(t, q.Delete(ctx, ""))
	require.NoError(t, q.Delete(ctx, "rh1"))
	assert.Equal(t, []string{"rh1"}, client.deleted)

	client.err = errors.New("throttled")
	_, err = q.Receive(ctx, 1, 0)
	assert.ErrorContains(t, err, "throttled")
}

func TestMemoryQueue(t *testing.T) {
	q := NewMemoryQueue(4)
	ctx := context.Background()
	for _, body := range []string{"a", "b", "c"} {
		require.NoError(t, q.Send(ctx, body, 0))
	}
	msgs, err := q.Receive(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "a", msgs[0].Body)
	assert.Equal(t, 1, q.Len())

	msgs, err = q.Receive(ctx, 5, 1)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	msgs, err = q.Receive(ctx, 5, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = q.Receive(cancelled, 1, 5)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryQueueDelayedSend(t *testing.T) {
	q := NewMemoryQueue(4)
	ctx := context.Background()
	require.NoError(t, q.Send(ctx, "later", 50*time.Millisecond))

	assert.Equal(t, 0, q.Len())
	assert.Equal(t, 1, q.Delayed())
	msgs, err := q.Receive(ctx, 1, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	msgs, err = q.Receive(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "later", msgs[0].Body)
	assert.Equal(t, 0, q.Delayed())
}

func TestRetryDelay(t *testing.T) {
	base := 30 * time.Second
	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 30 * time.Second},
		{1, 30 * time.Second},
		{2, time.Minute},
		{3, 2 * time.Minute},
		{4, 4 * time.Minute},
		{6, 15 * time.Minute},
		{40, 15 * time.Minute},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, retryDelay(base, tc.attempts), "attempts=%d", tc.attempts)
	}
	assert.Zero(t, retryDelay(0, 3))
	assert.Equal(t, 15*time.Minute, retryDelay(time.Hour, 1))
}

func TestRecorderDelaysFirstRetry(t *testing.T) {
	q := NewMemoryQueue(1)
	require.NoError(t, NewRecorder(q, nil).RecordMirrorFailure(context.Background(), "res-1", testEvent(), errors.New("quota")))
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, 1, q.Delayed())
}

func TestRecorderQueuesJob(t *testing.T) {
	q := NewMemoryQueue(1)
	rec := NewRecorder(q, logging.New("error"), WithFirstRetryDelay(0))
	require.NoError(t, rec.RecordMirrorFailure(context.Background(), "res-1", testEvent(), errors.New("quota")))

	msgs, err := q.Receive(context.Background(), 1, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	job, err := decodeJob(msgs[0].Body)
	require.NoError(t, err)
	assert.Equal(t, "res-1", job.ReservationID)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, "quota", job.LastError)
	assert.Equal(t, "Rezervace: Manikúra - Jana", job.Event.Summary)
}

func newTestWorker(t *testing.T, q Queue, m calendar.Mirror, store *reservations.MemoryStore, reg *prometheus.Registry) *Worker {
	t.Helper()
	return NewWorker(q, m, store, metrics.NewBookingMetrics(reg), logging.New("error"),
		WithReceiveWaitSeconds(0), WithMaxAttempts(3), WithRetryBaseDelay(0))
}

func TestWorkerRetriesUntilSuccess(t *testing.T) {
	ctx := context.Background()
	store := reservations.NewMemoryStore()
	seedReservation(t, store, reservations.StatusConfirmed)
	q := NewMemoryQueue(4)
	require.NoError(t, NewRecorder(q, nil, WithFirstRetryDelay(0)).RecordMirrorFailure(ctx, "res-1", testEvent(), errors.New("down")))

	reg := prometheus.NewRegistry()
	m := &flakyMirror{failures: 1}
	w := newTestWorker(t, q, m, store, reg)

	n, err := w.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, q.Len(), "failed job is requeued")

	_, err = w.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, q.Len())

	res, err := store.Get(ctx, "res-1")
	require.NoError(t, err)
	assert.Equal(t, "evt-retried", res.CalendarEventID)

	snap, err := metrics.TakeSnapshot(reg)
	require.NoError(t, err)
	assert.Equal(t, float64(1), snap.MirrorRetries["retry"])
	assert.Equal(t, float64(1), snap.MirrorRetries["ok"])
}

func TestWorkerDropsAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	store := reservations.NewMemoryStore()
	seedReservation(t, store, reservations.StatusConfirmed)
	q := NewMemoryQueue(4)
	require.NoError(t, NewRecorder(q, nil, WithFirstRetryDelay(0)).RecordMirrorFailure(ctx, "res-1", testEvent(), errors.New("down")))

	reg := prometheus.NewRegistry()
	m := &flakyMirror{failures: 100}
	w := newTestWorker(t, q, m, store, reg)

	for i := 0; i < 3; i++ {
		_, err := w.ProcessOnce(ctx)
		require.NoError(t, err)
	}
	// attempts: 1 at booking, 2 and 3 in the worker
	assert.Equal(t, 2, m.calls)
	assert.Equal(t, 0, q.Len())

	snap, err := metrics.TakeSnapshot(reg)
	require.NoError(t, err)
	assert.Equal(t, float64(1), snap.MirrorRetries["dropped"])
}

func TestWorkerWaitsBetweenAttempts(t *testing.T) {
	ctx := context.Background()
	store := reservations.NewMemoryStore()
	seedReservation(t, store, reservations.StatusConfirmed)
	q := NewMemoryQueue(4)
	require.NoError(t, NewRecorder(q, nil, WithFirstRetryDelay(0)).RecordMirrorFailure(ctx, "res-1", testEvent(), errors.New("down")))

	reg := prometheus.NewRegistry()
	m := &flakyMirror{failures: 100}
	w := NewWorker(q, m, store, metrics.NewBookingMetrics(reg), logging.New("error"),
		WithReceiveWaitSeconds(0), WithMaxAttempts(3), WithRetryBaseDelay(50*time.Millisecond))

	_, err := w.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, m.calls)
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, 1, q.Delayed())

	n, err := w.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "requeued job stays hidden during its delay")
	assert.Equal(t, 1, m.calls)

	require.Eventually(t, func() bool { return q.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	_, err = w.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, m.calls)

	snap, err := metrics.TakeSnapshot(reg)
	require.NoError(t, err)
	assert.Equal(t, float64(1), snap.MirrorRetries["retry"])
	assert.Equal(t, float64(1), snap.MirrorRetries["dropped"])
}

func TestWorkerDefaultsKeepFailingJobQueued(t *testing.T) {
	store := reservations.NewMemoryStore()
	seedReservation(t, store, reservations.StatusConfirmed)
	q := NewMemoryQueue(4)
	require.NoError(t, NewRecorder(q, nil).RecordMirrorFailure(context.Background(), "res-1", testEvent(), errors.New("down")))

	reg := prometheus.NewRegistry()
	m := &flakyMirror{failures: 100}
	w := NewWorker(q, m, store, metrics.NewBookingMetrics(reg), logging.New("error"))
	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	time.Sleep(300 * time.Millisecond)
	cancel()
	w.Wait()

	assert.Zero(t, m.calls)
	assert.Equal(t, 1, q.Delayed())
	snap, err := metrics.TakeSnapshot(reg)
	require.NoError(t, err)
	assert.Zero(t, snap.MirrorRetries["dropped"])
}

func TestWorkerRequeuesOnSQSWithDelay(t *testing.T) {
	ctx := context.Background()
	store := reservations.NewMemoryStore()
	seedReservation(t, store, reservations.StatusConfirmed)
	body, err := encodeJob(Job{ReservationID: "res-1", Event: testEvent(), Attempts: 1})
	require.NoError(t, err)
	client := &mockSQS{received: &sqs.ReceiveMessageOutput{Messages: []sqstypes.Message{
		{MessageId: aws.String("m1"), Body: aws.String(body), ReceiptHandle: aws.String("rh1")},
	}}}

	w := NewWorker(NewSQSQueue(client, "https://sqs.local/mirror"), &flakyMirror{failures: 100}, store, nil, logging.New("error"))
	_, err = w.ProcessOnce(ctx)
	require.NoError(t, err)

	require.Len(t, client.sent, 1)
	assert.Equal(t, int32(60), client.sent[0].DelaySeconds)
	assert.Equal(t, []string{"rh1"}, client.deleted)
	job, err := decodeJob(aws.ToString(client.sent[0].MessageBody))
	require.NoError(t, err)
	assert.Equal(t, 2, job.Attempts)
}

func TestWorkerSkipsStaleJobs(t *testing.T) {
	ctx := context.Background()
	store := reservations.NewMemoryStore()
	seedReservation(t, store, reservations.StatusCancelled)
	q := NewMemoryQueue(4)
	rec := NewRecorder(q, nil, WithFirstRetryDelay(0))
	require.NoError(t, rec.RecordMirrorFailure(ctx, "res-1", testEvent(), nil))
	require.NoError(t, rec.RecordMirrorFailure(ctx, "missing", testEvent(), nil))
	require.NoError(t, q.Send(ctx, "not json", 0))

	m := &flakyMirror{}
	w := newTestWorker(t, q, m, store, prometheus.NewRegistry())
	n, err := w.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Zero(t, m.calls)
	assert.Equal(t, 0, q.Len())
}

func TestWorkerStartStops(t *testing.T) {
	store := reservations.NewMemoryStore()
	w := NewWorker(NewMemoryQueue(1), &flakyMirror{}, store, nil, logging.New("error"), WithReceiveWaitSeconds(1), WithWorkerCount(2))
	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		w.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("worker did not stop")
	}
}
