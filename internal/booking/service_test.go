package booking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/studio-booking/internal/calendar"
	"github.com/wolfman30/studio-booking/internal/observability/metrics"
	"github.com/wolfman30/studio-booking/internal/reservations"
	"github.com/wolfman30/studio-booking/internal/scheduling"
	"github.com/wolfman30/studio-booking/pkg/logging"
)

var prague = mustLocation("Europe/Prague")

func mustLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

func at(day, hour, minute int) time.Time {
	return time.Date(2030, time.March, day, hour, minute, 0, 0, prague)
}

type fakeMirror struct {
	mu     sync.Mutex
	events []calendar.Event
	id     string
	err    error
}

func (m *fakeMirror) InsertEvent(_ context.Context, e calendar.Event) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return m.id, m.err
}

type fakeRecorder struct {
	ids    []string
	causes []error
}

func (r *fakeRecorder) RecordMirrorFailure(_ context.Context, id string, _ calendar.Event, cause error) error {
	r.ids = append(r.ids, id)
	r.causes = append(r.causes, cause)
	return nil
}

type fakeNotifier struct {
	confirmed []string
	err       error
}

func (n *fakeNotifier) BookingConfirmed(_ context.Context, r *reservations.Reservation) error {
	n.confirmed = append(n.confirmed, r.ID)
	return n.err
}

type fakeVelocity struct {
	allow    bool
	err      error
	recorded []string
}

func (v *fakeVelocity) Allow(context.Context, string, string) (bool, error) { return v.allow, v.err }

func (v *fakeVelocity) Record(_ context.Context, phone, _ string) error {
	v.recorded = append(v.recorded, phone)
	return v.err
}

type fakeArchiver struct {
	exported int
}

func (a *fakeArchiver) Export(_ context.Context, rs []*reservations.Reservation) (string, error) {
	a.exported = len(rs)
	return "reservations/2030/03/13/export.jsonl", nil
}

type failingSource struct{}

func (failingSource) ListBusyIntervals(context.Context, time.Time, time.Time) ([]scheduling.BusyInterval, error) {
	return nil, errors.New("calendar down")
}

type fixture struct {
	service  *Service
	store    *reservations.MemoryStore
	mirror   *fakeMirror
	recorder *fakeRecorder
	notifier *fakeNotifier
	archiver *fakeArchiver
	registry *prometheus.Registry
}

func testSettings() Settings {
	s := DefaultSettings()
	s.Window = scheduling.WorkingWindow{StartHour: 9, EndHour: 18}
	s.Location = prague
	return s
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()
	f := &fixture{
		store:    reservations.NewMemoryStore(),
		mirror:   &fakeMirror{id: "evt-1"},
		recorder: &fakeRecorder{},
		notifier: &fakeNotifier{},
		archiver: &fakeArchiver{},
		registry: prometheus.NewRegistry(),
	}
	seq := 0
	opts := Options{
		Store:    f.store,
		Mirror:   f.mirror,
		Failures: f.recorder,
		Notifier: f.notifier,
		Archiver: f.archiver,
		Metrics:  metrics.NewBookingMetrics(f.registry),
		Logger:   logging.New("error"),
		Now:      func() time.Time { return at(13, 10, 0) },
		NewID: func() string {
			seq++
			return fmt.Sprintf("res-%d", seq)
		},
	}
	if mutate != nil {
		mutate(&opts)
	}
	svc, err := NewService(testSettings(), opts)
	require.NoError(t, err)
	f.service = svc
	return f
}

func labels(slots []scheduling.Slot) []string {
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.Label())
	}
	return out
}

var jana = ClientInfo{Name: " Jana Nováková ", Phone: "+420777123456", Email: "jana@example.com"}

func TestNewServiceRejectsBadSettings(t *testing.T) {
	s := testSettings()
	s.Granularity = 7 * time.Minute
	_, err := NewService(s, Options{Store: reservations.NewMemoryStore()})
	require.Error(t, err)
	assert.True(t, scheduling.IsConfiguration(err))
}

func TestAvailabilityEmptyDay(t *testing.T) {
	f := newFixture(t, nil)
	avail, err := f.service.Availability(context.Background(), at(14, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, []string{"09:00", "10:00", "11:00", "12:00", "13:00", "14:00", "15:00", "16:00", "17:00"}, labels(avail.Slots))
	assert.Equal(t, "2030-03-14", avail.Date.Format(time.DateOnly))
}

func TestAvailabilityHonoursBufferedReservations(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.store.Insert(ctx, &reservations.Reservation{
		ID:           "existing",
		ClientName:   "Petra",
		ClientPhone:  "1",
		ClientEmail:  "p@example.com",
		ServiceName:  "Manikúra",
		ServiceStart: at(14, 12, 0),
		ServiceEnd:   at(14, 16, 0),
		Status:       reservations.StatusConfirmed,
	}, reservations.Guard{}))

	avail, err := f.service.Availability(ctx, at(14, 8, 0))
	require.NoError(t, err)
	assert.Equal(t, []string{"17:00"}, labels(avail.Slots))
}

func TestAvailabilityIgnoresCancelledReservations(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.store.Insert(ctx, &reservations.Reservation{
		ID:           "gone",
		ClientName:   "Petra",
		ServiceStart: at(14, 12, 0),
		ServiceEnd:   at(14, 16, 0),
		Status:       reservations.StatusCancelled,
	}, reservations.Guard{}))

	avail, err := f.service.Availability(ctx, at(14, 0, 0))
	require.NoError(t, err)
	assert.Len(t, avail.Slots, 9)
}

func TestAvailabilityMergesExternalBusy(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Busy = calendar.StaticSource{scheduling.Busy(at(14, 9, 0), at(14, 10, 0))}
	})
	avail, err := f.service.Availability(context.Background(), at(14, 0, 0))
	require.NoError(t, err)
	// 09:00 overlaps; 10:00 starts less than an hour after the entry ends.
	assert.Equal(t, "11:00", avail.Slots[0].Label())
}

func TestAvailabilityRejectsPastDate(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.service.Availability(context.Background(), at(12, 0, 0))
	require.Error(t, err)
	assert.True(t, scheduling.IsValidation(err))
}

func TestAvailabilityTodayDropsStartedSlots(t *testing.T) {
	f := newFixture(t, nil)
	avail, err := f.service.Availability(context.Background(), at(13, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, "11:00", avail.Slots[0].Label())
	assert.Len(t, avail.Slots, 7)
}

func TestAvailabilityBusySourceFailure(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Busy = failingSource{} })
	_, err := f.service.Availability(context.Background(), at(14, 0, 0))
	require.Error(t, err)
	assert.True(t, scheduling.IsUpstream(err))

	snap, err := metrics.TakeSnapshot(f.registry)
	require.NoError(t, err)
	assert.Equal(t, float64(1), snap.Availability["upstream_error"])
}

func TestCreateBookingStoresMirrorsAndNotifies(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	r, err := f.service.CreateBooking(ctx, jana, "", at(14, 10, 0))
	require.NoError(t, err)
	assert.Equal(t, "res-1", r.ID)
	assert.Equal(t, "Jana Nováková", r.ClientName)
	assert.Equal(t, "Manikúra", r.ServiceName)
	assert.Equal(t, reservations.StatusConfirmed, r.Status)
	assert.True(t, r.ServiceEnd.Equal(at(14, 14, 0)))
	assert.Equal(t, "evt-1", r.CalendarEventID)

	stored, err := f.store.Get(ctx, "res-1")
	require.NoError(t, err)
	assert.Equal(t, "evt-1", stored.CalendarEventID)

	require.Len(t, f.mirror.events, 1)
	event := f.mirror.events[0]
	assert.Equal(t, "Rezervace: Manikúra - Jana Nováková", event.Summary)
	assert.Equal(t, "Klient: Jana Nováková\nTel: +420777123456\nEmail: jana@example.com", event.Description)
	assert.Equal(t, "Nail Studio", event.Location)
	assert.Equal(t, []string{"res-1"}, f.notifier.confirmed)
	assert.Empty(t, f.recorder.ids)
}

func TestCreateBookingEnforcesBuffers(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.service.CreateBooking(ctx, jana, "Pedikúra", at(14, 10, 0))
	require.NoError(t, err)

	// Ends at 14:00; the after-buffer is one hour.
	_, err = f.service.CreateBooking(ctx, jana, "Pedikúra", at(14, 14, 0))
	require.ErrorIs(t, err, ErrSlotTaken)
	assert.True(t, scheduling.IsValidation(err))

	_, err = f.service.CreateBooking(ctx, jana, "Pedikúra", at(14, 15, 0))
	require.NoError(t, err)

	// A 15:00 booking needs five free hours before it: a 10:00 candidate
	// ending at 11:00 is too close, a 09:00 one ending at 10:00 is not.
	_, err = f.service.CreateBooking(ctx, jana, "Pedikúra", at(15, 15, 0))
	require.NoError(t, err)
	_, err = f.service.CreateBooking(ctx, jana, "Pedikúra", at(15, 10, 0))
	require.ErrorIs(t, err, ErrSlotTaken)
	_, err = f.service.CreateBooking(ctx, jana, "Pedikúra", at(15, 9, 0))
	require.NoError(t, err)
}

func TestBookedSlotLeavesAvailability(t *testing.T) {
	cases := []struct {
		name   string
		booked time.Time
		want   []string
	}{
		// [09:00, 13:00); 13:00 is inside the one-hour after-buffer.
		{name: "morning", booked: at(14, 9, 0), want: []string{"14:00", "15:00", "16:00", "17:00"}},
		// [17:00, 21:00); anything ending after 12:00 is inside the five-hour before-buffer.
		{name: "evening", booked: at(14, 17, 0), want: []string{"09:00", "10:00", "11:00"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, nil)
			ctx := context.Background()
			day := at(14, 0, 0)

			before, err := f.service.Availability(ctx, day)
			require.NoError(t, err)
			require.Contains(t, labels(before.Slots), tc.booked.Format("15:04"))

			r, err := f.service.CreateBooking(ctx, jana, "", tc.booked)
			require.NoError(t, err)

			after, err := f.service.Availability(ctx, day)
			require.NoError(t, err)
			assert.Equal(t, tc.want, labels(after.Slots))

			policy := testSettings().Policy
			granularity := testSettings().Granularity
			for _, slot := range after.Slots {
				end := slot.Start.Add(granularity)
				clearBefore := !end.After(r.ServiceStart) && r.ServiceStart.Sub(end) >= policy.BufferBefore
				clearAfter := !slot.Start.Before(r.ServiceEnd) && slot.Start.Sub(r.ServiceEnd) >= policy.BufferAfter
				assert.True(t, clearBefore || clearAfter, "slot %s is too close to the booking", slot.Label())
			}
		})
	}
}

func TestCreateBookingConcurrentSameSlot(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		var mu sync.Mutex
		n := 0
		o.NewID = func() string {
			mu.Lock()
			defer mu.Unlock()
			n++
			return fmt.Sprintf("c-%d", n)
		}
		o.Notifier = nil
		o.Failures = nil
	})
	ctx := context.Background()

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		ok    int
		taken int
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.service.CreateBooking(ctx, jana, "", at(14, 12, 0))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrSlotTaken):
				taken++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, ok)
	assert.Equal(t, 5, taken)
}

func TestCreateBookingMirrorFailureKeepsReservation(t *testing.T) {
	f := newFixture(t, nil)
	f.mirror.err = errors.New("quota exceeded")
	f.mirror.id = ""
	ctx := context.Background()

	r, err := f.service.CreateBooking(ctx, jana, "", at(14, 10, 0))
	require.NoError(t, err)
	assert.Empty(t, r.CalendarEventID)

	_, err = f.store.Get(ctx, r.ID)
	require.NoError(t, err)

	require.Equal(t, []string{r.ID}, f.recorder.ids)
	assert.True(t, scheduling.IsUpstream(f.recorder.causes[0]))

	snap, err := metrics.TakeSnapshot(f.registry)
	require.NoError(t, err)
	assert.Equal(t, float64(1), snap.MirrorFailures)
	assert.Equal(t, float64(1), snap.Bookings["confirmed"])
}

func TestCreateBookingNotifierFailureIsIgnored(t *testing.T) {
	f := newFixture(t, nil)
	f.notifier.err = errors.New("smtp down")
	_, err := f.service.CreateBooking(context.Background(), jana, "", at(14, 10, 0))
	require.NoError(t, err)
}

func TestCreateBookingValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	cases := []struct {
		name   string
		client ClientInfo
		slot   time.Time
		field  string
	}{
		{"missing name", ClientInfo{Name: "  ", Phone: "1", Email: "a@b.cz"}, at(14, 10, 0), "clientName"},
		{"missing phone", ClientInfo{Name: "Jana", Email: "a@b.cz"}, at(14, 10, 0), "clientPhone"},
		{"missing email", ClientInfo{Name: "Jana", Phone: "1"}, at(14, 10, 0), "clientEmail"},
		{"no slot", jana, time.Time{}, "slot"},
		{"past slot", jana, at(13, 9, 0), "slot"},
		{"off grid", jana, at(14, 10, 30), "slot"},
		{"outside hours", jana, at(14, 18, 0), "slot"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.service.CreateBooking(ctx, tc.client, "", tc.slot)
			var ve *scheduling.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tc.field, ve.Field)
		})
	}
	assert.Empty(t, f.mirror.events)
}

func TestCreateBookingBlockedByExternalCalendar(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Busy = calendar.StaticSource{scheduling.Busy(at(14, 13, 0), at(14, 14, 0))}
	})
	_, err := f.service.CreateBooking(context.Background(), jana, "", at(14, 10, 0))
	require.ErrorIs(t, err, ErrSlotTaken)
}

func TestCreateBookingBusySourceFailure(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Busy = failingSource{} })
	_, err := f.service.CreateBooking(context.Background(), jana, "", at(14, 10, 0))
	require.Error(t, err)
	assert.True(t, scheduling.IsUpstream(err))
	assert.Empty(t, f.mirror.events)
}

func TestCreateBookingVelocity(t *testing.T) {
	t.Run("denied", func(t *testing.T) {
		v := &fakeVelocity{allow: false}
		f := newFixture(t, func(o *Options) { o.Velocity = v })
		_, err := f.service.CreateBooking(context.Background(), jana, "", at(14, 10, 0))
		require.ErrorIs(t, err, ErrTooManyBookings)
		assert.Empty(t, v.recorded)
	})
	t.Run("fails open", func(t *testing.T) {
		v := &fakeVelocity{err: errors.New("redis down")}
		f := newFixture(t, func(o *Options) { o.Velocity = v })
		_, err := f.service.CreateBooking(context.Background(), jana, "", at(14, 10, 0))
		require.NoError(t, err)
	})
	t.Run("only stored bookings count", func(t *testing.T) {
		v := &fakeVelocity{allow: true}
		f := newFixture(t, func(o *Options) { o.Velocity = v })
		ctx := context.Background()
		_, err := f.service.CreateBooking(ctx, jana, "", at(14, 10, 0))
		require.NoError(t, err)
		require.Len(t, v.recorded, 1)

		_, err = f.service.CreateBooking(ctx, jana, "", at(14, 10, 0))
		require.ErrorIs(t, err, ErrSlotTaken)
		assert.Len(t, v.recorded, 1, "a rejected attempt is not counted")
	})
}

func TestUpdateReservation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	r, err := f.service.CreateBooking(ctx, jana, "", at(14, 10, 0))
	require.NoError(t, err)

	_, err = f.service.UpdateReservation(ctx, r.ID, reservations.Patch{})
	assert.True(t, scheduling.IsValidation(err))

	start := at(16, 9, 0).UTC()
	notes := "regular client"
	updated, err := f.service.UpdateReservation(ctx, r.ID, reservations.Patch{ServiceStart: &start, AdminNotes: &notes})
	require.NoError(t, err)
	assert.True(t, updated.ServiceEnd.Equal(at(16, 13, 0)))
	assert.Equal(t, notes, updated.AdminNotes)

	_, err = f.service.UpdateReservation(ctx, "missing", reservations.Patch{AdminNotes: &notes})
	assert.ErrorIs(t, err, reservations.ErrNotFound)
}

func TestExportReservations(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.service.CreateBooking(ctx, jana, "", at(14, 10, 0))
	require.NoError(t, err)

	key, count, err := f.service.ExportReservations(ctx, reservations.ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, 1, f.archiver.exported)
	assert.NotEmpty(t, key)

	bare := newFixture(t, func(o *Options) { o.Archiver = nil })
	_, _, err = bare.service.ExportReservations(ctx, reservations.ListFilter{})
	assert.Error(t, err)
}
