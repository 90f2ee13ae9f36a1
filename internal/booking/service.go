// Package booking computes availability and takes reservations for the studio,
// and exposes both over HTTP and the callable function protocol.
package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/studio-booking/internal/calendar"
	"github.com/wolfman30/studio-booking/internal/observability/metrics"
	"github.com/wolfman30/studio-booking/internal/reservations"
	"github.com/wolfman30/studio-booking/internal/scheduling"
	"github.com/wolfman30/studio-booking/pkg/logging"
)

var bookingTracer = otel.Tracer("studio.internal.booking")

// sideEffectTimeout bounds the calendar mirror and notifications that run
// after the reservation is stored.
const sideEffectTimeout = 15 * time.Second

var (
	// ErrSlotTaken means the slot conflicted with a commitment by the time the
	// booking was written.
	ErrSlotTaken error = &scheduling.ValidationError{Field: "slot", Reason: "no longer available"}
	// ErrTooManyBookings means the client hit the booking velocity limit.
	ErrTooManyBookings = errors.New("booking: too many recent bookings for this client")
)

// ClientInfo is what the client enters in the booking form.
type ClientInfo struct {
	Name  string `json:"clientName"`
	Phone string `json:"clientPhone"`
	Email string `json:"clientEmail"`
}

func (c ClientInfo) normalized() ClientInfo {
	return ClientInfo{
		Name:  strings.TrimSpace(c.Name),
		Phone: strings.TrimSpace(c.Phone),
		Email: strings.TrimSpace(c.Email),
	}
}

func (c ClientInfo) Validate() error {
	switch {
	case c.Name == "":
		return scheduling.Invalid("clientName", "is required")
	case c.Phone == "":
		return scheduling.Invalid("clientPhone", "is required")
	case c.Email == "":
		return scheduling.Invalid("clientEmail", "is required")
	}
	return nil
}

// MirrorFailureRecorder keeps failed calendar mirrors for operator follow-up.
type MirrorFailureRecorder interface {
	RecordMirrorFailure(ctx context.Context, reservationID string, event calendar.Event, cause error) error
}

// Notifier tells the client (and the studio) about a new booking.
type Notifier interface {
	BookingConfirmed(ctx context.Context, r *reservations.Reservation) error
}

// VelocityChecker limits how many bookings one client can make in a window.
// Allow only reads; Record counts a booking that was stored.
type VelocityChecker interface {
	Allow(ctx context.Context, phone, email string) (bool, error)
	Record(ctx context.Context, phone, email string) error
}

// Archiver exports reservation snapshots.
type Archiver interface {
	Export(ctx context.Context, rs []*reservations.Reservation) (string, error)
}

// Options are the collaborators of a Service. Only Store is required.
type Options struct {
	Store    reservations.Store
	Busy     calendar.BusySource
	Mirror   calendar.Mirror
	Failures MirrorFailureRecorder
	Notifier Notifier
	Velocity VelocityChecker
	Archiver Archiver
	Metrics  *metrics.BookingMetrics
	Logger   *logging.Logger
	Now      func() time.Time
	NewID    func() string
}

// Service computes availability and creates reservations.
type Service struct {
	settings Settings
	store    reservations.Store
	busy     calendar.BusySource
	mirror   calendar.Mirror
	failures MirrorFailureRecorder
	notifier Notifier
	velocity VelocityChecker
	archiver Archiver
	metrics  *metrics.BookingMetrics
	logger   *logging.Logger
	now      func() time.Time
	newID    func() string
}

func NewService(settings Settings, opts Options) (*Service, error) {
	if opts.Store == nil {
		panic("booking: reservation store required")
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.NewString() }
	}
	return &Service{
		settings: settings,
		store:    opts.Store,
		busy:     opts.Busy,
		mirror:   opts.Mirror,
		failures: opts.Failures,
		notifier: opts.Notifier,
		velocity: opts.Velocity,
		archiver: opts.Archiver,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		now:      opts.Now,
		newID:    opts.NewID,
	}, nil
}

func (s *Service) Settings() Settings { return s.settings }

// Availability lists the bookable start times of one day.
type Availability struct {
	Date  time.Time
	Slots []scheduling.Slot
}

// Availability computes the offerable slots for the calendar day of date in
// the studio timezone. Past days are rejected; on the current day slots that
// already started are dropped.
func (s *Service) Availability(ctx context.Context, date time.Time) (*Availability, error) {
	started := time.Now()
	ctx, span := bookingTracer.Start(ctx, "booking.availability")
	defer span.End()

	day := s.day(date)
	span.SetAttributes(attribute.String("studio.date", day.Format(time.DateOnly)))

	result, err := s.availability(ctx, day)
	outcome := "ok"
	if err != nil {
		outcome = errorOutcome(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	s.metrics.ObserveAvailability(outcome, time.Since(started).Seconds())
	return result, err
}

func (s *Service) availability(ctx context.Context, day time.Time) (*Availability, error) {
	now := s.now().In(s.settings.Location)
	today := s.day(now)
	if day.Before(today) {
		return nil, scheduling.Invalid("date", "is in the past")
	}

	bounds := s.settings.Window.Bounds(day)
	query := s.settings.Policy.Reach(bounds)
	busy, err := s.busyIntervals(ctx, query.Start, query.End)
	if err != nil {
		return nil, err
	}

	slots, err := scheduling.ComputeSlots(day, s.settings.Window, s.settings.Granularity, busy, s.settings.Policy)
	if err != nil {
		return nil, err
	}
	if day.Equal(today) {
		upcoming := slots[:0]
		for _, slot := range slots {
			if slot.Start.After(now) {
				upcoming = append(upcoming, slot)
			}
		}
		slots = upcoming
	}
	return &Availability{Date: day, Slots: slots}, nil
}

// CreateBooking stores a confirmed reservation for the slot starting at
// slotStart and then mirrors it to the external calendar. A failed mirror is
// logged and recorded but does not fail the booking.
func (s *Service) CreateBooking(ctx context.Context, client ClientInfo, serviceName string, slotStart time.Time) (*reservations.Reservation, error) {
	ctx, span := bookingTracer.Start(ctx, "booking.create")
	defer span.End()

	r, err := s.createBooking(ctx, client, serviceName, slotStart)
	if err != nil {
		outcome := errorOutcome(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		s.metrics.ObserveBooking(outcome)
		return nil, err
	}
	span.SetAttributes(attribute.String("studio.reservation_id", r.ID))
	s.metrics.ObserveBooking("confirmed")

	sideCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()
	s.mirrorReservation(sideCtx, r)
	s.notify(sideCtx, r)

	s.logger.Info("booking confirmed",
		"reservation_id", r.ID,
		"slot_start", r.ServiceStart.In(s.settings.Location).Format(time.RFC3339),
		"service", r.ServiceName,
		"calendar_event_id", r.CalendarEventID,
	)
	return r, nil
}

func (s *Service) createBooking(ctx context.Context, client ClientInfo, serviceName string, slotStart time.Time) (*reservations.Reservation, error) {
	client = client.normalized()
	if err := client.Validate(); err != nil {
		return nil, err
	}
	serviceName = strings.TrimSpace(serviceName)
	if serviceName == "" {
		serviceName = s.settings.DefaultServiceName
	}
	if slotStart.IsZero() {
		return nil, scheduling.Invalid("slot", "is required")
	}
	now := s.now()
	slot := slotStart.In(s.settings.Location)
	if !slot.After(now) {
		return nil, scheduling.Invalid("slot", "must be in the future")
	}
	if !scheduling.SlotAligned(slot, s.settings.Window, s.settings.Granularity) {
		return nil, scheduling.Invalid("slot", "is not an offered start time")
	}

	if s.velocity != nil {
		allowed, err := s.velocity.Allow(ctx, client.Phone, client.Email)
		if err != nil {
			s.logger.Warn("booking velocity check failed", "error", err)
		} else if !allowed {
			return nil, ErrTooManyBookings
		}
	}

	candidate := scheduling.NewInterval(slot, s.settings.Granularity)
	window := s.settings.Policy.Reach(candidate)

	// External calendars cannot take part in the store transaction, so they
	// are re-read right before the write.
	if s.busy != nil {
		external, err := s.busy.ListBusyIntervals(ctx, window.Start, window.End)
		if err != nil {
			return nil, scheduling.Upstream("busy-source", "list", err)
		}
		if hit, conflict := scheduling.ConflictsAny(candidate, external, s.settings.Policy); conflict {
			s.logger.Info("slot blocked by external calendar", "slot_start", slot.Format(time.RFC3339), "source", hit.Source)
			return nil, ErrSlotTaken
		}
	}

	r := &reservations.Reservation{
		ID:           s.newID(),
		ClientName:   client.Name,
		ClientPhone:  client.Phone,
		ClientEmail:  client.Email,
		ServiceName:  serviceName,
		ServiceStart: slot.UTC(),
		ServiceEnd:   slot.Add(s.settings.ServiceDuration).UTC(),
		Status:       reservations.StatusConfirmed,
		CreatedAt:    now.UTC(),
	}
	guard := reservations.Guard{
		Window: window,
		Check: func(existing []scheduling.BusyInterval) error {
			if _, conflict := scheduling.ConflictsAny(candidate, existing, s.settings.Policy); conflict {
				return ErrSlotTaken
			}
			return nil
		},
	}
	if err := s.store.Insert(ctx, r, guard); err != nil {
		if errors.Is(err, ErrSlotTaken) || errors.Is(err, reservations.ErrConflict) {
			return nil, ErrSlotTaken
		}
		return nil, fmt.Errorf("booking: persist reservation: %w", err)
	}
	if s.velocity != nil {
		if err := s.velocity.Record(ctx, client.Phone, client.Email); err != nil {
			s.logger.Warn("booking velocity record failed", "reservation_id", r.ID, "error", err)
		}
	}
	return r, nil
}

// Event builds the calendar entry mirrored for r.
func (s *Service) Event(r *reservations.Reservation) calendar.Event {
	return calendar.Event{
		Summary: calendar.Summary(r.ServiceName, r.ClientName),
		Description: calendar.Description(calendar.Client{
			Name:  r.ClientName,
			Phone: r.ClientPhone,
			Email: r.ClientEmail,
		}),
		Location: s.settings.StudioLocation,
		Start:    r.ServiceStart,
		End:      r.ServiceEnd,
	}
}

func (s *Service) mirrorReservation(ctx context.Context, r *reservations.Reservation) {
	if s.mirror == nil {
		return
	}
	event := s.Event(r)
	eventID, err := s.mirror.InsertEvent(ctx, event)
	if err != nil {
		err = scheduling.Upstream("calendar-mirror", "insert", err)
		s.metrics.ObserveMirrorFailure()
		s.logger.Error("calendar mirror failed; reservation kept", "reservation_id", r.ID, "error", err)
		if s.failures != nil {
			if recErr := s.failures.RecordMirrorFailure(ctx, r.ID, event, err); recErr != nil {
				s.logger.Error("failed to record mirror failure", "reservation_id", r.ID, "error", recErr)
			}
		}
		return
	}
	if eventID == "" {
		return
	}
	r.CalendarEventID = eventID
	if _, err := s.store.Update(ctx, r.ID, reservations.Patch{CalendarEventID: &eventID}); err != nil {
		s.logger.Warn("failed to store calendar event id", "reservation_id", r.ID, "error", err)
	}
}

func (s *Service) notify(ctx context.Context, r *reservations.Reservation) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.BookingConfirmed(ctx, r); err != nil {
		s.logger.Warn("booking confirmation email failed", "reservation_id", r.ID, "error", err)
	}
}

// ListReservations returns reservations newest first.
func (s *Service) ListReservations(ctx context.Context, filter reservations.ListFilter) ([]*reservations.Reservation, error) {
	out, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("booking: list reservations: %w", err)
	}
	return out, nil
}

func (s *Service) GetReservation(ctx context.Context, id string) (*reservations.Reservation, error) {
	return s.store.Get(ctx, id)
}

// UpdateReservation applies an administrative edit. Moving the start keeps
// the booked duration.
func (s *Service) UpdateReservation(ctx context.Context, id string, patch reservations.Patch) (*reservations.Reservation, error) {
	ctx, span := bookingTracer.Start(ctx, "booking.update")
	defer span.End()
	span.SetAttributes(attribute.String("studio.reservation_id", id))

	if patch.Empty() {
		return nil, scheduling.Invalid("patch", "no fields to update")
	}
	r, err := s.store.Update(ctx, id, patch)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.logger.Info("reservation updated", "reservation_id", id, "status", string(r.Status))
	return r, nil
}

// ExportReservations archives the matching reservations and returns the
// location of the export.
func (s *Service) ExportReservations(ctx context.Context, filter reservations.ListFilter) (string, int, error) {
	if s.archiver == nil {
		return "", 0, errors.New("booking: archive export not configured")
	}
	rs, err := s.ListReservations(ctx, filter)
	if err != nil {
		return "", 0, err
	}
	key, err := s.archiver.Export(ctx, rs)
	if err != nil {
		return "", 0, fmt.Errorf("booking: export reservations: %w", err)
	}
	s.logger.Info("reservations exported", "count", len(rs), "key", key)
	return key, len(rs), nil
}

func (s *Service) busyIntervals(ctx context.Context, from, to time.Time) ([]scheduling.BusyInterval, error) {
	busy, err := s.store.ListBusyIntervals(ctx, from, to)
	if err != nil {
		return nil, scheduling.Upstream("reservation-store", "list-busy", err)
	}
	if s.busy == nil {
		return busy, nil
	}
	external, err := s.busy.ListBusyIntervals(ctx, from, to)
	if err != nil {
		return nil, scheduling.Upstream("busy-source", "list", err)
	}
	return append(busy, external...), nil
}

// day returns midnight of t's calendar day in the studio timezone.
func (s *Service) day(t time.Time) time.Time {
	y, m, d := t.In(s.settings.Location).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, s.settings.Location)
}

func errorOutcome(err error) string {
	switch {
	case errors.Is(err, ErrSlotTaken):
		return "slot_taken"
	case errors.Is(err, ErrTooManyBookings):
		return "rate_limited"
	case scheduling.IsValidation(err):
		return "invalid"
	case scheduling.IsConfiguration(err):
		return "misconfigured"
	case scheduling.IsUpstream(err):
		return "upstream_error"
	}
	return "error"
}
