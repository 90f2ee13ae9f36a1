package reservations

import (
	"context"
	"errors"
	"time"

	"github.com/wolfman30/studio-booking/internal/scheduling"
)

// Status is the lifecycle state of a reservation.
type Status string

const (
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusConfirmed, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

var (
	// ErrNotFound indicates the reservation id does not exist.
	ErrNotFound = errors.New("reservations: not found")
	// ErrConflict indicates the guard rejected the insert because the slot was
	// taken in the meantime.
	ErrConflict = errors.New("reservations: slot no longer available")
)

// Reservation is one confirmed booking of the studio.
type Reservation struct {
	ID              string    `json:"id" dynamodbav:"id" firestore:"-"`
	ClientName      string    `json:"clientName" dynamodbav:"clientName" firestore:"clientName"`
	ClientPhone     string    `json:"clientPhone" dynamodbav:"clientPhone" firestore:"clientPhone"`
	ClientEmail     string    `json:"clientEmail" dynamodbav:"clientEmail" firestore:"clientEmail"`
	ServiceName     string    `json:"serviceName" dynamodbav:"serviceName" firestore:"serviceName"`
	ServiceStart    time.Time `json:"serviceStartDateTime" dynamodbav:"serviceStartDateTime" firestore:"serviceStartDateTime"`
	ServiceEnd      time.Time `json:"serviceEndDateTime" dynamodbav:"serviceEndDateTime" firestore:"serviceEndDateTime"`
	Status          Status    `json:"status" dynamodbav:"status" firestore:"status"`
	AdminService    string    `json:"adminService,omitempty" dynamodbav:"adminService,omitempty" firestore:"adminService,omitempty"`
	AdminNotes      string    `json:"adminNotes,omitempty" dynamodbav:"adminNotes,omitempty" firestore:"adminNotes,omitempty"`
	CalendarEventID string    `json:"calendarEventId,omitempty" dynamodbav:"calendarEventId,omitempty" firestore:"calendarEventId,omitempty"`
	CreatedAt       time.Time `json:"createdAt" dynamodbav:"createdAt" firestore:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt" dynamodbav:"updatedAt" firestore:"updatedAt"`
}

// Blocking reports whether the reservation still occupies its time.
func (r *Reservation) Blocking() bool {
	return r.Status != StatusCancelled
}

func (r *Reservation) Interval() scheduling.Interval {
	return scheduling.Interval{Start: r.ServiceStart, End: r.ServiceEnd}
}

// Busy returns the reservation as a busy interval for availability lookups.
func (r *Reservation) Busy() scheduling.BusyInterval {
	return scheduling.BusyInterval{Interval: r.Interval(), Source: "reservation", Label: r.ID}
}

// SelectedDate is the booked day as shown to the client (YYYY-MM-DD).
func (r *Reservation) SelectedDate(loc *time.Location) string {
	return r.ServiceStart.In(loc).Format(time.DateOnly)
}

// SelectedTime is the booked start time as shown to the client (HH:MM).
func (r *Reservation) SelectedTime(loc *time.Location) string {
	return r.ServiceStart.In(loc).Format("15:04")
}

func (r *Reservation) clone() *Reservation {
	c := *r
	return &c
}

// Patch carries administrative edits. Nil fields are left untouched.
type Patch struct {
	ClientPhone     *string
	ServiceStart    *time.Time
	AdminService    *string
	AdminNotes      *string
	Status          *Status
	CalendarEventID *string
}

func (p Patch) Empty() bool {
	return p.ClientPhone == nil && p.ServiceStart == nil && p.AdminService == nil &&
		p.AdminNotes == nil && p.Status == nil && p.CalendarEventID == nil
}

func (p Patch) Validate() error {
	if p.Status != nil && !p.Status.Valid() {
		return scheduling.Invalid("status", "unknown status "+string(*p.Status))
	}
	if p.ServiceStart != nil && p.ServiceStart.IsZero() {
		return scheduling.Invalid("serviceStart", "must be set")
	}
	return nil
}

// Apply writes the patch onto r. Moving the start keeps the booked duration.
func (p Patch) Apply(r *Reservation, now time.Time) {
	if p.ClientPhone != nil {
		r.ClientPhone = *p.ClientPhone
	}
	if p.ServiceStart != nil {
		length := r.ServiceEnd.Sub(r.ServiceStart)
		r.ServiceStart = *p.ServiceStart
		r.ServiceEnd = p.ServiceStart.Add(length)
	}
	if p.AdminService != nil {
		r.AdminService = *p.AdminService
	}
	if p.AdminNotes != nil {
		r.AdminNotes = *p.AdminNotes
	}
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.CalendarEventID != nil {
		r.CalendarEventID = *p.CalendarEventID
	}
	r.UpdatedAt = now
}

// Guard is evaluated by a Store inside the same atomic section as the insert.
// The store hands Check every blocking reservation overlapping Window; a
// non-nil error aborts the insert.
type Guard struct {
	Window scheduling.Interval
	Check  func(existing []scheduling.BusyInterval) error
}

func (g Guard) run(existing []*Reservation) error {
	if g.Check == nil {
		return nil
	}
	busy := make([]scheduling.BusyInterval, 0, len(existing))
	for _, r := range existing {
		if r.Blocking() {
			busy = append(busy, r.Busy())
		}
	}
	return g.Check(busy)
}

// ListFilter narrows List. Zero values match everything.
type ListFilter struct {
	From   time.Time
	To     time.Time
	Status Status
}

func (f ListFilter) match(r *Reservation) bool {
	if !f.From.IsZero() && !r.ServiceEnd.After(f.From) {
		return false
	}
	if !f.To.IsZero() && !r.ServiceStart.Before(f.To) {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	return true
}

// Store persists reservations.
type Store interface {
	// Insert stores r atomically with guard: no other insert can land between
	// the guard reading existing reservations and r being written.
	Insert(ctx context.Context, r *Reservation, guard Guard) error
	Get(ctx context.Context, id string) (*Reservation, error)
	// List returns matching reservations, newest first.
	List(ctx context.Context, filter ListFilter) ([]*Reservation, error)
	Update(ctx context.Context, id string, patch Patch) (*Reservation, error)
	// ListBusyIntervals returns blocking reservations overlapping [from, to).
	ListBusyIntervals(ctx context.Context, from, to time.Time) ([]scheduling.BusyInterval, error)
}

func validateForInsert(r *Reservation) error {
	if r == nil {
		return errors.New("reservations: reservation is required")
	}
	if r.ID == "" {
		return errors.New("reservations: id is required")
	}
	if err := r.Interval().Validate(); err != nil {
		return err
	}
	return nil
}
