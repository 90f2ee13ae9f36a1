// Package wizard models the client booking flow: pick a day, pick one of the
// offered times, enter contact details, confirm. Transitions are pure; each
// returns the next Session or an error leaving the current one untouched.
package wizard

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// State is the step the client is on.
type State string

const (
	SelectingDate   State = "date"
	SelectingTime   State = "time"
	EnteringDetails State = "form"
	Confirmed       State = "success"
)

var (
	ErrInvalidTransition = errors.New("wizard: invalid transition")
	ErrPastDate          = errors.New("wizard: date is in the past")
	ErrUnknownTime       = errors.New("wizard: time is not offered")
	ErrMissingDetails    = errors.New("wizard: name, phone and email are required")
)

// Details are the contact fields of the booking form.
type Details struct {
	Name  string `json:"clientName"`
	Phone string `json:"clientPhone"`
	Email string `json:"clientEmail"`
}

func (d Details) complete() bool {
	return strings.TrimSpace(d.Name) != "" && strings.TrimSpace(d.Phone) != "" && strings.TrimSpace(d.Email) != ""
}

// Session is one client's progress through the flow.
type Session struct {
	State State `json:"state"`
	// Date is midnight of the chosen day; zero until a day is picked.
	Date          time.Time `json:"date"`
	Slots         []string  `json:"slots,omitempty"`
	Time          string    `json:"time,omitempty"`
	Details       Details   `json:"details"`
	Loading       bool      `json:"loading"`
	ReservationID string    `json:"reservationId,omitempty"`
	LastError     string    `json:"lastError,omitempty"`
}

func New() Session {
	return Session{State: SelectingDate}
}

func invalid(s Session, action string) error {
	return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, action, s.State)
}

// SelectDate picks a day and starts loading its slots. today is midnight of
// the current day in the studio timezone.
func (s Session) SelectDate(day, today time.Time) (Session, error) {
	if s.State != SelectingDate || s.Loading {
		return s, invalid(s, "select date")
	}
	if day.Before(today) {
		return s, ErrPastDate
	}
	next := s
	next.Date = day
	next.Slots = nil
	next.Time = ""
	next.Loading = true
	next.LastError = ""
	return next, nil
}

// SlotsLoaded shows the offered times for the selected day. An empty list is
// a valid outcome: the client can only go back.
func (s Session) SlotsLoaded(slots []string) (Session, error) {
	if s.State != SelectingDate || !s.Loading {
		return s, invalid(s, "slots loaded")
	}
	next := s
	next.Slots = slices.Clone(slots)
	next.Loading = false
	next.State = SelectingTime
	return next, nil
}

func (s Session) SelectTime(t string) (Session, error) {
	if s.State != SelectingTime {
		return s, invalid(s, "select time")
	}
	if !slices.Contains(s.Slots, t) {
		return s, ErrUnknownTime
	}
	next := s
	next.Time = t
	next.State = EnteringDetails
	return next, nil
}

// Submit sends the form. The session stays on EnteringDetails while the
// booking request is in flight.
func (s Session) Submit(d Details) (Session, error) {
	if s.State != EnteringDetails || s.Loading {
		return s, invalid(s, "submit")
	}
	if !d.complete() {
		return s, ErrMissingDetails
	}
	next := s
	next.Details = d
	next.Loading = true
	next.LastError = ""
	return next, nil
}

func (s Session) Confirm(reservationID string) (Session, error) {
	if s.State != EnteringDetails || !s.Loading {
		return s, invalid(s, "confirm")
	}
	next := s
	next.Loading = false
	next.ReservationID = reservationID
	next.State = Confirmed
	return next, nil
}

// SubmitFailed returns to the time list. The chosen time is cleared because
// the usual cause is that someone else took it; the details are kept.
func (s Session) SubmitFailed(reason string) (Session, error) {
	if s.State != EnteringDetails || !s.Loading {
		return s, invalid(s, "submit failed")
	}
	next := s
	next.Loading = false
	next.Time = ""
	next.LastError = reason
	next.State = SelectingTime
	return next, nil
}

func (s Session) Back() (Session, error) {
	if s.Loading {
		return s, invalid(s, "back")
	}
	next := s
	switch s.State {
	case SelectingTime:
		next.State = SelectingDate
		next.Slots = nil
	case EnteringDetails:
		next.State = SelectingTime
		next.Time = ""
	default:
		return s, invalid(s, "back")
	}
	return next, nil
}

func (s Session) Reset() Session {
	return New()
}

// SlotStart combines the chosen day and time in loc.
func (s Session) SlotStart(loc *time.Location) (time.Time, error) {
	if s.Date.IsZero() || s.Time == "" {
		return time.Time{}, invalid(s, "slot start")
	}
	return time.ParseInLocation("2006-01-02 15:04", s.Date.Format(time.DateOnly)+" "+s.Time, loc)
}
