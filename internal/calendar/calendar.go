package calendar

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/studio-booking/internal/scheduling"
)

// BusySource returns the commitments that overlap [from, to).
type BusySource interface {
	ListBusyIntervals(ctx context.Context, from, to time.Time) ([]scheduling.BusyInterval, error)
}

// Mirror copies a confirmed booking into an external calendar.
type Mirror interface {
	InsertEvent(ctx context.Context, event Event) (string, error)
}

// Event is the calendar entry written for a reservation.
type Event struct {
	Summary     string    `json:"summary"`
	Description string    `json:"description"`
	Location    string    `json:"location,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}

// Client identifies the person who booked.
type Client struct {
	Name  string
	Phone string
	Email string
}

// Summary is the event title shown in the studio calendar.
func Summary(serviceName, clientName string) string {
	return fmt.Sprintf("Rezervace: %s - %s", serviceName, clientName)
}

// Description lists the client's contact details, one per line.
func Description(c Client) string {
	return strings.Join([]string{
		"Klient: " + c.Name,
		"Tel: " + c.Phone,
		"Email: " + c.Email,
	}, "\n")
}

// SkipFunc is notified whenever a source drops a malformed or non-blocking entry.
type SkipFunc func(source, reason string)

// MultiSource merges several busy sources. Any failure fails the whole lookup
// so that an unreachable calendar never reads as a free day.
type MultiSource []BusySource

func (m MultiSource) ListBusyIntervals(ctx context.Context, from, to time.Time) ([]scheduling.BusyInterval, error) {
	var out []scheduling.BusyInterval
	for _, src := range m {
		if src == nil {
			continue
		}
		busy, err := src.ListBusyIntervals(ctx, from, to)
		if err != nil {
			return nil, scheduling.Upstream("busy-source", "list", err)
		}
		out = append(out, busy...)
	}
	return out, nil
}

// StaticSource serves a fixed set of intervals. Useful when no external
// calendar is configured and in tests.
type StaticSource []scheduling.BusyInterval

func (s StaticSource) ListBusyIntervals(_ context.Context, from, to time.Time) ([]scheduling.BusyInterval, error) {
	window := scheduling.Interval{Start: from, End: to}
	var out []scheduling.BusyInterval
	for _, b := range s {
		if b.Overlaps(window) {
			out = append(out, b)
		}
	}
	return out, nil
}

// NoopMirror accepts every event without writing it anywhere.
type NoopMirror struct{}

func (NoopMirror) InsertEvent(context.Context, Event) (string, error) { return "", nil }
