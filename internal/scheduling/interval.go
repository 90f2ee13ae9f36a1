package scheduling

import "time"

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// NewInterval returns the interval starting at start and lasting d.
func NewInterval(start time.Time, d time.Duration) Interval {
	return Interval{Start: start, End: start.Add(d)}
}

// Validate rejects intervals with a missing bound or an end that does not
// come after the start.
func (i Interval) Validate() error {
	if i.Start.IsZero() || i.End.IsZero() {
		return Invalid("interval", "start and end are required")
	}
	if !i.End.After(i.Start) {
		return Invalid("interval", "end must be after start")
	}
	return nil
}

// Overlaps reports whether the two half-open intervals share any instant.
func (i Interval) Overlaps(other Interval) bool {
	return i.Start.Before(other.End) && other.Start.Before(i.End)
}

func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

func (i Interval) In(loc *time.Location) Interval {
	return Interval{Start: i.Start.In(loc), End: i.End.In(loc)}
}

// BusyInterval is an existing commitment that can block candidate slots.
// Source names where it came from ("reservation", "google", "ical") and
// Label carries a human readable hint for logs.
type BusyInterval struct {
	Interval
	Source string
	Label  string
}

// Busy is shorthand for a BusyInterval without provenance.
func Busy(start, end time.Time) BusyInterval {
	return BusyInterval{Interval: Interval{Start: start, End: end}}
}

// Slot is an offerable start time.
type Slot struct {
	Start time.Time
}

// Label formats the slot start as wall-clock time in its own location.
func (s Slot) Label() string {
	return s.Start.Format("15:04")
}
