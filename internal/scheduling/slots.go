package scheduling

import (
	"fmt"
	"time"
)

// WorkingWindow is the bookable range of a day in whole hours.
type WorkingWindow struct {
	StartHour int
	EndHour   int
}

func (w WorkingWindow) Validate() error {
	if w.StartHour < 0 || w.StartHour > 23 {
		return Misconfigured("workingHours.start", fmt.Sprintf("hour %d outside [0,24)", w.StartHour))
	}
	if w.EndHour < 0 || w.EndHour > 23 {
		return Misconfigured("workingHours.end", fmt.Sprintf("hour %d outside [0,24)", w.EndHour))
	}
	if w.StartHour >= w.EndHour {
		return Misconfigured("workingHours", fmt.Sprintf("start %d must be before end %d", w.StartHour, w.EndHour))
	}
	return nil
}

// Length is the nominal length of the window.
func (w WorkingWindow) Length() time.Duration {
	return time.Duration(w.EndHour-w.StartHour) * time.Hour
}

// Bounds anchors the window on the calendar day of date, in date's location.
func (w WorkingWindow) Bounds(date time.Time) Interval {
	y, m, d := date.Date()
	loc := date.Location()
	return Interval{
		Start: time.Date(y, m, d, w.StartHour, 0, 0, 0, loc),
		End:   time.Date(y, m, d, w.EndHour, 0, 0, 0, loc),
	}
}

// CheckGranularity verifies that granularity is positive and splits the
// window into whole slots.
func CheckGranularity(w WorkingWindow, granularity time.Duration) error {
	if granularity <= 0 {
		return Misconfigured("slotGranularityMinutes", "must be positive")
	}
	if w.Length()%granularity != 0 {
		return Misconfigured("slotGranularityMinutes", fmt.Sprintf("%s does not divide the %s working window", granularity, w.Length()))
	}
	return nil
}

// ComputeSlots walks the working window of date in granularity steps and
// returns, in ascending order, every start time whose slot conflicts with
// none of busy under p. The time of day of date is ignored.
func ComputeSlots(date time.Time, w WorkingWindow, granularity time.Duration, busy []BusyInterval, p Policy) ([]Slot, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	if err := CheckGranularity(w, granularity); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	for i, b := range busy {
		if err := b.Validate(); err != nil {
			return nil, &ValidationError{Field: fmt.Sprintf("busy[%d]", i), Reason: "malformed busy interval", Err: err}
		}
	}

	bounds := w.Bounds(date)
	slots := make([]Slot, 0, int(w.Length()/granularity))
	for start := bounds.Start; start.Before(bounds.End); start = start.Add(granularity) {
		candidate := NewInterval(start, granularity)
		if _, hit := ConflictsAny(candidate, busy, p); hit {
			continue
		}
		slots = append(slots, Slot{Start: start})
	}
	return slots, nil
}

// SlotAligned reports whether start is one of the start times ComputeSlots
// walks for its own calendar day.
func SlotAligned(start time.Time, w WorkingWindow, granularity time.Duration) bool {
	if granularity <= 0 {
		return false
	}
	bounds := w.Bounds(start)
	if start.Before(bounds.Start) || !start.Before(bounds.End) {
		return false
	}
	return start.Sub(bounds.Start)%granularity == 0
}
