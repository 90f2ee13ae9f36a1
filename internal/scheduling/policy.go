package scheduling

import "time"

// Policy holds the buffers applied around existing commitments. BufferBefore
// is the minimum gap required between the end of a candidate and the start of
// a later commitment; BufferAfter is the minimum gap between the end of an
// earlier commitment and the start of a candidate.
type Policy struct {
	BufferBefore time.Duration
	BufferAfter  time.Duration
}

// SimplePolicy only rejects direct overlaps.
func SimplePolicy() Policy {
	return Policy{}
}

// BufferedPolicy applies asymmetric buffers around existing commitments.
func BufferedPolicy(before, after time.Duration) Policy {
	return Policy{BufferBefore: before, BufferAfter: after}
}

func (p Policy) Validate() error {
	if p.BufferBefore < 0 {
		return Misconfigured("bufferBeforeMinutes", "must not be negative")
	}
	if p.BufferAfter < 0 {
		return Misconfigured("bufferAfterMinutes", "must not be negative")
	}
	return nil
}

// Reach widens candidate to the range an existing commitment has to touch in
// order to conflict with it. Busy-interval queries use it as their bounds.
func (p Policy) Reach(candidate Interval) Interval {
	return Interval{
		Start: candidate.Start.Add(-p.BufferAfter),
		End:   candidate.End.Add(p.BufferBefore),
	}
}

// Conflicts reports whether candidate may not be booked next to existing.
func Conflicts(candidate, existing Interval, p Policy) bool {
	if candidate.Overlaps(existing) {
		return true
	}
	if !candidate.End.After(existing.Start) && existing.Start.Sub(candidate.End) < p.BufferBefore {
		return true
	}
	if !candidate.Start.Before(existing.End) && candidate.Start.Sub(existing.End) < p.BufferAfter {
		return true
	}
	return false
}

// ConflictsAny returns the first busy interval that conflicts with candidate.
func ConflictsAny(candidate Interval, busy []BusyInterval, p Policy) (BusyInterval, bool) {
	for _, b := range busy {
		if Conflicts(candidate, b.Interval, p) {
			return b, true
		}
	}
	return BusyInterval{}, false
}
