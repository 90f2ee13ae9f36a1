package booking

import (
	"time"

	"github.com/wolfman30/studio-booking/internal/scheduling"
)

// Settings are the scheduling rules of the studio.
type Settings struct {
	Window          scheduling.WorkingWindow
	Granularity     time.Duration
	ServiceDuration time.Duration
	Policy          scheduling.Policy
	// Location is the calendar timezone; dates and slot labels are read in it.
	Location           *time.Location
	DefaultServiceName string
	StudioLocation     string
}

// DefaultSettings mirrors the studio's production schedule.
func DefaultSettings() Settings {
	loc, err := time.LoadLocation("Europe/Prague")
	if err != nil {
		loc = time.UTC
	}
	return Settings{
		Window:             scheduling.WorkingWindow{StartHour: 9, EndHour: 17},
		Granularity:        60 * time.Minute,
		ServiceDuration:    240 * time.Minute,
		Policy:             scheduling.BufferedPolicy(300*time.Minute, 60*time.Minute),
		Location:           loc,
		DefaultServiceName: "Manikúra",
		StudioLocation:     "Nail Studio",
	}
}

func (s Settings) Validate() error {
	if err := s.Window.Validate(); err != nil {
		return err
	}
	if err := scheduling.CheckGranularity(s.Window, s.Granularity); err != nil {
		return err
	}
	if s.ServiceDuration <= 0 {
		return scheduling.Misconfigured("serviceDurationMinutes", "must be positive")
	}
	if err := s.Policy.Validate(); err != nil {
		return err
	}
	if s.Location == nil {
		return scheduling.Misconfigured("calendarTimezone", "is required")
	}
	return nil
}
