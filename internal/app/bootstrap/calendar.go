package bootstrap

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/api/option"

	"github.com/wolfman30/studio-booking/internal/calendar"
	appconfig "github.com/wolfman30/studio-booking/internal/config"
	"github.com/wolfman30/studio-booking/internal/observability/metrics"
	"github.com/wolfman30/studio-booking/pkg/logging"
)

// Calendars groups the external calendar integrations. Either field may be nil.
type Calendars struct {
	Busy   calendar.BusySource
	Mirror calendar.Mirror
}

// BuildCalendars wires the busy sources listed in BUSY_SOURCE and, whenever a
// Google calendar is configured, the booking mirror.
func BuildCalendars(ctx context.Context, cfg *appconfig.Config, loc *time.Location, m *metrics.BookingMetrics, logger *logging.Logger) (Calendars, error) {
	if logger == nil {
		logger = logging.Default()
	}
	var out Calendars

	var google *calendar.GoogleCalendar
	if cfg.GoogleCalendarID != "" {
		var opts []option.ClientOption
		if cfg.GoogleCredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.GoogleCredentialsFile))
		}
		g, err := calendar.NewGoogleCalendar(ctx, calendar.GoogleConfig{
			CalendarID: cfg.GoogleCalendarID,
			Location:   loc,
			Logger:     logger,
			OnSkip:     m.ObserveSkippedBusy,
		}, opts...)
		if err != nil {
			return Calendars{}, err
		}
		google = g
		out.Mirror = g
	} else {
		logger.Warn("google calendar not configured; bookings will not be mirrored")
	}

	var sources calendar.MultiSource
	for _, name := range strings.Split(cfg.BusySource, ",") {
		switch name = strings.TrimSpace(name); name {
		case "", "none":
		case "google":
			if google == nil {
				return Calendars{}, fmt.Errorf("bootstrap: BUSY_SOURCE=google requires GOOGLE_CALENDAR_ID")
			}
			sources = append(sources, google)
		case "ical":
			feed, err := calendar.NewICalFeed(calendar.ICalConfig{
				URL:      cfg.ICalFeedURL,
				Location: loc,
				Logger:   logger,
				OnSkip:   m.ObserveSkippedBusy,
			})
			if err != nil {
				return Calendars{}, err
			}
			sources = append(sources, feed)
		default:
			return Calendars{}, fmt.Errorf("bootstrap: unknown BUSY_SOURCE %q", name)
		}
	}
	switch len(sources) {
	case 0:
	case 1:
		out.Busy = sources[0]
	default:
		out.Busy = sources
	}
	return out, nil
}
