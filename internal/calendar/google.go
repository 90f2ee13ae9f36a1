package calendar

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/wolfman30/studio-booking/internal/scheduling"
	"github.com/wolfman30/studio-booking/pkg/logging"
)

const googleSource = "google"

// GoogleConfig configures the Google Calendar client.
type GoogleConfig struct {
	CalendarID string
	// Location is the studio timezone used for all-day events and written
	// into inserted events.
	Location *time.Location
	Logger   *logging.Logger
	OnSkip   SkipFunc
}

// GoogleCalendar reads busy intervals from and mirrors bookings into a
// Google calendar through the Calendar v3 API.
type GoogleCalendar struct {
	events     *gcal.EventsService
	calendarID string
	location   *time.Location
	logger     *logging.Logger
	onSkip     SkipFunc
}

// NewGoogleCalendar builds the client. Credentials, endpoint, and transport
// come from opts (option.WithCredentialsFile, option.WithHTTPClient, ...).
func NewGoogleCalendar(ctx context.Context, cfg GoogleConfig, opts ...option.ClientOption) (*GoogleCalendar, error) {
	if strings.TrimSpace(cfg.CalendarID) == "" {
		return nil, errors.New("calendar: google calendar id is required")
	}
	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("calendar: init google service: %w", err)
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &GoogleCalendar{
		events:     svc.Events,
		calendarID: cfg.CalendarID,
		location:   loc,
		logger:     logger,
		onSkip:     cfg.OnSkip,
	}, nil
}

// ListBusyIntervals pages through the single (expanded) events that overlap
// [from, to) and converts them into busy intervals.
func (g *GoogleCalendar) ListBusyIntervals(ctx context.Context, from, to time.Time) ([]scheduling.BusyInterval, error) {
	var items []*gcal.Event
	call := g.events.List(g.calendarID).
		TimeMin(from.Format(time.RFC3339)).
		TimeMax(to.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		ShowDeleted(false).
		Context(ctx)
	err := call.Pages(ctx, func(page *gcal.Events) error {
		items = append(items, page.Items...)
		return nil
	})
	if err != nil {
		return nil, scheduling.Upstream("google-calendar", "events.list", err)
	}
	return g.toBusyIntervals(items), nil
}

// InsertEvent writes the booking into the calendar and returns the event id.
func (g *GoogleCalendar) InsertEvent(ctx context.Context, event Event) (string, error) {
	tz := g.location.String()
	created, err := g.events.Insert(g.calendarID, &gcal.Event{
		Summary:     event.Summary,
		Description: event.Description,
		Location:    event.Location,
		Start: &gcal.EventDateTime{
			DateTime: event.Start.In(g.location).Format(time.RFC3339),
			TimeZone: tz,
		},
		End: &gcal.EventDateTime{
			DateTime: event.End.In(g.location).Format(time.RFC3339),
			TimeZone: tz,
		},
	}).Context(ctx).Do()
	if err != nil {
		return "", scheduling.Upstream("google-calendar", "events.insert", err)
	}
	return created.Id, nil
}

func (g *GoogleCalendar) toBusyIntervals(items []*gcal.Event) []scheduling.BusyInterval {
	out := make([]scheduling.BusyInterval, 0, len(items))
	for _, item := range items {
		if item == nil {
			g.skip("", "nil event")
			continue
		}
		if item.Status == "cancelled" {
			g.skip(item.Id, "cancelled")
			continue
		}
		if item.Transparency == "transparent" {
			g.skip(item.Id, "transparent")
			continue
		}
		start, err := g.parseEventTime(item.Start)
		if err != nil {
			g.skip(item.Id, "bad start: "+err.Error())
			continue
		}
		end, err := g.parseEventTime(item.End)
		if err != nil {
			g.skip(item.Id, "bad end: "+err.Error())
			continue
		}
		busy := scheduling.BusyInterval{
			Interval: scheduling.Interval{Start: start, End: end},
			Source:   googleSource,
			Label:    item.Summary,
		}
		if err := busy.Validate(); err != nil {
			g.skip(item.Id, "end not after start")
			continue
		}
		out = append(out, busy)
	}
	return out
}

// parseEventTime accepts either a timed (dateTime) or an all-day (date) bound.
func (g *GoogleCalendar) parseEventTime(dt *gcal.EventDateTime) (time.Time, error) {
	if dt == nil {
		return time.Time{}, errors.New("missing")
	}
	if dt.DateTime != "" {
		return time.Parse(time.RFC3339, dt.DateTime)
	}
	if dt.Date != "" {
		loc := g.location
		if dt.TimeZone != "" {
			if l, err := time.LoadLocation(dt.TimeZone); err == nil {
				loc = l
			}
		}
		return time.ParseInLocation(time.DateOnly, dt.Date, loc)
	}
	return time.Time{}, errors.New("neither date nor dateTime set")
}

func (g *GoogleCalendar) skip(id, reason string) {
	g.logger.Warn("skipping calendar entry", "source", googleSource, "event_id", id, "reason", reason)
	if g.onSkip != nil {
		g.onSkip(googleSource, reason)
	}
}
