package calendar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/emersion/go-ical"

	"github.com/wolfman30/studio-booking/internal/scheduling"
	"github.com/wolfman30/studio-booking/pkg/logging"
)

const icalSource = "ical"

// maxFeedBytes caps the size of a downloaded feed.
const maxFeedBytes = 10 << 20

// ICalFeed reads busy intervals from a published iCalendar (.ics) feed, for
// studios that keep a second calendar outside Google.
type ICalFeed struct {
	url      string
	client   *http.Client
	location *time.Location
	logger   *logging.Logger
	onSkip   SkipFunc
}

type ICalConfig struct {
	URL      string
	Location *time.Location
	Client   *http.Client
	Logger   *logging.Logger
	OnSkip   SkipFunc
}

func NewICalFeed(cfg ICalConfig) (*ICalFeed, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("calendar: ical feed url is required")
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &ICalFeed{url: cfg.URL, client: client, location: loc, logger: logger, onSkip: cfg.OnSkip}, nil
}

func (f *ICalFeed) ListBusyIntervals(ctx context.Context, from, to time.Time) ([]scheduling.BusyInterval, error) {
	body, err := f.fetch(ctx)
	if err != nil {
		return nil, scheduling.Upstream("ical-feed", "fetch", err)
	}
	busy, err := f.parse(body, from, to)
	if err != nil {
		return nil, scheduling.Upstream("ical-feed", "decode", err)
	}
	return busy, nil
}

func (f *ICalFeed) fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "text/calendar")
	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	body := string(raw)
	if err := validateICalFormat(body); err != nil {
		return "", err
	}
	return body, nil
}

func validateICalFormat(body string) error {
	trimmed := strings.TrimSpace(body)
	upper := strings.ToUpper(trimmed)
	if strings.HasPrefix(upper, "<!DOCTYPE") || strings.HasPrefix(upper, "<HTML") {
		return errors.New("received HTML instead of iCalendar data")
	}
	if !strings.HasPrefix(upper, "BEGIN:VCALENDAR") {
		return errors.New("payload does not start with BEGIN:VCALENDAR")
	}
	return nil
}

func (f *ICalFeed) parse(body string, from, to time.Time) ([]scheduling.BusyInterval, error) {
	window := scheduling.Interval{Start: from, End: to}
	dec := ical.NewDecoder(strings.NewReader(body))
	var out []scheduling.BusyInterval
	for {
		cal, err := dec.Decode()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		for _, event := range cal.Events() {
			out = append(out, f.expand(event, window)...)
		}
	}
	return out, nil
}

// expand turns one VEVENT (and its recurrences) into the busy intervals that
// overlap window.
func (f *ICalFeed) expand(event ical.Event, window scheduling.Interval) []scheduling.BusyInterval {
	uid := propValue(event.Component, ical.PropUID)
	if strings.EqualFold(propValue(event.Component, ical.PropStatus), "CANCELLED") {
		f.skip(uid, "cancelled")
		return nil
	}
	if strings.EqualFold(propValue(event.Component, ical.PropTransparency), "TRANSPARENT") {
		f.skip(uid, "transparent")
		return nil
	}
	start, err := event.DateTimeStart(f.location)
	if err != nil || start.IsZero() {
		f.skip(uid, "bad start")
		return nil
	}
	end, err := event.DateTimeEnd(f.location)
	if err != nil || !end.After(start) {
		f.skip(uid, "bad end")
		return nil
	}
	summary := propValue(event.Component, ical.PropSummary)
	length := end.Sub(start)

	starts := []time.Time{start}
	set, err := event.RecurrenceSet(f.location)
	if err != nil {
		f.skip(uid, "bad recurrence rule")
		return nil
	}
	if set != nil {
		starts = set.Between(window.Start.Add(-length), window.End, true)
	}

	var out []scheduling.BusyInterval
	for _, s := range starts {
		occurrence := scheduling.NewInterval(s, length)
		if !occurrence.Overlaps(window) {
			continue
		}
		out = append(out, scheduling.BusyInterval{Interval: occurrence, Source: icalSource, Label: summary})
	}
	return out
}

func propValue(comp *ical.Component, name string) string {
	if prop := comp.Props.Get(name); prop != nil {
		return prop.Value
	}
	return ""
}

func (f *ICalFeed) skip(uid, reason string) {
	f.logger.Warn("skipping calendar entry", "source", icalSource, "event_uid", uid, "reason", reason)
	if f.onSkip != nil {
		f.onSkip(icalSource, reason)
	}
}
