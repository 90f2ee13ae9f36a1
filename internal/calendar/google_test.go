package calendar

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/wolfman30/studio-booking/internal/scheduling"
	"github.com/wolfman30/studio-booking/pkg/logging"
)

func newTestGoogleCalendar(t *testing.T, handler http.HandlerFunc, onSkip SkipFunc) *GoogleCalendar {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	loc, err := time.LoadLocation("Europe/Prague")
	require.NoError(t, err)

	g, err := NewGoogleCalendar(context.Background(), GoogleConfig{
		CalendarID: "studio@example.com",
		Location:   loc,
		Logger:     logging.Default(),
		OnSkip:     onSkip,
	}, option.WithEndpoint(srv.URL+"/"), option.WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return g
}

func TestGoogleCalendarListBusyIntervals(t *testing.T) {
	var query map[string]string
	var skipped []string
	g := newTestGoogleCalendar(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.True(t, strings.HasSuffix(r.URL.Path, "/calendars/studio@example.com/events"), r.URL.Path)
		query = map[string]string{
			"timeMin":      r.URL.Query().Get("timeMin"),
			"singleEvents": r.URL.Query().Get("singleEvents"),
			"orderBy":      r.URL.Query().Get("orderBy"),
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items": [
			{"id": "a", "summary": "Rezervace", "start": {"dateTime": "2030-03-14T12:00:00+01:00"}, "end": {"dateTime": "2030-03-14T16:00:00+01:00"}},
			{"id": "b", "status": "cancelled", "start": {"dateTime": "2030-03-14T09:00:00+01:00"}, "end": {"dateTime": "2030-03-14T10:00:00+01:00"}},
			{"id": "c", "start": {"dateTime": "not-a-time"}, "end": {"dateTime": "2030-03-14T10:00:00+01:00"}},
			{"id": "d", "start": {"dateTime": "2030-03-14T11:00:00+01:00"}, "end": {"dateTime": "2030-03-14T10:00:00+01:00"}},
			{"id": "e", "start": {"date": "2030-03-15"}, "end": {"date": "2030-03-16"}},
			{"id": "f", "transparency": "transparent", "start": {"dateTime": "2030-03-14T09:00:00+01:00"}, "end": {"dateTime": "2030-03-14T10:00:00+01:00"}},
			{"id": "g", "start": {"dateTime": "2030-03-14T09:00:00+01:00"}}
		]}`))
	}, func(source, reason string) {
		skipped = append(skipped, source)
	})

	from := time.Date(2030, time.March, 14, 0, 0, 0, 0, time.UTC)
	busy, err := g.ListBusyIntervals(context.Background(), from, from.Add(48*time.Hour))
	require.NoError(t, err)

	require.Len(t, busy, 2)
	assert.True(t, busy[0].Start.Equal(time.Date(2030, time.March, 14, 11, 0, 0, 0, time.UTC)))
	assert.True(t, busy[0].End.Equal(time.Date(2030, time.March, 14, 15, 0, 0, 0, time.UTC)))
	assert.Equal(t, "google", busy[0].Source)
	assert.Equal(t, "Rezervace", busy[0].Label)

	// All-day events block the whole day in the studio timezone.
	assert.True(t, busy[1].Start.Equal(time.Date(2030, time.March, 14, 23, 0, 0, 0, time.UTC)))
	assert.Equal(t, 24*time.Hour, busy[1].Duration())

	assert.Len(t, skipped, 5)
	assert.Equal(t, from.Format(time.RFC3339), query["timeMin"])
	assert.Equal(t, "true", query["singleEvents"])
	assert.Equal(t, "startTime", query["orderBy"])
}

func TestGoogleCalendarListFollowsPages(t *testing.T) {
	calls := 0
	g := newTestGoogleCalendar(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("pageToken") == "" {
			_, _ = w.Write([]byte(`{"nextPageToken": "p2", "items": [{"id": "a", "start": {"dateTime": "2030-03-14T09:00:00Z"}, "end": {"dateTime": "2030-03-14T10:00:00Z"}}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"items": [{"id": "b", "start": {"dateTime": "2030-03-14T11:00:00Z"}, "end": {"dateTime": "2030-03-14T12:00:00Z"}}]}`))
	}, nil)

	from := time.Date(2030, time.March, 14, 0, 0, 0, 0, time.UTC)
	busy, err := g.ListBusyIntervals(context.Background(), from, from.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Len(t, busy, 2)
	assert.Equal(t, 2, calls)
}

func TestGoogleCalendarListUpstreamFailure(t *testing.T) {
	g := newTestGoogleCalendar(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"code": 404, "message": "calendar not found"}}`, http.StatusNotFound)
	}, nil)

	from := time.Date(2030, time.March, 14, 0, 0, 0, 0, time.UTC)
	_, err := g.ListBusyIntervals(context.Background(), from, from.Add(24*time.Hour))
	require.Error(t, err)
	assert.True(t, scheduling.IsUpstream(err))
}

func TestGoogleCalendarInsertEvent(t *testing.T) {
	var got map[string]any
	g := newTestGoogleCalendar(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "evt-123"}`))
	}, nil)

	start := time.Date(2030, time.March, 14, 8, 0, 0, 0, time.UTC)
	id, err := g.InsertEvent(context.Background(), Event{
		Summary:     Summary("Manikúra", "Jana Nováková"),
		Description: Description(Client{Name: "Jana Nováková", Phone: "+420777000111", Email: "jana@example.com"}),
		Location:    "Nail Studio",
		Start:       start,
		End:         start.Add(4 * time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, "evt-123", id)

	assert.Equal(t, "Rezervace: Manikúra - Jana Nováková", got["summary"])
	assert.Equal(t, "Klient: Jana Nováková\nTel: +420777000111\nEmail: jana@example.com", got["description"])
	assert.Equal(t, "Nail Studio", got["location"])
	startField := got["start"].(map[string]any)
	assert.Equal(t, "2030-03-14T09:00:00+01:00", startField["dateTime"])
	assert.Equal(t, "Europe/Prague", startField["timeZone"])
}

func TestGoogleCalendarInsertFailureIsUpstream(t *testing.T) {
	g := newTestGoogleCalendar(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"code": 403, "message": "forbidden"}}`, http.StatusForbidden)
	}, nil)

	_, err := g.InsertEvent(context.Background(), Event{Summary: "x", Start: time.Now(), End: time.Now().Add(time.Hour)})
	require.Error(t, err)
	assert.True(t, scheduling.IsUpstream(err))
}

func TestNewGoogleCalendarRequiresID(t *testing.T) {
	_, err := NewGoogleCalendar(context.Background(), GoogleConfig{}, option.WithoutAuthentication())
	assert.Error(t, err)
}
