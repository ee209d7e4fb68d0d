package feed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatherly/placesync/internal/model"
)

var icsSource = model.EventSource{
	ID:   1,
	Name: "neighborhood calendar",
	URL:  "https://calendar.example/feed.ics",
	Type: model.SourceICS,
}

const communityRunICS = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//EN
BEGIN:VEVENT
UID:run-42@calendar.example
DTSTAMP:20241001T000000Z
DTSTART:20241101T060000Z
DTEND:20241101T070000Z
RRULE:FREQ=DAILY;COUNT=2
SUMMARY:Community Run
LOCATION:Volkspark Entrance
CATEGORIES:outdoors,running
END:VEVENT
END:VCALENDAR
`

func TestParseICSExpandsRecurrence(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 10, 30, 0, 0, 0, 0, time.UTC)
	window := NewWindow(now, 12*time.Hour, 30*24*time.Hour)

	events, err := ParseICS(icsSource, []byte(communityRunICS), window)
	require.NoError(t, err)
	require.Len(t, events, 2)

	first, second := events[0], events[1]
	assert.Equal(t, "Community Run", first.Title)
	assert.Equal(t, "community run", first.NormalizedTitle)
	assert.Equal(t, time.Date(2024, 11, 1, 6, 0, 0, 0, time.UTC), first.StartsAt)
	assert.Equal(t, time.Date(2024, 11, 2, 6, 0, 0, 0, time.UTC), second.StartsAt)

	for _, ev := range events {
		assert.Equal(t, "Volkspark Entrance", ev.VenueName)
		assert.Equal(t, []string{"outdoors", "running"}, ev.Tags)
		assert.Equal(t, "run-42@calendar.example", ev.UID)
		require.NotNil(t, ev.EndsAt)
		assert.Equal(t, time.Hour, ev.EndsAt.Sub(ev.StartsAt))
		assert.Equal(t, model.EventScheduled, ev.Status)
	}
}

func TestParseICSHonorsExdate(t *testing.T) {
	t.Parallel()

	const body = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//EN
BEGIN:VEVENT
UID:ex@calendar.example
DTSTAMP:20241001T000000Z
DTSTART:20241101T060000Z
RRULE:FREQ=DAILY;COUNT=3
EXDATE:20241102T060000Z
SUMMARY:Morning Yoga
END:VEVENT
END:VCALENDAR
`
	now := time.Date(2024, 10, 30, 0, 0, 0, 0, time.UTC)
	events, err := ParseICS(icsSource, []byte(body), NewWindow(now, 12*time.Hour, 30*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, events, 2, "excluded occurrence is never emitted")
	assert.Equal(t, time.Date(2024, 11, 1, 6, 0, 0, 0, time.UTC), events[0].StartsAt)
	assert.Equal(t, time.Date(2024, 11, 3, 6, 0, 0, 0, time.UTC), events[1].StartsAt)
}

func TestParseICSWindowCutsOldAndFar(t *testing.T) {
	t.Parallel()

	const body = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//EN
BEGIN:VEVENT
UID:daily@calendar.example
DTSTAMP:20240101T000000Z
DTSTART:20240101T180000Z
RRULE:FREQ=DAILY
SUMMARY:Open Mic
END:VEVENT
END:VCALENDAR
`
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	window := NewWindow(now, 12*time.Hour, 2*24*time.Hour)
	events, err := ParseICS(icsSource, []byte(body), window)
	require.NoError(t, err)

	// Only the occurrences inside [now-12h, now+2d] survive.
	require.Len(t, events, 2)
	assert.Equal(t, time.Date(2024, 6, 15, 18, 0, 0, 0, time.UTC), events[0].StartsAt)
	assert.Equal(t, time.Date(2024, 6, 16, 18, 0, 0, 0, time.UTC), events[1].StartsAt)
}

func TestParseICSCancelledStatus(t *testing.T) {
	t.Parallel()

	const body = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//EN
BEGIN:VEVENT
UID:c@calendar.example
DTSTAMP:20240101T000000Z
DTSTART:20240610T190000Z
STATUS:CANCELLED
SUMMARY:Storm Concert
GEO:52.5200;13.4050
END:VEVENT
END:VCALENDAR
`
	now := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	events, err := ParseICS(icsSource, []byte(body), NewWindow(now, 12*time.Hour, 30*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.EventCanceled, events[0].Status)
	require.NotNil(t, events[0].Lat)
	assert.InDelta(t, 52.52, *events[0].Lat, 1e-9)
	assert.InDelta(t, 13.405, *events[0].Lng, 1e-9)
}

func TestParseICSDurationFallback(t *testing.T) {
	t.Parallel()

	const body = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//EN
BEGIN:VEVENT
UID:d@calendar.example
DTSTAMP:20240101T000000Z
DTSTART:20240610T190000Z
DURATION:PT1H30M
SUMMARY:Quiz Night
END:VEVENT
END:VCALENDAR
`
	now := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	events, err := ParseICS(icsSource, []byte(body), NewWindow(now, 12*time.Hour, 30*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.NotNil(t, events[0].EndsAt)
	assert.Equal(t, 90*time.Minute, events[0].EndsAt.Sub(events[0].StartsAt))
}

func TestParseICSStartsFlooredToTenMinutes(t *testing.T) {
	t.Parallel()

	const body = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//EN
BEGIN:VEVENT
UID:f@calendar.example
DTSTAMP:20240101T000000Z
DTSTART:20240610T190742Z
SUMMARY:Odd Start
END:VEVENT
END:VCALENDAR
`
	now := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	events, err := ParseICS(icsSource, []byte(body), NewWindow(now, 12*time.Hour, 30*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, time.Date(2024, 6, 10, 19, 0, 0, 0, time.UTC), events[0].StartsAt)
}

func TestParseICSInvalidBody(t *testing.T) {
	t.Parallel()

	_, err := ParseICS(icsSource, []byte("this is not a calendar"), NewWindow(time.Now(), 12*time.Hour, 30*24*time.Hour))
	require.Error(t, err)
}

func TestParseICSDurationForms(t *testing.T) {
	t.Parallel()

	cases := map[string]time.Duration{
		"PT1H":    time.Hour,
		"PT1H30M": 90 * time.Minute,
		"P1D":     24 * time.Hour,
		"P1DT2H":  26 * time.Hour,
		"PT45S":   45 * time.Second,
	}
	for raw, want := range cases {
		got, err := parseICSDuration(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}

	_, err := parseICSDuration("1H30M")
	assert.Error(t, err)
}
