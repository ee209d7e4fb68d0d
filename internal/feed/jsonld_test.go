package feed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatherly/placesync/internal/model"
)

var jsonldSource = model.EventSource{
	ID:   2,
	Name: "venue site",
	URL:  "https://venue.example/events",
	Type: model.SourceJSONLD,
}

func TestParseJSONLDRawDocument(t *testing.T) {
	t.Parallel()

	const doc = `{
		"@context": "https://schema.org",
		"@type": "MusicEvent",
		"name": "Jazz Evening",
		"startDate": "2024-11-05T20:00:00Z",
		"endDate": "2024-11-05T23:00:00Z",
		"description": "Live trio.",
		"url": "https://venue.example/jazz",
		"image": "https://venue.example/jazz.jpg",
		"keywords": "jazz, live music",
		"location": {
			"@type": "Place",
			"name": "Blue Note",
			"address": {
				"streetAddress": "Jazzgasse 1",
				"addressLocality": "Berlin",
				"postalCode": "10115"
			},
			"geo": {"latitude": 52.52, "longitude": 13.40}
		}
	}`

	events, err := ParseJSONLD(jsonldSource, []byte(doc))
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, "Jazz Evening", ev.Title)
	assert.Equal(t, "jazz evening", ev.NormalizedTitle)
	assert.Equal(t, time.Date(2024, 11, 5, 20, 0, 0, 0, time.UTC), ev.StartsAt)
	require.NotNil(t, ev.EndsAt)
	assert.Equal(t, "Blue Note", ev.VenueName)
	assert.Equal(t, "Jazzgasse 1, 10115, Berlin", ev.VenueAddress)
	require.NotNil(t, ev.Lat)
	assert.InDelta(t, 52.52, *ev.Lat, 1e-9)
	assert.Equal(t, []string{"jazz", "live music"}, ev.Tags)
	assert.Equal(t, "https://venue.example/jazz.jpg", ev.ImageURL)
	assert.Equal(t, model.EventScheduled, ev.Status)
}

func TestParseJSONLDFromHTML(t *testing.T) {
	t.Parallel()

	const page = `<!doctype html>
<html><head>
<script type="application/ld+json">
{"@context":"https://schema.org","@graph":[
  {"@type":"Event","name":"Pottery Class","startDate":"2024-11-06T18:00:00Z",
   "location":{"name":"Studio Ton"}},
  {"@type":"Organization","name":"Not An Event"}
]}
</script>
<script type="application/ld+json">
{"@type":["Thing","TheaterEvent"],"name":"Faust","startDate":"2024-11-07T19:30:00Z"}
</script>
</head><body><h1>Events</h1></body></html>`

	events, err := ParseJSONLD(jsonldSource, []byte(page))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "Pottery Class", events[0].Title)
	assert.Equal(t, "Studio Ton", events[0].VenueName)
	assert.Equal(t, "Faust", events[1].Title)
}

func TestParseJSONLDCancelledStatusAnyCase(t *testing.T) {
	t.Parallel()

	const doc = `{"@type":"Event","name":"Rained Out",
		"startDate":"2024-11-08T10:00:00Z",
		"eventStatus":"https://schema.org/EventCancelled"}`

	events, err := ParseJSONLD(jsonldSource, []byte(doc))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.EventCanceled, events[0].Status)
}

func TestParseJSONLDRequiresNameAndStart(t *testing.T) {
	t.Parallel()

	const doc = `[
		{"@type":"Event","startDate":"2024-11-08T10:00:00Z"},
		{"@type":"Event","name":"No Date"},
		{"@type":"Event","name":"Valid","startDate":"2024-11-08"}
	]`

	events, err := ParseJSONLD(jsonldSource, []byte(doc))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Valid", events[0].Title)
	require.Nil(t, events[0].EndsAt, "missing end date is allowed")
}

func TestParseJSONLDStringLocationAndNumericStrings(t *testing.T) {
	t.Parallel()

	const doc = `{"@type":"Event","name":"Open Air",
		"startDate":"2024-11-09T12:00:00Z",
		"location":"Tempelhofer Feld",
		"keywords":["outdoors"]}`

	events, err := ParseJSONLD(jsonldSource, []byte(doc))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Tempelhofer Feld", events[0].VenueName)

	const geoDoc = `{"@type":"Event","name":"String Geo",
		"startDate":"2024-11-09T12:00:00Z",
		"location":{"name":"Pier","geo":{"latitude":"52.51","longitude":"13.39"}}}`

	events, err = ParseJSONLD(jsonldSource, []byte(geoDoc))
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.NotNil(t, events[0].Lat)
	assert.InDelta(t, 52.51, *events[0].Lat, 1e-9)
}

func TestParseJSONLDBrokenScriptBlockIsSkipped(t *testing.T) {
	t.Parallel()

	const page = `<html><head>
<script type="application/ld+json">{not valid json</script>
<script type="application/ld+json">{"@type":"Event","name":"Still Here","startDate":"2024-11-10T10:00:00Z"}</script>
</head><body></body></html>`

	events, err := ParseJSONLD(jsonldSource, []byte(page))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Still Here", events[0].Title)
}
