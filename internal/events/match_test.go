package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatherly/placesync/internal/model"
)

type fakeDirectory struct {
	near       []model.CanonicalPlace
	byName     []model.CanonicalPlace
	nearCalls  int
	nameCalls  int
	lastCity   string
	lastRadius float64
}

func (d *fakeDirectory) PlacesNear(_ context.Context, _, _ float64, radius float64) ([]model.CanonicalPlace, error) {
	d.nearCalls++
	d.lastRadius = radius
	return d.near, nil
}

func (d *fakeDirectory) PlacesByName(_ context.Context, _, city string) ([]model.CanonicalPlace, error) {
	d.nameCalls++
	d.lastCity = city
	return d.byName, nil
}

type fakeResolver struct {
	place *model.CanonicalPlace
	calls int
	label string
}

func (r *fakeResolver) Resolve(_ context.Context, lat, lng float64, label string) (*model.CanonicalPlace, error) {
	r.calls++
	r.label = label
	if r.place != nil {
		return r.place, nil
	}
	return &model.CanonicalPlace{ID: "resolved", Name: label, Lat: lat, Lng: lng}, nil
}

func ptr(v float64) *float64 { return &v }

func TestMatchCoordinatesFirst(t *testing.T) {
	t.Parallel()

	dir := &fakeDirectory{
		near: []model.CanonicalPlace{
			{ID: "p1", Name: "Kulturhaus", Lat: 52.501, Lng: 13.401},
			{ID: "p2", Name: "Kulturhaus Annex", Lat: 52.5015, Lng: 13.4015},
		},
		byName: []model.CanonicalPlace{{ID: "wrong", Name: "Kulturhaus"}},
	}
	resolver := &fakeResolver{}
	m := NewMatcher(dir, resolver)

	ev := model.NormalizedEvent{
		Title:     "Open Stage",
		VenueName: "Kulturhaus",
		Lat:       ptr(52.5011),
		Lng:       ptr(13.4011),
	}
	place, err := m.Match(context.Background(), ev, "berlin")
	require.NoError(t, err)
	require.NotNil(t, place)

	// The nearest candidate wins and later stages never run.
	assert.Equal(t, "p1", place.ID)
	assert.Equal(t, coordMatchRadiusMeters, dir.lastRadius)
	assert.Zero(t, dir.nameCalls)
	assert.Zero(t, resolver.calls)
}

func TestMatchFallsBackToName(t *testing.T) {
	t.Parallel()

	dir := &fakeDirectory{
		byName: []model.CanonicalPlace{
			{ID: "far", Name: "Stadtbibliothek", Lat: 52.55, Lng: 13.48},
			{ID: "close", Name: "Stadtbibliothek", Lat: 52.5003, Lng: 13.4003},
		},
	}
	m := NewMatcher(dir, nil)

	ev := model.NormalizedEvent{
		Title:     "Lesung",
		VenueName: "Stadtbibliothek",
		Lat:       ptr(52.5),
		Lng:       ptr(13.4),
	}
	place, err := m.Match(context.Background(), ev, "berlin")
	require.NoError(t, err)
	require.NotNil(t, place)

	assert.Equal(t, "close", place.ID)
	assert.Equal(t, "berlin", dir.lastCity)
	assert.Equal(t, 1, dir.nearCalls)
}

func TestMatchNameWithoutCoordsUsesPenalty(t *testing.T) {
	t.Parallel()

	// No event coordinates: candidates sit at the fixed penalty distance,
	// which is inside the name radius, so a similar name still matches.
	dir := &fakeDirectory{
		byName: []model.CanonicalPlace{{ID: "lib", Name: "Stadtbibliothek Mitte", Lat: 52.52, Lng: 13.4}},
	}
	m := NewMatcher(dir, nil)

	ev := model.NormalizedEvent{Title: "Lesung", VenueName: "Stadtbibliothek Mitte"}
	place, err := m.Match(context.Background(), ev, "")
	require.NoError(t, err)
	require.NotNil(t, place)
	assert.Equal(t, "lib", place.ID)
}

func TestMatchNameRejectsDissimilar(t *testing.T) {
	t.Parallel()

	dir := &fakeDirectory{
		byName: []model.CanonicalPlace{{ID: "x", Name: "Completely Different Venue", Lat: 52.5, Lng: 13.4}},
	}
	m := NewMatcher(dir, nil)

	ev := model.NormalizedEvent{Title: "Show", VenueName: "Planetarium"}
	place, err := m.Match(context.Background(), ev, "")
	require.NoError(t, err)
	assert.Nil(t, place)
}

func TestMatchResolverLastResort(t *testing.T) {
	t.Parallel()

	dir := &fakeDirectory{}
	resolver := &fakeResolver{}
	m := NewMatcher(dir, resolver)

	ev := model.NormalizedEvent{
		Title: "Street Festival",
		Lat:   ptr(52.49),
		Lng:   ptr(13.35),
	}
	place, err := m.Match(context.Background(), ev, "")
	require.NoError(t, err)
	require.NotNil(t, place)

	assert.Equal(t, "resolved", place.ID)
	assert.Equal(t, 1, resolver.calls)
	// No venue name on the event: the title labels the resolved place.
	assert.Equal(t, "Street Festival", resolver.label)
}

func TestMatchResolverSkippedWithoutCoords(t *testing.T) {
	t.Parallel()

	dir := &fakeDirectory{}
	resolver := &fakeResolver{}
	m := NewMatcher(dir, resolver)

	ev := model.NormalizedEvent{Title: "Mystery Event", VenueName: "Somewhere"}
	place, err := m.Match(context.Background(), ev, "")
	require.NoError(t, err)
	assert.Nil(t, place)
	assert.Zero(t, resolver.calls)
}

func TestMatchUnmatchedIsNotError(t *testing.T) {
	t.Parallel()

	m := NewMatcher(&fakeDirectory{}, nil)
	place, err := m.Match(context.Background(), model.NormalizedEvent{Title: "Nothing"}, "")
	require.NoError(t, err)
	assert.Nil(t, place)
}
