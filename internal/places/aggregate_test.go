package places

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatherly/placesync/internal/model"
	"github.com/gatherly/placesync/internal/taxonomy"
)

func candidate(provider, id, name string, lat, lng float64) model.ProviderPlace {
	return model.ProviderPlace{
		Provider:   provider,
		ProviderID: id,
		Name:       name,
		Lat:        lat,
		Lng:        lng,
		Confidence: 0.8,
		CanPersist: true,
	}
}

func TestBestMatchRequiresBothThresholds(t *testing.T) {
	t.Parallel()

	base := FromCandidate(candidate("osm", "node/1", "Boulder Bar", 52.5200, 13.4000))
	aggs := []*Aggregate{base}

	// Same name, ~50m away: matches.
	near := candidate("foursquare", "f1", "Boulder Bar", 52.52045, 13.4000)
	assert.Same(t, base, BestMatch(aggs, near))

	// Same name but ~500m away: distance gate fails.
	far := candidate("foursquare", "f2", "Boulder Bar", 52.5245, 13.4000)
	assert.Nil(t, BestMatch(aggs, far))

	// Nearby but a different name: similarity gate fails.
	other := candidate("foursquare", "f3", "Kaffeehaus Mitte", 52.52045, 13.4000)
	assert.Nil(t, BestMatch(aggs, other))
}

func TestBestMatchPicksSingleBest(t *testing.T) {
	t.Parallel()

	a := FromCandidate(candidate("osm", "node/1", "Stadtbad Mitte", 52.5200, 13.4000))
	b := FromCandidate(candidate("osm", "node/2", "Stadtbad Mitt", 52.5201, 13.4000))
	aggs := []*Aggregate{a, b}

	// Exact name beats the near-exact one even though both pass the gate.
	c := candidate("google", "g1", "Stadtbad Mitte", 52.52005, 13.4000)
	assert.Same(t, a, BestMatch(aggs, c))
}

func TestAbsorbUnionsAndFills(t *testing.T) {
	t.Parallel()

	agg := FromCandidate(model.ProviderPlace{
		Provider:   "osm",
		ProviderID: "node/9",
		Name:       "Volkspark Cafe",
		Lat:        52.52,
		Lng:        13.40,
		Categories: []string{"cafe"},
		Confidence: 0.75,
		CanPersist: true,
	})
	agg.Absorb(model.ProviderPlace{
		Provider:    "foursquare",
		ProviderID:  "fsq9",
		Name:        "Volkspark Café",
		Lat:         52.52001,
		Lng:         13.40001,
		Categories:  []string{"Coffee Shop"},
		Address:     model.Address{Street: "Parkweg 3", City: "Berlin"},
		Rating:      4.2,
		RatingCount: 100,
		Popularity:  0.8,
		Confidence:  0.9,
		CanPersist:  true,
	})

	p := agg.Canonical(time.Now(), time.Now().Add(time.Hour))
	assert.Equal(t, []taxonomy.Category{taxonomy.Food}, p.Categories)
	assert.ElementsMatch(t, []string{"cafe", "Coffee Shop"}, p.Tags)
	assert.Equal(t, "Parkweg 3", p.Address.Street)
	assert.Equal(t, []string{"foursquare", "osm"}, p.Providers)
	assert.Equal(t, "foursquare", p.PrimarySource, "highest confidence wins")
	assert.InDelta(t, 4.2, p.Rating, 1e-9)
	assert.Equal(t, 100, p.RatingCount)
	assert.InDelta(t, 0.8, p.Popularity, 1e-9)
	assert.Len(t, p.Attribution, 2)
}

func TestAbsorbKeepsBestPopularity(t *testing.T) {
	t.Parallel()

	stored := model.CanonicalPlace{
		ID: "22222222-2222-2222-2222-222222222222", Slug: "halle-xyz",
		Name: "Halle", Lat: 52.52, Lng: 13.40, Popularity: 0.6,
	}
	agg := FromStored(stored)

	c := candidate("foursquare", "f1", "Halle", 52.52, 13.40)
	c.Popularity = 0.9
	agg.Absorb(c)

	p := agg.Canonical(time.Now(), time.Now().Add(time.Hour))
	assert.InDelta(t, 0.9, p.Popularity, 1e-9)

	// A weaker observation never lowers it.
	weak := candidate("foursquare", "f2", "Halle", 52.52, 13.40)
	weak.Popularity = 0.3
	agg.Absorb(weak)
	p = agg.Canonical(time.Now(), time.Now().Add(time.Hour))
	assert.InDelta(t, 0.9, p.Popularity, 1e-9)
}

func TestCanonicalIdentityIsStable(t *testing.T) {
	t.Parallel()

	stored := model.CanonicalPlace{
		ID:   "11111111-1111-1111-1111-111111111111",
		Slug: "old-slug-abc",
		Name: "Altes Museum",
		Lat:  52.5196,
		Lng:  13.3986,
	}
	agg := FromStored(stored)
	// A merge renames nothing: id and slug survive.
	agg.Absorb(candidate("google", "g7", "Altes Museum Berlin", 52.5196, 13.3986))

	p := agg.Canonical(time.Now(), time.Now().Add(time.Hour))
	assert.Equal(t, stored.ID, p.ID)
	assert.Equal(t, stored.Slug, p.Slug)
}

func TestCanonicalDeterministicSlugForNewPlaces(t *testing.T) {
	t.Parallel()

	a := FromCandidate(candidate("osm", "node/1", "Neue Halle", 52.52, 13.40))
	b := FromCandidate(candidate("foursquare", "f1", "Neue Halle", 52.52, 13.40))

	now := time.Now()
	require.Equal(t,
		a.Canonical(now, now.Add(time.Hour)).Slug,
		b.Canonical(now, now.Add(time.Hour)).Slug,
		"same name and location always yield the same slug",
	)
}

func TestTransientFlagClearsOnPersistableAbsorb(t *testing.T) {
	t.Parallel()

	agg := FromCandidate(model.ProviderPlace{
		Provider: "google", ProviderID: "g1", Name: "Pop Up", Lat: 1, Lng: 1,
		CanPersist: false,
	})
	assert.True(t, agg.Transient)

	agg.Absorb(candidate("osm", "node/5", "Pop Up", 1, 1))
	assert.False(t, agg.Transient)
}

func TestMergeIntoKeepsReceiverIdentity(t *testing.T) {
	t.Parallel()

	a := FromCandidate(candidate("osm", "node/1", "Halle A", 52.52, 13.40))
	b := FromCandidate(candidate("foursquare", "f1", "Halle A", 52.52, 13.40))
	b.Absorb(model.ProviderPlace{
		Provider: "foursquare", ProviderID: "f1", Name: "Halle A",
		Lat: 52.52, Lng: 13.40,
		Address: model.Address{City: "Berlin"}, Confidence: 0.9, CanPersist: true,
	})

	a.MergeInto(b)
	assert.Equal(t, 2, a.ProviderCount())
	assert.Equal(t, "Berlin", a.Canonical(time.Now(), time.Now()).Address.City)
}
