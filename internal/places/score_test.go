package places

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/gatherly/placesync/internal/model"
)

func scoredPlace(slug string, lat, lng float64) model.CanonicalPlace {
	now := time.Now()
	return model.CanonicalPlace{
		Slug: slug, Name: slug, Lat: lat, Lng: lng,
		CachedAt: now, ExpiresAt: now.Add(time.Hour),
	}
}

func TestScoreCloserIsHigher(t *testing.T) {
	t.Parallel()

	now := time.Now()
	near := scoredPlace("near", 52.5205, 13.4005)
	far := scoredPlace("far", 52.5400, 13.4400)

	sNear := Score(near, 52.52, 13.40, now)
	sFar := Score(far, 52.52, 13.40, now)
	assert.Greater(t, sNear, sFar)
}

func TestScoreRatingVolumeMatters(t *testing.T) {
	t.Parallel()

	now := time.Now()
	loud := scoredPlace("loud", 52.52, 13.40)
	loud.Rating, loud.RatingCount = 4.5, 800
	quiet := scoredPlace("quiet", 52.52, 13.40)
	quiet.Rating, quiet.RatingCount = 4.5, 3

	assert.Greater(t, Score(loud, 52.52, 13.40, now), Score(quiet, 52.52, 13.40, now))
}

func TestScorePopularityBoosts(t *testing.T) {
	t.Parallel()

	now := time.Now()
	popular := scoredPlace("popular", 52.52, 13.40)
	popular.Popularity = 0.9
	plain := scoredPlace("plain", 52.52, 13.40)

	assert.InDelta(t, popularityWeight*0.9,
		Score(popular, 52.52, 13.40, now)-Score(plain, 52.52, 13.40, now), 1e-9)
}

func TestScoreMultiProviderBonus(t *testing.T) {
	t.Parallel()

	now := time.Now()
	single := scoredPlace("single", 52.52, 13.40)
	single.Providers = []string{"osm"}
	double := scoredPlace("double", 52.52, 13.40)
	double.Providers = []string{"osm", "foursquare"}

	assert.InDelta(t, multiSourceBonus,
		Score(double, 52.52, 13.40, now)-Score(single, 52.52, 13.40, now), 1e-9)
}

func TestScoreFreshnessDecays(t *testing.T) {
	t.Parallel()

	now := time.Now()
	fresh := scoredPlace("fresh", 52.52, 13.40)
	fresh.CachedAt, fresh.ExpiresAt = now, now.Add(12*time.Hour)
	stale := scoredPlace("stale", 52.52, 13.40)
	stale.CachedAt, stale.ExpiresAt = now.Add(-12*time.Hour), now.Add(time.Minute)

	assert.Greater(t, Score(fresh, 52.52, 13.40, now), Score(stale, 52.52, 13.40, now))
}

func TestRankOrdersByScoreDescending(t *testing.T) {
	t.Parallel()

	places := []model.CanonicalPlace{
		scoredPlace("far", 52.5400, 13.4400),
		scoredPlace("near", 52.5201, 13.4001),
	}
	Rank(places, 52.52, 13.40, time.Now())
	assert.Equal(t, "near", places[0].Slug)
	assert.Equal(t, "far", places[1].Slug)
}

func TestTTLPolicyJitterStaysInRange(t *testing.T) {
	t.Parallel()

	p := ttlPolicy{base: time.Hour, jitter: 30 * time.Minute}
	now := time.Now()
	for range 100 {
		exp := p.expiry(now)
		assert.True(t, !exp.Before(now.Add(time.Hour)))
		assert.True(t, exp.Before(now.Add(90*time.Minute)))
	}
}
