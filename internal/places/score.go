package places

import (
	"math"
	"sort"
	"time"

	"github.com/gatherly/placesync/internal/geo"
	"github.com/gatherly/placesync/internal/model"
)

// Scoring weights. Scores order results only; identity is decided by the
// dedup-merge rule in aggregate.go.
const (
	distanceWeight   = 2.0
	ratingWeight     = 1.0
	freshnessWeight  = 0.5
	confidenceWeight = 1.0
	popularityWeight = 0.5
	multiSourceBonus = 0.5
	scoreMaxDistance = 5000.0 // meters; beyond this the distance term is zero
	ratingCountPivot = 1000.0 // log scale saturates around this many ratings
)

// Score ranks a place for one viewport query at one instant.
func Score(p model.CanonicalPlace, centerLat, centerLng float64, now time.Time) float64 {
	score := 0.0

	dist := geo.Distance(centerLat, centerLng, p.Lat, p.Lng)
	score += distanceWeight * (1 - math.Min(dist/scoreMaxDistance, 1))

	if p.Rating > 0 {
		volume := math.Log1p(float64(p.RatingCount)) / math.Log1p(ratingCountPivot)
		score += ratingWeight * (p.Rating / 5) * math.Min(volume, 1)
	}

	score += freshnessWeight * freshness(p, now)

	if p.Popularity > 0 {
		score += popularityWeight * math.Min(p.Popularity, 1)
	}

	if conf, ok := p.Metadata["confidence"].(float64); ok {
		score += confidenceWeight * conf
	}

	if len(p.Providers) > 1 {
		score += multiSourceBonus
	}

	return score
}

// freshness decays linearly from 1 at cache time to 0 at expiry.
func freshness(p model.CanonicalPlace, now time.Time) float64 {
	window := p.ExpiresAt.Sub(p.CachedAt)
	if window <= 0 {
		return 0
	}
	remaining := p.ExpiresAt.Sub(now)
	return math.Max(0, math.Min(1, float64(remaining)/float64(window)))
}

// Rank sorts places by descending score, stable by slug for equal scores.
func Rank(places []model.CanonicalPlace, centerLat, centerLng float64, now time.Time) {
	scores := make(map[string]float64, len(places))
	for _, p := range places {
		scores[p.Slug] = Score(p, centerLat, centerLng, now)
	}
	sort.SliceStable(places, func(i, j int) bool {
		si, sj := scores[places[i].Slug], scores[places[j].Slug]
		if si != sj {
			return si > sj
		}
		return places[i].Slug < places[j].Slug
	})
}
