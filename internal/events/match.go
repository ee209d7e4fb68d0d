// Package events implements event ingestion: venue matching, dedupe-key
// construction, merge-on-reingest, and the per-source orchestrator.
package events

import (
	"context"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/gatherly/placesync/internal/geo"
	"github.com/gatherly/placesync/internal/model"
)

// Venue matching thresholds.
const (
	coordMatchRadiusMeters = 200.0
	nameMatchRadiusMeters  = 500.0
	// Distance assumed for name candidates without usable coordinates on
	// the event side; keeps them rankable but below a confident direct hit.
	namePenaltyMeters = 400.0
	nameMinSimilarity = 0.6
)

// PlaceDirectory is the read side of the place store the matcher needs.
type PlaceDirectory interface {
	PlacesNear(ctx context.Context, lat, lng, radiusMeters float64) ([]model.CanonicalPlace, error)
	PlacesByName(ctx context.Context, name, city string) ([]model.CanonicalPlace, error)
}

// PlaceResolver finds or creates a place from coordinates, used as the
// last-resort fallback. Implemented by the place aggregator.
type PlaceResolver interface {
	Resolve(ctx context.Context, lat, lng float64, label string) (*model.CanonicalPlace, error)
}

// Matcher resolves an event's raw venue fields to a canonical place.
type Matcher struct {
	places   PlaceDirectory
	resolver PlaceResolver
	log      *zap.Logger
}

// NewMatcher wires the matcher. resolver may be nil; the third stage is
// then skipped.
func NewMatcher(places PlaceDirectory, resolver PlaceResolver) *Matcher {
	return &Matcher{
		places:   places,
		resolver: resolver,
		log:      zap.L().With(zap.String("component", "venue-match")),
	}
}

// Match runs the three-stage fallback, stopping at the first confident
// hit: coordinates, then fuzzy venue name, then the shared resolver. A
// nil result is not an error; the event keeps its own location fields.
func (m *Matcher) Match(ctx context.Context, ev model.NormalizedEvent, city string) (*model.CanonicalPlace, error) {
	if ev.Lat != nil && ev.Lng != nil {
		place, err := m.byCoordinates(ctx, *ev.Lat, *ev.Lng)
		if err != nil {
			return nil, err
		}
		if place != nil {
			return place, nil
		}
	}

	if ev.VenueName != "" {
		place, err := m.byName(ctx, ev, city)
		if err != nil {
			return nil, err
		}
		if place != nil {
			return place, nil
		}
	}

	if m.resolver != nil && ev.Lat != nil && ev.Lng != nil {
		label := ev.VenueName
		if label == "" {
			label = ev.Title
		}
		return m.resolver.Resolve(ctx, *ev.Lat, *ev.Lng, label)
	}

	return nil, nil
}

// byCoordinates accepts the nearest place within the coordinate radius.
func (m *Matcher) byCoordinates(ctx context.Context, lat, lng float64) (*model.CanonicalPlace, error) {
	near, err := m.places.PlacesNear(ctx, lat, lng, coordMatchRadiusMeters)
	if err != nil {
		return nil, err
	}
	if len(near) == 0 {
		return nil, nil
	}
	return &near[0], nil
}

// byName ranks fuzzy name candidates by distance when the event has
// coordinates, else by a fixed penalty distance, and accepts the best
// within the name radius.
func (m *Matcher) byName(ctx context.Context, ev model.NormalizedEvent, city string) (*model.CanonicalPlace, error) {
	candidates, err := m.places.PlacesByName(ctx, ev.VenueName, city)
	if err != nil {
		return nil, err
	}

	var best *model.CanonicalPlace
	bestDist := math.Inf(1)
	for i := range candidates {
		c := &candidates[i]
		if geo.NameSimilarity(ev.VenueName, c.Name) < nameMinSimilarity &&
			geo.TokenOverlap(strings.ToLower(ev.VenueName), strings.ToLower(c.Name)) < nameMinSimilarity {
			continue
		}
		dist := namePenaltyMeters
		if ev.Lat != nil && ev.Lng != nil {
			dist = geo.Distance(*ev.Lat, *ev.Lng, c.Lat, c.Lng)
		}
		if dist < bestDist {
			best, bestDist = c, dist
		}
	}
	if best == nil || bestDist > nameMatchRadiusMeters {
		return nil, nil
	}
	return best, nil
}
