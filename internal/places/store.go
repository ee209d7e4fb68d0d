// Package places implements the viewport place aggregator: durable
// canonical places, the geohash tile cache, provider fan-out, and the
// dedup-merge and ranking rules.
package places

import (
	"context"
	"time"

	"github.com/gatherly/placesync/internal/model"
)

// Store is the durable backend for canonical places and tile-cache rows.
// Implemented for Postgres and SQLite.
type Store interface {
	// Migrate creates or updates the schema.
	Migrate(ctx context.Context) error

	// PlacesInBounds returns canonical places inside the viewport.
	PlacesInBounds(ctx context.Context, b model.Bounds) ([]model.CanonicalPlace, error)

	// PlacesNear returns canonical places within radiusMeters of the
	// point, ordered nearest first.
	PlacesNear(ctx context.Context, lat, lng, radiusMeters float64) ([]model.CanonicalPlace, error)

	// PlacesByName returns candidate places whose name loosely matches,
	// optionally scoped to a city. Fuzzy ranking happens in the caller.
	PlacesByName(ctx context.Context, name, city string) ([]model.CanonicalPlace, error)

	// UpsertPlaces writes places keyed by slug and returns the number of
	// rows written.
	UpsertPlaces(ctx context.Context, places []model.CanonicalPlace) (int64, error)

	// GetTile returns the tile-cache row for a geohash-6 key, or nil when
	// the tile has never been refreshed.
	GetTile(ctx context.Context, key string) (*model.TileEntry, error)

	// PutTile upserts one tile-cache row.
	PutTile(ctx context.Context, entry model.TileEntry) error

	// ExpireBefore deletes tile-cache rows whose expiry precedes the
	// cutoff and returns how many were removed. Maintenance only; the
	// query path treats expired tiles as cold without deleting them.
	ExpireBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
