package places

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/gatherly/placesync/internal/db"
	"github.com/gatherly/placesync/internal/geo"
	"github.com/gatherly/placesync/internal/model"
)

// PostgresStore implements Store on a Postgres connection pool.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate implements Store.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS places (
			id UUID PRIMARY KEY,
			slug TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			lat DOUBLE PRECISION NOT NULL,
			lng DOUBLE PRECISION NOT NULL,
			categories JSONB NOT NULL DEFAULT '[]',
			tags JSONB NOT NULL DEFAULT '[]',
			address JSONB NOT NULL DEFAULT '{}',
			rating DOUBLE PRECISION NOT NULL DEFAULT 0,
			rating_count INTEGER NOT NULL DEFAULT 0,
			price_level INTEGER NOT NULL DEFAULT 0,
			popularity DOUBLE PRECISION NOT NULL DEFAULT 0,
			providers JSONB NOT NULL DEFAULT '[]',
			primary_source TEXT NOT NULL DEFAULT '',
			attribution JSONB NOT NULL DEFAULT '[]',
			cached_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_places_lat_lng ON places (lat, lng)`,
		`CREATE INDEX IF NOT EXISTS idx_places_name ON places (lower(name))`,
		`CREATE TABLE IF NOT EXISTS place_tiles (
			tile TEXT PRIMARY KEY,
			refreshed_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			provider_counts JSONB NOT NULL DEFAULT '{}'
		)`,
	}
	for _, stmt := range ddl {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return eris.Wrap(err, "places: migrate")
		}
	}
	return nil
}

const placeColumns = `id, slug, name, lat, lng, categories, tags, address,
	rating, rating_count, price_level, popularity, providers,
	primary_source, attribution, cached_at, expires_at, metadata`

// PlacesInBounds implements Store.
func (s *PostgresStore) PlacesInBounds(ctx context.Context, b model.Bounds) ([]model.CanonicalPlace, error) {
	sql := `SELECT ` + placeColumns + `
		FROM places
		WHERE lat BETWEEN $1 AND $2 AND lng BETWEEN $3 AND $4`
	rows, err := s.pool.Query(ctx, sql, b.MinLat, b.MaxLat, b.MinLng, b.MaxLng)
	if err != nil {
		return nil, eris.Wrap(err, "places: query bounds")
	}
	defer rows.Close()
	return scanPlaces(rows)
}

// PlacesNear implements Store. The SQL pass is a bounding-box
// approximation; exact great-circle filtering and ordering happen here.
func (s *PostgresStore) PlacesNear(ctx context.Context, lat, lng, radiusMeters float64) ([]model.CanonicalPlace, error) {
	b := radiusBounds(lat, lng, radiusMeters)
	candidates, err := s.PlacesInBounds(ctx, b)
	if err != nil {
		return nil, err
	}
	return filterByDistance(candidates, lat, lng, radiusMeters), nil
}

// PlacesByName implements Store.
func (s *PostgresStore) PlacesByName(ctx context.Context, name, city string) ([]model.CanonicalPlace, error) {
	sql := `SELECT ` + placeColumns + `
		FROM places
		WHERE lower(name) LIKE $1`
	args := []any{"%" + strings.ToLower(strings.TrimSpace(name)) + "%"}
	if city != "" {
		sql += ` AND lower(address->>'city') = $2`
		args = append(args, strings.ToLower(city))
	}
	sql += ` LIMIT 50`

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "places: query by name")
	}
	defer rows.Close()
	return scanPlaces(rows)
}

// UpsertPlaces implements Store. Writes are slug-keyed; the id column is
// excluded from conflict updates so identity never changes.
func (s *PostgresStore) UpsertPlaces(ctx context.Context, places []model.CanonicalPlace) (int64, error) {
	rows := make([][]any, 0, len(places))
	for _, p := range places {
		cats, err := json.Marshal(p.Categories)
		if err != nil {
			return 0, eris.Wrap(err, "places: marshal categories")
		}
		tags := mustJSON(p.Tags)
		addr := mustJSON(p.Address)
		provs := mustJSON(p.Providers)
		attr := mustJSON(p.Attribution)
		meta := mustJSON(p.Metadata)
		rows = append(rows, []any{
			p.ID, p.Slug, p.Name, p.Lat, p.Lng, cats, tags, addr,
			p.Rating, p.RatingCount, p.PriceLevel, p.Popularity, provs,
			p.PrimarySource, attr, p.CachedAt, p.ExpiresAt, meta,
		})
	}
	return db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table: "places",
		Columns: []string{
			"id", "slug", "name", "lat", "lng", "categories", "tags", "address",
			"rating", "rating_count", "price_level", "popularity", "providers",
			"primary_source", "attribution", "cached_at", "expires_at", "metadata",
		},
		ConflictKeys: []string{"slug"},
		UpdateCols: []string{
			"name", "lat", "lng", "categories", "tags", "address",
			"rating", "rating_count", "price_level", "popularity", "providers",
			"primary_source", "attribution", "cached_at", "expires_at", "metadata",
		},
	}, rows)
}

// GetTile implements Store.
func (s *PostgresStore) GetTile(ctx context.Context, key string) (*model.TileEntry, error) {
	sql := `SELECT tile, refreshed_at, expires_at, provider_counts
		FROM place_tiles WHERE tile = $1`
	var (
		entry  model.TileEntry
		counts []byte
	)
	err := s.pool.QueryRow(ctx, sql, key).Scan(&entry.Tile, &entry.RefreshedAt, &entry.ExpiresAt, &counts)
	if err != nil {
		if eris.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "places: get tile")
	}
	if len(counts) > 0 {
		if err := json.Unmarshal(counts, &entry.ProviderCounts); err != nil {
			return nil, eris.Wrap(err, "places: parse tile counts")
		}
	}
	return &entry, nil
}

// PutTile implements Store.
func (s *PostgresStore) PutTile(ctx context.Context, entry model.TileEntry) error {
	sql := `
		INSERT INTO place_tiles (tile, refreshed_at, expires_at, provider_counts)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tile) DO UPDATE SET
			refreshed_at = EXCLUDED.refreshed_at,
			expires_at = EXCLUDED.expires_at,
			provider_counts = EXCLUDED.provider_counts
	`
	_, err := s.pool.Exec(ctx, sql, entry.Tile, entry.RefreshedAt, entry.ExpiresAt, mustJSON(entry.ProviderCounts))
	return eris.Wrap(err, "places: put tile")
}

// scanPlaces reads place rows, decoding the JSON columns.
func scanPlaces(rows pgx.Rows) ([]model.CanonicalPlace, error) {
	var places []model.CanonicalPlace
	for rows.Next() {
		var p model.CanonicalPlace
		var cats, tags, addr, provs, attr, meta []byte
		if err := rows.Scan(
			&p.ID, &p.Slug, &p.Name, &p.Lat, &p.Lng, &cats, &tags, &addr,
			&p.Rating, &p.RatingCount, &p.PriceLevel, &p.Popularity, &provs,
			&p.PrimarySource, &attr, &p.CachedAt, &p.ExpiresAt, &meta,
		); err != nil {
			return nil, eris.Wrap(err, "places: scan row")
		}
		if err := decodePlaceJSON(&p, cats, tags, addr, provs, attr, meta); err != nil {
			return nil, err
		}
		places = append(places, p)
	}
	return places, rows.Err()
}

func decodePlaceJSON(p *model.CanonicalPlace, cats, tags, addr, provs, attr, meta []byte) error {
	fields := []struct {
		raw []byte
		dst any
	}{
		{cats, &p.Categories},
		{tags, &p.Tags},
		{addr, &p.Address},
		{provs, &p.Providers},
		{attr, &p.Attribution},
		{meta, &p.Metadata},
	}
	for _, f := range fields {
		if len(f.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return eris.Wrap(err, "places: decode json column")
		}
	}
	return nil
}

// mustJSON marshals values whose shape we control; failure is a
// programming error surfaced as "null".
func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("null")
	}
	return b
}

// radiusBounds approximates a radius as a lat/lng box.
func radiusBounds(lat, lng, radiusMeters float64) model.Bounds {
	const metersPerDegree = 111320.0
	latDelta := radiusMeters / metersPerDegree
	lngDelta := latDelta
	if cosLat := math.Cos(lat * math.Pi / 180); cosLat > 0.01 {
		lngDelta = radiusMeters / (metersPerDegree * cosLat)
	}
	return model.Bounds{
		MinLat: lat - latDelta, MaxLat: lat + latDelta,
		MinLng: lng - lngDelta, MaxLng: lng + lngDelta,
	}
}

// filterByDistance keeps places within the exact radius, nearest first.
func filterByDistance(in []model.CanonicalPlace, lat, lng, radiusMeters float64) []model.CanonicalPlace {
	type withDist struct {
		place model.CanonicalPlace
		dist  float64
	}
	var kept []withDist
	for _, p := range in {
		if d := geo.Distance(lat, lng, p.Lat, p.Lng); d <= radiusMeters {
			kept = append(kept, withDist{p, d})
		}
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].dist < kept[j].dist })
	out := make([]model.CanonicalPlace, 0, len(kept))
	for _, k := range kept {
		out = append(out, k.place)
	}
	return out
}

// ExpireBefore retires tile rows whose expiry precedes the cutoff. Used
// by maintenance, not by the query path.
func (s *PostgresStore) ExpireBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM place_tiles WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, eris.Wrap(err, "places: expire tiles")
	}
	return tag.RowsAffected(), nil
}
