package places

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite" // driver

	"github.com/gatherly/placesync/internal/model"
)

// SQLiteStore implements Store on an embedded SQLite database, for local
// runs without a Postgres instance.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database file.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dbh, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrapf(err, "places: open sqlite %s", path)
	}
	// Single writer; avoids SQLITE_BUSY under concurrent handlers.
	dbh.SetMaxOpenConns(1)
	if _, err := dbh.Exec(`PRAGMA journal_mode = WAL; PRAGMA foreign_keys = ON;`); err != nil {
		return nil, eris.Wrap(err, "places: sqlite pragmas")
	}
	return &SQLiteStore{db: dbh}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Migrate implements Store.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS places (
			id TEXT PRIMARY KEY,
			slug TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			lat REAL NOT NULL,
			lng REAL NOT NULL,
			categories TEXT NOT NULL DEFAULT '[]',
			tags TEXT NOT NULL DEFAULT '[]',
			address TEXT NOT NULL DEFAULT '{}',
			rating REAL NOT NULL DEFAULT 0,
			rating_count INTEGER NOT NULL DEFAULT 0,
			price_level INTEGER NOT NULL DEFAULT 0,
			popularity REAL NOT NULL DEFAULT 0,
			providers TEXT NOT NULL DEFAULT '[]',
			primary_source TEXT NOT NULL DEFAULT '',
			attribution TEXT NOT NULL DEFAULT '[]',
			cached_at TIMESTAMP NOT NULL,
			expires_at TIMESTAMP NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_places_lat_lng ON places (lat, lng)`,
		`CREATE TABLE IF NOT EXISTS place_tiles (
			tile TEXT PRIMARY KEY,
			refreshed_at TIMESTAMP NOT NULL,
			expires_at TIMESTAMP NOT NULL,
			provider_counts TEXT NOT NULL DEFAULT '{}'
		)`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return eris.Wrap(err, "places: sqlite migrate")
		}
	}
	return nil
}

// PlacesInBounds implements Store.
func (s *SQLiteStore) PlacesInBounds(ctx context.Context, b model.Bounds) ([]model.CanonicalPlace, error) {
	query := `SELECT ` + placeColumns + `
		FROM places
		WHERE lat BETWEEN ? AND ? AND lng BETWEEN ? AND ?`
	rows, err := s.db.QueryContext(ctx, query, b.MinLat, b.MaxLat, b.MinLng, b.MaxLng)
	if err != nil {
		return nil, eris.Wrap(err, "places: sqlite query bounds")
	}
	defer rows.Close()
	return scanSQLPlaces(rows)
}

// PlacesNear implements Store.
func (s *SQLiteStore) PlacesNear(ctx context.Context, lat, lng, radiusMeters float64) ([]model.CanonicalPlace, error) {
	candidates, err := s.PlacesInBounds(ctx, radiusBounds(lat, lng, radiusMeters))
	if err != nil {
		return nil, err
	}
	return filterByDistance(candidates, lat, lng, radiusMeters), nil
}

// PlacesByName implements Store.
func (s *SQLiteStore) PlacesByName(ctx context.Context, name, city string) ([]model.CanonicalPlace, error) {
	query := `SELECT ` + placeColumns + `
		FROM places
		WHERE lower(name) LIKE ?`
	args := []any{"%" + strings.ToLower(strings.TrimSpace(name)) + "%"}
	if city != "" {
		query += ` AND lower(json_extract(address, '$.city')) = ?`
		args = append(args, strings.ToLower(city))
	}
	query += ` LIMIT 50`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "places: sqlite query by name")
	}
	defer rows.Close()
	return scanSQLPlaces(rows)
}

// UpsertPlaces implements Store. One statement per row inside a single
// transaction; batches here are small enough that COPY-style loading is
// not worth a second code path.
func (s *SQLiteStore) UpsertPlaces(ctx context.Context, places []model.CanonicalPlace) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "places: sqlite begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO places (id, slug, name, lat, lng, categories, tags, address,
			rating, rating_count, price_level, popularity, providers,
			primary_source, attribution, cached_at, expires_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (slug) DO UPDATE SET
			name = excluded.name,
			lat = excluded.lat,
			lng = excluded.lng,
			categories = excluded.categories,
			tags = excluded.tags,
			address = excluded.address,
			rating = excluded.rating,
			rating_count = excluded.rating_count,
			price_level = excluded.price_level,
			popularity = excluded.popularity,
			providers = excluded.providers,
			primary_source = excluded.primary_source,
			attribution = excluded.attribution,
			cached_at = excluded.cached_at,
			expires_at = excluded.expires_at,
			metadata = excluded.metadata
	`)
	if err != nil {
		return 0, eris.Wrap(err, "places: sqlite prepare upsert")
	}
	defer stmt.Close() //nolint:errcheck

	var written int64
	for _, p := range places {
		if _, err := stmt.ExecContext(ctx,
			p.ID, p.Slug, p.Name, p.Lat, p.Lng,
			string(mustJSON(p.Categories)), string(mustJSON(p.Tags)), string(mustJSON(p.Address)),
			p.Rating, p.RatingCount, p.PriceLevel, p.Popularity, string(mustJSON(p.Providers)),
			p.PrimarySource, string(mustJSON(p.Attribution)), p.CachedAt, p.ExpiresAt, string(mustJSON(p.Metadata)),
		); err != nil {
			return 0, eris.Wrapf(err, "places: sqlite upsert %s", p.Slug)
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "places: sqlite commit")
	}
	return written, nil
}

// GetTile implements Store.
func (s *SQLiteStore) GetTile(ctx context.Context, key string) (*model.TileEntry, error) {
	var (
		entry  model.TileEntry
		counts string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT tile, refreshed_at, expires_at, provider_counts
		FROM place_tiles WHERE tile = ?`, key,
	).Scan(&entry.Tile, &entry.RefreshedAt, &entry.ExpiresAt, &counts)
	if err != nil {
		if eris.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "places: sqlite get tile")
	}
	if counts != "" {
		if err := json.Unmarshal([]byte(counts), &entry.ProviderCounts); err != nil {
			return nil, eris.Wrap(err, "places: sqlite parse tile counts")
		}
	}
	return &entry, nil
}

// PutTile implements Store.
func (s *SQLiteStore) PutTile(ctx context.Context, entry model.TileEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO place_tiles (tile, refreshed_at, expires_at, provider_counts)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (tile) DO UPDATE SET
			refreshed_at = excluded.refreshed_at,
			expires_at = excluded.expires_at,
			provider_counts = excluded.provider_counts`,
		entry.Tile, entry.RefreshedAt, entry.ExpiresAt, string(mustJSON(entry.ProviderCounts)),
	)
	return eris.Wrap(err, "places: sqlite put tile")
}

// ExpireBefore retires stale tile rows.
func (s *SQLiteStore) ExpireBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM place_tiles WHERE expires_at < ?`, cutoff)
	if err != nil {
		return 0, eris.Wrap(err, "places: sqlite expire tiles")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "places: sqlite rows affected")
	}
	return n, nil
}

// scanSQLPlaces reads rows from the database/sql path.
func scanSQLPlaces(rows *sql.Rows) ([]model.CanonicalPlace, error) {
	var places []model.CanonicalPlace
	for rows.Next() {
		var p model.CanonicalPlace
		var cats, tags, addr, provs, attr, meta string
		if err := rows.Scan(
			&p.ID, &p.Slug, &p.Name, &p.Lat, &p.Lng, &cats, &tags, &addr,
			&p.Rating, &p.RatingCount, &p.PriceLevel, &p.Popularity, &provs,
			&p.PrimarySource, &attr, &p.CachedAt, &p.ExpiresAt, &meta,
		); err != nil {
			return nil, eris.Wrap(err, "places: sqlite scan row")
		}
		if err := decodePlaceJSON(&p, []byte(cats), []byte(tags), []byte(addr), []byte(provs), []byte(attr), []byte(meta)); err != nil {
			return nil, err
		}
		places = append(places, p)
	}
	return places, rows.Err()
}
