package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite" // driver

	"github.com/gatherly/placesync/internal/model"
)

// SQLiteStore implements Store on an embedded SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database file.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dbh, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrapf(err, "events: open sqlite %s", path)
	}
	dbh.SetMaxOpenConns(1)
	if _, err := dbh.Exec(`PRAGMA journal_mode = WAL; PRAGMA foreign_keys = ON;`); err != nil {
		return nil, eris.Wrap(err, "events: sqlite pragmas")
	}
	return &SQLiteStore{db: dbh}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Migrate implements Store.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS event_sources (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			url TEXT NOT NULL UNIQUE,
			type TEXT NOT NULL,
			enabled INTEGER NOT NULL DEFAULT 1,
			city TEXT NOT NULL DEFAULT '',
			interval_mins INTEGER NOT NULL DEFAULT 60,
			etag TEXT NOT NULL DEFAULT '',
			last_modified TEXT NOT NULL DEFAULT '',
			last_status TEXT NOT NULL DEFAULT '',
			failure_streak INTEGER NOT NULL DEFAULT 0,
			last_fetched_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			dedupe_key TEXT NOT NULL UNIQUE,
			source_type TEXT NOT NULL DEFAULT '',
			source_uid TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL,
			normalized_title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL DEFAULT '',
			image_url TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'scheduled',
			starts_at TIMESTAMP NOT NULL,
			ends_at TIMESTAMP,
			timezone TEXT NOT NULL DEFAULT '',
			place_id TEXT NOT NULL DEFAULT '',
			venue_name TEXT NOT NULL DEFAULT '',
			venue_address TEXT NOT NULL DEFAULT '',
			lat REAL,
			lng REAL,
			tags TEXT NOT NULL DEFAULT '[]',
			metadata TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_starts_at ON events (starts_at)`,
		`CREATE INDEX IF NOT EXISTS idx_events_place_id ON events (place_id)`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return eris.Wrap(err, "events: sqlite migrate")
		}
	}
	return nil
}

// ListSources implements Store.
func (s *SQLiteStore) ListSources(ctx context.Context, enabledOnly bool) ([]model.EventSource, error) {
	query := `SELECT ` + sourceColumns + ` FROM event_sources`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "events: sqlite list sources")
	}
	defer rows.Close()

	var sources []model.EventSource
	for rows.Next() {
		var src model.EventSource
		if err := rows.Scan(
			&src.ID, &src.Name, &src.URL, &src.Type, &src.Enabled, &src.City,
			&src.IntervalMins, &src.ETag, &src.LastModified, &src.LastStatus,
			&src.FailureStreak, &src.LastFetchedAt,
		); err != nil {
			return nil, eris.Wrap(err, "events: sqlite scan source")
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

// UpsertSource implements Store.
func (s *SQLiteStore) UpsertSource(ctx context.Context, src model.EventSource) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO event_sources (name, url, type, enabled, city, interval_mins)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (url) DO UPDATE SET
			name = excluded.name,
			type = excluded.type,
			enabled = excluded.enabled,
			city = excluded.city,
			interval_mins = excluded.interval_mins`,
		src.Name, src.URL, src.Type, src.Enabled, src.City, src.IntervalMins,
	)
	return eris.Wrap(err, "events: sqlite upsert source")
}

// UpdateSourceHealth implements Store.
func (s *SQLiteStore) UpdateSourceHealth(ctx context.Context, src model.EventSource) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE event_sources SET
			etag = ?, last_modified = ?, last_status = ?,
			failure_streak = ?, last_fetched_at = ?
		WHERE id = ?`,
		src.ETag, src.LastModified, src.LastStatus, src.FailureStreak, src.LastFetchedAt, src.ID,
	)
	return eris.Wrap(err, "events: sqlite update source health")
}

// EventsByDedupeKeys implements Store.
func (s *SQLiteStore) EventsByDedupeKeys(ctx context.Context, keys []string) ([]model.EventRecord, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	query := `SELECT ` + eventColumns + ` FROM events WHERE dedupe_key IN (` + placeholders + `)`

	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "events: sqlite query by dedupe keys")
	}
	defer rows.Close()

	var records []model.EventRecord
	for rows.Next() {
		var r model.EventRecord
		var tags, meta string
		if err := rows.Scan(
			&r.ID, &r.DedupeKey, &r.SourceType, &r.SourceUID, &r.Title, &r.NormalizedTitle,
			&r.Description, &r.URL, &r.ImageURL, &r.Status, &r.StartsAt, &r.EndsAt,
			&r.Timezone, &r.PlaceID, &r.VenueName, &r.VenueAddress, &r.Lat, &r.Lng,
			&tags, &meta,
		); err != nil {
			return nil, eris.Wrap(err, "events: sqlite scan event")
		}
		if tags != "" {
			if err := json.Unmarshal([]byte(tags), &r.Tags); err != nil {
				return nil, eris.Wrap(err, "events: sqlite decode tags")
			}
		}
		if meta != "" {
			if err := json.Unmarshal([]byte(meta), &r.Metadata); err != nil {
				return nil, eris.Wrap(err, "events: sqlite decode metadata")
			}
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// UpsertEvents implements Store.
func (s *SQLiteStore) UpsertEvents(ctx context.Context, records []model.EventRecord) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "events: sqlite begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (dedupe_key, source_type, source_uid, title, normalized_title,
			description, url, image_url, status, starts_at, ends_at, timezone,
			place_id, venue_name, venue_address, lat, lng, tags, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (dedupe_key) DO UPDATE SET
			source_type = excluded.source_type,
			source_uid = excluded.source_uid,
			title = excluded.title,
			normalized_title = excluded.normalized_title,
			description = excluded.description,
			url = excluded.url,
			image_url = excluded.image_url,
			status = excluded.status,
			starts_at = excluded.starts_at,
			ends_at = excluded.ends_at,
			timezone = excluded.timezone,
			place_id = excluded.place_id,
			venue_name = excluded.venue_name,
			venue_address = excluded.venue_address,
			lat = excluded.lat,
			lng = excluded.lng,
			tags = excluded.tags,
			metadata = excluded.metadata`)
	if err != nil {
		return 0, eris.Wrap(err, "events: sqlite prepare upsert")
	}
	defer stmt.Close() //nolint:errcheck

	var written int64
	for _, r := range records {
		tags, err := json.Marshal(r.Tags)
		if err != nil {
			return 0, eris.Wrap(err, "events: marshal tags")
		}
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return 0, eris.Wrap(err, "events: marshal metadata")
		}
		if _, err := stmt.ExecContext(ctx,
			r.DedupeKey, r.SourceType, r.SourceUID, r.Title, r.NormalizedTitle,
			r.Description, r.URL, r.ImageURL, string(r.Status), r.StartsAt, r.EndsAt,
			r.Timezone, r.PlaceID, r.VenueName, r.VenueAddress, r.Lat, r.Lng,
			string(tags), string(meta),
		); err != nil {
			return 0, eris.Wrapf(err, "events: sqlite upsert %s", r.DedupeKey)
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "events: sqlite commit")
	}
	return written, nil
}
