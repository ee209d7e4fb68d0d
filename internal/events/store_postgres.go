package events

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/gatherly/placesync/internal/db"
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
		`CREATE TABLE IF NOT EXISTS event_sources (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			url TEXT NOT NULL UNIQUE,
			type TEXT NOT NULL,
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			city TEXT NOT NULL DEFAULT '',
			interval_mins INTEGER NOT NULL DEFAULT 60,
			etag TEXT NOT NULL DEFAULT '',
			last_modified TEXT NOT NULL DEFAULT '',
			last_status TEXT NOT NULL DEFAULT '',
			failure_streak INTEGER NOT NULL DEFAULT 0,
			last_fetched_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id BIGSERIAL PRIMARY KEY,
			dedupe_key TEXT NOT NULL UNIQUE,
			source_type TEXT NOT NULL DEFAULT '',
			source_uid TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL,
			normalized_title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL DEFAULT '',
			image_url TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'scheduled',
			starts_at TIMESTAMPTZ NOT NULL,
			ends_at TIMESTAMPTZ,
			timezone TEXT NOT NULL DEFAULT '',
			place_id TEXT NOT NULL DEFAULT '',
			venue_name TEXT NOT NULL DEFAULT '',
			venue_address TEXT NOT NULL DEFAULT '',
			lat DOUBLE PRECISION,
			lng DOUBLE PRECISION,
			tags JSONB NOT NULL DEFAULT '[]',
			metadata JSONB NOT NULL DEFAULT '{}'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_starts_at ON events (starts_at)`,
		`CREATE INDEX IF NOT EXISTS idx_events_place_id ON events (place_id)`,
	}
	for _, stmt := range ddl {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return eris.Wrap(err, "events: migrate")
		}
	}
	return nil
}

const sourceColumns = `id, name, url, type, enabled, city, interval_mins,
	etag, last_modified, last_status, failure_streak, last_fetched_at`

// ListSources implements Store.
func (s *PostgresStore) ListSources(ctx context.Context, enabledOnly bool) ([]model.EventSource, error) {
	sql := `SELECT ` + sourceColumns + ` FROM event_sources`
	if enabledOnly {
		sql += ` WHERE enabled`
	}
	sql += ` ORDER BY id`

	rows, err := s.pool.Query(ctx, sql)
	if err != nil {
		return nil, eris.Wrap(err, "events: list sources")
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
			return nil, eris.Wrap(err, "events: scan source")
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

// UpsertSource implements Store.
func (s *PostgresStore) UpsertSource(ctx context.Context, src model.EventSource) error {
	sql := `
		INSERT INTO event_sources (name, url, type, enabled, city, interval_mins)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (url) DO UPDATE SET
			name = EXCLUDED.name,
			type = EXCLUDED.type,
			enabled = EXCLUDED.enabled,
			city = EXCLUDED.city,
			interval_mins = EXCLUDED.interval_mins
	`
	_, err := s.pool.Exec(ctx, sql, src.Name, src.URL, src.Type, src.Enabled, src.City, src.IntervalMins)
	return eris.Wrap(err, "events: upsert source")
}

// UpdateSourceHealth implements Store.
func (s *PostgresStore) UpdateSourceHealth(ctx context.Context, src model.EventSource) error {
	sql := `
		UPDATE event_sources SET
			etag = $2,
			last_modified = $3,
			last_status = $4,
			failure_streak = $5,
			last_fetched_at = $6
		WHERE id = $1
	`
	_, err := s.pool.Exec(ctx, sql,
		src.ID, src.ETag, src.LastModified, src.LastStatus, src.FailureStreak, src.LastFetchedAt,
	)
	return eris.Wrap(err, "events: update source health")
}

const eventColumns = `id, dedupe_key, source_type, source_uid, title, normalized_title,
	description, url, image_url, status, starts_at, ends_at, timezone,
	place_id, venue_name, venue_address, lat, lng, tags, metadata`

// EventsByDedupeKeys implements Store.
func (s *PostgresStore) EventsByDedupeKeys(ctx context.Context, keys []string) ([]model.EventRecord, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	sql := `SELECT ` + eventColumns + ` FROM events WHERE dedupe_key = ANY($1)`
	rows, err := s.pool.Query(ctx, sql, keys)
	if err != nil {
		return nil, eris.Wrap(err, "events: query by dedupe keys")
	}
	defer rows.Close()
	return scanEvents(rows)
}

// UpsertEvents implements Store. Records are keyed by dedupe key; the
// generated id never changes on conflict.
func (s *PostgresStore) UpsertEvents(ctx context.Context, records []model.EventRecord) (int64, error) {
	rows := make([][]any, 0, len(records))
	for _, r := range records {
		tags, err := json.Marshal(r.Tags)
		if err != nil {
			return 0, eris.Wrap(err, "events: marshal tags")
		}
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return 0, eris.Wrap(err, "events: marshal metadata")
		}
		rows = append(rows, []any{
			r.DedupeKey, r.SourceType, r.SourceUID, r.Title, r.NormalizedTitle,
			r.Description, r.URL, r.ImageURL, string(r.Status), r.StartsAt, r.EndsAt,
			r.Timezone, r.PlaceID, r.VenueName, r.VenueAddress, r.Lat, r.Lng, tags, meta,
		})
	}
	return db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table: "events",
		Columns: []string{
			"dedupe_key", "source_type", "source_uid", "title", "normalized_title",
			"description", "url", "image_url", "status", "starts_at", "ends_at",
			"timezone", "place_id", "venue_name", "venue_address", "lat", "lng",
			"tags", "metadata",
		},
		ConflictKeys: []string{"dedupe_key"},
	}, rows)
}

func scanEvents(rows pgx.Rows) ([]model.EventRecord, error) {
	var records []model.EventRecord
	for rows.Next() {
		var r model.EventRecord
		var tags, meta []byte
		if err := rows.Scan(
			&r.ID, &r.DedupeKey, &r.SourceType, &r.SourceUID, &r.Title, &r.NormalizedTitle,
			&r.Description, &r.URL, &r.ImageURL, &r.Status, &r.StartsAt, &r.EndsAt,
			&r.Timezone, &r.PlaceID, &r.VenueName, &r.VenueAddress, &r.Lat, &r.Lng,
			&tags, &meta,
		); err != nil {
			return nil, eris.Wrap(err, "events: scan event")
		}
		if len(tags) > 0 {
			if err := json.Unmarshal(tags, &r.Tags); err != nil {
				return nil, eris.Wrap(err, "events: decode tags")
			}
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &r.Metadata); err != nil {
				return nil, eris.Wrap(err, "events: decode metadata")
			}
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
