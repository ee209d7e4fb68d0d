package events

import (
	"context"

	"github.com/gatherly/placesync/internal/model"
)

// Store is the durable backend for event sources and event rows.
type Store interface {
	// Migrate creates or updates the schema.
	Migrate(ctx context.Context) error

	// ListSources returns configured sources, optionally only enabled ones.
	ListSources(ctx context.Context, enabledOnly bool) ([]model.EventSource, error)

	// UpsertSource writes a source keyed by url.
	UpsertSource(ctx context.Context, src model.EventSource) error

	// UpdateSourceHealth persists the health columns of one source: cache
	// validators, last status, failure streak, last fetch time.
	UpdateSourceHealth(ctx context.Context, src model.EventSource) error

	// EventsByDedupeKeys returns existing rows for the given keys.
	EventsByDedupeKeys(ctx context.Context, keys []string) ([]model.EventRecord, error)

	// UpsertEvents writes records keyed by dedupe key and returns the
	// number of rows written.
	UpsertEvents(ctx context.Context, records []model.EventRecord) (int64, error)
}
