package model

import "time"

// SourceType identifies how a feed source's payload is parsed.
type SourceType string

const (
	SourceICS    SourceType = "ics"
	SourceJSONLD SourceType = "jsonld"
	SourceRSS    SourceType = "rss"
)

// EventSource is a configured third-party feed.
type EventSource struct {
	ID            int64      `json:"id"`
	Name          string     `json:"name"`
	URL           string     `json:"url"`
	Type          SourceType `json:"type"`
	Enabled       bool       `json:"enabled"`
	City          string     `json:"city,omitempty"` // scopes name-based venue matching
	IntervalMins  int        `json:"interval_mins,omitempty"`
	ETag          string     `json:"etag,omitempty"`
	LastModified  string     `json:"last_modified,omitempty"`
	LastStatus    string     `json:"last_status,omitempty"`
	FailureStreak int        `json:"failure_streak"`
	LastFetchedAt *time.Time `json:"last_fetched_at,omitempty"`
}

// SourceStats summarizes one source's outcome within an ingestion run.
type SourceStats struct {
	Fetched    int `json:"fetched"`
	Normalized int `json:"normalized"`
	Persisted  int `json:"persisted"`
	Errors     int `json:"errors"`
}

// SourceReport is the per-source entry of an ingestion run summary. A run
// always yields one report per processed source, errored or not.
type SourceReport struct {
	SourceID   int64       `json:"source_id"`
	SourceName string      `json:"source_name"`
	Status     string      `json:"status"`
	Stats      SourceStats `json:"stats"`
	Error      string      `json:"error,omitempty"`
	Elapsed    string      `json:"elapsed,omitempty"`
}
