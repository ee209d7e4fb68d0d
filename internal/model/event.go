package model

import "time"

// EventStatus is the lifecycle state of an event occurrence.
type EventStatus string

const (
	EventScheduled EventStatus = "scheduled"
	EventCanceled  EventStatus = "canceled"
)

// NormalizedEvent is the common output of every feed parser.
type NormalizedEvent struct {
	SourceID        int64          `json:"source_id,omitempty"`
	SourceType      string         `json:"source_type"`
	SourceURL       string         `json:"source_url"`
	UID             string         `json:"uid,omitempty"` // source-local identifier
	Title           string         `json:"title"`
	NormalizedTitle string         `json:"normalized_title"`
	Description     string         `json:"description,omitempty"`
	URL             string         `json:"url,omitempty"`
	ImageURL        string         `json:"image_url,omitempty"`
	Status          EventStatus    `json:"status"`
	StartsAt        time.Time      `json:"starts_at"`
	EndsAt          *time.Time     `json:"ends_at,omitempty"`
	Timezone        string         `json:"timezone,omitempty"`
	VenueName       string         `json:"venue_name,omitempty"`
	VenueAddress    string         `json:"venue_address,omitempty"`
	Lat             *float64       `json:"lat,omitempty"`
	Lng             *float64       `json:"lng,omitempty"`
	Tags            []string       `json:"tags,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// EventRecord is the persistence-ready projection of a NormalizedEvent
// plus resolved venue fields and the dedupe key. The dedupe key is stable
// for the same logical event across re-ingestion runs, making upsert
// idempotent.
type EventRecord struct {
	ID              int64          `json:"id,omitempty"`
	DedupeKey       string         `json:"dedupe_key"`
	SourceType      string         `json:"source_type"`
	SourceUID       string         `json:"source_uid,omitempty"`
	Title           string         `json:"title"`
	NormalizedTitle string         `json:"normalized_title"`
	Description     string         `json:"description,omitempty"`
	URL             string         `json:"url,omitempty"`
	ImageURL        string         `json:"image_url,omitempty"`
	Status          EventStatus    `json:"status"`
	StartsAt        time.Time      `json:"starts_at"`
	EndsAt          *time.Time     `json:"ends_at,omitempty"`
	Timezone        string         `json:"timezone,omitempty"`
	PlaceID         string         `json:"place_id,omitempty"` // confirmed canonical place
	VenueName       string         `json:"venue_name,omitempty"`
	VenueAddress    string         `json:"venue_address,omitempty"`
	Lat             *float64       `json:"lat,omitempty"`
	Lng             *float64       `json:"lng,omitempty"`
	Tags            []string       `json:"tags,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}
