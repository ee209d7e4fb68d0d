package events

import (
	"fmt"
	"time"

	"github.com/gatherly/placesync/internal/geo"
	"github.com/gatherly/placesync/internal/model"
)

// dedupeBucket floors event starts for key construction so retried or
// slightly shifted feed timestamps produce the same key.
const dedupeBucket = 10 * time.Minute

// noLocationToken closes the key when neither a place nor coordinates
// are known.
const noLocationToken = "none"

// DedupeKey builds the idempotency key for an event: normalized title,
// the UTC start floored to ten minutes, and the best available location
// component (place id, else geohash-7 cell, else a literal marker).
func DedupeKey(normalizedTitle string, startsAt time.Time, placeID string, lat, lng *float64) string {
	bucket := startsAt.UTC().Truncate(dedupeBucket).Format(time.RFC3339)

	loc := noLocationToken
	switch {
	case placeID != "":
		loc = placeID
	case lat != nil && lng != nil:
		loc = geo.EventCell(*lat, *lng)
	}

	return fmt.Sprintf("%s|%s|%s", normalizedTitle, bucket, loc)
}

// BuildRecord projects a normalized event plus its venue match to the
// persistence-ready record. Source identity folds into the metadata bag.
func BuildRecord(ev model.NormalizedEvent, place *model.CanonicalPlace) model.EventRecord {
	rec := model.EventRecord{
		SourceType:      ev.SourceType,
		SourceUID:       ev.UID,
		Title:           ev.Title,
		NormalizedTitle: ev.NormalizedTitle,
		Description:     ev.Description,
		URL:             ev.URL,
		ImageURL:        ev.ImageURL,
		Status:          ev.Status,
		StartsAt:        ev.StartsAt,
		EndsAt:          ev.EndsAt,
		Timezone:        ev.Timezone,
		VenueName:       ev.VenueName,
		VenueAddress:    ev.VenueAddress,
		Lat:             ev.Lat,
		Lng:             ev.Lng,
		Tags:            append([]string(nil), ev.Tags...),
	}

	rec.Metadata = make(map[string]any, len(ev.Metadata)+2)
	for k, v := range ev.Metadata {
		rec.Metadata[k] = v
	}
	rec.Metadata["source_type"] = ev.SourceType
	rec.Metadata["source_url"] = ev.SourceURL

	if place != nil {
		rec.PlaceID = place.ID
		if rec.VenueName == "" {
			rec.VenueName = place.Name
		}
		if rec.Lat == nil || rec.Lng == nil {
			lat, lng := place.Lat, place.Lng
			rec.Lat, rec.Lng = &lat, &lng
		}
	}

	rec.DedupeKey = DedupeKey(rec.NormalizedTitle, rec.StartsAt, rec.PlaceID, rec.Lat, rec.Lng)
	return rec
}

// Merge folds an incoming record into the existing row at the same
// dedupe key. Identity (id, key) is immutable; cancellation is sticky; a
// previously confirmed venue is never clobbered by an unmatched
// re-ingestion.
func Merge(existing, incoming model.EventRecord) model.EventRecord {
	out := incoming
	out.ID = existing.ID
	out.DedupeKey = existing.DedupeKey

	if existing.SourceType != "" {
		out.SourceType = existing.SourceType
	}
	if existing.SourceUID != "" {
		out.SourceUID = existing.SourceUID
	}

	if len(existing.Description) > len(incoming.Description) {
		out.Description = existing.Description
	}
	if incoming.ImageURL == "" {
		out.ImageURL = existing.ImageURL
	}
	if incoming.EndsAt == nil {
		out.EndsAt = existing.EndsAt
	}

	if existing.Status == model.EventCanceled || incoming.Status == model.EventCanceled {
		out.Status = model.EventCanceled
	}

	out.Tags = mergeTagSets(existing.Tags, incoming.Tags)

	meta := make(map[string]any, len(existing.Metadata)+len(incoming.Metadata))
	for k, v := range existing.Metadata {
		meta[k] = v
	}
	for k, v := range incoming.Metadata {
		meta[k] = v
	}
	out.Metadata = meta

	if existing.PlaceID != "" && incoming.PlaceID == "" {
		out.PlaceID = existing.PlaceID
		out.VenueName = existing.VenueName
		out.VenueAddress = existing.VenueAddress
		out.Lat = existing.Lat
		out.Lng = existing.Lng
	}

	return out
}

func mergeTagSets(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, set := range [][]string{a, b} {
		for _, t := range set {
			if t == "" || seen[t] {
				continue
			}
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
