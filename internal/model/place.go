// Package model defines the shared records flowing through the place
// aggregation and event ingestion pipelines.
package model

import (
	"time"

	"github.com/gatherly/placesync/internal/taxonomy"
)

// Address holds the address components of a place.
type Address struct {
	Street     string `json:"street,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
}

// Empty reports whether no component is set.
func (a Address) Empty() bool {
	return a.Street == "" && a.City == "" && a.State == "" && a.PostalCode == "" && a.Country == ""
}

// Attribution records one provider's contribution to a canonical place.
type Attribution struct {
	Provider   string  `json:"provider"`
	ProviderID string  `json:"provider_id"`
	Confidence float64 `json:"confidence"`
	URL        string  `json:"url,omitempty"`
}

// CanonicalPlace is the durable, deduplicated record for one real-world
// venue. Identity is the slug (or the persisted id once assigned) and is
// stable across refreshes: merging never rewrites it.
type CanonicalPlace struct {
	ID            string              `json:"id"`
	Slug          string              `json:"slug"`
	Name          string              `json:"name"`
	Lat           float64             `json:"lat"`
	Lng           float64             `json:"lng"`
	Categories    []taxonomy.Category `json:"categories"`
	Tags          []string            `json:"tags,omitempty"`
	Address       Address             `json:"address"`
	Rating        float64             `json:"rating,omitempty"`
	RatingCount   int                 `json:"rating_count,omitempty"`
	PriceLevel    int                 `json:"price_level,omitempty"`
	Popularity    float64             `json:"popularity,omitempty"`
	Providers     []string            `json:"providers"`
	PrimarySource string              `json:"primary_source"`
	Attribution   []Attribution       `json:"attribution,omitempty"`
	CachedAt      time.Time           `json:"cached_at"`
	ExpiresAt     time.Time           `json:"expires_at"`
	Metadata      map[string]any      `json:"metadata,omitempty"`
}

// ProviderPlace is an ephemeral candidate returned by one adapter call.
// Candidates with CanPersist=false contribute to ranking and display only
// and are excluded from every durable write path.
type ProviderPlace struct {
	Provider    string   `json:"provider"`
	ProviderID  string   `json:"provider_id"`
	Name        string   `json:"name"`
	Lat         float64  `json:"lat"`
	Lng         float64  `json:"lng"`
	Categories  []string `json:"categories,omitempty"` // raw provider vocabulary
	Tags        []string `json:"tags,omitempty"`
	Address     Address  `json:"address"`
	Phone       string   `json:"phone,omitempty"`
	Website     string   `json:"website,omitempty"`
	Rating      float64  `json:"rating,omitempty"`
	RatingCount int      `json:"rating_count,omitempty"`
	PriceLevel  int      `json:"price_level,omitempty"`
	Popularity  float64  `json:"popularity,omitempty"` // 0..1, provider-reported
	Confidence  float64  `json:"confidence"`
	CanPersist  bool     `json:"can_persist"`
}

// Bounds is a lat/lng viewport rectangle.
type Bounds struct {
	MinLat float64 `json:"min_lat"`
	MinLng float64 `json:"min_lng"`
	MaxLat float64 `json:"max_lat"`
	MaxLng float64 `json:"max_lng"`
}

// Center returns the midpoint of the bounds.
func (b Bounds) Center() (lat, lng float64) {
	return (b.MinLat + b.MaxLat) / 2, (b.MinLng + b.MaxLng) / 2
}

// Contains reports whether the point lies inside the bounds.
func (b Bounds) Contains(lat, lng float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lng >= b.MinLng && lng <= b.MaxLng
}

// ViewportQuery is a place query over a map viewport.
type ViewportQuery struct {
	Bounds       Bounds   `json:"bounds"`
	Categories   []string `json:"categories,omitempty"` // raw selection; normalized by the aggregator
	City         string   `json:"city,omitempty"`
	ForceRefresh bool     `json:"force_refresh,omitempty"`
	Limit        int      `json:"limit,omitempty"`
}

// TileEntry is one row of the place tile cache, keyed by geohash-6.
// A tile whose ExpiresAt is in the future is warm and short-circuits
// provider calls entirely.
type TileEntry struct {
	Tile           string         `json:"tile"`
	RefreshedAt    time.Time      `json:"refreshed_at"`
	ExpiresAt      time.Time      `json:"expires_at"`
	ProviderCounts map[string]int `json:"provider_counts,omitempty"`
}

// Warm reports whether the tile is still fresh at the given instant.
func (t TileEntry) Warm(now time.Time) bool {
	return now.Before(t.ExpiresAt)
}
