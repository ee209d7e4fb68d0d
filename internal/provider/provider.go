// Package provider contains the geodata provider adapters. Each adapter
// translates a viewport query into its provider's API, parses the raw
// payload at this boundary only, and returns common ProviderPlace
// candidates. A missing credential is not an error (empty result);
// transport and HTTP failures are returned for the aggregator to isolate
// per provider.
package provider

import (
	"context"
	"net/http"
	"time"

	"github.com/gatherly/placesync/internal/geo"
	"github.com/gatherly/placesync/internal/model"
)

// Adapter is one external geodata source.
type Adapter interface {
	// Name is the stable provider id recorded in attribution.
	Name() string
	// CanPersist reports whether the provider's terms allow durable
	// storage of its results. Non-persistable candidates rank and
	// display only.
	CanPersist() bool
	// Search returns candidates for the viewport. Never errors for a
	// missing credential.
	Search(ctx context.Context, q model.ViewportQuery) ([]model.ProviderPlace, error)
}

// newHTTPClient builds the per-adapter HTTP client. Each call carries its
// own timeout; there is no shared state between adapters.
func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// viewportRadiusMeters approximates a viewport as a radius search: half
// the diagonal, clamped to what the point-radius APIs accept.
func viewportRadiusMeters(b model.Bounds) int {
	d := geo.Distance(b.MinLat, b.MinLng, b.MaxLat, b.MaxLng) / 2
	const maxRadius = 50000
	if d < 100 {
		d = 100
	}
	if d > maxRadius {
		d = maxRadius
	}
	return int(d)
}
