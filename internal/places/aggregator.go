package places

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gatherly/placesync/internal/geo"
	"github.com/gatherly/placesync/internal/model"
	"github.com/gatherly/placesync/internal/provider"
	"github.com/gatherly/placesync/internal/taxonomy"
)

// retiredWildcard is the legacy stored placeholder for "every category".
// Rows still carrying it predate wildcard expansion and force a refresh.
const retiredWildcard = "all"

// Options configures the aggregator.
type Options struct {
	CacheTTL     time.Duration
	CacheJitter  time.Duration
	DefaultLimit int
	MaxPlaces    int
	// CityCategories optionally pins a category set per city; a place in
	// a configured city matches the selection if its categories intersect
	// the pinned set.
	CityCategories map[string][]taxonomy.Category
}

// Aggregator answers viewport place queries: cache-first against the
// durable store and the geohash tile cache, refreshing from the provider
// adapters when stale.
type Aggregator struct {
	store    Store
	adapters []provider.Adapter
	opts     Options
	ttl      ttlPolicy
	log      *zap.Logger

	now func() time.Time
}

// NewAggregator wires the aggregator. Adapter order is preserved;
// persistable adapters run before non-persistable ones.
func NewAggregator(store Store, adapters []provider.Adapter, opts Options) *Aggregator {
	if opts.CacheTTL == 0 {
		opts.CacheTTL = 12 * time.Hour
	}
	if opts.DefaultLimit == 0 {
		opts.DefaultLimit = 60
	}
	if opts.MaxPlaces == 0 {
		opts.MaxPlaces = 200
	}
	return &Aggregator{
		store:    store,
		adapters: adapters,
		opts:     opts,
		ttl:      ttlPolicy{base: opts.CacheTTL, jitter: opts.CacheJitter},
		log:      zap.L().With(zap.String("component", "aggregator")),
		now:      time.Now,
	}
}

// Query returns a ranked, filtered list of canonical places for the
// viewport. It always returns a best-effort list: a storage outage
// degrades the call to a store-less live fetch, and a failed provider
// contributes zero candidates.
func (g *Aggregator) Query(ctx context.Context, q model.ViewportQuery) ([]model.CanonicalPlace, error) {
	now := g.now()
	centerLat, centerLng := q.Bounds.Center()
	tile := geo.TileKey(centerLat, centerLng)
	log := g.log.With(zap.String("tile", tile))

	// Storage failures flip this request into store-less mode; they never
	// fail the request.
	storeUp := true

	existing, err := g.store.PlacesInBounds(ctx, q.Bounds)
	if err != nil {
		log.Warn("store read failed, degrading to store-less mode", zap.Error(err))
		storeUp = false
		existing = nil
	}

	var tileEntry *model.TileEntry
	if storeUp {
		tileEntry, err = g.store.GetTile(ctx, tile)
		if err != nil {
			log.Warn("tile read failed, treating tile as cold", zap.Error(err))
			tileEntry = nil
		}
	}

	refresh := q.ForceRefresh ||
		len(existing) == 0 ||
		anyExpired(existing, now) ||
		anyRetiredWildcard(existing) ||
		tileEntry == nil || !tileEntry.Warm(now)

	if !refresh {
		results := g.filterBySelection(existing, q)
		Rank(results, centerLat, centerLng, now)
		return clip(results, g.limit(q)), nil
	}

	results := g.refresh(ctx, q, existing, tile, storeUp, now)
	results = g.filterBySelection(results, q)
	Rank(results, centerLat, centerLng, now)
	return clip(results, g.limit(q)), nil
}

// refresh rebuilds the tile from providers, persisting what is allowed
// to be persisted.
func (g *Aggregator) refresh(ctx context.Context, q model.ViewportQuery, existing []model.CanonicalPlace, tile string, storeUp bool, now time.Time) []model.CanonicalPlace {
	aggs := make([]*Aggregate, 0, len(existing))
	for _, p := range existing {
		aggs = append(aggs, FromStored(p))
	}

	var persistable, transient []provider.Adapter
	for _, a := range g.adapters {
		if a.CanPersist() {
			persistable = append(persistable, a)
		} else {
			transient = append(transient, a)
		}
	}

	providerCounts := make(map[string]int)

	candidates := g.fanOut(ctx, persistable, q, providerCounts)
	for _, c := range candidates {
		mergeCandidate(&aggs, c)
	}

	// Persist the durable subset, then re-read so generated rows come
	// back with their ids. A failed re-read keeps the in-memory view.
	if storeUp {
		batch := g.canonicalBatch(aggs, now, false)
		if len(batch) > 0 {
			if _, err := g.store.UpsertPlaces(ctx, batch); err != nil {
				g.log.Warn("place upsert failed, degrading to store-less mode", zap.Error(err))
				storeUp = false
			}
		}
	}
	if storeUp {
		if fresh, err := g.store.PlacesInBounds(ctx, q.Bounds); err != nil {
			g.log.Warn("store re-read failed, keeping in-memory aggregates", zap.Error(err))
		} else if len(fresh) > 0 {
			rebuilt := make([]*Aggregate, 0, len(fresh))
			for _, p := range fresh {
				rebuilt = append(rebuilt, FromStored(p))
			}
			aggs = rebuilt
		}
	}

	// Non-persistable providers merge in last, flagged transient so they
	// never reach a durable write.
	for _, c := range g.fanOut(ctx, transient, q, providerCounts) {
		mergeCandidate(&aggs, c)
	}

	if storeUp {
		if err := g.store.PutTile(ctx, model.TileEntry{
			Tile:           tile,
			RefreshedAt:    now,
			ExpiresAt:      g.ttl.expiry(now),
			ProviderCounts: providerCounts,
		}); err != nil {
			g.log.Warn("tile write failed", zap.Error(err))
		}
	}

	return g.canonicalBatch(aggs, now, true)
}

// fanOut calls adapters concurrently. A failed provider contributes zero
// candidates and is logged with its duration; it never aborts the rest.
func (g *Aggregator) fanOut(ctx context.Context, adapters []provider.Adapter, q model.ViewportQuery, counts map[string]int) []model.ProviderPlace {
	var (
		mu  sync.Mutex
		all []model.ProviderPlace
	)
	grp, ctx := errgroup.WithContext(ctx)
	for _, a := range adapters {
		grp.Go(func() error {
			start := time.Now()
			places, err := a.Search(ctx, q)
			dur := time.Since(start)
			if err != nil {
				g.log.Warn("provider search failed",
					zap.String("provider", a.Name()),
					zap.Duration("duration", dur),
					zap.Error(err),
				)
				return nil
			}
			g.log.Debug("provider search complete",
				zap.String("provider", a.Name()),
				zap.Duration("duration", dur),
				zap.Int("results", len(places)),
			)
			mu.Lock()
			counts[a.Name()] = len(places)
			all = append(all, places...)
			mu.Unlock()
			return nil
		})
	}
	_ = grp.Wait()
	return all
}

// mergeCandidate folds one candidate into the best matching aggregate,
// or starts a new one when nothing qualifies.
func mergeCandidate(aggs *[]*Aggregate, c model.ProviderPlace) {
	if best := BestMatch(*aggs, c); best != nil {
		best.Absorb(c)
		return
	}
	*aggs = append(*aggs, FromCandidate(c))
}

// canonicalBatch projects aggregates to canonical places. With
// includeTransient=false it yields the durable write set, merging any
// slug collisions within the batch before they hit the unique key.
func (g *Aggregator) canonicalBatch(aggs []*Aggregate, now time.Time, includeTransient bool) []model.CanonicalPlace {
	bySlug := make(map[string]*Aggregate)
	var order []string
	for _, a := range aggs {
		if a.merged {
			continue
		}
		if a.Transient && !includeTransient {
			continue
		}
		slug := a.Slug()
		if prev, ok := bySlug[slug]; ok {
			prev.MergeInto(a)
			continue
		}
		bySlug[slug] = a
		order = append(order, slug)
	}

	out := make([]model.CanonicalPlace, 0, len(order))
	for _, slug := range order {
		out = append(out, bySlug[slug].Canonical(now, g.ttl.expiry(now)))
	}
	return out
}

// filterBySelection applies the query's category selection: a place
// matches via the per-city pinned set, via its normalized categories, or
// via a raw tag key match.
func (g *Aggregator) filterBySelection(in []model.CanonicalPlace, q model.ViewportQuery) []model.CanonicalPlace {
	wanted := taxonomy.Normalize(q.Categories)
	if len(wanted) == 0 || len(wanted) == len(taxonomy.All) {
		return clip(in, g.opts.MaxPlaces)
	}

	rawKeys := make(map[string]bool, len(q.Categories))
	for _, r := range q.Categories {
		rawKeys[strings.ToLower(strings.TrimSpace(r))] = true
	}

	cityPinned := g.opts.CityCategories[strings.ToLower(q.City)]

	var out []model.CanonicalPlace
	for _, p := range in {
		if matchesSelection(p, wanted, rawKeys, cityPinned) {
			out = append(out, p)
		}
	}
	return clip(out, g.opts.MaxPlaces)
}

func matchesSelection(p model.CanonicalPlace, wanted []taxonomy.Category, rawKeys map[string]bool, cityPinned []taxonomy.Category) bool {
	for _, pc := range p.Categories {
		for _, c := range cityPinned {
			if pc == c {
				return true
			}
		}
		for _, w := range wanted {
			if pc == w {
				return true
			}
		}
	}
	if taxonomy.Match(p.Tags, wanted) {
		return true
	}
	for _, t := range p.Tags {
		if rawKeys[strings.ToLower(t)] {
			return true
		}
	}
	return false
}

func (g *Aggregator) limit(q model.ViewportQuery) int {
	if q.Limit > 0 && q.Limit < g.opts.MaxPlaces {
		return q.Limit
	}
	if q.Limit >= g.opts.MaxPlaces {
		return g.opts.MaxPlaces
	}
	return g.opts.DefaultLimit
}

func clip(in []model.CanonicalPlace, n int) []model.CanonicalPlace {
	if n > 0 && len(in) > n {
		return in[:n]
	}
	return in
}

func anyExpired(places []model.CanonicalPlace, now time.Time) bool {
	for _, p := range places {
		if !p.ExpiresAt.After(now) {
			return true
		}
	}
	return false
}

// anyRetiredWildcard detects rows persisted with the legacy "all"
// placeholder category set.
func anyRetiredWildcard(places []model.CanonicalPlace) bool {
	for _, p := range places {
		for _, c := range p.Categories {
			if string(c) == retiredWildcard {
				return true
			}
		}
	}
	return false
}

// Resolve finds or creates a canonical place for a coordinate, used as
// the last-resort venue-matching fallback. The label hints the name of a
// place created fresh.
func (g *Aggregator) Resolve(ctx context.Context, lat, lng float64, label string) (*model.CanonicalPlace, error) {
	near, err := g.store.PlacesNear(ctx, lat, lng, mergeMaxDistanceMeters)
	if err == nil && len(near) > 0 {
		return &near[0], nil
	}
	if label == "" {
		return nil, nil
	}

	now := g.now()
	p := model.CanonicalPlace{
		ID:            uuid.NewString(),
		Slug:          geo.Slug(label, lat, lng),
		Name:          label,
		Lat:           lat,
		Lng:           lng,
		PrimarySource: "resolver",
		CachedAt:      now,
		ExpiresAt:     g.ttl.expiry(now),
		Metadata:      map[string]any{"tile": geo.TileKey(lat, lng)},
	}
	if _, err := g.store.UpsertPlaces(ctx, []model.CanonicalPlace{p}); err != nil {
		return nil, err
	}
	return &p, nil
}
