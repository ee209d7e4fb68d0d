package places

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/gatherly/placesync/internal/geo"
	"github.com/gatherly/placesync/internal/model"
	"github.com/gatherly/placesync/internal/taxonomy"
)

// Identity thresholds for the place dedup-merge rule: two observations
// are the same real-world place iff both hold.
const (
	mergeMaxDistanceMeters = 100.0
	mergeMinSimilarity     = 0.9
)

// Aggregate accumulates provider observations for one real-world place
// during a single refresh cycle. It is never persisted itself; Canonical
// projects it to the durable record.
type Aggregate struct {
	Name string
	Lat  float64
	Lng  float64

	categories map[taxonomy.Category]bool
	tags       map[string]bool
	address    model.Address
	phone      string
	website    string

	// Weighted rating accumulation: sum of rating*count over count.
	ratingSum    float64
	ratingCount  int
	priceSamples []int
	popularity   float64 // best provider-reported value

	providers   map[string]bool
	confidences map[string]float64 // best confidence per provider
	attribution []model.Attribution

	// Stored is the durable row this aggregate originated from, nil for
	// places first seen this cycle.
	Stored *model.CanonicalPlace

	// Transient marks aggregates built only from non-persistable
	// candidates; they are ranked and returned but never written.
	Transient bool

	// merged marks an aggregate already folded into another by a slug
	// collision; projections skip it so repeated batches count its
	// samples once.
	merged bool

	// id is assigned once for new places so repeated projections of the
	// same aggregate agree.
	id string
}

func newAggregate() *Aggregate {
	return &Aggregate{
		categories:  make(map[taxonomy.Category]bool),
		tags:        make(map[string]bool),
		providers:   make(map[string]bool),
		confidences: make(map[string]float64),
	}
}

// FromStored seeds an aggregate from an existing durable row.
func FromStored(p model.CanonicalPlace) *Aggregate {
	a := newAggregate()
	stored := p
	a.Stored = &stored
	a.Name = p.Name
	a.Lat, a.Lng = p.Lat, p.Lng
	for _, c := range p.Categories {
		a.categories[c] = true
	}
	for _, t := range p.Tags {
		a.tags[t] = true
	}
	a.address = p.Address
	if p.Rating > 0 {
		count := p.RatingCount
		if count == 0 {
			count = 1
		}
		a.ratingSum = p.Rating * float64(count)
		a.ratingCount = count
	}
	if p.PriceLevel > 0 {
		a.priceSamples = append(a.priceSamples, p.PriceLevel)
	}
	a.popularity = p.Popularity
	for _, prov := range p.Providers {
		a.providers[prov] = true
	}
	for _, attr := range p.Attribution {
		a.attribution = append(a.attribution, attr)
		if attr.Confidence > a.confidences[attr.Provider] {
			a.confidences[attr.Provider] = attr.Confidence
		}
	}
	return a
}

// FromCandidate starts a fresh aggregate from one provider candidate.
func FromCandidate(c model.ProviderPlace) *Aggregate {
	a := newAggregate()
	a.Name = c.Name
	a.Lat, a.Lng = c.Lat, c.Lng
	a.Transient = !c.CanPersist
	a.Absorb(c)
	return a
}

// Absorb merges one candidate into the aggregate: union categories and
// tags, append rating/price samples, fill blank address and contact
// fields, track per-provider confidence and attribution. A persistable
// candidate clears the transient flag.
func (a *Aggregate) Absorb(c model.ProviderPlace) {
	if c.CanPersist {
		a.Transient = false
	}

	for _, cat := range taxonomy.Normalize(c.Categories) {
		a.categories[cat] = true
	}
	for _, raw := range c.Categories {
		a.tags[raw] = true
	}
	for _, t := range c.Tags {
		a.tags[t] = true
	}

	if a.address.Empty() && !c.Address.Empty() {
		a.address = c.Address
	}
	if a.phone == "" {
		a.phone = c.Phone
	}
	if a.website == "" {
		a.website = c.Website
	}

	if c.Rating > 0 {
		count := c.RatingCount
		if count == 0 {
			count = 1
		}
		a.ratingSum += c.Rating * float64(count)
		a.ratingCount += count
	}
	if c.PriceLevel > 0 {
		a.priceSamples = append(a.priceSamples, c.PriceLevel)
	}
	if c.Popularity > a.popularity {
		a.popularity = c.Popularity
	}

	a.providers[c.Provider] = true
	if c.Confidence > a.confidences[c.Provider] {
		a.confidences[c.Provider] = c.Confidence
	}
	a.attribution = append(a.attribution, model.Attribution{
		Provider:   c.Provider,
		ProviderID: c.ProviderID,
		Confidence: c.Confidence,
	})
}

// Matches applies the identity rule against one candidate.
func (a *Aggregate) Matches(c model.ProviderPlace) (dist, sim float64, ok bool) {
	dist = geo.Distance(a.Lat, a.Lng, c.Lat, c.Lng)
	if dist > mergeMaxDistanceMeters {
		return dist, 0, false
	}
	sim = geo.NameSimilarity(a.Name, c.Name)
	return dist, sim, sim >= mergeMinSimilarity
}

// BestMatch finds the single best matching aggregate for a candidate:
// highest name similarity, ties broken by distance. Matching is
// deliberately best-single-match, not transitive clustering.
func BestMatch(aggs []*Aggregate, c model.ProviderPlace) *Aggregate {
	var best *Aggregate
	bestSim := -1.0
	bestDist := 0.0
	for _, a := range aggs {
		dist, sim, ok := a.Matches(c)
		if !ok {
			continue
		}
		if sim > bestSim || (sim == bestSim && dist < bestDist) {
			best, bestSim, bestDist = a, sim, dist
		}
	}
	return best
}

// MergeInto folds another aggregate of the same identity into this one.
// Used for in-batch slug collisions; the receiver's identity fields win
// and the absorbed aggregate is marked so later projections skip it.
func (a *Aggregate) MergeInto(other *Aggregate) {
	for c := range other.categories {
		a.categories[c] = true
	}
	for t := range other.tags {
		a.tags[t] = true
	}
	if a.address.Empty() {
		a.address = other.address
	}
	if a.phone == "" {
		a.phone = other.phone
	}
	if a.website == "" {
		a.website = other.website
	}
	a.ratingSum += other.ratingSum
	a.ratingCount += other.ratingCount
	a.priceSamples = append(a.priceSamples, other.priceSamples...)
	if other.popularity > a.popularity {
		a.popularity = other.popularity
	}
	for p := range other.providers {
		a.providers[p] = true
	}
	for p, conf := range other.confidences {
		if conf > a.confidences[p] {
			a.confidences[p] = conf
		}
	}
	a.attribution = append(a.attribution, other.attribution...)
	if a.Stored == nil {
		a.Stored = other.Stored
	}
	if !other.Transient {
		a.Transient = false
	}
	other.merged = true
}

// Confidence returns the best single-provider confidence.
func (a *Aggregate) Confidence() float64 {
	best := 0.0
	for _, c := range a.confidences {
		if c > best {
			best = c
		}
	}
	return best
}

// ProviderCount returns how many distinct providers corroborate.
func (a *Aggregate) ProviderCount() int { return len(a.providers) }

// Slug returns the stable identifier: the stored slug when the aggregate
// originated from a durable row, else the deterministic slug from name
// and coordinates.
func (a *Aggregate) Slug() string {
	if a.Stored != nil {
		return a.Stored.Slug
	}
	return geo.Slug(a.Name, a.Lat, a.Lng)
}

// Canonical projects the aggregate to its durable form. Identity is
// stable: a stored id and slug are never rewritten on merge, and a new
// place gets the deterministic slug from name plus coordinates.
func (a *Aggregate) Canonical(now, expiresAt time.Time) model.CanonicalPlace {
	p := model.CanonicalPlace{
		Name:      a.Name,
		Lat:       a.Lat,
		Lng:       a.Lng,
		Address:   a.address,
		CachedAt:  now,
		ExpiresAt: expiresAt,
	}

	if a.Stored != nil {
		p.ID = a.Stored.ID
		p.Slug = a.Stored.Slug
		p.Metadata = a.Stored.Metadata
	} else {
		if a.id == "" {
			a.id = uuid.NewString()
		}
		p.ID = a.id
		p.Slug = geo.Slug(a.Name, a.Lat, a.Lng)
	}
	if p.Metadata == nil {
		p.Metadata = make(map[string]any)
	}
	p.Metadata["tile"] = geo.TileKey(a.Lat, a.Lng)
	p.Metadata["confidence"] = a.Confidence()
	if a.phone != "" {
		p.Metadata["phone"] = a.phone
	}
	if a.website != "" {
		p.Metadata["website"] = a.website
	}

	for _, c := range taxonomy.All {
		if a.categories[c] {
			p.Categories = append(p.Categories, c)
		}
	}
	for t := range a.tags {
		p.Tags = append(p.Tags, t)
	}
	sort.Strings(p.Tags)

	if a.ratingCount > 0 {
		p.Rating = a.ratingSum / float64(a.ratingCount)
		p.RatingCount = a.ratingCount
	}
	if len(a.priceSamples) > 0 {
		sum := 0
		for _, s := range a.priceSamples {
			sum += s
		}
		p.PriceLevel = (sum + len(a.priceSamples)/2) / len(a.priceSamples)
	}
	p.Popularity = a.popularity

	for prov := range a.providers {
		p.Providers = append(p.Providers, prov)
	}
	sort.Strings(p.Providers)
	p.PrimarySource = a.primarySource()
	p.Attribution = dedupeAttribution(a.attribution)

	return p
}

// primarySource is the provider with the highest tracked confidence.
func (a *Aggregate) primarySource() string {
	best := ""
	bestConf := -1.0
	for prov, conf := range a.confidences {
		if conf > bestConf || (conf == bestConf && prov < best) {
			best, bestConf = prov, conf
		}
	}
	return best
}

// dedupeAttribution keeps one attribution row per (provider, provider id).
func dedupeAttribution(in []model.Attribution) []model.Attribution {
	seen := make(map[string]bool, len(in))
	var out []model.Attribution
	for _, attr := range in {
		key := attr.Provider + "\x00" + attr.ProviderID
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, attr)
	}
	return out
}
