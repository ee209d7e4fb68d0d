package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/gatherly/placesync/internal/db"
	"github.com/gatherly/placesync/internal/feed"
	"github.com/gatherly/placesync/internal/fetch"
	"github.com/gatherly/placesync/internal/model"
)

// IngestOptions configures an ingestion run.
type IngestOptions struct {
	Lookback        time.Duration // keep events starting no earlier than this
	Horizon         time.Duration // recurrence expansion horizon
	KeyChunkSize    int           // dedupe-key lookup batch size
	UpsertChunkSize int           // event upsert batch size
}

// RunFilter narrows which sources an ingestion run processes.
type RunFilter struct {
	SourceIDs []int64
	Limit     int
}

// Ingestor runs event ingestion: fetch, parse, venue-match, dedupe,
// persist, per source. Sources are processed one at a time to bound load
// on third-party hosts and keep the robots cache effective.
type Ingestor struct {
	store   Store
	matcher *Matcher
	client  *fetch.Client
	rss     *feed.RSSParser
	opts    IngestOptions
	log     *zap.Logger

	now func() time.Time
}

// NewIngestor wires the orchestrator.
func NewIngestor(store Store, matcher *Matcher, client *fetch.Client, opts IngestOptions) *Ingestor {
	if opts.Lookback == 0 {
		opts.Lookback = 12 * time.Hour
	}
	if opts.Horizon == 0 {
		opts.Horizon = 30 * 24 * time.Hour
	}
	if opts.KeyChunkSize == 0 {
		opts.KeyChunkSize = 100
	}
	if opts.UpsertChunkSize == 0 {
		opts.UpsertChunkSize = 200
	}
	return &Ingestor{
		store:   store,
		matcher: matcher,
		client:  client,
		rss:     feed.NewRSSParser(client),
		opts:    opts,
		log:     zap.L().With(zap.String("component", "ingest")),
		now:     time.Now,
	}
}

// Run processes every enabled source matching the filter and returns one
// report per source. A source's failure is recorded on its report and
// its health row; it never aborts the run.
func (in *Ingestor) Run(ctx context.Context, filter RunFilter) ([]model.SourceReport, error) {
	sources, err := in.store.ListSources(ctx, true)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: list sources")
	}
	sources = applyFilter(sources, filter)

	runID := uuid.NewString()
	log := in.log.With(zap.String("run_id", runID))
	log.Info("ingestion run starting", zap.Int("sources", len(sources)))

	reports := make([]model.SourceReport, 0, len(sources))
	for _, src := range sources {
		start := time.Now()
		report := model.SourceReport{SourceID: src.ID, SourceName: src.Name}

		stats, err := in.processSource(ctx, &src)
		report.Stats = stats
		report.Elapsed = time.Since(start).Round(time.Millisecond).String()

		now := in.now()
		src.LastFetchedAt = &now
		if err != nil {
			report.Status = "error"
			report.Error = err.Error()
			report.Stats.Errors++
			src.FailureStreak++
			src.LastStatus = err.Error()
			log.Warn("source failed",
				zap.String("source", src.Name),
				zap.Error(err),
			)
		} else {
			report.Status = "ok"
			src.FailureStreak = 0
			src.LastStatus = "ok"
			log.Info("source processed",
				zap.String("source", src.Name),
				zap.Int("fetched", stats.Fetched),
				zap.Int("persisted", stats.Persisted),
			)
		}

		// Health is recorded regardless of outcome.
		if herr := in.store.UpdateSourceHealth(ctx, src); herr != nil {
			log.Warn("health update failed", zap.String("source", src.Name), zap.Error(herr))
		}
		reports = append(reports, report)
	}

	log.Info("ingestion run complete", zap.Int("reports", len(reports)))
	return reports, nil
}

// processSource runs the full pipeline for one source. The source's
// cache validators are updated in place on a successful fetch.
func (in *Ingestor) processSource(ctx context.Context, src *model.EventSource) (model.SourceStats, error) {
	var stats model.SourceStats

	res, err := in.client.GetConditional(ctx, src.URL, src.ETag, src.LastModified)
	if err != nil {
		return stats, eris.Wrapf(err, "ingest: fetch %s", src.URL)
	}
	if res.NotModified {
		return stats, nil
	}
	src.ETag = res.ETag
	src.LastModified = res.LastModified

	events, err := in.parse(ctx, *src, res.Body)
	if err != nil {
		return stats, err
	}
	stats.Fetched = len(events)

	events = in.withinLookback(events)
	stats.Normalized = len(events)
	if len(events) == 0 {
		return stats, nil
	}

	records := make([]model.EventRecord, 0, len(events))
	for _, ev := range events {
		place, err := in.matcher.Match(ctx, ev, src.City)
		if err != nil {
			// An unmatchable venue is not an error; a failing store is.
			return stats, eris.Wrap(err, "ingest: venue match")
		}
		records = append(records, BuildRecord(ev, place))
	}

	merged, err := in.mergeExisting(ctx, records)
	if err != nil {
		return stats, err
	}

	for _, chunk := range db.Chunk(merged, in.opts.UpsertChunkSize) {
		n, err := in.store.UpsertEvents(ctx, chunk)
		if err != nil {
			return stats, eris.Wrap(err, "ingest: upsert events")
		}
		stats.Persisted += int(n)
	}
	return stats, nil
}

// parse dispatches on the declared source type.
func (in *Ingestor) parse(ctx context.Context, src model.EventSource, body []byte) ([]model.NormalizedEvent, error) {
	switch src.Type {
	case model.SourceICS:
		window := feed.NewWindow(in.now(), in.opts.Lookback, in.opts.Horizon)
		return feed.ParseICS(src, body, window)
	case model.SourceJSONLD:
		return feed.ParseJSONLD(src, body)
	case model.SourceRSS:
		return in.rss.Parse(ctx, src, body)
	default:
		return nil, eris.Errorf("ingest: unknown source type %q", src.Type)
	}
}

// withinLookback drops events that started more than the lookback ago.
func (in *Ingestor) withinLookback(events []model.NormalizedEvent) []model.NormalizedEvent {
	cutoff := in.now().Add(-in.opts.Lookback)
	var out []model.NormalizedEvent
	for _, ev := range events {
		if !ev.StartsAt.Before(cutoff) {
			out = append(out, ev)
		}
	}
	return out
}

// mergeExisting fetches rows sharing the batch's dedupe keys in chunks
// and folds incoming records into them. Duplicate keys within the batch
// collapse onto the merged row as well.
func (in *Ingestor) mergeExisting(ctx context.Context, records []model.EventRecord) ([]model.EventRecord, error) {
	keys := make([]string, 0, len(records))
	seen := make(map[string]bool, len(records))
	for _, r := range records {
		if !seen[r.DedupeKey] {
			seen[r.DedupeKey] = true
			keys = append(keys, r.DedupeKey)
		}
	}

	existing := make(map[string]model.EventRecord, len(keys))
	for _, chunk := range db.Chunk(keys, in.opts.KeyChunkSize) {
		rows, err := in.store.EventsByDedupeKeys(ctx, chunk)
		if err != nil {
			return nil, eris.Wrap(err, "ingest: lookup dedupe keys")
		}
		for _, row := range rows {
			existing[row.DedupeKey] = row
		}
	}

	byKey := make(map[string]model.EventRecord, len(records))
	var order []string
	for _, rec := range records {
		prev, ok := byKey[rec.DedupeKey]
		if !ok {
			if prior, found := existing[rec.DedupeKey]; found {
				rec = Merge(prior, rec)
			}
			byKey[rec.DedupeKey] = rec
			order = append(order, rec.DedupeKey)
			continue
		}
		byKey[rec.DedupeKey] = Merge(prev, rec)
	}

	out := make([]model.EventRecord, 0, len(order))
	for _, key := range order {
		out = append(out, byKey[key])
	}
	return out, nil
}

func applyFilter(sources []model.EventSource, filter RunFilter) []model.EventSource {
	if len(filter.SourceIDs) > 0 {
		wanted := make(map[int64]bool, len(filter.SourceIDs))
		for _, id := range filter.SourceIDs {
			wanted[id] = true
		}
		var kept []model.EventSource
		for _, s := range sources {
			if wanted[s.ID] {
				kept = append(kept, s)
			}
		}
		sources = kept
	}
	if filter.Limit > 0 && len(sources) > filter.Limit {
		sources = sources[:filter.Limit]
	}
	return sources
}
