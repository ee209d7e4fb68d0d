package feed

import (
	"bytes"
	"context"
	"strconv"

	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/gatherly/placesync/internal/fetch"
	"github.com/gatherly/placesync/internal/model"
)

// RSSParser parses RSS/Atom feeds. Each item's linked page is fetched
// (robots policy enforced by the fetch client) and run through the
// structured-data extractor; items whose pages yield nothing fall back to
// an event synthesized from the item's own fields, so no item is silently
// dropped.
type RSSParser struct {
	client *fetch.Client
	log    *zap.Logger
}

// NewRSSParser creates the parser around a shared fetch client.
func NewRSSParser(client *fetch.Client) *RSSParser {
	return &RSSParser{
		client: client,
		log:    zap.L().With(zap.String("component", "rss")),
	}
}

// Parse parses the feed body. Linked-page fetches are sequential to
// bound load on the source's host.
func (p *RSSParser) Parse(ctx context.Context, src model.EventSource, body []byte) ([]model.NormalizedEvent, error) {
	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "feed: parse rss")
	}

	var events []model.NormalizedEvent
	for _, item := range parsed.Items {
		itemEvents := p.itemEvents(ctx, src, item)
		events = append(events, itemEvents...)
	}
	sortByStart(events)
	return events, nil
}

func (p *RSSParser) itemEvents(ctx context.Context, src model.EventSource, item *gofeed.Item) []model.NormalizedEvent {
	link := item.Link

	var extracted []model.NormalizedEvent
	if link != "" {
		page, err := p.client.Get(ctx, link)
		if err != nil {
			p.log.Debug("linked page unavailable, falling back to item fields",
				zap.String("url", link),
				zap.Error(err),
			)
		} else if events, err := ParseJSONLD(src, page); err == nil {
			extracted = events
		}
	}

	if len(extracted) == 0 {
		if ev, ok := p.fallbackEvent(src, item); ok {
			return []model.NormalizedEvent{ev}
		}
		return nil
	}

	// Feed-item tags enrich whatever the page declared.
	for i := range extracted {
		extracted[i].Tags = mergeTags(extracted[i].Tags, item.Categories)
		if extracted[i].URL == "" {
			extracted[i].URL = link
		}
	}
	return extracted
}

// fallbackEvent synthesizes a best-effort event from the feed item alone.
func (p *RSSParser) fallbackEvent(src model.EventSource, item *gofeed.Item) (model.NormalizedEvent, bool) {
	if item.Title == "" {
		return model.NormalizedEvent{}, false
	}

	ev := newEvent(src, item.Title)
	ev.UID = item.GUID
	ev.URL = item.Link
	ev.Description = item.Description

	switch {
	case item.PublishedParsed != nil:
		ev.StartsAt = *item.PublishedParsed
	case item.UpdatedParsed != nil:
		ev.StartsAt = *item.UpdatedParsed
	default:
		return model.NormalizedEvent{}, false
	}
	ev.StartsAt = ev.StartsAt.Truncate(startGranularity)

	ev.Tags = mergeTags(nil, item.Categories)

	if item.Image != nil {
		ev.ImageURL = item.Image.URL
	} else {
		for _, enc := range item.Enclosures {
			if enc != nil && enc.URL != "" {
				ev.ImageURL = enc.URL
				break
			}
		}
	}

	// GeoRSS extensions, when a feed carries them.
	if geo, ok := item.Extensions["geo"]; ok {
		lat := extensionValue(geo["lat"])
		lng := extensionValue(geo["long"])
		if lat != "" && lng != "" {
			latF, err1 := strconv.ParseFloat(lat, 64)
			lngF, err2 := strconv.ParseFloat(lng, 64)
			if err1 == nil && err2 == nil {
				ev.Lat, ev.Lng = floatPtr(latF), floatPtr(lngF)
			}
		}
	}

	return ev, true
}

func extensionValue(exts []ext.Extension) string {
	for _, e := range exts {
		if e.Value != "" {
			return e.Value
		}
	}
	return ""
}

func mergeTags(base, extra []string) []string {
	seen := make(map[string]bool, len(base))
	out := make([]string, 0, len(base)+len(extra))
	for _, t := range base {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, t := range extra {
		if t != "" && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
