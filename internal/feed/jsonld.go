package feed

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/gatherly/placesync/internal/model"
)

// ParseJSONLD extracts events from structured data. The payload may be a
// raw JSON-LD document or an HTML page whose script blocks are scanned.
// Only nodes whose declared type contains "event" are considered; a node
// needs a non-empty name and a parseable start date, everything else is
// optional.
func ParseJSONLD(src model.EventSource, body []byte) ([]model.NormalizedEvent, error) {
	trimmed := bytes.TrimSpace(body)

	var docs []json.RawMessage
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		docs = append(docs, json.RawMessage(trimmed))
	} else {
		found, err := scanHTML(trimmed)
		if err != nil {
			return nil, err
		}
		docs = found
	}

	var events []model.NormalizedEvent
	for _, doc := range docs {
		for _, node := range flattenNodes(doc) {
			if ev, ok := eventFromNode(src, node); ok {
				events = append(events, ev)
			}
		}
	}
	sortByStart(events)
	return events, nil
}

// scanHTML pulls every ld+json script block out of an HTML document.
func scanHTML(body []byte) ([]json.RawMessage, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "feed: parse html")
	}
	var out []json.RawMessage
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		if text := strings.TrimSpace(s.Text()); text != "" {
			out = append(out, json.RawMessage(text))
		}
	})
	return out, nil
}

// flattenNodes resolves top-level arrays and @graph containers into a
// flat node list. Unparseable blocks yield nothing; structured data on
// third-party pages is frequently broken and never fatal.
func flattenNodes(doc json.RawMessage) []map[string]any {
	var root any
	if err := json.Unmarshal(doc, &root); err != nil {
		return nil
	}

	var out []map[string]any
	var walk func(v any)
	walk = func(v any) {
		switch n := v.(type) {
		case []any:
			for _, item := range n {
				walk(item)
			}
		case map[string]any:
			if graph, ok := n["@graph"]; ok {
				walk(graph)
			}
			out = append(out, n)
		}
	}
	walk(root)
	return out
}

func eventFromNode(src model.EventSource, node map[string]any) (model.NormalizedEvent, bool) {
	if !typeContainsEvent(node["@type"]) {
		return model.NormalizedEvent{}, false
	}
	name := strings.TrimSpace(str(node["name"]))
	if name == "" {
		return model.NormalizedEvent{}, false
	}
	start, ok := parseSchemaDate(str(node["startDate"]))
	if !ok {
		return model.NormalizedEvent{}, false
	}

	ev := newEvent(src, name)
	ev.UID = str(node["@id"])
	ev.Description = strings.TrimSpace(str(node["description"]))
	ev.URL = str(node["url"])
	ev.ImageURL = imageURL(node["image"])
	ev.StartsAt = start
	ev.Timezone = start.Location().String()
	if end, ok := parseSchemaDate(str(node["endDate"])); ok {
		ev.EndsAt = &end
	}
	if strings.Contains(strings.ToLower(str(node["eventStatus"])), "cancel") {
		ev.Status = model.EventCanceled
	}
	ev.Tags = keywordTags(node["keywords"])

	applyLocation(&ev, node["location"])
	return ev, true
}

// typeContainsEvent accepts "@type": "Event", subtype strings like
// "MusicEvent", and type arrays.
func typeContainsEvent(v any) bool {
	switch t := v.(type) {
	case string:
		return strings.Contains(strings.ToLower(t), "event")
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok && strings.Contains(strings.ToLower(s), "event") {
				return true
			}
		}
	}
	return false
}

// applyLocation unpacks the location object: name, nested postal address,
// nested geo coordinates. A bare string is used as the venue name.
func applyLocation(ev *model.NormalizedEvent, v any) {
	switch loc := v.(type) {
	case string:
		ev.VenueName = strings.TrimSpace(loc)
	case map[string]any:
		ev.VenueName = strings.TrimSpace(str(loc["name"]))
		ev.VenueAddress = formatAddress(loc["address"])
		if geo, ok := loc["geo"].(map[string]any); ok {
			lat, okLat := number(geo["latitude"])
			lng, okLng := number(geo["longitude"])
			if okLat && okLng {
				ev.Lat, ev.Lng = floatPtr(lat), floatPtr(lng)
			}
		}
	case []any:
		if len(loc) > 0 {
			applyLocation(ev, loc[0])
		}
	}
}

func formatAddress(v any) string {
	switch addr := v.(type) {
	case string:
		return strings.TrimSpace(addr)
	case map[string]any:
		parts := []string{
			str(addr["streetAddress"]),
			str(addr["postalCode"]),
			str(addr["addressLocality"]),
			str(addr["addressCountry"]),
		}
		var kept []string
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				kept = append(kept, p)
			}
		}
		return strings.Join(kept, ", ")
	}
	return ""
}

// keywordTags accepts a comma-separated string or an array of strings.
func keywordTags(v any) []string {
	var out []string
	switch kw := v.(type) {
	case string:
		for _, t := range strings.Split(kw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				out = append(out, t)
			}
		}
	case []any:
		for _, item := range kw {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	}
	return out
}

// imageURL accepts a bare URL, an array of URLs, or an ImageObject.
func imageURL(v any) string {
	switch img := v.(type) {
	case string:
		return img
	case []any:
		if len(img) > 0 {
			return imageURL(img[0])
		}
	case map[string]any:
		return str(img["url"])
	}
	return ""
}

var schemaDateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseSchemaDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range schemaDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

// number accepts JSON numbers and numeric strings; schema.org publishers
// use both.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}
