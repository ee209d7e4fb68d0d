package feed

import (
	"bytes"
	"strconv"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/rotisserie/eris"
	"github.com/teambition/rrule-go"

	"github.com/gatherly/placesync/internal/model"
)

// ParseICS parses an iCalendar payload and expands recurring events
// within the window. Occurrence starts are floored to ten-minute
// boundaries and the result is sorted by start time.
func ParseICS(src model.EventSource, body []byte, window Window) ([]model.NormalizedEvent, error) {
	cal, err := ics.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "feed: parse ics calendar")
	}

	var events []model.NormalizedEvent
	for _, ve := range cal.Events() {
		occ, err := expandEvent(src, ve, window)
		if err != nil {
			return nil, err
		}
		events = append(events, occ...)
	}
	sortByStart(events)
	return events, nil
}

// expandEvent yields every in-window occurrence of one VEVENT.
func expandEvent(src model.EventSource, ve *ics.VEvent, window Window) ([]model.NormalizedEvent, error) {
	title := propValue(ve, ics.ComponentPropertySummary)
	if title == "" {
		return nil, nil
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return nil, nil // undated component, skip
	}

	// Template duration: explicit end, else DURATION, else zero.
	var duration time.Duration
	if end, err := ve.GetEndAt(); err == nil && end.After(start) {
		duration = end.Sub(start)
	} else if d := propValue(ve, ics.ComponentProperty(ics.PropertyDuration)); d != "" {
		duration, _ = parseICSDuration(d)
	}

	base := newEvent(src, title)
	base.UID = propValue(ve, ics.ComponentPropertyUniqueId)
	base.Description = propValue(ve, ics.ComponentPropertyDescription)
	base.URL = propValue(ve, ics.ComponentPropertyUrl)
	base.VenueName = propValue(ve, ics.ComponentPropertyLocation)
	if strings.EqualFold(propValue(ve, ics.ComponentPropertyStatus), "CANCELLED") {
		base.Status = model.EventCanceled
	}
	if cats := propValue(ve, ics.ComponentPropertyCategories); cats != "" {
		for _, c := range strings.Split(cats, ",") {
			if c = strings.TrimSpace(c); c != "" {
				base.Tags = append(base.Tags, c)
			}
		}
	}
	if lat, lng, ok := parseGeo(propValue(ve, ics.ComponentProperty(ics.PropertyGeo))); ok {
		base.Lat, base.Lng = floatPtr(lat), floatPtr(lng)
	}

	starts, err := occurrences(ve, start, window)
	if err != nil {
		return nil, err
	}

	var out []model.NormalizedEvent
	for _, s := range starts {
		ev := base
		ev.StartsAt = s.Truncate(startGranularity)
		if duration > 0 {
			end := ev.StartsAt.Add(duration)
			ev.EndsAt = &end
		}
		ev.Timezone = s.Location().String()
		out = append(out, ev)
	}
	return out, nil
}

// occurrences expands the RRULE within the window, honoring exclusion
// dates. A non-recurring event yields its own start when in window.
func occurrences(ve *ics.VEvent, start time.Time, window Window) ([]time.Time, error) {
	rule := propValue(ve, ics.ComponentProperty(ics.PropertyRrule))
	if rule == "" {
		if window.Contains(start) {
			return []time.Time{start}, nil
		}
		return nil, nil
	}

	opt, err := rrule.StrToROption(rule)
	if err != nil {
		return nil, eris.Wrapf(err, "feed: parse rrule %q", rule)
	}
	opt.Dtstart = start
	r, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, eris.Wrapf(err, "feed: build rrule %q", rule)
	}

	excluded := exdates(ve)
	var out []time.Time
	for _, occ := range r.Between(window.From, window.To, true) {
		if excluded[occ.Truncate(time.Minute).Unix()] {
			continue
		}
		out = append(out, occ)
	}
	return out, nil
}

// exdates collects EXDATE instants, minute-truncated, keyed by unix time.
func exdates(ve *ics.VEvent) map[int64]bool {
	out := make(map[int64]bool)
	for _, prop := range ve.Properties {
		if !strings.EqualFold(prop.IANAToken, string(ics.PropertyExdate)) {
			continue
		}
		for _, raw := range strings.Split(prop.Value, ",") {
			if t, ok := parseICSTime(strings.TrimSpace(raw)); ok {
				out[t.Truncate(time.Minute).Unix()] = true
			}
		}
	}
	return out
}

func parseICSTime(raw string) (time.Time, bool) {
	for _, layout := range []string{"20060102T150405Z", "20060102T150405", "20060102"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// parseICSDuration handles the RFC 5545 duration form, e.g. "PT1H30M" or
// "P1DT2H".
func parseICSDuration(raw string) (time.Duration, error) {
	s := strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(raw)), "+")
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	if !strings.HasPrefix(s, "P") {
		return 0, eris.Errorf("feed: invalid duration %q", raw)
	}
	s = s[1:]

	var total time.Duration
	var num strings.Builder
	inTime := false
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			num.WriteRune(r)
		case r == 'T':
			inTime = true
		default:
			n, err := strconv.Atoi(num.String())
			if err != nil {
				return 0, eris.Errorf("feed: invalid duration %q", raw)
			}
			num.Reset()
			switch {
			case r == 'W':
				total += time.Duration(n) * 7 * 24 * time.Hour
			case r == 'D':
				total += time.Duration(n) * 24 * time.Hour
			case r == 'H' && inTime:
				total += time.Duration(n) * time.Hour
			case r == 'M' && inTime:
				total += time.Duration(n) * time.Minute
			case r == 'S' && inTime:
				total += time.Duration(n) * time.Second
			default:
				return 0, eris.Errorf("feed: invalid duration %q", raw)
			}
		}
	}
	if neg {
		total = -total
	}
	return total, nil
}

// parseGeo splits the ICS GEO form "lat;lng".
func parseGeo(raw string) (lat, lng float64, ok bool) {
	parts := strings.SplitN(raw, ";", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	lat, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	lng, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	return lat, lng, err1 == nil && err2 == nil
}

func propValue(ve *ics.VEvent, prop ics.ComponentProperty) string {
	if p := ve.GetProperty(prop); p != nil {
		return p.Value
	}
	return ""
}
