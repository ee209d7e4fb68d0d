// Package feed parses third-party event feeds (ICS calendars, JSON-LD
// structured data, RSS-style web feeds) into NormalizedEvents.
package feed

import (
	"sort"
	"time"

	"github.com/gatherly/placesync/internal/geo"
	"github.com/gatherly/placesync/internal/model"
)

// Window bounds recurrence expansion and occurrence selection: a fixed
// forward horizon intersected with a backward grace period so just-started
// events are not dropped.
type Window struct {
	From time.Time
	To   time.Time
}

// NewWindow builds the expansion window around now.
func NewWindow(now time.Time, lookback, horizon time.Duration) Window {
	return Window{From: now.Add(-lookback), To: now.Add(horizon)}
}

// Contains reports whether an instant falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.From) && !t.After(w.To)
}

// startGranularity floors event starts so that trivially different feed
// timestamps of the same occurrence agree.
const startGranularity = 10 * time.Minute

func newEvent(src model.EventSource, title string) model.NormalizedEvent {
	return model.NormalizedEvent{
		SourceID:        src.ID,
		SourceType:      string(src.Type),
		SourceURL:       src.URL,
		Title:           title,
		NormalizedTitle: geo.NormalizeTitle(title),
		Status:          model.EventScheduled,
	}
}

func sortByStart(events []model.NormalizedEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].StartsAt.Before(events[j].StartsAt)
	})
}

func floatPtr(v float64) *float64 { return &v }
