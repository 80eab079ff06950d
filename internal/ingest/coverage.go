package ingest

import (
	"slices"
	"time"

	"github.com/tphakala/pendant-go/internal/datastore/entities"
	"github.com/tphakala/pendant-go/internal/timewindow"
)

// uncovered returns the parts of w not covered by any fully processed
// window, in start order.
func uncovered(w timewindow.Window, existing []entities.AudioWindow) []timewindow.Window {
	covered := make([]timewindow.Window, 0, len(existing))
	for i := range existing {
		e := &existing[i]
		if !e.FullyProcessed || !e.Overlaps(w.Start, w.End) {
			continue
		}
		covered = append(covered, timewindow.Window{
			Start: maxTime(e.StartUTC, w.Start),
			End:   minTime(e.EndUTC, w.End),
		})
	}
	slices.SortFunc(covered, func(a, b timewindow.Window) int {
		return a.Start.Compare(b.Start)
	})

	var gaps []timewindow.Window
	cursor := w.Start
	for _, c := range covered {
		if c.Start.After(cursor) {
			gaps = append(gaps, timewindow.Window{Start: cursor, End: c.Start})
		}
		cursor = maxTime(cursor, c.End)
	}
	if w.End.After(cursor) {
		gaps = append(gaps, timewindow.Window{Start: cursor, End: w.End})
	}
	return gaps
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
