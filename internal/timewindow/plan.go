package timewindow

import (
	"time"

	"github.com/tphakala/pendant-go/internal/errors"
)

// Window is a half-open [Start,End) UTC interval.
type Window struct {
	Start time.Time
	End   time.Time
}

// Duration returns the window length.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Plan splits [startUTC,endUTC) into ordered, gap-free windows of chunkSize;
// the last window is truncated at endUTC. An empty or inverted range yields
// an empty plan.
func Plan(startUTC, endUTC time.Time, chunkSize time.Duration) ([]Window, error) {
	if chunkSize <= 0 {
		return nil, errors.Newf("chunk size must be positive, got %s", chunkSize).
			Component("timewindow").
			Category(errors.CategoryValidation).
			Build()
	}
	if !endUTC.After(startUTC) {
		return nil, nil
	}

	windows := make([]Window, 0, int(endUTC.Sub(startUTC)/chunkSize)+1)
	for cur := startUTC; cur.Before(endUTC); cur = cur.Add(chunkSize) {
		end := cur.Add(chunkSize)
		if end.After(endUTC) {
			end = endUTC
		}
		windows = append(windows, Window{Start: cur, End: end})
	}
	return windows, nil
}
