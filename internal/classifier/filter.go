package classifier

import (
	"cmp"
	"slices"
	"strings"

	"github.com/tphakala/pendant-go/internal/conf"
)

// Filter drops candidates below the probability threshold or outside the
// configured class lists. Class names match case-insensitively.
type Filter struct {
	threshold float64
	include   map[string]struct{}
	exclude   map[string]struct{}
}

// NewFilter builds a Filter from classifier settings.
func NewFilter(settings *conf.ClassifierSettings) *Filter {
	return &Filter{
		threshold: settings.Threshold,
		include:   nameSet(settings.Include),
		exclude:   nameSet(settings.Exclude),
	}
}

func nameSet(names []string) map[string]struct{} {
	if len(names) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[strings.ToLower(strings.TrimSpace(n))] = struct{}{}
	}
	return set
}

// Keep reports whether ev passes the filter.
func (f *Filter) Keep(ev Event) bool {
	if ev.Probability < f.threshold {
		return false
	}
	name := strings.ToLower(ev.ClassName)
	if _, excluded := f.exclude[name]; excluded {
		return false
	}
	if f.include != nil {
		_, included := f.include[name]
		return included
	}
	return true
}

// Apply returns the kept events ordered by offset, ties by probability
// descending, so the most probable candidate at an instant resolves first.
func (f *Filter) Apply(events []Event) []Event {
	kept := make([]Event, 0, len(events))
	for _, ev := range events {
		if f.Keep(ev) {
			kept = append(kept, ev)
		}
	}
	slices.SortStableFunc(kept, func(a, b Event) int {
		if c := cmp.Compare(a.OffsetSeconds, b.OffsetSeconds); c != 0 {
			return c
		}
		return cmp.Compare(b.Probability, a.Probability)
	})
	return kept
}
