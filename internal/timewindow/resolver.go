// Package timewindow resolves user-local calendar days to UTC ranges and
// splits ranges into fetch windows.
package timewindow

import (
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/tphakala/pendant-go/internal/errors"
)

// ErrInvalidTimezone is returned for empty or unknown IANA zone names.
var ErrInvalidTimezone = errors.NewStd("invalid timezone")

const dateLayout = "2006-01-02"

// Date is a civil calendar date without a zone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// ParseDate parses a YYYY-MM-DD date.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, errors.New(err).
			Component("timewindow").
			Category(errors.CategoryValidation).
			Context("date", s).
			Build()
	}
	return DateOf(t), nil
}

// DateOf returns the date of t in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// String formats the date as YYYY-MM-DD.
func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// AddDays returns the date n days later, normalizing month and year.
func (d Date) AddDays(n int) Date {
	return DateOf(time.Date(d.Year, d.Month, d.Day+n, 12, 0, 0, 0, time.UTC))
}

// Before reports whether d is earlier than other.
func (d Date) Before(other Date) bool {
	if d.Year != other.Year {
		return d.Year < other.Year
	}
	if d.Month != other.Month {
		return d.Month < other.Month
	}
	return d.Day < other.Day
}

// Resolver converts user-local days to UTC ranges. Loaded locations are
// cached. Safe for concurrent use.
type Resolver struct {
	now       func() time.Time
	locations *cache.Cache
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// NewResolver creates a Resolver using the system clock by default.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		now:       time.Now,
		locations: cache.New(cache.NoExpiration, 0),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Location loads the IANA zone tz. It never falls back to UTC.
func (r *Resolver) Location(tz string) (*time.Location, error) {
	if cached, found := r.locations.Get(tz); found {
		if loc, ok := cached.(*time.Location); ok {
			return loc, nil
		}
	}

	// time.LoadLocation maps "" to UTC and accepts "Local"; neither is a user zone.
	if strings.TrimSpace(tz) == "" || tz == "Local" {
		return nil, invalidTimezone(tz, nil)
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, invalidTimezone(tz, err)
	}

	r.locations.Set(tz, loc, cache.NoExpiration)
	return loc, nil
}

func invalidTimezone(tz string, cause error) error {
	err := ErrInvalidTimezone
	if cause != nil {
		err = fmt.Errorf("%w: %w", ErrInvalidTimezone, cause)
	}
	return errors.New(err).
		Component("timewindow").
		Category(errors.CategoryConfiguration).
		Context("timezone", tz).
		Build()
}

// ResolveDay returns [local midnight of date, next local midnight) in UTC.
// The range is 23h or 25h long on DST transition days.
func (r *Resolver) ResolveDay(tz string, date Date) (startUTC, endUTC time.Time, err error) {
	loc, err := r.Location(tz)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start := time.Date(date.Year, date.Month, date.Day, 0, 0, 0, 0, loc)
	end := time.Date(date.Year, date.Month, date.Day+1, 0, 0, 0, 0, loc)
	return start.UTC(), end.UTC(), nil
}

// ResolveToNow returns [local midnight today, now) in UTC.
func (r *Resolver) ResolveToNow(tz string) (startUTC, nowUTC time.Time, err error) {
	today, err := r.Today(tz)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start, _, err := r.ResolveDay(tz, today)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, r.now().UTC(), nil
}

// Today returns the current calendar date in tz.
func (r *Resolver) Today(tz string) (Date, error) {
	loc, err := r.Location(tz)
	if err != nil {
		return Date{}, err
	}
	return DateOf(r.now().In(loc)), nil
}

// PreviousDay returns the calendar date before today in tz.
func (r *Resolver) PreviousDay(tz string) (Date, error) {
	today, err := r.Today(tz)
	if err != nil {
		return Date{}, err
	}
	return today.AddDays(-1), nil
}

// Now returns the resolver clock in UTC.
func (r *Resolver) Now() time.Time {
	return r.now().UTC()
}
