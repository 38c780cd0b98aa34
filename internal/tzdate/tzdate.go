// Package tzdate provides Instant, an absolute point in time bound to an IANA
// timezone that is used only to decompose it into wall-clock fields.
package tzdate

import (
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"
	_ "time/tzdata" // zone lookups must not depend on the host's zoneinfo
)

// UTC is the zone used whenever a caller does not name one.
const UTC = "UTC"

// ErrFormat is returned for malformed ISO-8601 input, unknown timezones and
// out-of-range calendar components.
var ErrFormat = errors.New("tzdate: invalid format")

// isoPattern accepts YYYY-MM-DD, YYYY-MM-DDTHH:mm:ss and
// YYYY-MM-DDTHH:mm:ss.sss. Zone suffixes are rejected: the zone is always
// supplied separately.
var isoPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}(T\d{2}:\d{2}:\d{2}(\.\d{3})?)?$`)

const isoGrammar = "YYYY-MM-DD, YYYY-MM-DDTHH:mm:ss or YYYY-MM-DDTHH:mm:ss.sss (no zone suffix)"

var locations sync.Map // zone name -> *time.Location

// LoadLocation resolves an IANA zone name, caching successful lookups.
// An empty name resolves to UTC.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" || name == UTC {
		return time.UTC, nil
	}
	if v, ok := locations.Load(name); ok {
		return v.(*time.Location), nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown timezone %q", ErrFormat, name)
	}
	locations.Store(name, loc)
	return loc, nil
}

// Instant is immutable. Two instants are equal when their millisecond
// timestamps are equal; the zone only affects decomposition.
type Instant struct {
	t  time.Time
	tz string
}

// Now returns the current instant in UTC. clock may be nil, in which case the
// system clock is sampled.
func Now(clock func() time.Time) Instant {
	if clock == nil {
		clock = time.Now
	}
	return Instant{t: clock().UTC().Truncate(time.Millisecond), tz: UTC}
}

// Parse reads a strict ISO-8601 wall-clock string and interprets it in tz.
func Parse(iso, tz string) (Instant, error) {
	if !isoPattern.MatchString(iso) {
		return Instant{}, fmt.Errorf("%w: %q must be %s", ErrFormat, iso, isoGrammar)
	}
	loc, err := LoadLocation(tz)
	if err != nil {
		return Instant{}, err
	}

	layout := "2006-01-02"
	switch len(iso) {
	case len("2006-01-02T15:04:05"):
		layout = "2006-01-02T15:04:05"
	case len("2006-01-02T15:04:05.000"):
		layout = "2006-01-02T15:04:05.000"
	}
	t, err := time.ParseInLocation(layout, iso, loc)
	if err != nil {
		return Instant{}, fmt.Errorf("%w: %q must be %s", ErrFormat, iso, isoGrammar)
	}
	return Instant{t: t, tz: zoneName(tz)}, nil
}

// MustParse is Parse for fixtures and constants; it panics on error.
func MustParse(iso, tz string) Instant {
	in, err := Parse(iso, tz)
	if err != nil {
		panic(err)
	}
	return in
}

// FromUnixMilli builds an instant from a UTC millisecond timestamp.
func FromUnixMilli(ms int64, tz string) (Instant, error) {
	loc, err := LoadLocation(tz)
	if err != nil {
		return Instant{}, err
	}
	return Instant{t: time.UnixMilli(ms).In(loc), tz: zoneName(tz)}, nil
}

// FromTime keeps the absolute instant of t and decomposes it in tz.
func FromTime(t time.Time, tz string) (Instant, error) {
	loc, err := LoadLocation(tz)
	if err != nil {
		return Instant{}, err
	}
	return Instant{t: t.In(loc).Truncate(time.Millisecond), tz: zoneName(tz)}, nil
}

// Date builds an instant from wall-clock components in tz. month is 1-based.
// Components outside their calendar range are rejected, not normalized.
func Date(year, month, day, hour, minute, sec, msec int, tz string) (Instant, error) {
	if month < 1 || month > 12 ||
		day < 1 || day > daysIn(year, time.Month(month)) ||
		hour < 0 || hour > 23 ||
		minute < 0 || minute > 59 ||
		sec < 0 || sec > 59 ||
		msec < 0 || msec > 999 {
		return Instant{}, fmt.Errorf("%w: component out of range %04d-%02d-%02dT%02d:%02d:%02d.%03d",
			ErrFormat, year, month, day, hour, minute, sec, msec)
	}
	loc, err := LoadLocation(tz)
	if err != nil {
		return Instant{}, err
	}
	t := time.Date(year, time.Month(month), day, hour, minute, sec, msec*int(time.Millisecond), loc)
	return Instant{t: t, tz: zoneName(tz)}, nil
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func zoneName(tz string) string {
	if tz == "" {
		return UTC
	}
	return tz
}

// IsZero reports whether the instant was never constructed.
func (i Instant) IsZero() bool { return i.t.IsZero() && i.tz == "" }

// WithTimeZone returns the same absolute instant decomposed in tz.
func (i Instant) WithTimeZone(tz string) (Instant, error) {
	return FromTime(i.t, tz)
}

// In is WithTimeZone for an already-resolved location.
func (i Instant) In(loc *time.Location) Instant {
	return Instant{t: i.t.In(loc), tz: loc.String()}
}

// AddDays moves the wall-clock date by n days, keeping the time of day and
// the zone. Across a DST transition the elapsed time is not 24h*n.
func (i Instant) AddDays(n int) Instant {
	return Instant{t: i.t.AddDate(0, 0, n), tz: i.tz}
}

// Add shifts the absolute instant by d.
func (i Instant) Add(d time.Duration) Instant {
	return Instant{t: i.t.Add(d).Truncate(time.Millisecond), tz: i.tz}
}

func (i Instant) StartOfDay() Instant {
	y, m, d := i.t.Date()
	return Instant{t: time.Date(y, m, d, 0, 0, 0, 0, i.t.Location()), tz: i.tz}
}

func (i Instant) EndOfDay() Instant {
	y, m, d := i.t.Date()
	return Instant{t: time.Date(y, m, d, 23, 59, 59, 999*int(time.Millisecond), i.t.Location()), tz: i.tz}
}

func (i Instant) Year() int { return i.t.Year() }
func (i Instant) Month() int { return int(i.t.Month()) }
func (i Instant) Day() int { return i.t.Day() }
func (i Instant) Hour() int { return i.t.Hour() }
func (i Instant) Minute() int { return i.t.Minute() }
func (i Instant) Second() int { return i.t.Second() }
func (i Instant) Millisecond() int { return i.t.Nanosecond() / int(time.Millisecond) }
func (i Instant) Weekday() time.Weekday { return i.t.Weekday() }

func (i Instant) UnixMilli() int64 { return i.t.UnixMilli() }

// Time returns the instant as a time.Time in the instant's zone.
func (i Instant) Time() time.Time { return i.t }

func (i Instant) Location() *time.Location { return i.t.Location() }

func (i Instant) TimeZone() string { return i.tz }

func (i Instant) Equal(o Instant) bool { return i.t.Equal(o.t) }
func (i Instant) Before(o Instant) bool { return i.t.Before(o.t) }
func (i Instant) After(o Instant) bool { return i.t.After(o.t) }

// Compare returns -1, 0 or +1.
func (i Instant) Compare(o Instant) int { return i.t.Compare(o.t) }

// Sub returns i-o.
func (i Instant) Sub(o Instant) time.Duration { return i.t.Sub(o.t) }

// ISO formats the wall-clock fields without a zone suffix, the same grammar
// Parse accepts.
func (i Instant) ISO() string {
	return i.t.Format("2006-01-02T15:04:05.000")
}

// ISODate formats only the wall-clock date.
func (i Instant) ISODate() string {
	return i.t.Format("2006-01-02")
}

// String is RFC 3339 with milliseconds and the zone offset.
func (i Instant) String() string {
	return i.t.Format("2006-01-02T15:04:05.000Z07:00")
}

func (i Instant) MarshalJSON() ([]byte, error) {
	return []byte(`"` + i.String() + `"`), nil
}
