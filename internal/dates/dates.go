// Package dates holds the refined date types used for event boundaries: a
// calendar date (midnight in its own zone) and a quarter-hour instant.
package dates

import (
	"errors"
	"fmt"
	"time"

	"attendcal/internal/tzdate"
)

// ErrValidation is returned when an instant violates a refined-type constraint.
var ErrValidation = errors.New("dates: validation failed")

const (
	calendarDateRule = "time part must be 00:00:00.000"
	quarterHourRule  = "minutes must be 0, 15, 30, or 45, and seconds/milliseconds must be 0"
)

// YMD is an instant whose wall-clock decomposition is exactly midnight.
// Obtain one through AsCalendarDate or ParseYMD.
type YMD struct {
	in tzdate.Instant
}

// YMDHM15 is an instant aligned to the 15-minute wall-clock grid.
// Obtain one through AsQuarterHourInstant or ParseYMDHM15.
type YMDHM15 struct {
	in tzdate.Instant
}

func (d YMD) Instant() tzdate.Instant     { return d.in }
func (d YMDHM15) Instant() tzdate.Instant { return d.in }

func (d YMD) String() string     { return d.in.String() }
func (d YMDHM15) String() string { return d.in.String() }

// AsCalendarDate returns in unchanged, typed as YMD, if it is midnight in its
// own zone.
func AsCalendarDate(in tzdate.Instant) (YMD, error) {
	if err := checkCalendarDate(in); err != nil {
		return YMD{}, err
	}
	return YMD{in: in}, nil
}

// AsQuarterHourInstant returns in unchanged, typed as YMDHM15, if it sits on
// the quarter-hour grid.
func AsQuarterHourInstant(in tzdate.Instant) (YMDHM15, error) {
	if err := checkQuarterHour(in); err != nil {
		return YMDHM15{}, err
	}
	return YMDHM15{in: in}, nil
}

// ParseYMD parses an ISO-8601 string in UTC, reprojects it into tz when tz is
// non-empty and validates the result as a calendar date.
func ParseYMD(iso, tz string) (YMD, error) {
	in, err := parseInto(iso, tz)
	if err != nil {
		return YMD{}, err
	}
	return AsCalendarDate(in)
}

// ParseYMDHM15 is ParseYMD for quarter-hour instants.
func ParseYMDHM15(iso, tz string) (YMDHM15, error) {
	in, err := parseInto(iso, tz)
	if err != nil {
		return YMDHM15{}, err
	}
	return AsQuarterHourInstant(in)
}

func parseInto(iso, tz string) (tzdate.Instant, error) {
	in, err := tzdate.Parse(iso, tzdate.UTC)
	if err != nil {
		return tzdate.Instant{}, err
	}
	if tz == "" {
		return in, nil
	}
	return in.WithTimeZone(tz)
}

// DeltaDays returns after-before in whole calendar days. Both arguments are
// re-validated as calendar dates. after is read in before's zone so that a
// DST transition between them does not produce a fractional day.
func DeltaDays(before, after tzdate.Instant) (int, error) {
	if err := checkCalendarDate(before); err != nil {
		return 0, fmt.Errorf("before: %w", err)
	}
	if err := checkCalendarDate(after); err != nil {
		return 0, fmt.Errorf("after: %w", err)
	}
	a := after
	if after.TimeZone() != before.TimeZone() {
		a = after.In(before.Location())
	}
	return civilDays(a) - civilDays(before), nil
}

// DeltaMinutes returns after-before in whole minutes. Both arguments are
// re-validated as quarter-hour instants.
func DeltaMinutes(before, after tzdate.Instant) (int, error) {
	if err := checkQuarterHour(before); err != nil {
		return 0, fmt.Errorf("before: %w", err)
	}
	if err := checkQuarterHour(after); err != nil {
		return 0, fmt.Errorf("after: %w", err)
	}
	return int((after.UnixMilli() - before.UnixMilli()) / 60_000), nil
}

// civilDays numbers wall-clock dates so that consecutive dates differ by one.
func civilDays(in tzdate.Instant) int {
	utc := time.Date(in.Year(), time.Month(in.Month()), in.Day(), 0, 0, 0, 0, time.UTC)
	return int(utc.Unix() / 86400)
}

func checkCalendarDate(in tzdate.Instant) error {
	if in.Hour() != 0 || in.Minute() != 0 || in.Second() != 0 || in.Millisecond() != 0 {
		return fmt.Errorf("%w: %s: date must only contain YYYY-MM-DD (%s)", ErrValidation, in, calendarDateRule)
	}
	return nil
}

func checkQuarterHour(in tzdate.Instant) error {
	if in.Minute()%15 != 0 || in.Second() != 0 || in.Millisecond() != 0 {
		return fmt.Errorf("%w: %s: %s", ErrValidation, in, quarterHourRule)
	}
	return nil
}
