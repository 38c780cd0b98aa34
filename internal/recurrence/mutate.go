package recurrence

import (
	"sort"

	"attendcal/internal/tzdate"
)

type bucket int

const (
	inclusion bucket = iota
	exclusion
)

// AddInclusionDate returns lines with date added as an RDATE. Every other
// entry is kept. Adding an instant that is already an RDATE changes nothing.
func AddInclusionDate(lines []string, date tzdate.Instant) ([]string, error) {
	return addDate(lines, date, inclusion)
}

// AddExclusionDate is AddInclusionDate for EXDATE.
func AddExclusionDate(lines []string, date tzdate.Instant) ([]string, error) {
	return addDate(lines, date, exclusion)
}

// RemoveInclusionDate drops every RDATE value at the same absolute instant as
// date. Floating and date-only values are read in timezone. When nothing
// matches a copy of lines is returned.
func RemoveInclusionDate(lines []string, date tzdate.Instant, timezone string) ([]string, error) {
	return removeDate(lines, date, timezone, inclusion)
}

// RemoveExclusionDate is RemoveInclusionDate for EXDATE.
func RemoveExclusionDate(lines []string, date tzdate.Instant, timezone string) ([]string, error) {
	return removeDate(lines, date, timezone, exclusion)
}

// InclusionDates lists the RDATE instants of lines in timezone, ascending.
func InclusionDates(lines []string, timezone string) ([]tzdate.Instant, error) {
	return listDates(lines, timezone, inclusion)
}

// ExclusionDates lists the EXDATE instants of lines in timezone, ascending.
func ExclusionDates(lines []string, timezone string) ([]tzdate.Instant, error) {
	return listDates(lines, timezone, exclusion)
}

func (s *RuleSet) bucket(b bucket) *[]dateValue {
	if b == inclusion {
		return &s.rdates
	}
	return &s.exdates
}

func parseOrEmpty(lines []string, tz string) (*RuleSet, error) {
	s, err := Parse(lines, tz)
	if err != nil {
		return nil, err
	}
	if s == nil {
		if tz == "" {
			tz = tzdate.UTC
		}
		s = &RuleSet{defaultTZ: tz}
	}
	return s, nil
}

func addDate(lines []string, date tzdate.Instant, b bucket) ([]string, error) {
	s, err := parseOrEmpty(lines, date.TimeZone())
	if err != nil {
		return nil, err
	}
	s = s.clone()

	v, err := s.valueFor(date)
	if err != nil {
		return nil, err
	}

	vals := s.bucket(b)
	for _, existing := range *vals {
		if existing.at.Equal(v.at) {
			return s.Lines(), nil
		}
	}
	s.nextGroup++
	*vals = append(*vals, v)
	return s.Lines(), nil
}

// valueFor formats date the way addDate stores it: a whole-second UTC
// value, or a DATE value when the set is date-based. The instant is read
// back the way a later Parse will resolve it.
func (s *RuleSet) valueFor(date tzdate.Instant) (dateValue, error) {
	if !s.DateBased() {
		return newUTCValue(date, s.nextGroup), nil
	}
	d := newDateValue(date, s.nextGroup)
	at, err := resolve(d, s.defaultTZ)
	if err != nil {
		return dateValue{}, err
	}
	d.at = at
	return d, nil
}

func resolve(v dateValue, tz string) (tzdate.Instant, error) {
	parsed, err := parseDateValue(v.raw, v.params, tz)
	if err != nil {
		return tzdate.Instant{}, err
	}
	return parsed.at, nil
}

func removeDate(lines []string, date tzdate.Instant, timezone string, b bucket) ([]string, error) {
	s, err := Parse(lines, timezone)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return append([]string{}, lines...), nil
	}
	s = s.clone()

	// Match what addDate would have stored for date, as well as a
	// whole-second value written by someone else.
	target, err := s.valueFor(date)
	if err != nil {
		return nil, err
	}
	exact := newUTCValue(date, 0).at

	vals := s.bucket(b)
	kept := (*vals)[:0]
	for _, v := range *vals {
		if !v.at.Equal(target.at) && !v.at.Equal(exact) {
			kept = append(kept, v)
		}
	}
	if len(kept) == len(*vals) {
		return append([]string{}, lines...), nil
	}
	*vals = kept
	return s.Lines(), nil
}

func listDates(lines []string, timezone string, b bucket) ([]tzdate.Instant, error) {
	s, err := Parse(lines, timezone)
	if err != nil {
		return nil, err
	}
	out := []tzdate.Instant{}
	if s == nil {
		return out, nil
	}
	for _, v := range *s.bucket(b) {
		in, err := v.at.WithTimeZone(timezone)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}
