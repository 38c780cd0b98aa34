// Package recurrence parses, expands, edits and serializes RFC 5545
// recurrence line sets (RRULE, EXRULE, RDATE, EXDATE, DTSTART), the
// recurrence_list exchanged with the events backend.
package recurrence

import (
	"errors"
	"fmt"
	"strings"

	"github.com/teambition/rrule-go"

	"attendcal/internal/tzdate"
)

var (
	// ErrGrammar is returned for lines that are not valid RFC 5545
	// recurrence content: unknown properties, bad FREQ/BYDAY, bad values.
	ErrGrammar = errors.New("recurrence: invalid grammar")
	// ErrNoAnchor is returned when rules must be expanded but neither
	// DTSTART nor a caller anchor is known.
	ErrNoAnchor = errors.New("recurrence: no DTSTART or anchor to expand from")
	// ErrWindow is returned for an expansion window that ends before it starts.
	ErrWindow = errors.New("recurrence: window end is before window start")
)

// Rule is one RRULE or EXRULE. The value is kept as written.
type Rule struct {
	raw string
	opt rrule.ROption
}

func (r Rule) Frequency() rrule.Frequency { return r.opt.Freq }

// Interval defaults to 1 when the rule does not name one.
func (r Rule) Interval() int {
	if r.opt.Interval <= 0 {
		return 1
	}
	return r.opt.Interval
}

func (r Rule) Count() int { return r.opt.Count }

// String returns the rule value without the property name.
func (r Rule) String() string { return r.raw }

// Options returns a copy of the parsed rrule options.
func (r Rule) Options() rrule.ROption { return r.opt }

// RuleSet is the structured form of a recurrence line set. It is never
// mutated after Parse; every edit produces a new RuleSet.
type RuleSet struct {
	defaultTZ string

	dtstart *dateValue
	anchor  *tzdate.Instant

	rrules  []Rule
	exrules []Rule
	rdates  []dateValue
	exdates []dateValue

	nextGroup int
}

// Parse builds a RuleSet from recurrence lines. It returns (nil, nil) for an
// empty input. Floating and date values without TZID resolve in
// defaultTimeZone (UTC when empty). Any invalid line fails the whole parse.
func Parse(lines []string, defaultTimeZone string) (*RuleSet, error) {
	unfolded := unfold(lines)
	if len(unfolded) == 0 {
		return nil, nil
	}
	if _, err := tzdate.LoadLocation(defaultTimeZone); err != nil {
		return nil, err
	}

	s := &RuleSet{defaultTZ: defaultTimeZone}
	if s.defaultTZ == "" {
		s.defaultTZ = tzdate.UTC
	}

	parsed := make([]contentLine, 0, len(unfolded))
	for _, l := range unfolded {
		c, err := parseContentLine(l)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, c)
	}

	// DTSTART first: floating UNTIL values are read in its zone.
	for _, c := range parsed {
		if c.name != "DTSTART" {
			continue
		}
		if s.dtstart != nil {
			return nil, fmt.Errorf("%w: more than one DTSTART", ErrGrammar)
		}
		if strings.Contains(c.value, ",") {
			return nil, fmt.Errorf("%w: DTSTART takes a single value", ErrGrammar)
		}
		params, err := valueParams(c)
		if err != nil {
			return nil, err
		}
		v, err := parseDateValue(c.value, params, s.defaultTZ)
		if err != nil {
			return nil, fmt.Errorf("DTSTART: %w", err)
		}
		s.dtstart = &v
	}

	for _, c := range parsed {
		switch c.name {
		case "DTSTART":
		case "RRULE", "EXRULE":
			r, err := s.parseRule(c)
			if err != nil {
				return nil, err
			}
			if c.name == "RRULE" {
				s.rrules = append(s.rrules, r)
			} else {
				s.exrules = append(s.exrules, r)
			}
		case "RDATE", "EXDATE":
			vals, err := s.parseDates(c)
			if err != nil {
				return nil, err
			}
			if c.name == "RDATE" {
				s.rdates = append(s.rdates, vals...)
			} else {
				s.exdates = append(s.exdates, vals...)
			}
		default:
			return nil, fmt.Errorf("%w: unknown property %q", ErrGrammar, c.name)
		}
	}

	return s, nil
}

func (s *RuleSet) parseRule(c contentLine) (Rule, error) {
	for _, p := range c.params {
		if !strings.HasPrefix(p.key, "X-") {
			return Rule{}, fmt.Errorf("%w: %s: unsupported parameter %s", ErrGrammar, c.name, p.key)
		}
	}

	var hasFreq, hasCount, hasUntil bool
	for _, part := range strings.Split(c.value, ";") {
		key, _, _ := strings.Cut(part, "=")
		switch strings.ToUpper(strings.TrimSpace(key)) {
		case "FREQ":
			hasFreq = true
		case "COUNT":
			hasCount = true
		case "UNTIL":
			hasUntil = true
		}
	}
	if !hasFreq {
		return Rule{}, fmt.Errorf("%w: %s %q: FREQ is required", ErrGrammar, c.name, c.value)
	}
	if hasCount && hasUntil {
		return Rule{}, fmt.Errorf("%w: %s %q: COUNT and UNTIL are mutually exclusive", ErrGrammar, c.name, c.value)
	}

	loc, err := tzdate.LoadLocation(s.zone())
	if err != nil {
		return Rule{}, err
	}
	opt, err := rrule.StrToROptionInLocation(c.value, loc)
	if err != nil {
		return Rule{}, fmt.Errorf("%w: %s %q: %v", ErrGrammar, c.name, c.value, err)
	}
	if opt.Interval < 0 || opt.Count < 0 {
		return Rule{}, fmt.Errorf("%w: %s %q: negative INTERVAL or COUNT", ErrGrammar, c.name, c.value)
	}
	return Rule{raw: c.value, opt: *opt}, nil
}

func (s *RuleSet) parseDates(c contentLine) ([]dateValue, error) {
	params, err := valueParams(c)
	if err != nil {
		return nil, err
	}
	group := s.nextGroup
	s.nextGroup++

	var out []dateValue
	for _, raw := range strings.Split(c.value, ",") {
		if strings.TrimSpace(raw) == "" {
			return nil, fmt.Errorf("%w: %s: empty value in list %q", ErrGrammar, c.name, c.value)
		}
		v, err := parseDateValue(raw, params, s.defaultTZ)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", c.name, err)
		}
		v.group = group
		out = append(out, v)
	}
	return out, nil
}

// zone is the zone rules are expanded in: DTSTART's, else the default.
func (s *RuleSet) zone() string {
	if s.dtstart != nil {
		return s.dtstart.at.TimeZone()
	}
	return s.defaultTZ
}

// DefaultTimeZone is the zone floating values were resolved in.
func (s *RuleSet) DefaultTimeZone() string { return s.defaultTZ }

// DTStart returns the DTSTART value, if the lines carried one.
func (s *RuleSet) DTStart() (tzdate.Instant, bool) {
	if s.dtstart == nil {
		return tzdate.Instant{}, false
	}
	return s.dtstart.at, true
}

// TZID returns DTSTART's TZID parameter, or "".
func (s *RuleSet) TZID() string {
	if s.dtstart == nil {
		return ""
	}
	return s.dtstart.tzid()
}

// DateBased reports whether DTSTART is a DATE value (all-day recurrence).
func (s *RuleSet) DateBased() bool {
	return s.dtstart != nil && s.dtstart.kind == kindDate
}

func (s *RuleSet) RRules() []Rule  { return append([]Rule(nil), s.rrules...) }
func (s *RuleSet) ExRules() []Rule { return append([]Rule(nil), s.exrules...) }

// RDates returns the inclusion dates in the order they were written.
func (s *RuleSet) RDates() []tzdate.Instant { return instants(s.rdates) }

// ExDates returns the exclusion dates in the order they were written.
func (s *RuleSet) ExDates() []tzdate.Instant { return instants(s.exdates) }

func (s *RuleSet) HasRRule() bool { return s != nil && len(s.rrules) > 0 }

func instants(vals []dateValue) []tzdate.Instant {
	out := make([]tzdate.Instant, 0, len(vals))
	for _, v := range vals {
		out = append(out, v.at)
	}
	return out
}

// WithAnchor returns a copy that expands from anchor when the lines carry no
// DTSTART. The anchor is read in the set's default zone. A DTSTART line
// always wins. A nil set stays nil.
func (s *RuleSet) WithAnchor(anchor tzdate.Instant) *RuleSet {
	if s == nil {
		return nil
	}
	c := s.clone()
	if c.dtstart != nil {
		return c
	}
	a := anchor
	if loc, err := tzdate.LoadLocation(c.defaultTZ); err == nil {
		a = anchor.In(loc)
		a, _ = a.WithTimeZone(c.defaultTZ)
	}
	c.anchor = &a
	return c
}

func (s *RuleSet) clone() *RuleSet {
	c := *s
	if s.dtstart != nil {
		d := *s.dtstart
		c.dtstart = &d
	}
	if s.anchor != nil {
		a := *s.anchor
		c.anchor = &a
	}
	c.rrules = append([]Rule(nil), s.rrules...)
	c.exrules = append([]Rule(nil), s.exrules...)
	c.rdates = append([]dateValue(nil), s.rdates...)
	c.exdates = append([]dateValue(nil), s.exdates...)
	return &c
}

// Property is one serialized recurrence line, split for callers that emit
// their own content lines (the ICS exporter).
type Property struct {
	Name   string
	Params []Param
	Value  string
}

type Param struct {
	Key   string
	Value string
}

func (p Property) String() string {
	var b strings.Builder
	b.WriteString(p.Name)
	for _, pa := range p.Params {
		b.WriteString(renderParams([]param{{key: pa.Key, value: pa.Value}}))
	}
	b.WriteByte(':')
	b.WriteString(p.Value)
	return b.String()
}

// Properties returns the set in serialization order: DTSTART, RRULEs,
// EXRULEs, RDATEs, EXDATEs. Values that shared a line keep sharing it.
func (s *RuleSet) Properties() []Property {
	if s == nil {
		return []Property{}
	}
	out := make([]Property, 0, 1+len(s.rrules)+len(s.exrules)+len(s.rdates)+len(s.exdates))
	if s.dtstart != nil {
		out = append(out, Property{Name: "DTSTART", Params: exportParams(s.dtstart.params), Value: s.dtstart.raw})
	}
	for _, r := range s.rrules {
		out = append(out, Property{Name: "RRULE", Value: r.raw})
	}
	for _, r := range s.exrules {
		out = append(out, Property{Name: "EXRULE", Value: r.raw})
	}
	out = append(out, dateProperties("RDATE", s.rdates)...)
	out = append(out, dateProperties("EXDATE", s.exdates)...)
	return out
}

// Lines serializes the set back to recurrence lines.
func (s *RuleSet) Lines() []string {
	props := s.Properties()
	out := make([]string, 0, len(props))
	for _, p := range props {
		out = append(out, p.String())
	}
	return out
}

func dateProperties(name string, vals []dateValue) []Property {
	var out []Property
	for i := 0; i < len(vals); {
		j := i + 1
		raws := []string{vals[i].raw}
		for j < len(vals) && vals[j].group == vals[i].group {
			raws = append(raws, vals[j].raw)
			j++
		}
		out = append(out, Property{Name: name, Params: exportParams(vals[i].params), Value: strings.Join(raws, ",")})
		i = j
	}
	return out
}

func exportParams(params []param) []Param {
	if len(params) == 0 {
		return nil
	}
	out := make([]Param, 0, len(params))
	for _, p := range params {
		out = append(out, Param{Key: p.key, Value: p.value})
	}
	return out
}

// HasRecurrenceRule reports whether lines parse to a set with at least one
// RRULE. A set of only RDATE/EXDATE/DTSTART has none.
func HasRecurrenceRule(lines []string) (bool, error) {
	s, err := Parse(lines, "")
	if err != nil {
		return false, err
	}
	return s != nil && s.HasRRule(), nil
}
