package recurrence

import (
	"fmt"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "attendcal/internal/log"
	"attendcal/internal/tzdate"
)

// DefaultMaxOccurrences caps one expansion when the caller does not pick a
// limit.
const DefaultMaxOccurrences = 5000

// maxScan bounds how many raw rule instants are visited per rule, so a
// SECONDLY rule anchored decades before the window still terminates.
const maxScan = 2_000_000

// Expansion is the result of BetweenLimit.
type Expansion struct {
	Instants []tzdate.Instant
	// Truncated is set when the limit (or the scan bound) cut the result.
	Truncated bool
}

// Between returns RRULE ∪ RDATE minus EXRULE ∪ EXDATE within [start, end],
// ascending and without duplicates. With inclusive=false the window bounds
// themselves are excluded. A truncated result is logged and returned as is.
func (s *RuleSet) Between(start, end tzdate.Instant, inclusive bool) ([]tzdate.Instant, error) {
	res, err := s.BetweenLimit(start, end, inclusive, DefaultMaxOccurrences)
	if err != nil {
		return nil, err
	}
	if res.Truncated {
		appLog.Warn("recurrence: expansion truncated",
			"limit", DefaultMaxOccurrences,
			"from", start.String(),
			"to", end.String(),
		)
	}
	return res.Instants, nil
}

// BetweenLimit is Between with an explicit cap. limit <= 0 means
// DefaultMaxOccurrences.
func (s *RuleSet) BetweenLimit(start, end tzdate.Instant, inclusive bool, limit int) (Expansion, error) {
	if s == nil {
		return Expansion{Instants: []tzdate.Instant{}}, nil
	}
	if end.Before(start) {
		return Expansion{}, fmt.Errorf("%w: %s < %s", ErrWindow, end, start)
	}
	if limit <= 0 {
		limit = DefaultMaxOccurrences
	}

	zone, anchor, err := s.expansionAnchor()
	if err != nil {
		return Expansion{}, err
	}
	loc, err := tzdate.LoadLocation(zone)
	if err != nil {
		return Expansion{}, err
	}

	w := window{start: start.Time(), end: end.Time(), inclusive: inclusive}
	var truncated bool

	included := make(map[int64]time.Time)
	for _, r := range s.rrules {
		times, cut, err := expandRule(r, anchor, w, limit)
		if err != nil {
			return Expansion{}, err
		}
		truncated = truncated || cut
		for _, t := range times {
			included[t.UnixMilli()] = t
		}
	}
	for _, v := range s.rdates {
		if t := v.at.Time(); w.contains(t) {
			included[t.UnixMilli()] = t
		}
	}

	for _, r := range s.exrules {
		// EXRULE instants only matter inside the window; no limit applies.
		times, _, err := expandRule(r, anchor, w, maxScan)
		if err != nil {
			return Expansion{}, err
		}
		for _, t := range times {
			delete(included, t.UnixMilli())
		}
	}
	for _, v := range s.exdates {
		delete(included, v.at.UnixMilli())
	}

	keys := make([]int64, 0, len(included))
	for k := range included {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	if len(keys) > limit {
		keys = keys[:limit]
		truncated = true
	}

	out := make([]tzdate.Instant, 0, len(keys))
	for _, k := range keys {
		in, err := tzdate.FromTime(included[k].In(loc), zone)
		if err != nil {
			return Expansion{}, err
		}
		out = append(out, in)
	}
	return Expansion{Instants: out, Truncated: truncated}, nil
}

// expansionAnchor picks the zone results are reported in and the time rules
// are anchored to. Rules without DTSTART or caller anchor cannot expand.
func (s *RuleSet) expansionAnchor() (string, time.Time, error) {
	switch {
	case s.dtstart != nil:
		return s.dtstart.at.TimeZone(), s.dtstart.at.Time(), nil
	case s.anchor != nil:
		return s.anchor.TimeZone(), s.anchor.Time(), nil
	case len(s.rrules) > 0 || len(s.exrules) > 0:
		return "", time.Time{}, ErrNoAnchor
	default:
		return s.defaultTZ, time.Time{}, nil
	}
}

type window struct {
	start, end time.Time
	inclusive  bool
}

func (w window) contains(t time.Time) bool {
	if w.inclusive {
		return !t.Before(w.start) && !t.After(w.end)
	}
	return t.After(w.start) && t.Before(w.end)
}

func (w window) past(t time.Time) bool {
	if w.inclusive {
		return t.After(w.end)
	}
	return !t.Before(w.end)
}

// expandRule walks one rule from anchor and collects the instants inside w.
func expandRule(r Rule, anchor time.Time, w window, limit int) ([]time.Time, bool, error) {
	opt := r.opt
	opt.Dtstart = anchor
	if opt.Interval < 1 {
		opt.Interval = 1
	}
	rule, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %q: %v", ErrGrammar, r.raw, err)
	}

	var out []time.Time
	next := rule.Iterator()
	for scanned := 0; ; scanned++ {
		if scanned >= maxScan {
			return out, true, nil
		}
		t, ok := next()
		if !ok || w.past(t) {
			return out, false, nil
		}
		if !w.contains(t) {
			continue
		}
		if len(out) == limit {
			return out, true, nil
		}
		out = append(out, t)
	}
}
