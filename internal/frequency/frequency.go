// Package frequency maps recurrence line sets onto the fixed preset ladder
// offered by the event editor and builds the RRULE for a chosen preset.
package frequency

import (
	"fmt"
	"strings"

	"github.com/teambition/rrule-go"

	"attendcal/internal/recurrence"
	"attendcal/internal/tzdate"
)

type Preset string

const (
	None     Preset = "none"
	Daily    Preset = "daily"
	Weekly   Preset = "weekly"
	Biweekly Preset = "biweekly"
	Monthly  Preset = "monthly"
	Yearly   Preset = "yearly"
	// Custom is reported for any rule set the ladder does not describe.
	Custom Preset = "custom"
)

// Ladder is the evaluation order. The first match wins.
var Ladder = []Preset{None, Daily, Weekly, Biweekly, Monthly, Yearly}

var labels = map[Preset]string{
	None:     "Does not repeat",
	Daily:    "Every day",
	Weekly:   "Every week",
	Biweekly: "Every 2 weeks",
	Monthly:  "Every month",
	Yearly:   "Every year",
	Custom:   "Custom",
}

type shape struct {
	freq     rrule.Frequency
	interval int
}

var shapes = map[Preset]shape{
	Daily:    {rrule.DAILY, 1},
	Weekly:   {rrule.WEEKLY, 1},
	Biweekly: {rrule.WEEKLY, 2},
	Monthly:  {rrule.MONTHLY, 1},
	Yearly:   {rrule.YEARLY, 1},
}

var weekdays = [...]string{"SU", "MO", "TU", "WE", "TH", "FR", "SA"}

func (p Preset) Label() string {
	if l, ok := labels[p]; ok {
		return l
	}
	return string(p)
}

// ParsePreset accepts the preset names used on the wire.
func ParsePreset(s string) (Preset, error) {
	p := Preset(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := labels[p]; !ok {
		return "", fmt.Errorf("frequency: unknown preset %q", s)
	}
	return p, nil
}

// RuleFor builds the RRULE line of preset p for an event starting at anchor,
// read in anchor's own zone. None yields "". Custom has no rule of its own.
func RuleFor(p Preset, anchor tzdate.Instant) (string, error) {
	clock := fmt.Sprintf("BYHOUR=%d;BYMINUTE=%d;BYSECOND=0", anchor.Hour(), anchor.Minute())
	switch p {
	case None:
		return "", nil
	case Daily:
		return "RRULE:FREQ=DAILY;" + clock, nil
	case Weekly:
		return "RRULE:FREQ=WEEKLY;BYDAY=" + weekdays[anchor.Weekday()] + ";" + clock, nil
	case Biweekly:
		return "RRULE:FREQ=WEEKLY;INTERVAL=2;BYDAY=" + weekdays[anchor.Weekday()] + ";" + clock, nil
	case Monthly:
		return fmt.Sprintf("RRULE:FREQ=MONTHLY;BYMONTHDAY=%d;%s", anchor.Day(), clock), nil
	case Yearly:
		return fmt.Sprintf("RRULE:FREQ=YEARLY;BYMONTH=%d;BYMONTHDAY=%d;%s", anchor.Month(), anchor.Day(), clock), nil
	default:
		return "", fmt.Errorf("frequency: preset %q has no rule", p)
	}
}

// Classify returns the first ladder preset with the same FREQ and INTERVAL
// as the set's only RRULE. A nil set or one without RRULE is None. Several
// RRULEs, any EXRULE, or no matching shape give Custom. anchor does not
// change the result: BY* parts that RuleFor derives from it are ignored.
func Classify(set *recurrence.RuleSet, anchor tzdate.Instant) Preset {
	return classifyShape(set)
}

// ClassifyLines parses lines in tz and classifies them.
func ClassifyLines(lines []string, tz string, anchor tzdate.Instant) (Preset, error) {
	set, err := recurrence.Parse(lines, tz)
	if err != nil {
		return "", err
	}
	return Classify(set, anchor), nil
}

// Matches reports whether lines are described by preset p. None matches only
// an empty line set; Custom matches whatever the ladder does not.
func Matches(lines []string, p Preset, tz string) (bool, error) {
	set, err := recurrence.Parse(lines, tz)
	if err != nil {
		return false, err
	}
	switch p {
	case None:
		return set == nil, nil
	case Custom:
		return set != nil && classifyShape(set) == Custom, nil
	}
	want, ok := shapes[p]
	if !ok {
		return false, fmt.Errorf("frequency: unknown preset %q", p)
	}
	if set == nil || !set.HasRRule() {
		return false, nil
	}
	r := set.RRules()[0]
	return r.Frequency() == want.freq && r.Interval() == want.interval, nil
}

func classifyShape(set *recurrence.RuleSet) Preset {
	if !set.HasRRule() {
		return None
	}
	rules := set.RRules()
	if len(rules) > 1 || len(set.ExRules()) > 0 {
		return Custom
	}
	for _, p := range Ladder[1:] {
		if s := shapes[p]; s.freq == rules[0].Frequency() && s.interval == rules[0].Interval() {
			return p
		}
	}
	return Custom
}

// Apply switches lines to preset p. DTSTART and RRULE are replaced; EXRULE,
// RDATE and EXDATE entries are kept. None clears the whole set. The new
// DTSTART is anchor's wall clock with anchor's zone as TZID, or a DATE value
// for all-day events.
func Apply(lines []string, p Preset, anchor tzdate.Instant, allDay bool) ([]string, error) {
	set, err := recurrence.Parse(lines, anchor.TimeZone())
	if err != nil {
		return nil, err
	}
	if p == None {
		return []string{}, nil
	}
	rule, err := RuleFor(p, anchor)
	if err != nil {
		return nil, err
	}

	out := []string{dtstartLine(anchor, allDay), rule}
	for _, l := range set.Lines() {
		if strings.HasPrefix(l, "DTSTART") || strings.HasPrefix(l, "RRULE") {
			continue
		}
		out = append(out, l)
	}
	if _, err := recurrence.Parse(out, anchor.TimeZone()); err != nil {
		return nil, err
	}
	return out, nil
}

func dtstartLine(anchor tzdate.Instant, allDay bool) string {
	t := anchor.Time()
	switch {
	case allDay:
		return "DTSTART;VALUE=DATE:" + t.Format("20060102")
	case anchor.TimeZone() == tzdate.UTC:
		return "DTSTART:" + t.Format("20060102T150405") + "Z"
	default:
		return "DTSTART;TZID=" + anchor.TimeZone() + ":" + t.Format("20060102T150405")
	}
}
