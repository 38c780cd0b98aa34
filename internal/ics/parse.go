// Package ics converts between iCalendar feeds and model.Event. Recurrence
// properties travel as the same recurrence_list lines the backend uses.
package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "attendcal/internal/log"
	"attendcal/internal/model"
	"attendcal/internal/recurrence"
	"attendcal/internal/tzdate"
)

// Source is an ICS subscription as configured.
type Source struct {
	ID  string
	URL string
	// TimeZone resolves floating DTSTART/DTEND values. Empty means UTC.
	TimeZone string
}

// recurrenceProps are carried into recurrence_list, in this order.
var recurrenceProps = []ical.ComponentProperty{
	ical.ComponentPropertyRrule,
	ical.ComponentProperty("EXRULE"),
	ical.ComponentProperty("RDATE"),
	ical.ComponentPropertyExdate,
}

type override struct {
	uid string
	rid tzdate.Instant
	ev  model.Event
}

// ParseICS parses one ICS payload. VEVENTs that cannot be converted are
// logged and skipped. A VEVENT with RECURRENCE-ID replaces that instance of
// its series: the instance is excluded from the series and the override is
// returned as a one-off event.
func ParseICS(src Source, body []byte) ([]model.Event, error) {
	if len(body) == 0 {
		return nil, errors.New("ics: empty body")
	}
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ics: parse %s: %w", src.ID, err)
	}

	events := make([]model.Event, 0)
	byUID := make(map[string]int)
	var overrides []override

	for _, ve := range cal.Events() {
		ev, rid, err := parseVEvent(src, ve)
		if err != nil {
			appLog.Warn("ics vevent skipped", "id", src.ID, "err", err)
			continue
		}
		if rid != nil {
			overrides = append(overrides, override{uid: ev.ID, rid: *rid, ev: ev})
			continue
		}
		byUID[ev.ID] = len(events)
		events = append(events, ev)
	}

	for _, o := range overrides {
		if i, ok := byUID[o.uid]; ok && events[i].IsRecurring() {
			lines, err := recurrence.AddExclusionDate(events[i].Recurrence, o.rid)
			if err != nil {
				appLog.Warn("ics override not applied", "id", src.ID, "uid", o.uid, "err", err)
				continue
			}
			events[i].Recurrence = lines
		}
		o.ev.ID = o.uid + "@" + o.rid.Time().UTC().Format(time.RFC3339)
		o.ev.Recurrence = nil
		events = append(events, o.ev)
	}

	appLog.Info("ics parse completed", "id", src.ID, "event_count", len(events))
	return events, nil
}

// parseVEvent returns the event and, for an override, its RECURRENCE-ID.
func parseVEvent(src Source, ve *ical.VEvent) (model.Event, *tzdate.Instant, error) {
	ev := model.Event{SourceID: src.ID}

	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || uid.Value == "" {
		return ev, nil, errors.New("missing UID")
	}
	ev.ID = uid.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		ev.Summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		ev.Description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		ev.Location = p.Value
	}

	dtstart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtstart == nil {
		return ev, nil, fmt.Errorf("%s: missing DTSTART", ev.ID)
	}
	start, tz, allDay, err := parseTime(dtstart, src.TimeZone)
	if err != nil {
		return ev, nil, fmt.Errorf("%s: DTSTART: %w", ev.ID, err)
	}
	ev.Start, ev.Timezone, ev.AllDay = start, tz, allDay

	switch dtend := ve.GetProperty(ical.ComponentPropertyDtEnd); {
	case dtend != nil:
		end, _, _, err := parseTime(dtend, src.TimeZone)
		if err != nil {
			return ev, nil, fmt.Errorf("%s: DTEND: %w", ev.ID, err)
		}
		if ev.End, err = end.WithTimeZone(tz); err != nil {
			return ev, nil, err
		}
	case allDay:
		ev.End = start.AddDays(1)
	default:
		ev.End = start
	}

	if rp := ve.GetProperty(ical.ComponentProperty("RECURRENCE-ID")); rp != nil {
		rid, _, _, err := parseTime(rp, tz)
		if err != nil {
			return ev, nil, fmt.Errorf("%s: RECURRENCE-ID: %w", ev.ID, err)
		}
		return ev, &rid, nil
	}

	var lines []string
	for _, name := range recurrenceProps {
		for _, p := range ve.GetProperties(name) {
			lines = append(lines, contentLine(string(name), p))
		}
	}
	if len(lines) > 0 {
		lines = append([]string{contentLine("DTSTART", dtstart)}, lines...)
		set, err := recurrence.Parse(lines, tz)
		if err != nil {
			return ev, nil, fmt.Errorf("%s: %w", ev.ID, err)
		}
		ev.Recurrence = set.Lines()
	}
	return ev, nil, nil
}

// parseTime reads a DATE or DATE-TIME property. It returns the instant, the
// zone it belongs to and whether it is a DATE value.
func parseTime(p *ical.IANAProperty, defaultTZ string) (tzdate.Instant, string, bool, error) {
	v := strings.TrimSpace(p.Value)
	tz := defaultTZ
	if tzids, ok := p.ICalParameters["TZID"]; ok && len(tzids) > 0 {
		tz = tzids[0]
	}
	if tz == "" {
		tz = tzdate.UTC
	}
	loc, err := tzdate.LoadLocation(tz)
	if err != nil {
		return tzdate.Instant{}, "", false, err
	}

	dateOnly := !strings.Contains(v, "T")
	if vals, ok := p.ICalParameters["VALUE"]; ok && len(vals) > 0 && strings.EqualFold(vals[0], "DATE") {
		dateOnly = true
	}

	var t time.Time
	switch {
	case dateOnly:
		t, err = time.ParseInLocation("20060102", v, loc)
	case strings.HasSuffix(v, "Z"):
		t, err = time.Parse("20060102T150405Z", v)
		if _, hasTZID := p.ICalParameters["TZID"]; !hasTZID {
			tz = tzdate.UTC
		}
	default:
		t, err = time.ParseInLocation("20060102T150405", v, loc)
	}
	if err != nil {
		return tzdate.Instant{}, "", false, fmt.Errorf("%w: %q", tzdate.ErrFormat, v)
	}
	in, err := tzdate.FromTime(t, tz)
	return in, tz, dateOnly, err
}

// contentLine renders an ICS property back into a recurrence line, keeping
// only the parameters the recurrence grammar knows.
func contentLine(name string, p *ical.IANAProperty) string {
	var b strings.Builder
	b.WriteString(name)
	for _, key := range []string{"VALUE", "TZID"} {
		if vals, ok := p.ICalParameters[key]; ok && len(vals) > 0 {
			if name == "RRULE" || name == "EXRULE" {
				continue
			}
			b.WriteString(";" + key + "=" + vals[0])
		}
	}
	b.WriteByte(':')
	b.WriteString(p.Value)
	return b.String()
}
