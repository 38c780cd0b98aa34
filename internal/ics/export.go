package ics

import (
	"fmt"
	"time"

	ical "github.com/arran4/golang-ical"

	"attendcal/internal/model"
	"attendcal/internal/recurrence"
	"attendcal/internal/tzdate"
)

const productID = "-//attendcal//attendcal//EN"

// Export renders events as a VCALENDAR feed. Each event's recurrence_list
// travels as RRULE/EXRULE/RDATE/EXDATE properties; its DTSTART line, if
// any, is replaced by the event's own start. now stamps DTSTAMP.
func Export(events []model.Event, now time.Time) (string, error) {
	cal := ical.NewCalendar()
	cal.SetProductId(productID)
	cal.SetMethod(ical.MethodPublish)

	for _, ev := range events {
		set, err := recurrence.Parse(ev.Recurrence, ev.Timezone)
		if err != nil {
			return "", fmt.Errorf("ics: export %s: %w", ev.ID, err)
		}

		ve := cal.AddEvent(ev.ID)
		ve.SetDtStampTime(now.UTC())
		ve.SetSummary(ev.Summary)
		if ev.Location != "" {
			ve.SetLocation(ev.Location)
		}
		if ev.Description != "" {
			ve.SetDescription(ev.Description)
		}
		setTime(ve, ical.ComponentPropertyDtStart, ev.Start, ev.AllDay)
		setTime(ve, ical.ComponentPropertyDtEnd, ev.End, ev.AllDay)

		for _, p := range set.Properties() {
			if p.Name == "DTSTART" {
				continue
			}
			params := make([]ical.PropertyParameter, 0, len(p.Params))
			for _, pa := range p.Params {
				params = append(params, &ical.KeyValues{Key: pa.Key, Value: []string{pa.Value}})
			}
			ve.AddProperty(ical.ComponentProperty(p.Name), p.Value, params...)
		}
	}
	return cal.Serialize(), nil
}

func setTime(ve *ical.VEvent, prop ical.ComponentProperty, in tzdate.Instant, allDay bool) {
	t := in.Time()
	switch {
	case allDay:
		ve.SetProperty(prop, t.Format("20060102"), &ical.KeyValues{Key: "VALUE", Value: []string{"DATE"}})
	case in.TimeZone() == tzdate.UTC:
		ve.SetProperty(prop, t.UTC().Format("20060102T150405Z"))
	default:
		ve.SetProperty(prop, t.Format("20060102T150405"), &ical.KeyValues{Key: "TZID", Value: []string{in.TimeZone()}})
	}
}
