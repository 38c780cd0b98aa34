// Package occurrence projects stored event records onto concrete
// occurrences inside a window, in the viewer's display timezone.
package occurrence

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"attendcal/internal/dates"
	appLog "attendcal/internal/log"
	"attendcal/internal/model"
	"attendcal/internal/recurrence"
	"attendcal/internal/tzdate"
)

const (
	DefaultBackfillDays = 365
	DefaultHorizonDays  = 365
)

// Options controls one projection.
type Options struct {
	// DisplayTimeZone is the zone timed occurrences are reprojected into.
	// Empty means UTC.
	DisplayTimeZone string

	// From/To bound the window, inclusive. A zero bound defaults to
	// now-BackfillDays or now+HorizonDays respectively.
	From tzdate.Instant
	To   tzdate.Instant

	// Now is sampled only for a defaulted bound. Nil means time.Now.
	Now          func() time.Time
	BackfillDays int
	HorizonDays  int

	// MaxOccurrencesPerEvent caps each event. Zero means
	// recurrence.DefaultMaxOccurrences.
	MaxOccurrencesPerEvent int
}

// Window resolves the effective window of o. A zero From or To is replaced
// by its default bound, now-BackfillDays or now+HorizonDays.
func (o Options) Window() (tzdate.Instant, tzdate.Instant) {
	from, to := o.From, o.To
	if !from.IsZero() && !to.IsZero() {
		return from, to
	}
	back, ahead := o.BackfillDays, o.HorizonDays
	if back <= 0 {
		back = DefaultBackfillDays
	}
	if ahead <= 0 {
		ahead = DefaultHorizonDays
	}
	now := tzdate.Now(o.Now)
	if from.IsZero() {
		from = now.AddDays(-back)
	}
	if to.IsZero() {
		to = now.AddDays(ahead)
	}
	return from, to
}

// Skipped records an event that could not be projected.
type Skipped struct {
	EventID string
	Err     error
}

// Result is the outcome of ProjectAll.
type Result struct {
	Occurrences []model.Occurrence
	// TruncatedEvents lists event IDs that hit MaxOccurrencesPerEvent.
	TruncatedEvents []string
	Skipped         []Skipped
}

// Project expands one event. A one-off event yields exactly one occurrence.
// A recurring event yields one occurrence per expanded start inside the
// window, each keeping the base event's duration. ev is not modified.
func Project(ev model.Event, opts Options) ([]model.Occurrence, error) {
	occ, _, err := project(ev, opts)
	return occ, err
}

// ProjectAll projects every event, keeps only occurrences that overlap the
// window and sorts them by start. Events that fail validation are skipped
// and reported in the result rather than failing the whole batch.
func ProjectAll(events []model.Event, opts Options) (Result, error) {
	from, to := opts.Window()
	if to.Before(from) {
		return Result{}, fmt.Errorf("occurrence: %w", recurrence.ErrWindow)
	}
	opts.From, opts.To = from, to

	res := Result{Occurrences: make([]model.Occurrence, 0)}
	for _, ev := range events {
		occ, truncated, err := project(ev, opts)
		if err != nil {
			appLog.Warn("occurrence: skipping event", "event_id", ev.ID, "err", err)
			res.Skipped = append(res.Skipped, Skipped{EventID: ev.ID, Err: err})
			continue
		}
		if truncated {
			res.TruncatedEvents = append(res.TruncatedEvents, ev.ID)
			appLog.Error("occurrence: truncated occurrences for event due to cap",
				errors.New("max occurrences reached"),
				"event_id", ev.ID,
				"cap", opts.MaxOccurrencesPerEvent,
			)
		}
		for _, o := range occ {
			if overlaps(o.Start, o.End, from, to) {
				res.Occurrences = append(res.Occurrences, o)
			}
		}
	}

	sort.SliceStable(res.Occurrences, func(i, j int) bool {
		a, b := res.Occurrences[i], res.Occurrences[j]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		return a.ID < b.ID
	})
	return res, nil
}

func project(ev model.Event, opts Options) ([]model.Occurrence, bool, error) {
	display := opts.DisplayTimeZone
	if display == "" {
		display = tzdate.UTC
	}
	if _, err := tzdate.LoadLocation(display); err != nil {
		return nil, false, err
	}

	span, err := durationOf(ev)
	if err != nil {
		return nil, false, err
	}

	var set *recurrence.RuleSet
	if ev.IsRecurring() {
		if set, err = recurrence.Parse(ev.Recurrence, ev.Timezone); err != nil {
			return nil, false, fmt.Errorf("occurrence: event %s: %w", ev.ID, err)
		}
	}
	// Blank recurrence lines parse to no set at all.
	if set == nil {
		o, err := makeOccurrence(ev, ev.ID, ev.Start, span, display)
		if err != nil {
			return nil, false, err
		}
		return []model.Occurrence{o}, false, nil
	}

	from, to := opts.Window()
	res, err := set.WithAnchor(ev.Start).BetweenLimit(from, to, true, opts.MaxOccurrencesPerEvent)
	if err != nil {
		return nil, false, fmt.Errorf("occurrence: event %s: %w", ev.ID, err)
	}

	out := make([]model.Occurrence, 0, len(res.Instants))
	for _, start := range res.Instants {
		id := ev.ID + "@" + start.Time().UTC().Format(time.RFC3339)
		o, err := makeOccurrence(ev, id, start, span, display)
		if err != nil {
			return nil, false, err
		}
		o.Recurring = true
		out = append(out, o)
	}
	return out, res.Truncated, nil
}

// span is an event length in whole days (all-day) or minutes (timed).
type span struct {
	allDay bool
	n      int
}

func durationOf(ev model.Event) (span, error) {
	if ev.AllDay {
		days, err := dates.DeltaDays(ev.Start, ev.End)
		if err != nil {
			return span{}, fmt.Errorf("occurrence: event %s: %w", ev.ID, err)
		}
		return span{allDay: true, n: days}, nil
	}
	minutes, err := dates.DeltaMinutes(ev.Start, ev.End)
	if err != nil {
		return span{}, fmt.Errorf("occurrence: event %s: %w", ev.ID, err)
	}
	return span{n: minutes}, nil
}

// makeOccurrence derives the end from start and s. All-day occurrences keep
// their own zone: a calendar date has no time of day to shift.
func makeOccurrence(ev model.Event, id string, start tzdate.Instant, s span, display string) (model.Occurrence, error) {
	o := model.Occurrence{
		ID:       id,
		EventID:  ev.ID,
		SourceID: ev.SourceID,
		Summary:  ev.Summary,
		Location: ev.Location,
		AllDay:   ev.AllDay,
	}
	if s.allDay {
		o.Start = start.StartOfDay()
		o.End = o.Start.AddDays(s.n)
		return o, nil
	}

	var err error
	if o.Start, err = start.WithTimeZone(display); err != nil {
		return o, err
	}
	o.End = o.Start.Add(time.Duration(s.n) * time.Minute)
	return o, nil
}

func overlaps(aStart, aEnd, bStart, bEnd tzdate.Instant) bool {
	if aEnd.Before(bStart) {
		return false
	}
	if bEnd.Before(aStart) {
		return false
	}
	return true
}
