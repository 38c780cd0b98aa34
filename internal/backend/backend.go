// Package backend converts between the events backend's JSON payloads and
// model.Event.
package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"attendcal/internal/model"
	"attendcal/internal/recurrence"
	"attendcal/internal/tzdate"
)

// SourceID tags events decoded from the backend.
const SourceID = "backend"

type wireEvent struct {
	ID             string   `json:"id,omitempty"`
	Summary        string   `json:"summary"`
	Location       *string  `json:"location"`
	DTStart        string   `json:"dtstart"`
	DTEnd          string   `json:"dtend"`
	IsAllDay       bool     `json:"is_all_day"`
	RecurrenceList []string `json:"recurrence_list"`
	Timezone       string   `json:"timezone"`
}

type eventsEnvelope struct {
	Events     []wireEvent `json:"events"`
	ErrorCodes []int       `json:"error_codes"`
}

// RecordError describes one record that was skipped.
type RecordError struct {
	Index int
	ID    string
	Err   error
}

func (e RecordError) Error() string {
	return fmt.Sprintf("backend: event #%d (%s): %v", e.Index, e.ID, e.Err)
}

func (e RecordError) Unwrap() error { return e.Err }

// DecodeResult holds the decoded events and the records that were rejected.
type DecodeResult struct {
	Events []model.Event
	Errors []RecordError
}

// Decode reads either a bare JSON array of events or the backend's
// {"events": [...], "error_codes": [...]} envelope. Records with an invalid
// timestamp, timezone or recurrence_list are reported and skipped.
func Decode(r io.Reader) (DecodeResult, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return DecodeResult{}, fmt.Errorf("backend: read: %w", err)
	}
	return DecodeBytes(body)
}

func DecodeBytes(body []byte) (DecodeResult, error) {
	var raw []wireEvent
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return DecodeResult{}, fmt.Errorf("backend: decode events: %w", err)
		}
	} else {
		var env eventsEnvelope
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return DecodeResult{}, fmt.Errorf("backend: decode events: %w", err)
		}
		if len(env.ErrorCodes) > 0 {
			return DecodeResult{}, fmt.Errorf("backend: error codes %v", env.ErrorCodes)
		}
		raw = env.Events
	}

	res := DecodeResult{Events: make([]model.Event, 0, len(raw))}
	for i, w := range raw {
		ev, err := toModel(w)
		if err != nil {
			res.Errors = append(res.Errors, RecordError{Index: i, ID: w.ID, Err: err})
			continue
		}
		res.Events = append(res.Events, ev)
	}
	return res, nil
}

func toModel(w wireEvent) (model.Event, error) {
	tz := w.Timezone
	if tz == "" {
		tz = tzdate.UTC
	}
	if _, err := tzdate.LoadLocation(tz); err != nil {
		return model.Event{}, err
	}
	start, err := ParseTimestamp(w.DTStart, tz)
	if err != nil {
		return model.Event{}, fmt.Errorf("dtstart: %w", err)
	}
	end, err := ParseTimestamp(w.DTEnd, tz)
	if err != nil {
		return model.Event{}, fmt.Errorf("dtend: %w", err)
	}
	if end.Before(start) {
		return model.Event{}, fmt.Errorf("dtend %s is before dtstart %s", end, start)
	}
	if _, err := recurrence.Parse(w.RecurrenceList, tz); err != nil {
		return model.Event{}, fmt.Errorf("recurrence_list: %w", err)
	}

	ev := model.Event{
		ID:         w.ID,
		SourceID:   SourceID,
		Summary:    w.Summary,
		AllDay:     w.IsAllDay,
		Start:      start,
		End:        end,
		Recurrence: append([]string{}, w.RecurrenceList...),
		Timezone:   tz,
	}
	if w.Location != nil {
		ev.Location = *w.Location
	}
	return ev, nil
}

// ParseTimestamp reads YYYY-MM-DD or YYYY-MM-DDTHH:mm:ss[.sss] as wall clock
// in tz, or an RFC 3339 timestamp with offset, which is then decomposed in tz.
func ParseTimestamp(s, tz string) (tzdate.Instant, error) {
	if in, err := tzdate.Parse(s, tz); err == nil {
		return in, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return tzdate.Instant{}, fmt.Errorf("%w: %q is neither ISO-8601 wall clock nor RFC 3339", tzdate.ErrFormat, s)
	}
	return tzdate.FromTime(t, tz)
}

// Encode renders ev as the backend's create/update request body,
// {"event": {...}}.
func Encode(ev model.Event) ([]byte, error) {
	w := wireEvent{
		Summary:        ev.Summary,
		DTStart:        ev.Start.String(),
		DTEnd:          ev.End.String(),
		IsAllDay:       ev.AllDay,
		RecurrenceList: ev.Recurrence,
		Timezone:       ev.Timezone,
	}
	if w.RecurrenceList == nil {
		w.RecurrenceList = []string{}
	}
	if ev.Location != "" {
		loc := ev.Location
		w.Location = &loc
	}
	return json.Marshal(struct {
		Event wireEvent `json:"event"`
	}{w})
}
