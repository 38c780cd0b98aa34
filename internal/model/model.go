package model

import "attendcal/internal/tzdate"

// Event is a stored event record as the backend (or an ICS source) hands it
// over, before recurrence expansion.
type Event struct {
	ID       string `json:"id"`
	SourceID string `json:"source_id,omitempty"` // "backend" or a configured ICS source ID

	Summary     string `json:"summary"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location"`

	AllDay bool `json:"is_all_day"`

	// Start/End are in Timezone. For all-day events they are midnights.
	Start tzdate.Instant `json:"dtstart"`
	End   tzdate.Instant `json:"dtend"`

	// Recurrence is the RFC 5545 recurrence_list exactly as exchanged with
	// the backend.
	Recurrence []string `json:"recurrence_list"`

	// Timezone is the authoritative IANA zone of the event.
	Timezone string `json:"timezone"`
}

// IsRecurring reports whether the event carries any recurrence lines.
func (e Event) IsRecurring() bool { return len(e.Recurrence) > 0 }

// Occurrence is a single concrete instance of an event after expansion and
// reprojection into the display timezone.
type Occurrence struct {
	// ID identifies this instance: the event ID for a one-off event,
	// "<EventID>@<start UTC RFC 3339>" for a recurring one.
	ID       string `json:"id"`
	EventID  string `json:"event_id"`
	SourceID string `json:"source_id,omitempty"`

	Summary  string `json:"summary"`
	Location string `json:"location"`

	AllDay    bool `json:"is_all_day"`
	Recurring bool `json:"recurring"`

	Start tzdate.Instant `json:"start"`
	End   tzdate.Instant `json:"end"`
}
