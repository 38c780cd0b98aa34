package web

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"attendcal/internal/backend"
	"attendcal/internal/cache"
	"attendcal/internal/dates"
	"attendcal/internal/frequency"
	"attendcal/internal/ics"
	appLog "attendcal/internal/log"
	"attendcal/internal/model"
	"attendcal/internal/occurrence"
	"attendcal/internal/recurrence"
	"attendcal/internal/tzdate"
)

func requestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeRaw(w, http.StatusOK, "text/plain; charset=utf-8", []byte("OK"))
}

// occurrencesResponse is the JSON response shape for /api/occurrences.
type occurrencesResponse struct {
	Occurrences       []model.Occurrence `json:"occurrences"`
	TruncatedEventIDs []string           `json:"truncated_event_ids,omitempty"`
	RangeStart        tzdate.Instant     `json:"range_start"`
	RangeEnd          tzdate.Instant     `json:"range_end"`
	DisplayTimeZone   string             `json:"display_timezone"`
	WeekStart         string             `json:"week_start"`
	SnapshotVersion   uint64             `json:"snapshot_version"`
}

// handleOccurrences projects the current snapshot.
//
// GET /api/occurrences?from=YYYY-MM-DD&to=YYYY-MM-DD&tz=Asia/Seoul
//
// from and to are calendar dates in tz and must be given together; both
// bounds are inclusive. Without them the configured backfill/horizon window
// around now is used. tz defaults to the configured display timezone.
func (s *Server) handleOccurrences(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tz := q.Get("tz")
	if tz == "" {
		tz = s.cfg.DisplayTimezone
	}
	fromStr, toStr := q.Get("from"), q.Get("to")
	if (fromStr == "") != (toStr == "") {
		s.badRequestResponse(w, r, errors.New("from and to must be given together"))
		return
	}

	opts := occurrence.Options{
		DisplayTimeZone:        tz,
		Now:                    s.now,
		BackfillDays:           s.cfg.BackfillDays,
		HorizonDays:            s.cfg.HorizonDays,
		MaxOccurrencesPerEvent: s.cfg.MaxOccurrencesPerEvent,
	}
	if fromStr != "" {
		from, err := parseQueryDate(fromStr, tz)
		if err != nil {
			s.domainErrorResponse(w, r, fmt.Errorf("from: %w", err))
			return
		}
		to, err := parseQueryDate(toStr, tz)
		if err != nil {
			s.domainErrorResponse(w, r, fmt.Errorf("to: %w", err))
			return
		}
		opts.From, opts.To = from, to.EndOfDay()
	} else if _, err := tzdate.LoadLocation(tz); err != nil {
		s.domainErrorResponse(w, r, fmt.Errorf("tz: %w", err))
		return
	}

	snap := s.snaps.Snapshot()
	key := fmt.Sprintf("occurrences:v%d:%s:%s:%s", snap.Version, tz, fromStr, toStr)
	if s.serveCached(w, r, key, "application/json; charset=utf-8") {
		return
	}

	res, err := occurrence.ProjectAll(snap.Events, opts)
	if err != nil {
		s.domainErrorResponse(w, r, err)
		return
	}
	from, to := opts.Window()
	s.writeCachedJSON(w, r, key, occurrencesResponse{
		Occurrences:       res.Occurrences,
		TruncatedEventIDs: res.TruncatedEvents,
		RangeStart:        from,
		RangeEnd:          to,
		DisplayTimeZone:   tz,
		WeekStart:         s.cfg.WeekStart,
		SnapshotVersion:   snap.Version,
	})
}

func parseQueryDate(s, tz string) (tzdate.Instant, error) {
	in, err := tzdate.Parse(s, tz)
	if err != nil {
		return tzdate.Instant{}, err
	}
	d, err := dates.AsCalendarDate(in)
	if err != nil {
		return tzdate.Instant{}, err
	}
	return d.Instant(), nil
}

// handleCalendar serves the snapshot as an ICS feed.
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	const contentType = "text/calendar; charset=utf-8"

	snap := s.snaps.Snapshot()
	key := fmt.Sprintf("calendar:v%d", snap.Version)
	if s.serveCached(w, r, key, contentType) {
		return
	}

	out, err := ics.Export(snap.Events, s.now())
	if err != nil {
		s.serverErrorResponse(w, r, err)
		return
	}
	body := []byte(out)
	s.remember(r, key, body)
	writeRaw(w, http.StatusOK, contentType, body)
}

type expandRequest struct {
	RecurrenceList  []string `json:"recurrence_list"`
	Timezone        string   `json:"timezone"`
	DTStart         string   `json:"dtstart"`
	DTEnd           string   `json:"dtend"`
	IsAllDay        bool     `json:"is_all_day"`
	From            string   `json:"from"`
	To              string   `json:"to"`
	DisplayTimezone string   `json:"display_timezone"`
}

// handleExpand projects a single, unsaved event. Used by the editor to
// preview a rule before it is stored.
func (s *Server) handleExpand(w http.ResponseWriter, r *http.Request) {
	var req expandRequest
	if err := readJSON(w, r, &req); err != nil {
		s.badRequestResponse(w, r, err)
		return
	}
	tz := req.Timezone
	if tz == "" {
		tz = tzdate.UTC
	}
	display := req.DisplayTimezone
	if display == "" {
		display = s.cfg.DisplayTimezone
	}

	start, err := backend.ParseTimestamp(req.DTStart, tz)
	if err != nil {
		s.domainErrorResponse(w, r, fmt.Errorf("dtstart: %w", err))
		return
	}
	end := start
	if req.DTEnd != "" {
		if end, err = backend.ParseTimestamp(req.DTEnd, tz); err != nil {
			s.domainErrorResponse(w, r, fmt.Errorf("dtend: %w", err))
			return
		}
	}
	if req.From == "" || req.To == "" {
		s.badRequestResponse(w, r, errors.New("from and to are required"))
		return
	}
	from, err := backend.ParseTimestamp(req.From, display)
	if err != nil {
		s.domainErrorResponse(w, r, fmt.Errorf("from: %w", err))
		return
	}
	to, err := backend.ParseTimestamp(req.To, display)
	if err != nil {
		s.domainErrorResponse(w, r, fmt.Errorf("to: %w", err))
		return
	}

	ev := model.Event{
		ID:         "preview",
		AllDay:     req.IsAllDay,
		Start:      start,
		End:        end,
		Recurrence: req.RecurrenceList,
		Timezone:   tz,
	}
	occ, err := occurrence.Project(ev, occurrence.Options{
		DisplayTimeZone:        display,
		From:                   from,
		To:                     to,
		MaxOccurrencesPerEvent: s.cfg.MaxOccurrencesPerEvent,
	})
	if err != nil {
		s.domainErrorResponse(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"occurrences": occ})
}

type classifyRequest struct {
	RecurrenceList []string `json:"recurrence_list"`
	Timezone       string   `json:"timezone"`
	Anchor         string   `json:"anchor"`
}

type classifyResponse struct {
	Preset frequency.Preset `json:"preset"`
	Label  string           `json:"label"`
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if err := readJSON(w, r, &req); err != nil {
		s.badRequestResponse(w, r, err)
		return
	}
	tz := req.Timezone
	if tz == "" {
		tz = tzdate.UTC
	}
	var anchor tzdate.Instant
	if req.Anchor != "" {
		var err error
		if anchor, err = backend.ParseTimestamp(req.Anchor, tz); err != nil {
			s.domainErrorResponse(w, r, fmt.Errorf("anchor: %w", err))
			return
		}
	}

	p, err := frequency.ClassifyLines(req.RecurrenceList, tz, anchor)
	if err != nil {
		s.domainErrorResponse(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, classifyResponse{Preset: p, Label: p.Label()})
}

type datesRequest struct {
	RecurrenceList []string `json:"recurrence_list"`
	Kind           string   `json:"kind"`
	Op             string   `json:"op,omitempty"`
	Date           string   `json:"date,omitempty"`
	Timezone       string   `json:"timezone"`
}

// handleDates adds or removes one RDATE/EXDATE value.
func (s *Server) handleDates(w http.ResponseWriter, r *http.Request) {
	var req datesRequest
	if err := readJSON(w, r, &req); err != nil {
		s.badRequestResponse(w, r, err)
		return
	}
	tz := req.Timezone
	if tz == "" {
		tz = tzdate.UTC
	}
	date, err := backend.ParseTimestamp(req.Date, tz)
	if err != nil {
		s.domainErrorResponse(w, r, fmt.Errorf("date: %w", err))
		return
	}

	var lines []string
	switch req.Kind + "/" + req.Op {
	case "rdate/add":
		lines, err = recurrence.AddInclusionDate(req.RecurrenceList, date)
	case "exdate/add":
		lines, err = recurrence.AddExclusionDate(req.RecurrenceList, date)
	case "rdate/remove":
		lines, err = recurrence.RemoveInclusionDate(req.RecurrenceList, date, tz)
	case "exdate/remove":
		lines, err = recurrence.RemoveExclusionDate(req.RecurrenceList, date, tz)
	default:
		err = fmt.Errorf("%w: kind must be rdate or exdate and op add or remove, got %q/%q",
			errInvalidRequest, req.Kind, req.Op)
	}
	if err != nil {
		s.domainErrorResponse(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"recurrence_list": lines})
}

func (s *Server) handleDatesList(w http.ResponseWriter, r *http.Request) {
	var req datesRequest
	if err := readJSON(w, r, &req); err != nil {
		s.badRequestResponse(w, r, err)
		return
	}
	tz := req.Timezone
	if tz == "" {
		tz = tzdate.UTC
	}

	var (
		list []tzdate.Instant
		err  error
	)
	switch req.Kind {
	case "rdate":
		list, err = recurrence.InclusionDates(req.RecurrenceList, tz)
	case "exdate":
		list, err = recurrence.ExclusionDates(req.RecurrenceList, tz)
	default:
		err = fmt.Errorf("%w: kind must be rdate or exdate, got %q", errInvalidRequest, req.Kind)
	}
	if err != nil {
		s.domainErrorResponse(w, r, err)
		return
	}
	if list == nil {
		list = []tzdate.Instant{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"dates": list})
}

// serveCached writes a cached body for key and reports whether it did.
// Store failures other than a miss are logged and treated as a miss.
func (s *Server) serveCached(w http.ResponseWriter, r *http.Request, key, contentType string) bool {
	body, err := s.store.Get(r.Context(), key)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			appLog.Warn("response cache get failed", "key", key, "err", err)
		}
		return false
	}
	w.Header().Set("X-Cache", "HIT")
	writeRaw(w, http.StatusOK, contentType, body)
	return true
}

func (s *Server) remember(r *http.Request, key string, body []byte) {
	if s.ttl <= 0 {
		return
	}
	if err := s.store.Set(r.Context(), key, body, s.ttl); err != nil {
		appLog.Warn("response cache set failed", "key", key, "err", err)
	}
}

func (s *Server) writeCachedJSON(w http.ResponseWriter, r *http.Request, key string, v any) {
	js, err := jsonBody(v)
	if err != nil {
		s.serverErrorResponse(w, r, err)
		return
	}
	s.remember(r, key, js)
	writeRaw(w, http.StatusOK, "application/json; charset=utf-8", js)
}
