// Package refresh keeps the latest event snapshot built from the backend and
// the configured ICS subscriptions.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"

	"attendcal/internal/backend"
	"attendcal/internal/fetch"
	"attendcal/internal/ics"
	appLog "attendcal/internal/log"
	"attendcal/internal/model"
)

// Snapshot is an immutable view of the events known after a refresh.
type Snapshot struct {
	// Version increases by one on every successful refresh. Zero means no
	// refresh has completed yet.
	Version     uint64
	Events      []model.Event
	RefreshedAt time.Time
}

// Fetcher is the subset of *fetch.Fetcher used here.
type Fetcher interface {
	FetchOne(ctx context.Context, src fetch.Source) (fetch.Result, error)
}

// Sources lists what a refresh pulls. Backend is skipped when its URL is empty.
type Sources struct {
	Backend fetch.Source
	ICS     []ics.Source
}

type Refresher struct {
	fetcher Fetcher
	sources Sources
	now     func() time.Time

	mu   sync.Mutex // serializes Refresh
	snap atomic.Pointer[Snapshot]

	cronMu sync.Mutex
	cron   *cron.Cron
}

// New returns a Refresher with an empty version-0 snapshot. now may be nil.
func New(f Fetcher, sources Sources, now func() time.Time) *Refresher {
	if now == nil {
		now = time.Now
	}
	r := &Refresher{fetcher: f, sources: sources, now: now}
	r.snap.Store(&Snapshot{Events: []model.Event{}})
	return r
}

// Snapshot returns the current snapshot. Callers must not modify it.
func (r *Refresher) Snapshot() *Snapshot {
	return r.snap.Load()
}

// Refresh fetches every source and publishes a new snapshot. A source that
// fails keeps the events it contributed to the previous snapshot; its error
// is returned alongside the others. When every source fails the snapshot is
// left untouched.
func (r *Refresher) Refresh(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.snap.Load()
	prevBySource := make(map[string][]model.Event)
	for _, ev := range prev.Events {
		prevBySource[ev.SourceID] = append(prevBySource[ev.SourceID], ev)
	}

	var (
		errs      error
		events    = make([]model.Event, 0, len(prev.Events))
		attempted int
		succeeded int
	)

	if r.sources.Backend.URL != "" {
		attempted++
		evs, err := r.refreshBackend(ctx)
		if err != nil {
			errs = multierr.Append(errs, err)
			events = append(events, prevBySource[backend.SourceID]...)
		} else {
			succeeded++
			events = append(events, evs...)
		}
	}

	for _, src := range r.sources.ICS {
		attempted++
		evs, err := r.refreshICS(ctx, src)
		if err != nil {
			errs = multierr.Append(errs, err)
			events = append(events, prevBySource[src.ID]...)
			continue
		}
		succeeded++
		events = append(events, evs...)
	}

	if attempted > 0 && succeeded == 0 {
		appLog.Error("refresh: all sources failed, keeping previous snapshot", errs,
			"version", prev.Version,
		)
		return errs
	}

	next := &Snapshot{
		Version:     prev.Version + 1,
		Events:      events,
		RefreshedAt: r.now(),
	}
	r.snap.Store(next)

	appLog.Info("refresh: snapshot updated",
		"version", next.Version,
		"events", len(next.Events),
		"failed_sources", len(multierr.Errors(errs)),
	)
	return errs
}

func (r *Refresher) refreshBackend(ctx context.Context) ([]model.Event, error) {
	src := r.sources.Backend
	if src.ID == "" {
		src.ID = backend.SourceID
	}
	if src.Accept == "" {
		src.Accept = "application/json"
	}
	res, err := r.fetcher.FetchOne(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("refresh: backend: %w", err)
	}
	decoded, err := backend.DecodeBytes(res.Body)
	if err != nil {
		return nil, fmt.Errorf("refresh: backend: %w", err)
	}
	for _, rec := range decoded.Errors {
		appLog.Warn("refresh: skipping backend event", "index", rec.Index, "id", rec.ID, "err", rec.Err)
	}
	appLog.Debug("refresh: backend decoded",
		"events", len(decoded.Events),
		"rejected", len(decoded.Errors),
		"from_cache", res.FromCache,
	)
	return decoded.Events, nil
}

func (r *Refresher) refreshICS(ctx context.Context, src ics.Source) ([]model.Event, error) {
	res, err := r.fetcher.FetchOne(ctx, fetch.Source{
		ID:     src.ID,
		URL:    src.URL,
		Accept: "text/calendar",
	})
	if err != nil {
		return nil, fmt.Errorf("refresh: ics %s: %w", src.ID, err)
	}
	events, err := ics.ParseICS(src, res.Body)
	if err != nil {
		return nil, fmt.Errorf("refresh: ics %s: %w", src.ID, err)
	}
	appLog.Debug("refresh: ics parsed", "id", src.ID, "events", len(events), "from_cache", res.FromCache)
	return events, nil
}

// Start schedules Refresh on spec (standard 5-field cron syntax) evaluated
// in loc. The schedule stops when ctx is done or Stop is called.
func (r *Refresher) Start(ctx context.Context, spec string, loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}

	r.cronMu.Lock()
	defer r.cronMu.Unlock()
	if r.cron != nil {
		return errors.New("refresh: already started")
	}

	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(spec, func() {
		if err := r.Refresh(ctx); err != nil {
			appLog.Warn("refresh: scheduled refresh had errors", "err", err)
		}
	}); err != nil {
		return fmt.Errorf("refresh: schedule %q: %w", spec, err)
	}
	c.Start()
	r.cron = c

	go func() {
		<-ctx.Done()
		r.Stop()
	}()

	appLog.Info("refresh: scheduler started", "spec", spec, "tz", loc.String())
	return nil
}

// Stop halts the schedule and waits for a running refresh to finish.
func (r *Refresher) Stop() {
	r.cronMu.Lock()
	c := r.cron
	r.cron = nil
	r.cronMu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
}
