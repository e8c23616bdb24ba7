package importer

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"

	"icsimport/internal/clock"
	"icsimport/internal/ics"
	appLog "icsimport/internal/log"
	"icsimport/internal/model"
)

// LeaseName is the lease guarding overlapping runs.
const LeaseName = "ics-import"

const (
	defaultRefreshInterval = 43200 * time.Second
	paragraphBlock         = "<!-- wp:paragraph -->%s<!-- /wp:paragraph -->"
	auxTimezone            = "UTC"
)

// FeedClient returns the events of a feed that intersect a window, in feed
// order. Floating times are interpreted in loc.
type FeedClient interface {
	Fetch(ctx context.Context, url string, w model.Window, loc *time.Location) ([]model.Event, error)
}

// Settings are the engine-wide values that do not change between runs.
type Settings struct {
	// Location is the fixed timezone of every imported event.
	Location *time.Location
	// RefreshInterval is the lease TTL.
	RefreshInterval time.Duration
	// MaxInstancesPerSeries caps the occurrences imported per recurring UID
	// and run. Zero means unlimited.
	MaxInstancesPerSeries int
	// LocationCacheSize bounds the location resolver memo.
	LocationCacheSize int
}

// Options are the per-run inputs.
type Options struct {
	FeedURL      string
	WindowBefore int // days
	WindowAfter  int // days
}

func (o Options) validate() error {
	if strings.TrimSpace(o.FeedURL) == "" {
		return fmt.Errorf("%w: feed URL is empty", ErrInvalidConfiguration)
	}
	u, err := url.Parse(o.FeedURL)
	if err != nil || !u.IsAbs() || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: feed URL is not an absolute http(s) URL", ErrInvalidConfiguration)
	}
	if o.WindowBefore < 0 || o.WindowAfter < 0 {
		return fmt.Errorf("%w: window days must not be negative", ErrInvalidConfiguration)
	}
	return nil
}

// Result summarises one run.
type Result struct {
	RunID     string    `json:"run_id"`
	StartedAt time.Time `json:"started_at"`
	SeenIDs   []int64   `json:"seen_ids"`
	Created   int       `json:"created"`
	Updated   int       `json:"updated"`
	Trashed   int       `json:"trashed"`
	Truncated int       `json:"truncated"`
	Skipped   bool      `json:"skipped"`
}

// Status is the outcome of the most recent run.
type Status struct {
	Last       *Result   `json:"last,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// Engine reconciles a remote feed with the local event records.
type Engine struct {
	repo      model.Repository
	aux       model.AuxStore
	feed      FeedClient
	lease     model.Lease
	clock     clock.Clock
	settings  Settings
	locations *LocationResolver
	policy    *bluemonday.Policy

	mu     sync.Mutex
	status Status
}

// NewEngine wires an engine. A nil clock uses the system clock.
func NewEngine(repo model.Repository, aux model.AuxStore, feed FeedClient, lease model.Lease, clk clock.Clock, s Settings) (*Engine, error) {
	if repo == nil || aux == nil || feed == nil || lease == nil {
		return nil, errors.New("importer: repository, aux store, feed client and lease are required")
	}
	if clk == nil {
		clk = clock.System{}
	}
	if s.Location == nil {
		s.Location = time.UTC
	}
	if s.RefreshInterval <= 0 {
		s.RefreshInterval = defaultRefreshInterval
	}
	if s.MaxInstancesPerSeries < 0 {
		s.MaxInstancesPerSeries = 0
	}

	locations, err := NewLocationResolver(repo, aux, s.LocationCacheSize)
	if err != nil {
		return nil, err
	}

	return &Engine{
		repo:      repo,
		aux:       aux,
		feed:      feed,
		lease:     lease,
		clock:     clk,
		settings:  s,
		locations: locations,
		policy:    bluemonday.UGCPolicy(),
	}, nil
}

// Status returns the outcome of the most recent run.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// LeaseHeldUntil returns when the import lease expires, or the zero time
// before the first run.
func (e *Engine) LeaseHeldUntil(ctx context.Context) (time.Time, error) {
	return e.lease.HeldUntil(ctx, LeaseName)
}

// Run performs one synchronisation of opts.FeedURL.
//
// Invalid options fail with ErrInvalidConfiguration before any I/O. While the
// lease is held the run is skipped and Result.Skipped is set. Fetch errors
// wrap ErrFetchFailure, store errors wrap ErrRepositoryFailure; both abort the
// run without undoing writes already made.
func (e *Engine) Run(ctx context.Context, opts Options) (Result, error) {
	res, err := e.run(ctx, opts)
	if !res.Skipped {
		e.mu.Lock()
		e.status.Last = &res
		e.status.LastError = ""
		if err != nil {
			e.status.LastError = err.Error()
		}
		e.status.FinishedAt = e.clock.Now()
		e.mu.Unlock()
	}
	return res, err
}

func (e *Engine) run(ctx context.Context, opts Options) (Result, error) {
	res := Result{
		RunID:     uuid.NewString(),
		StartedAt: e.clock.Now(),
	}

	if err := opts.validate(); err != nil {
		return res, err
	}

	acquired, err := e.lease.Acquire(ctx, LeaseName, e.settings.RefreshInterval)
	if err != nil {
		return res, fmt.Errorf("%w: acquire lease: %w", ErrRepositoryFailure, err)
	}
	if !acquired {
		appLog.Info("ics import skipped; lease still held", "run_id", res.RunID)
		res.Skipped = true
		return res, nil
	}
	// Location records may be edited between runs.
	e.locations.Forget()

	window := model.NewWindow(res.StartedAt, opts.WindowBefore, opts.WindowAfter)
	appLog.Info("ics import start",
		"run_id", res.RunID,
		"url", ics.RedactURL(opts.FeedURL),
		"window_start", window.StartUTC(),
		"window_end", window.EndUTC(),
	)

	events, err := e.feed.Fetch(ctx, opts.FeedURL, window, e.settings.Location)
	if err != nil {
		return res, fmt.Errorf("%w: %w", ErrFetchFailure, err)
	}

	seen := make(map[int64]struct{}, len(events))
	perSeries := make(map[string]int)
	for _, ev := range events {
		if ev.IsRecurring && e.settings.MaxInstancesPerSeries > 0 {
			perSeries[ev.UID]++
			if perSeries[ev.UID] > e.settings.MaxInstancesPerSeries {
				if perSeries[ev.UID] == e.settings.MaxInstancesPerSeries+1 {
					appLog.Warn("ics import series capped",
						"run_id", res.RunID,
						"uid", ev.UID,
						"cap", e.settings.MaxInstancesPerSeries,
					)
				}
				res.Truncated++
				continue
			}
		}

		id, created, err := e.upsertEvent(ctx, ev)
		if err != nil {
			return res, err
		}
		if created {
			res.Created++
		} else {
			res.Updated++
		}
		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			res.SeenIDs = append(res.SeenIDs, id)
		}
	}

	known, err := e.repo.EventIDsInWindow(ctx, window)
	if err != nil {
		return res, fmt.Errorf("%w: list events in window: %w", ErrRepositoryFailure, err)
	}
	for _, id := range known {
		if _, ok := seen[id]; ok {
			continue
		}
		if err := e.trashEvent(ctx, id); err != nil {
			return res, err
		}
		res.Trashed++
	}

	appLog.Info("ics import done",
		"run_id", res.RunID,
		"seen", len(res.SeenIDs),
		"created", res.Created,
		"updated", res.Updated,
		"trashed", res.Trashed,
		"truncated", res.Truncated,
	)
	return res, nil
}

// DedupKey is the local lookup key of ev: the UID, suffixed with the raw
// start for occurrences of a recurring series.
func DedupKey(ev model.Event) string {
	if ev.IsRecurring {
		return ev.UID + "_" + ev.RawStart
	}
	return ev.UID
}

// IsAllDay reports whether both bounds are date-only values.
func IsAllDay(rawStart, rawEnd string) bool {
	return len(rawStart) == 8 && len(rawEnd) == 8
}

func (e *Engine) upsertEvent(ctx context.Context, ev model.Event) (int64, bool, error) {
	key := DedupKey(ev)

	local, err := e.repo.EventByUID(ctx, key)
	created := false
	switch {
	case errors.Is(err, model.ErrNotFound):
		created = true
		local = model.LocalEvent{UID: key, Slug: model.Slugify(ev.Summary)}
	case err != nil:
		return 0, false, fmt.Errorf("%w: find event %q: %w", ErrRepositoryFailure, key, err)
	}

	allDay := IsAllDay(ev.RawStart, ev.RawEnd)
	local.Title = ev.Summary
	local.Content = e.body(ev.Description)
	local.Status = model.StatusPublish
	local.Timezone = e.settings.Location.String()
	local.AllDay = allDay
	e.project(&local, ev.Start, ev.End, allDay)

	local.LocationID = nil
	if ev.Location != "" {
		locID, err := e.locations.Resolve(ctx, ev.Location)
		if err != nil {
			return 0, false, err
		}
		local.LocationID = &locID
	}

	id, err := e.repo.SaveEvent(ctx, local)
	if err != nil {
		return 0, false, fmt.Errorf("%w: save event %q: %w", ErrRepositoryFailure, key, err)
	}
	local.ID = id

	if len(ev.Categories) > 0 {
		if err := e.repo.SetEventTags(ctx, id, ev.Categories); err != nil {
			return 0, false, fmt.Errorf("%w: tag event %d: %w", ErrRepositoryFailure, id, err)
		}
	}

	if err := e.writeEventRow(ctx, local); err != nil {
		return 0, false, err
	}

	appLog.Debug("ics event imported", "event_id", id, "uid", key, "created", created)
	return id, created, nil
}

// project fills the UTC, local wall-clock, date and time columns.
func (e *Engine) project(local *model.LocalEvent, start, end time.Time, allDay bool) {
	loc := e.settings.Location
	ls, le := start.In(loc), end.In(loc)

	local.StartUTC = start.UTC().Format(model.DateTimeLayout)
	local.EndUTC = end.UTC().Format(model.DateTimeLayout)
	local.StartDate = ls.Format(model.DateLayout)
	local.EndDate = le.Format(model.DateLayout)

	if allDay {
		local.StartTime = model.AllDayStartTime
		local.EndTime = model.AllDayEndTime
		local.StartLocal = local.StartDate + " " + local.StartTime
		local.EndLocal = local.EndDate + " " + local.EndTime
		return
	}
	local.StartTime = ls.Format(model.TimeLayout)
	local.EndTime = le.Format(model.TimeLayout)
	local.StartLocal = ls.Format(model.DateTimeLayout)
	local.EndLocal = le.Format(model.DateTimeLayout)
}

func (e *Engine) writeEventRow(ctx context.Context, local model.LocalEvent) error {
	row := model.EventRow{
		PostID:    local.ID,
		Slug:      local.Slug,
		Name:      local.Title,
		Start:     local.StartUTC,
		End:       local.EndUTC,
		StartDate: local.StartDate,
		EndDate:   local.EndDate,
		StartTime: local.StartTime,
		EndTime:   local.EndTime,
		AllDay:    local.AllDay,
		Timezone:  auxTimezone,
		Content:   local.Content,
		Status:    model.StatusRow(local.Status),
	}
	if local.LocationID != nil {
		row.LocationID = *local.LocationID
	}

	_, err := e.aux.EventRow(ctx, local.ID)
	switch {
	case err == nil:
		if err := e.aux.UpdateEventRow(ctx, local.ID, row); err != nil {
			return fmt.Errorf("%w: update event row %d: %w", ErrRepositoryFailure, local.ID, err)
		}
		return nil
	case errors.Is(err, model.ErrNotFound):
	default:
		return fmt.Errorf("%w: find event row %d: %w", ErrRepositoryFailure, local.ID, err)
	}

	rowID, err := e.aux.InsertEventRow(ctx, row)
	if err != nil {
		return fmt.Errorf("%w: insert event row %d: %w", ErrRepositoryFailure, local.ID, err)
	}
	local.RowID = &rowID
	if _, err := e.repo.SaveEvent(ctx, local); err != nil {
		return fmt.Errorf("%w: save event %d: %w", ErrRepositoryFailure, local.ID, err)
	}
	return nil
}

func (e *Engine) trashEvent(ctx context.Context, id int64) error {
	if err := e.repo.TrashEvent(ctx, id); err != nil {
		return fmt.Errorf("%w: trash event %d: %w", ErrRepositoryFailure, id, err)
	}
	err := e.aux.TrashEventRow(ctx, id)
	switch {
	case errors.Is(err, model.ErrNotFound):
		appLog.Warn("ics import trashed event without row", "event_id", id)
	case err != nil:
		return fmt.Errorf("%w: trash event row %d: %w", ErrRepositoryFailure, id, err)
	}
	appLog.Info("ics event trashed", "event_id", id)
	return nil
}

// body sanitises the description and renders it as a paragraph block.
func (e *Engine) body(description string) string {
	return fmt.Sprintf(paragraphBlock, nl2br(e.policy.Sanitize(description)))
}

var lineBreaks = strings.NewReplacer(
	"\r\n", "<br />\r\n",
	"\n\r", "<br />\n\r",
	"\n", "<br />\n",
	"\r", "<br />\r",
)

// nl2br inserts an HTML line break before every newline sequence.
func nl2br(s string) string {
	return lineBreaks.Replace(s)
}
