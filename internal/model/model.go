package model

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("resource not found")
)

// DateTimeLayout is how instants are persisted, both in UTC and as local
// wall-clock strings.
const (
	DateTimeLayout = "2006-01-02 15:04:05"
	DateLayout     = "2006-01-02"
	TimeLayout     = "15:04:05"
)

// Sentinel time parts for all-day events.
const (
	AllDayStartTime = "00:00:00"
	AllDayEndTime   = "23:59:59"
)

type Status string

const (
	StatusPublish Status = "publish"
	StatusTrash   Status = "trash"
)

// Status values of auxiliary rows.
const (
	RowStatusTrashed   = -1
	RowStatusDraft     = 0
	RowStatusPublished = 1
)

// Event is a single calendar occurrence as delivered by the feed, after
// recurrence expansion.
type Event struct {
	UID string

	// RawStart / RawEnd are the literal DTSTART / DTEND values:
	// "20240101" for dates, "20240101T100000" or "20240101T100000Z" for
	// date-times. Expanded occurrences carry values in the same form.
	RawStart string
	RawEnd   string

	Start time.Time
	End   time.Time

	Summary     string
	Description string
	Categories  []string
	Location    string

	IsRecurring bool
}

// LocalEvent is the imported event record.
type LocalEvent struct {
	ID       int64  `db:"id"`
	UID      string `db:"uid"`
	Title    string `db:"title"`
	Content  string `db:"content"`
	Slug     string `db:"slug"`
	Status   Status `db:"status"`
	Timezone string `db:"timezone"`
	AllDay   bool   `db:"all_day"`

	StartUTC   string `db:"start_utc"`
	StartLocal string `db:"start_local"`
	StartDate  string `db:"start_date"`
	StartTime  string `db:"start_time"`

	EndUTC   string `db:"end_utc"`
	EndLocal string `db:"end_local"`
	EndDate  string `db:"end_date"`
	EndTime  string `db:"end_time"`

	LocationID *int64 `db:"location_id"`
	RowID      *int64 `db:"row_id"`
}

// EventRow is the denormalized mirror of a LocalEvent.
type EventRow struct {
	ID         int64  `db:"event_id"`
	PostID     int64  `db:"post_id"`
	Slug       string `db:"event_slug"`
	Name       string `db:"event_name"`
	Start      string `db:"event_start"`
	End        string `db:"event_end"`
	StartDate  string `db:"event_start_date"`
	EndDate    string `db:"event_end_date"`
	StartTime  string `db:"event_start_time"`
	EndTime    string `db:"event_end_time"`
	AllDay     bool   `db:"event_all_day"`
	Timezone   string `db:"event_timezone"`
	Content    string `db:"post_content"`
	LocationID int64  `db:"location_id"`
	Status     int    `db:"event_status"`
	Recurrence int    `db:"recurrence"`
}

// LocalLocation is an imported venue, keyed by its lower-cased title.
type LocalLocation struct {
	ID      int64  `db:"id"`
	Key     string `db:"location_key"`
	Title   string `db:"title"`
	Content string `db:"content"`
	Slug    string `db:"slug"`
	Status  Status `db:"status"`
	RowID   *int64 `db:"row_id"`
}

// LocationRow is the denormalized mirror of a LocalLocation. Address and
// geo columns are never filled by the importer.
type LocationRow struct {
	ID        int64  `db:"location_id"`
	PostID    int64  `db:"post_id"`
	Slug      string `db:"location_slug"`
	Name      string `db:"location_name"`
	Address   string `db:"location_address"`
	Town      string `db:"location_town"`
	State     string `db:"location_state"`
	Postcode  string `db:"location_postcode"`
	Region    string `db:"location_region"`
	Country   string `db:"location_country"`
	Latitude  string `db:"location_latitude"`
	Longitude string `db:"location_longitude"`
	Content   string `db:"post_content"`
	Status    int    `db:"location_status"`
}

// Window is the active time range of a sync run.
type Window struct {
	Start time.Time
	End   time.Time
}

// NewWindow returns [now - before days, now + after days].
func NewWindow(now time.Time, before, after int) Window {
	return Window{
		Start: now.AddDate(0, 0, -before),
		End:   now.AddDate(0, 0, after),
	}
}

// Overlaps reports whether [start, end] intersects the window.
func (w Window) Overlaps(start, end time.Time) bool {
	if end.Before(w.Start) {
		return false
	}
	if w.End.Before(start) {
		return false
	}
	return true
}

// StartUTC / EndUTC format the bounds in the persisted UTC layout.
func (w Window) StartUTC() string { return w.Start.UTC().Format(DateTimeLayout) }
func (w Window) EndUTC() string   { return w.End.UTC().Format(DateTimeLayout) }

// StatusRow maps a record status onto the auxiliary status column.
func StatusRow(s Status) int {
	switch s {
	case StatusPublish:
		return RowStatusPublished
	case StatusTrash:
		return RowStatusTrashed
	default:
		return RowStatusDraft
	}
}
