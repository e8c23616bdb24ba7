package model

import (
	"context"
	"time"
)

type (
	// Repository holds the primary event and location records.
	Repository interface {
		// EventByUID returns ErrNotFound when no event carries uid.
		EventByUID(ctx context.Context, uid string) (LocalEvent, error)
		// Event returns the event with id whatever its status.
		Event(ctx context.Context, id int64) (LocalEvent, error)
		// SaveEvent inserts when ev.ID is zero, otherwise updates in place.
		SaveEvent(ctx context.Context, ev LocalEvent) (int64, error)
		TrashEvent(ctx context.Context, id int64) error
		// EventIDsInWindow lists published events with a uid whose start is
		// after w.Start and whose end is before w.End.
		EventIDsInWindow(ctx context.Context, w Window) ([]int64, error)
		// SetEventTags replaces the tag set of an event.
		SetEventTags(ctx context.Context, id int64, tags []string) error
		EventTags(ctx context.Context, id int64) ([]string, error)
		// Events lists published events overlapping w, ordered by start.
		Events(ctx context.Context, w Window) ([]LocalEvent, error)

		LocationByKey(ctx context.Context, key string) (LocalLocation, error)
		SaveLocation(ctx context.Context, loc LocalLocation) (int64, error)
	}

	// AuxStore holds the denormalized rows, keyed by the primary's id.
	AuxStore interface {
		EventRow(ctx context.Context, postID int64) (EventRow, error)
		InsertEventRow(ctx context.Context, row EventRow) (int64, error)
		UpdateEventRow(ctx context.Context, postID int64, row EventRow) error
		TrashEventRow(ctx context.Context, postID int64) error

		LocationRow(ctx context.Context, postID int64) (LocationRow, error)
		InsertLocationRow(ctx context.Context, row LocationRow) (int64, error)
		UpdateLocationRow(ctx context.Context, postID int64, row LocationRow) error
	}

	// Lease is a named, time-bounded flag. Acquire reports false while a
	// previous acquisition has not expired. Leases are never released early.
	Lease interface {
		Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error)
		// HeldUntil returns the expiry of name, or the zero time when it was
		// never acquired.
		HeldUntil(ctx context.Context, name string) (time.Time, error)
	}
)
