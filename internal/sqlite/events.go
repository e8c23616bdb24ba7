package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"icsimport/internal/model"
)

var eventColumns = []string{
	"id", "uid", "title", "content", "slug", "status", "timezone", "all_day",
	"start_utc", "start_local", "start_date", "start_time",
	"end_utc", "end_local", "end_date", "end_time",
	"location_id", "row_id",
}

func eventValues(ev model.LocalEvent) map[string]any {
	return map[string]any{
		"uid":         ev.UID,
		"title":       ev.Title,
		"content":     ev.Content,
		"slug":        ev.Slug,
		"status":      string(ev.Status),
		"timezone":    ev.Timezone,
		"all_day":     ev.AllDay,
		"start_utc":   ev.StartUTC,
		"start_local": ev.StartLocal,
		"start_date":  ev.StartDate,
		"start_time":  ev.StartTime,
		"end_utc":     ev.EndUTC,
		"end_local":   ev.EndLocal,
		"end_date":    ev.EndDate,
		"end_time":    ev.EndTime,
		"location_id": ev.LocationID,
		"row_id":      ev.RowID,
	}
}

func (r Repo) EventByUID(ctx context.Context, uid string) (model.LocalEvent, error) {
	return r.event(ctx, sq.Eq{"uid": uid})
}

// Event returns the event with id regardless of its status.
func (r Repo) Event(ctx context.Context, id int64) (model.LocalEvent, error) {
	return r.event(ctx, sq.Eq{"id": id})
}

func (r Repo) event(ctx context.Context, where sq.Eq) (model.LocalEvent, error) {
	query, args, err := sq.Select(eventColumns...).From("events").Where(where).Limit(1).ToSql()
	if err != nil {
		return model.LocalEvent{}, fmt.Errorf("error constructing sql: %w", err)
	}

	var ev model.LocalEvent
	err = r.db.GetContext(ctx, &ev, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return model.LocalEvent{}, model.ErrNotFound
	}
	if err != nil {
		return model.LocalEvent{}, fmt.Errorf("error fetching event: %w", err)
	}

	return ev, nil
}

func (r Repo) SaveEvent(ctx context.Context, ev model.LocalEvent) (int64, error) {
	if ev.ID == 0 {
		query, args, err := sq.Insert("events").SetMap(eventValues(ev)).ToSql()
		if err != nil {
			return 0, fmt.Errorf("error constructing sql: %w", err)
		}
		res, err := r.db.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, fmt.Errorf("error inserting event: %w", conflict(err, "event "+ev.UID))
		}
		return res.LastInsertId()
	}

	query, args, err := sq.Update("events").
		SetMap(eventValues(ev)).
		Set("updated_at", sq.Expr("CURRENT_TIMESTAMP")).
		Where(sq.Eq{"id": ev.ID}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("error constructing sql: %w", err)
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("error updating event: %w", conflict(err, "event "+ev.UID))
	}
	if err := expectRow(res); err != nil {
		return 0, err
	}

	return ev.ID, nil
}

func (r Repo) TrashEvent(ctx context.Context, id int64) error {
	const q = `UPDATE events SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?;`

	res, err := r.db.ExecContext(ctx, q, string(model.StatusTrash), id)
	if err != nil {
		return fmt.Errorf("error trashing event: %w", err)
	}

	return expectRow(res)
}

func (r Repo) EventIDsInWindow(ctx context.Context, w model.Window) ([]int64, error) {
	query, args, err := sq.Select("id").From("events").
		Where(sq.And{
			sq.Eq{"status": string(model.StatusPublish)},
			sq.NotEq{"uid": ""},
			sq.Gt{"start_utc": w.StartUTC()},
			sq.Lt{"end_utc": w.EndUTC()},
		}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("error constructing sql: %w", err)
	}

	var ids []int64
	if err := r.db.SelectContext(ctx, &ids, query, args...); err != nil {
		return nil, fmt.Errorf("error listing events in window: %w", err)
	}

	return ids, nil
}

func (r Repo) Events(ctx context.Context, w model.Window) ([]model.LocalEvent, error) {
	query, args, err := sq.Select(eventColumns...).From("events").
		Where(sq.And{
			sq.Eq{"status": string(model.StatusPublish)},
			sq.GtOrEq{"end_utc": w.StartUTC()},
			sq.LtOrEq{"start_utc": w.EndUTC()},
		}).
		OrderBy("start_utc", "id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("error constructing sql: %w", err)
	}

	events := []model.LocalEvent{}
	if err := r.db.SelectContext(ctx, &events, query, args...); err != nil {
		return nil, fmt.Errorf("error listing events: %w", err)
	}

	return events, nil
}

// SetEventTags replaces the tags of event id in one transaction.
func (r Repo) SetEventTags(ctx context.Context, id int64, tags []string) error {
	if _, err := r.Event(ctx, id); err != nil {
		return err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM event_tags WHERE event_id = ?;`, id); err != nil {
		return fmt.Errorf("error clearing tags: %w", err)
	}
	if len(tags) > 0 {
		ins := sq.Insert("event_tags").Options("OR IGNORE").Columns("event_id", "tag")
		for _, tag := range tags {
			ins = ins.Values(id, tag)
		}
		query, args, err := ins.ToSql()
		if err != nil {
			return fmt.Errorf("error constructing sql: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("error inserting tags: %w", err)
		}
	}

	return tx.Commit()
}

func (r Repo) EventTags(ctx context.Context, id int64) ([]string, error) {
	const q = `SELECT tag FROM event_tags WHERE event_id = ? ORDER BY tag;`

	tags := []string{}
	if err := r.db.SelectContext(ctx, &tags, q, id); err != nil {
		return nil, fmt.Errorf("error fetching tags: %w", err)
	}

	return tags, nil
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading affected rows: %w", err)
	}
	if n == 0 {
		return model.ErrNotFound
	}
	return nil
}
