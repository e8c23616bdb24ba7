package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"icsimport/internal/model"
)

var eventRowColumns = []string{
	"event_id", "post_id", "event_slug", "event_name",
	"event_start", "event_end", "event_start_date", "event_end_date",
	"event_start_time", "event_end_time", "event_all_day", "event_timezone",
	"post_content", "location_id", "event_status", "recurrence",
}

func eventRowValues(row model.EventRow) map[string]any {
	return map[string]any{
		"post_id":          row.PostID,
		"event_slug":       row.Slug,
		"event_name":       row.Name,
		"event_start":      row.Start,
		"event_end":        row.End,
		"event_start_date": row.StartDate,
		"event_end_date":   row.EndDate,
		"event_start_time": row.StartTime,
		"event_end_time":   row.EndTime,
		"event_all_day":    row.AllDay,
		"event_timezone":   row.Timezone,
		"post_content":     row.Content,
		"location_id":      row.LocationID,
		"event_status":     row.Status,
		"recurrence":       row.Recurrence,
	}
}

var locationRowColumns = []string{
	"location_id", "post_id", "location_slug", "location_name",
	"location_address", "location_town", "location_state", "location_postcode",
	"location_region", "location_country", "location_latitude", "location_longitude",
	"post_content", "location_status",
}

func locationRowValues(row model.LocationRow) map[string]any {
	return map[string]any{
		"post_id":            row.PostID,
		"location_slug":      row.Slug,
		"location_name":      row.Name,
		"location_address":   row.Address,
		"location_town":      row.Town,
		"location_state":     row.State,
		"location_postcode":  row.Postcode,
		"location_region":    row.Region,
		"location_country":   row.Country,
		"location_latitude":  row.Latitude,
		"location_longitude": row.Longitude,
		"post_content":       row.Content,
		"location_status":    row.Status,
	}
}

func (r Repo) EventRow(ctx context.Context, postID int64) (model.EventRow, error) {
	var row model.EventRow
	if err := r.getRow(ctx, &row, "em_events", eventRowColumns, postID); err != nil {
		return model.EventRow{}, err
	}
	return row, nil
}

func (r Repo) InsertEventRow(ctx context.Context, row model.EventRow) (int64, error) {
	return r.insertRow(ctx, "em_events", eventRowValues(row))
}

func (r Repo) UpdateEventRow(ctx context.Context, postID int64, row model.EventRow) error {
	row.PostID = postID
	return r.updateRow(ctx, "em_events", eventRowValues(row), postID)
}

func (r Repo) TrashEventRow(ctx context.Context, postID int64) error {
	const q = `UPDATE em_events SET event_status = ? WHERE post_id = ?;`

	res, err := r.db.ExecContext(ctx, q, model.RowStatusTrashed, postID)
	if err != nil {
		return fmt.Errorf("error trashing event row: %w", err)
	}

	return expectRow(res)
}

func (r Repo) LocationRow(ctx context.Context, postID int64) (model.LocationRow, error) {
	var row model.LocationRow
	if err := r.getRow(ctx, &row, "em_locations", locationRowColumns, postID); err != nil {
		return model.LocationRow{}, err
	}
	return row, nil
}

func (r Repo) InsertLocationRow(ctx context.Context, row model.LocationRow) (int64, error) {
	return r.insertRow(ctx, "em_locations", locationRowValues(row))
}

func (r Repo) UpdateLocationRow(ctx context.Context, postID int64, row model.LocationRow) error {
	row.PostID = postID
	return r.updateRow(ctx, "em_locations", locationRowValues(row), postID)
}

func (r Repo) getRow(ctx context.Context, dest any, table string, columns []string, postID int64) error {
	query, args, err := sq.Select(columns...).From(table).Where(sq.Eq{"post_id": postID}).ToSql()
	if err != nil {
		return fmt.Errorf("error constructing sql: %w", err)
	}

	err = r.db.GetContext(ctx, dest, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("error fetching %s row: %w", table, err)
	}

	return nil
}

func (r Repo) insertRow(ctx context.Context, table string, values map[string]any) (int64, error) {
	query, args, err := sq.Insert(table).SetMap(values).ToSql()
	if err != nil {
		return 0, fmt.Errorf("error constructing sql: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("error inserting %s row: %w", table, conflict(err, table+" row"))
	}

	return res.LastInsertId()
}

func (r Repo) updateRow(ctx context.Context, table string, values map[string]any, postID int64) error {
	query, args, err := sq.Update(table).SetMap(values).Where(sq.Eq{"post_id": postID}).ToSql()
	if err != nil {
		return fmt.Errorf("error constructing sql: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("error updating %s row: %w", table, err)
	}

	return expectRow(res)
}
