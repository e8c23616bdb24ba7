package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"icsimport/internal/model"
)

var locationColumns = []string{"id", "location_key", "title", "content", "slug", "status", "row_id"}

func (r Repo) LocationByKey(ctx context.Context, key string) (model.LocalLocation, error) {
	query, args, err := sq.Select(locationColumns...).From("locations").Where(sq.Eq{"location_key": key}).ToSql()
	if err != nil {
		return model.LocalLocation{}, fmt.Errorf("error constructing sql: %w", err)
	}

	var loc model.LocalLocation
	err = r.db.GetContext(ctx, &loc, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return model.LocalLocation{}, model.ErrNotFound
	}
	if err != nil {
		return model.LocalLocation{}, fmt.Errorf("error fetching location: %w", err)
	}

	return loc, nil
}

func (r Repo) SaveLocation(ctx context.Context, loc model.LocalLocation) (int64, error) {
	values := map[string]any{
		"location_key": loc.Key,
		"title":        loc.Title,
		"content":      loc.Content,
		"slug":         loc.Slug,
		"status":       string(loc.Status),
		"row_id":       loc.RowID,
	}

	if loc.ID == 0 {
		query, args, err := sq.Insert("locations").SetMap(values).ToSql()
		if err != nil {
			return 0, fmt.Errorf("error constructing sql: %w", err)
		}
		res, err := r.db.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, fmt.Errorf("error inserting location: %w", conflict(err, "location "+loc.Key))
		}
		return res.LastInsertId()
	}

	query, args, err := sq.Update("locations").
		SetMap(values).
		Set("updated_at", sq.Expr("CURRENT_TIMESTAMP")).
		Where(sq.Eq{"id": loc.ID}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("error constructing sql: %w", err)
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("error updating location: %w", conflict(err, "location "+loc.Key))
	}
	if err := expectRow(res); err != nil {
		return 0, err
	}

	return loc.ID, nil
}
