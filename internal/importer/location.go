package importer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	appLog "icsimport/internal/log"
	"icsimport/internal/model"
)

const defaultLocationCacheSize = 256

// LocationResolver maps free-text LOCATION values onto location records,
// keyed by the lower-cased title.
type LocationResolver struct {
	repo  model.Repository
	aux   model.AuxStore
	cache *lru.Cache[string, model.LocalLocation]
}

// NewLocationResolver creates a resolver. size bounds the number of memoised
// keys; zero uses the default.
func NewLocationResolver(repo model.Repository, aux model.AuxStore, size int) (*LocationResolver, error) {
	if size <= 0 {
		size = defaultLocationCacheSize
	}
	cache, err := lru.New[string, model.LocalLocation](size)
	if err != nil {
		return nil, fmt.Errorf("location cache: %w", err)
	}
	return &LocationResolver{repo: repo, aux: aux, cache: cache}, nil
}

// LocationKey is the lookup key of a location title.
func LocationKey(title string) string {
	return strings.ToLower(title)
}

// Resolve returns the local id of the location named rawTitle, creating the
// record on first sight. An existing record keeps its title and content; the
// auxiliary row is rewritten on every call.
func (r *LocationResolver) Resolve(ctx context.Context, rawTitle string) (int64, error) {
	key := LocationKey(rawTitle)

	loc, err := r.lookup(ctx, key)
	switch {
	case errors.Is(err, model.ErrNotFound):
		loc = model.LocalLocation{
			Key:    key,
			Title:  rawTitle,
			Slug:   model.Slugify(rawTitle),
			Status: model.StatusPublish,
		}
		id, err := r.repo.SaveLocation(ctx, loc)
		if err != nil {
			return 0, fmt.Errorf("%w: create location %q: %w", ErrRepositoryFailure, key, err)
		}
		loc.ID = id
		appLog.Debug("location created", "location_id", id, "key", key)
	case err != nil:
		return 0, fmt.Errorf("%w: find location %q: %w", ErrRepositoryFailure, key, err)
	}

	row := model.LocationRow{
		PostID:  loc.ID,
		Slug:    loc.Slug,
		Name:    loc.Title,
		Content: loc.Content,
		Status:  model.StatusRow(loc.Status),
	}

	_, err = r.aux.LocationRow(ctx, loc.ID)
	switch {
	case err == nil:
		if err := r.aux.UpdateLocationRow(ctx, loc.ID, row); err != nil {
			return 0, fmt.Errorf("%w: update location row %d: %w", ErrRepositoryFailure, loc.ID, err)
		}
	case errors.Is(err, model.ErrNotFound):
		rowID, err := r.aux.InsertLocationRow(ctx, row)
		if err != nil {
			return 0, fmt.Errorf("%w: insert location row %d: %w", ErrRepositoryFailure, loc.ID, err)
		}
		loc.RowID = &rowID
		if _, err := r.repo.SaveLocation(ctx, loc); err != nil {
			return 0, fmt.Errorf("%w: save location %d: %w", ErrRepositoryFailure, loc.ID, err)
		}
	default:
		return 0, fmt.Errorf("%w: find location row %d: %w", ErrRepositoryFailure, loc.ID, err)
	}

	r.cache.Add(key, loc)
	return loc.ID, nil
}

func (r *LocationResolver) lookup(ctx context.Context, key string) (model.LocalLocation, error) {
	if loc, ok := r.cache.Get(key); ok {
		return loc, nil
	}
	return r.repo.LocationByKey(ctx, key)
}

// Forget drops every memoised location.
func (r *LocationResolver) Forget() {
	r.cache.Purge()
}
