package importer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"icsimport/internal/memstore"
	"icsimport/internal/model"
)

func TestLocationKey(t *testing.T) {
	assert.Equal(t, "main hall", LocationKey("Main Hall"))
	assert.Equal(t, "  odd spacing ", LocationKey("  Odd Spacing "))
}

func TestLocationResolver_CreatesOnce(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	r, err := NewLocationResolver(store, store, 0)
	require.NoError(t, err)

	id, err := r.Resolve(ctx, "Main Hall")
	require.NoError(t, err)
	require.NotZero(t, id)

	loc, err := store.LocationByKey(ctx, "main hall")
	require.NoError(t, err)
	assert.Equal(t, id, loc.ID)
	assert.Equal(t, "Main Hall", loc.Title)
	assert.Equal(t, "main-hall", loc.Slug)
	assert.Equal(t, model.StatusPublish, loc.Status)
	assert.Empty(t, loc.Content)
	require.NotNil(t, loc.RowID, "row id is saved back on the record")

	row, err := store.LocationRow(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, *loc.RowID, row.ID)
	assert.Equal(t, "Main Hall", row.Name)
	assert.Equal(t, model.RowStatusPublished, row.Status)

	again, err := r.Resolve(ctx, "MAIN HALL")
	require.NoError(t, err)
	assert.Equal(t, id, again, "keys are case-insensitive")

	_, locations, _, locationRows := store.Counts()
	assert.Equal(t, 1, locations)
	assert.Equal(t, 1, locationRows)
}

func TestLocationResolver_KeepsExistingRecord(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	id, err := store.SaveLocation(ctx, model.LocalLocation{
		Key:     "main hall",
		Title:   "Main Hall",
		Content: "Ground floor",
		Slug:    "main-hall",
		Status:  model.StatusPublish,
	})
	require.NoError(t, err)

	r, err := NewLocationResolver(store, store, 4)
	require.NoError(t, err)

	got, err := r.Resolve(ctx, "main hall")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	loc, err := store.LocationByKey(ctx, "main hall")
	require.NoError(t, err)
	assert.Equal(t, "Main Hall", loc.Title, "existing title is not overwritten")

	row, err := store.LocationRow(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Ground floor", row.Content)

	// The row is rewritten, not duplicated.
	require.NoError(t, store.UpdateLocationRow(ctx, id, model.LocationRow{Name: "stale"}))
	_, err = r.Resolve(ctx, "Main Hall")
	require.NoError(t, err)
	row, err = store.LocationRow(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Main Hall", row.Name)

	_, _, _, locationRows := store.Counts()
	assert.Equal(t, 1, locationRows)
}

func TestLocationResolver_Forget(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	r, err := NewLocationResolver(store, store, 0)
	require.NoError(t, err)

	id, err := r.Resolve(ctx, "Main Hall")
	require.NoError(t, err)

	loc, err := store.LocationByKey(ctx, "main hall")
	require.NoError(t, err)
	loc.Content = "Edited elsewhere"
	_, err = store.SaveLocation(ctx, loc)
	require.NoError(t, err)

	_, err = r.Resolve(ctx, "Main Hall")
	require.NoError(t, err)
	row, err := store.LocationRow(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, row.Content, "memoised record is reused")

	r.Forget()
	_, err = r.Resolve(ctx, "Main Hall")
	require.NoError(t, err)
	row, err = store.LocationRow(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Edited elsewhere", row.Content)
}
