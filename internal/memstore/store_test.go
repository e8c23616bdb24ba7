package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"icsimport/internal/model"
)

func TestStore_Events(t *testing.T) {
	ctx := context.Background()
	s := New()

	id, err := s.SaveEvent(ctx, model.LocalEvent{
		UID:      "A1",
		Title:    "Concert",
		Status:   model.StatusPublish,
		StartUTC: "2024-06-10 16:00:00",
		EndUTC:   "2024-06-10 18:00:00",
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, id)

	got, err := s.EventByUID(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, "Concert", got.Title)

	_, err = s.SaveEvent(ctx, model.LocalEvent{UID: "A1"})
	assert.Error(t, err, "uid is unique")

	got.Title = "Concert (updated)"
	id2, err := s.SaveEvent(ctx, got)
	require.NoError(t, err)
	assert.Equal(t, id, id2)

	_, err = s.EventByUID(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)

	w := model.Window{
		Start: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC),
	}
	ids, err := s.EventIDsInWindow(ctx, w)
	require.NoError(t, err)
	assert.Equal(t, []int64{id}, ids)

	require.NoError(t, s.TrashEvent(ctx, id))
	ids, err = s.EventIDsInWindow(ctx, w)
	require.NoError(t, err)
	assert.Empty(t, ids, "trashed events are not listed")

	listed, err := s.Events(ctx, w)
	require.NoError(t, err)
	assert.Empty(t, listed)

	assert.ErrorIs(t, s.TrashEvent(ctx, 99), model.ErrNotFound)
}

func TestStore_Tags(t *testing.T) {
	ctx := context.Background()
	s := New()
	id, err := s.SaveEvent(ctx, model.LocalEvent{UID: "T1"})
	require.NoError(t, err)

	require.NoError(t, s.SetEventTags(ctx, id, []string{"b", "a", "b"}))
	tags, err := s.EventTags(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, tags)

	require.NoError(t, s.SetEventTags(ctx, id, []string{"c"}))
	tags, _ = s.EventTags(ctx, id)
	assert.Equal(t, []string{"c"}, tags)

	assert.ErrorIs(t, s.SetEventTags(ctx, 42, nil), model.ErrNotFound)
}

func TestStore_Rows(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.EventRow(ctx, 7)
	assert.ErrorIs(t, err, model.ErrNotFound)

	rowID, err := s.InsertEventRow(ctx, model.EventRow{PostID: 7, Name: "x", Status: model.RowStatusPublished})
	require.NoError(t, err)

	_, err = s.InsertEventRow(ctx, model.EventRow{PostID: 7})
	assert.Error(t, err)

	require.NoError(t, s.UpdateEventRow(ctx, 7, model.EventRow{Name: "y", Status: model.RowStatusPublished}))
	row, err := s.EventRow(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, rowID, row.ID)
	assert.EqualValues(t, 7, row.PostID)
	assert.Equal(t, "y", row.Name)

	require.NoError(t, s.TrashEventRow(ctx, 7))
	row, _ = s.EventRow(ctx, 7)
	assert.Equal(t, model.RowStatusTrashed, row.Status)

	locRowID, err := s.InsertLocationRow(ctx, model.LocationRow{PostID: 3, Name: "Main Hall"})
	require.NoError(t, err)
	require.NoError(t, s.UpdateLocationRow(ctx, 3, model.LocationRow{Name: "Main Hall"}))
	lrow, err := s.LocationRow(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, locRowID, lrow.ID)

	assert.ErrorIs(t, s.UpdateLocationRow(ctx, 4, model.LocationRow{}), model.ErrNotFound)
}

func TestStore_Locations(t *testing.T) {
	ctx := context.Background()
	s := New()

	id, err := s.SaveLocation(ctx, model.LocalLocation{Key: "main hall", Title: "Main Hall"})
	require.NoError(t, err)

	got, err := s.LocationByKey(ctx, "main hall")
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)

	_, err = s.SaveLocation(ctx, model.LocalLocation{Key: "main hall"})
	assert.Error(t, err)

	events, locations, _, _ := s.Counts()
	assert.Equal(t, 0, events)
	assert.Equal(t, 1, locations)
}
