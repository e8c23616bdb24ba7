// Package memstore keeps event and location records in process memory.
// It backs --store=memory dry runs and the importer tests.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"icsimport/internal/model"
)

type Store struct {
	mu sync.Mutex

	nextEvent       int64
	nextLocation    int64
	nextEventRow    int64
	nextLocationRow int64

	events         map[int64]model.LocalEvent
	eventsByUID    map[string]int64
	tags           map[int64][]string
	locations      map[int64]model.LocalLocation
	locationsByKey map[string]int64
	eventRows      map[int64]model.EventRow    // by post id
	locationRows   map[int64]model.LocationRow // by post id
}

func New() *Store {
	return &Store{
		events:         make(map[int64]model.LocalEvent),
		eventsByUID:    make(map[string]int64),
		tags:           make(map[int64][]string),
		locations:      make(map[int64]model.LocalLocation),
		locationsByKey: make(map[string]int64),
		eventRows:      make(map[int64]model.EventRow),
		locationRows:   make(map[int64]model.LocationRow),
	}
}

func (s *Store) EventByUID(_ context.Context, uid string) (model.LocalEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.eventsByUID[uid]
	if !ok {
		return model.LocalEvent{}, model.ErrNotFound
	}
	return s.events[id], nil
}

// Event returns the event with id regardless of its status.
func (s *Store) Event(_ context.Context, id int64) (model.LocalEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[id]
	if !ok {
		return model.LocalEvent{}, model.ErrNotFound
	}
	return ev, nil
}

func (s *Store) SaveEvent(_ context.Context, ev model.LocalEvent) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if other, ok := s.eventsByUID[ev.UID]; ok && ev.UID != "" && other != ev.ID {
		return 0, fmt.Errorf("event uid %q already used by %d", ev.UID, other)
	}

	if ev.ID == 0 {
		s.nextEvent++
		ev.ID = s.nextEvent
	} else {
		prev, ok := s.events[ev.ID]
		if !ok {
			return 0, model.ErrNotFound
		}
		delete(s.eventsByUID, prev.UID)
	}

	s.events[ev.ID] = ev
	if ev.UID != "" {
		s.eventsByUID[ev.UID] = ev.ID
	}
	return ev.ID, nil
}

func (s *Store) TrashEvent(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[id]
	if !ok {
		return model.ErrNotFound
	}
	ev.Status = model.StatusTrash
	s.events[id] = ev
	return nil
}

func (s *Store) EventIDsInWindow(_ context.Context, w model.Window) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start, end := w.StartUTC(), w.EndUTC()
	var ids []int64
	for id, ev := range s.events {
		if ev.Status != model.StatusPublish || ev.UID == "" {
			continue
		}
		if ev.StartUTC > start && ev.EndUTC < end {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *Store) SetEventTags(_ context.Context, id int64, tags []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[id]; !ok {
		return model.ErrNotFound
	}
	sorted := append([]string(nil), tags...)
	slices.Sort(sorted)
	s.tags[id] = slices.Compact(sorted)
	return nil
}

func (s *Store) EventTags(_ context.Context, id int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[id]; !ok {
		return nil, model.ErrNotFound
	}
	return slices.Clone(s.tags[id]), nil
}

func (s *Store) Events(_ context.Context, w model.Window) ([]model.LocalEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start, end := w.StartUTC(), w.EndUTC()
	var out []model.LocalEvent
	for _, ev := range s.events {
		if ev.Status != model.StatusPublish {
			continue
		}
		if ev.EndUTC >= start && ev.StartUTC <= end {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartUTC != out[j].StartUTC {
			return out[i].StartUTC < out[j].StartUTC
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) LocationByKey(_ context.Context, key string) (model.LocalLocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.locationsByKey[key]
	if !ok {
		return model.LocalLocation{}, model.ErrNotFound
	}
	return s.locations[id], nil
}

func (s *Store) SaveLocation(_ context.Context, loc model.LocalLocation) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if other, ok := s.locationsByKey[loc.Key]; ok && other != loc.ID {
		return 0, fmt.Errorf("location key %q already used by %d", loc.Key, other)
	}

	if loc.ID == 0 {
		s.nextLocation++
		loc.ID = s.nextLocation
	} else {
		prev, ok := s.locations[loc.ID]
		if !ok {
			return 0, model.ErrNotFound
		}
		delete(s.locationsByKey, prev.Key)
	}

	s.locations[loc.ID] = loc
	s.locationsByKey[loc.Key] = loc.ID
	return loc.ID, nil
}

func (s *Store) EventRow(_ context.Context, postID int64) (model.EventRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.eventRows[postID]
	if !ok {
		return model.EventRow{}, model.ErrNotFound
	}
	return row, nil
}

func (s *Store) InsertEventRow(_ context.Context, row model.EventRow) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.eventRows[row.PostID]; ok {
		return 0, fmt.Errorf("event row for post %d already exists", row.PostID)
	}
	s.nextEventRow++
	row.ID = s.nextEventRow
	s.eventRows[row.PostID] = row
	return row.ID, nil
}

func (s *Store) UpdateEventRow(_ context.Context, postID int64, row model.EventRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.eventRows[postID]
	if !ok {
		return model.ErrNotFound
	}
	row.ID = prev.ID
	row.PostID = postID
	s.eventRows[postID] = row
	return nil
}

func (s *Store) TrashEventRow(_ context.Context, postID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.eventRows[postID]
	if !ok {
		return model.ErrNotFound
	}
	row.Status = model.RowStatusTrashed
	s.eventRows[postID] = row
	return nil
}

func (s *Store) LocationRow(_ context.Context, postID int64) (model.LocationRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.locationRows[postID]
	if !ok {
		return model.LocationRow{}, model.ErrNotFound
	}
	return row, nil
}

func (s *Store) InsertLocationRow(_ context.Context, row model.LocationRow) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.locationRows[row.PostID]; ok {
		return 0, fmt.Errorf("location row for post %d already exists", row.PostID)
	}
	s.nextLocationRow++
	row.ID = s.nextLocationRow
	s.locationRows[row.PostID] = row
	return row.ID, nil
}

func (s *Store) UpdateLocationRow(_ context.Context, postID int64, row model.LocationRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.locationRows[postID]
	if !ok {
		return model.ErrNotFound
	}
	row.ID = prev.ID
	row.PostID = postID
	s.locationRows[postID] = row
	return nil
}

// Counts returns the number of events, locations, event rows and location
// rows held, in that order.
func (s *Store) Counts() (events, locations, eventRows, locationRows int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events), len(s.locations), len(s.eventRows), len(s.locationRows)
}
