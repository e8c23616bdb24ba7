package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"icsimport/internal/clock"
	"icsimport/internal/config"
	"icsimport/internal/importer"
	"icsimport/internal/memstore"
	"icsimport/internal/model"
)

type fakeRunner struct {
	res       importer.Result
	err       error
	calls     int
	opts      importer.Options
	heldUntil time.Time
}

func (f *fakeRunner) Run(_ context.Context, opts importer.Options) (importer.Result, error) {
	f.calls++
	f.opts = opts
	return f.res, f.err
}

func (f *fakeRunner) LeaseHeldUntil(context.Context) (time.Time, error) {
	return f.heldUntil, nil
}

func (f *fakeRunner) Status() importer.Status {
	if f.calls == 0 {
		return importer.Status{}
	}
	res := f.res
	return importer.Status{Last: &res}
}

var testOpts = importer.Options{
	FeedURL:      "https://calendar.example.com/private.ics?token=secret",
	WindowBefore: 15,
	WindowAfter:  366,
}

func newTestServer(t *testing.T, runner *fakeRunner, auth bool) (*Server, *memstore.Store, *clock.Fixed) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Timezone = "UTC"
	if auth {
		cfg.BasicAuth = config.BasicAuthConfig{Username: "admin", Password: "pw"}
	}
	store := memstore.New()
	clk := clock.NewFixed(time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC))
	return NewServer(cfg, runner, store, testOpts, clk), store, clk
}

func do(t *testing.T, h http.Handler, method, path string, auth ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if len(auth) == 2 {
		req.SetBasicAuth(auth[0], auth[1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer(t, &fakeRunner{}, true)

	rec := do(t, s.Handler(), http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code, "health is never behind auth")
	assert.Equal(t, "OK", rec.Body.String())
}

func TestBasicAuth(t *testing.T) {
	s, _, _ := newTestServer(t, &fakeRunner{}, true)
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/api/status")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")

	rec = do(t, h, http.MethodGet, "/api/status", "admin", "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/status", "admin", "pw")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatus(t *testing.T) {
	runner := &fakeRunner{res: importer.Result{RunID: "r-1", Created: 2}}
	s, _, _ := newTestServer(t, runner, false)
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Feed   string          `json:"feed"`
		Import importer.Status `json:"import"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "https://calendar.example.com/...(redacted)", body.Feed)
	assert.Nil(t, body.Import.Last)
	assert.NotContains(t, rec.Body.String(), "secret")
	assert.NotContains(t, rec.Body.String(), "lease_held_until", "omitted before the first run")

	runner.heldUntil = time.Date(2024, 6, 10, 13, 0, 0, 0, time.UTC)
	rec = do(t, h, http.MethodGet, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var withLease struct {
		LeaseHeldUntil *time.Time `json:"lease_held_until"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &withLease))
	require.NotNil(t, withLease.LeaseHeldUntil)
	assert.True(t, withLease.LeaseHeldUntil.Equal(runner.heldUntil))
}

func TestEvents(t *testing.T) {
	s, store, clk := newTestServer(t, &fakeRunner{}, false)
	ctx := context.Background()
	h := s.Handler()

	for i, start := range []string{"2024-06-11 10:00:00", "2024-06-09 10:00:00", "2024-07-30 10:00:00"} {
		_, err := store.SaveEvent(ctx, model.LocalEvent{
			UID:      fmt.Sprintf("E%d", i),
			Title:    fmt.Sprintf("Event %d", i),
			Status:   model.StatusPublish,
			StartUTC: start,
			EndUTC:   start[:11] + "11:00:00",
		})
		require.NoError(t, err)
	}

	rec := do(t, h, http.MethodGet, "/api/events?days=7&backfill=2")
	require.Equal(t, http.StatusOK, rec.Code)

	var body eventsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Events, 2)
	assert.Equal(t, "E1", body.Events[0].UID, "ordered by start")
	assert.Equal(t, "E0", body.Events[1].UID)
	assert.Equal(t, "UTC", body.DisplayTimeZone)

	// Cached for a short while.
	_, err := store.SaveEvent(ctx, model.LocalEvent{
		UID: "late", Status: model.StatusPublish,
		StartUTC: "2024-06-12 10:00:00", EndUTC: "2024-06-12 11:00:00",
	})
	require.NoError(t, err)
	rec = do(t, h, http.MethodGet, "/api/events?days=7&backfill=2")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Events, 2)

	clk.Advance(eventsCacheTTL)
	rec = do(t, h, http.MethodGet, "/api/events?days=7&backfill=2")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Events, 3)
}

func TestEvent(t *testing.T) {
	s, store, _ := newTestServer(t, &fakeRunner{}, false)
	ctx := context.Background()
	h := s.Handler()

	id, err := store.SaveEvent(ctx, model.LocalEvent{
		UID: "GONE", Title: "Gone", Status: model.StatusPublish,
		StartUTC: "2024-06-11 10:00:00", EndUTC: "2024-06-11 11:00:00",
	})
	require.NoError(t, err)
	require.NoError(t, store.TrashEvent(ctx, id))

	rec := do(t, h, http.MethodGet, fmt.Sprintf("/api/events/%d", id))
	require.Equal(t, http.StatusOK, rec.Code)
	var ev eventDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ev))
	assert.Equal(t, "GONE", ev.UID)
	assert.Equal(t, "trash", ev.Status)

	rec = do(t, h, http.MethodGet, "/api/events/999")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/events/abc")
	assert.Equal(t, http.StatusNotFound, rec.Code, "non-numeric ids do not match the route")
}

func TestRefresh(t *testing.T) {
	tests := map[string]struct {
		res  importer.Result
		err  error
		want int
	}{
		"ok":      {res: importer.Result{RunID: "r-1", Created: 1}, want: http.StatusOK},
		"skipped": {res: importer.Result{RunID: "r-2", Skipped: true}, want: http.StatusConflict},
		"invalid": {err: fmt.Errorf("%w: feed URL is empty", importer.ErrInvalidConfiguration), want: http.StatusBadRequest},
		"fetch":   {err: fmt.Errorf("%w: timeout", importer.ErrFetchFailure), want: http.StatusBadGateway},
		"repo":    {err: fmt.Errorf("%w: disk full", importer.ErrRepositoryFailure), want: http.StatusInternalServerError},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			runner := &fakeRunner{res: tc.res, err: tc.err}
			s, _, _ := newTestServer(t, runner, false)

			rec := do(t, s.Handler(), http.MethodPost, "/api/refresh")
			assert.Equal(t, tc.want, rec.Code)
			assert.Equal(t, 1, runner.calls)
			assert.Equal(t, testOpts, runner.opts)
		})
	}
}

func TestRefreshRequiresPost(t *testing.T) {
	runner := &fakeRunner{}
	s, _, _ := newTestServer(t, runner, false)

	rec := do(t, s.Handler(), http.MethodGet, "/api/refresh")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Zero(t, runner.calls)
}

func TestSecureCompare(t *testing.T) {
	assert.True(t, secureCompare("abc", "abc"))
	assert.False(t, secureCompare("abc", "abd"))
	assert.False(t, secureCompare("abc", "ab"))
}
