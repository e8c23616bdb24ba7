package ics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"icsimport/internal/model"
)

func TestFetcher_ETagCache(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		assert.Equal(t, "icsimport-test", r.Header.Get("User-Agent"))
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write(crlf(testFeed))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), WithUserAgent("icsimport-test"))

	first, err := f.Fetch(context.Background(), srv.URL+"/feed.ics")
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	assert.Equal(t, crlf(testFeed), first.Body)

	second, err := f.Fetch(context.Background(), srv.URL+"/feed.ics")
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Body, second.Body)
	assert.EqualValues(t, 2, atomic.LoadInt32(&hits))
}

func TestFetcher_RetriesTransientFailures(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write(crlf(testFeed))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), WithRetries(2, time.Millisecond))

	res, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Body)
	assert.EqualValues(t, 2, atomic.LoadInt32(&hits))
}

func TestFetcher_GivesUpAfterRetries(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), WithRetries(2, time.Millisecond))

	_, err := f.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.EqualValues(t, 3, atomic.LoadInt32(&hits))
}

func TestFetcher_NotFoundIsFatal(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), WithRetries(3, time.Millisecond))

	_, err := f.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))
}

func TestFetcher_EmptyURL(t *testing.T) {
	_, err := NewFetcher(t.TempDir()).Fetch(context.Background(), "")
	assert.Error(t, err)
}

func TestFetcher_ErrorsHideFeedToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	feed := srv.URL + "/cal.ics?token=SECRET"
	srv.Close()

	f := NewFetcher(t.TempDir(), WithRetries(1, time.Millisecond))

	_, err := f.Fetch(context.Background(), feed)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "SECRET")
	assert.Contains(t, err.Error(), "/...(redacted)")

	_, err = f.Fetch(context.Background(), "http://exa mple.com/cal.ics?token=SECRET")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "SECRET")
}

func TestFetcher_BodyLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(crlf(testFeed))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir())
	f.maxBody = 64

	_, err := f.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "feed exceeds 64 bytes")

	f.maxBody = int64(len(crlf(testFeed)))
	res, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, crlf(testFeed), res.Body, "a body of exactly the limit is accepted")
}

func TestRedactURL(t *testing.T) {
	tests := map[string]string{
		"https://example.com/path/private.ics?token=abcd": "https://example.com/...(redacted)",
		"http://host:8080?x=1":                            "http://host:8080/...(redacted)",
		"https://user:pw@example.com/cal.ics":             "https://example.com/...(redacted)",
		"not a url":                                       "ics://...(redacted)",
		"http://exa mple.com/x":                           "ics://...(redacted)",
	}
	for in, want := range tests {
		assert.Equal(t, want, RedactURL(in), in)
	}
}

func TestClient_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(crlf(testFeed))
	}))
	defer srv.Close()

	loc := berlin(t)
	c := NewClient(NewFetcher(t.TempDir()), 0)
	w := model.Window{
		Start: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC),
	}

	events, err := c.Fetch(context.Background(), srv.URL, w, loc)
	require.NoError(t, err)
	require.Len(t, events, 1, "the January holiday lies outside the window")
	assert.Equal(t, "A1", events[0].UID)
	assert.False(t, events[0].IsRecurring)
}

func TestClient_FetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(NewFetcher(t.TempDir()), 0)
	_, err := c.Fetch(context.Background(), srv.URL, model.NewWindow(time.Now(), 1, 1), time.UTC)
	assert.Error(t, err)
}
