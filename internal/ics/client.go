package ics

import (
	"context"
	"fmt"
	"time"

	appLog "icsimport/internal/log"
	"icsimport/internal/model"
)

// Client is the feed collaborator of the importer: it downloads a feed,
// parses it and expands recurrences into the requested window.
type Client struct {
	fetcher *Fetcher
	maxOcc  int
}

// NewClient wraps f. maxOccurrences is the per-series expansion safety cap;
// zero uses the package default.
func NewClient(f *Fetcher, maxOccurrences int) *Client {
	return &Client{fetcher: f, maxOcc: maxOccurrences}
}

// Fetch returns the events of url intersecting w, in feed order. Floating
// times are interpreted in loc.
func (c *Client) Fetch(ctx context.Context, url string, w model.Window, loc *time.Location) ([]model.Event, error) {
	res, err := c.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("error fetching feed: %w", err)
	}

	parsed, err := ParseICS(res.Body, loc)
	if err != nil {
		return nil, fmt.Errorf("error parsing feed: %w", err)
	}

	expanded, err := ExpandOccurrences(parsed, ExpandConfig{
		Window:                 w,
		MaxOccurrencesPerEvent: c.maxOcc,
	})
	if err != nil {
		return nil, fmt.Errorf("error expanding feed: %w", err)
	}

	appLog.Info("ics feed ready",
		"url", redactURL(url),
		"vevents", len(parsed),
		"events", len(expanded.Events),
		"truncated_uids", len(expanded.TruncatedEvents),
	)
	return expanded.Events, nil
}
