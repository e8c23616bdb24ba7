package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/sethvargo/go-retry"

	appLog "icsimport/internal/log"
)

const (
	defaultRetryBase = 500 * time.Millisecond
	maxBodyBytes     = 32 << 20
)

// FetchResult contains the outcome of fetching the ICS feed.
type FetchResult struct {
	URL       string
	Body      []byte // ICS payload (either freshly fetched or from cache)
	FromCache bool   // true if we reused cached body due to 304

	etag         string
	lastModified string
}

// cacheEntry holds HTTP cache metadata for a single ICS URL.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher fetches ICS feeds with HTTP caching (ETag / Last-Modified) backed
// by a disk cache. Transient failures (network errors, 5xx, 429) are retried
// with exponential backoff; anything else fails the fetch.
type Fetcher struct {
	client    *http.Client
	cacheDir  string
	userAgent string
	retries   uint64
	retryBase time.Duration
	maxBody   int64
}

// FetcherOption customises a Fetcher.
type FetcherOption func(*Fetcher)

// WithHTTPClient replaces the default client (15s timeout).
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *Fetcher) { f.client = c }
}

// WithUserAgent sets the User-Agent header sent to the feed host.
func WithUserAgent(ua string) FetcherOption {
	return func(f *Fetcher) { f.userAgent = ua }
}

// WithRetries sets how many additional attempts a transient failure gets,
// and the first backoff delay.
func WithRetries(n int, base time.Duration) FetcherOption {
	return func(f *Fetcher) {
		if n < 0 {
			n = 0
		}
		f.retries = uint64(n)
		if base > 0 {
			f.retryBase = base
		}
	}
}

// NewFetcher creates a new ICS Fetcher.
//
// cacheDir is the base directory where per-URL cache subdirectories and
// metadata will be stored. Example: "/var/lib/icsimport/ics-cache".
func NewFetcher(cacheDir string, opts ...FetcherOption) *Fetcher {
	if cacheDir == "" {
		// Caller should set this explicitly; we fallback to a relative dir
		// so that development runs without root permissions.
		cacheDir = "./var/ics-cache"
	}
	f := &Fetcher{
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		cacheDir:  cacheDir,
		retryBase: defaultRetryBase,
		maxBody:   maxBodyBytes,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch downloads rawURL, honoring ETag and Last-Modified.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (FetchResult, error) {
	if rawURL == "" {
		return FetchResult{}, errors.New("feed URL is empty")
	}

	cachePath, err := f.cachePathForURL(rawURL)
	if err != nil {
		return FetchResult{}, err
	}
	if err := os.MkdirAll(cachePath, 0o700); err != nil {
		return FetchResult{}, err
	}

	meta, _ := f.loadCacheMeta(cachePath)
	cachedBody, _ := f.loadCacheBody(cachePath)
	if len(cachedBody) == 0 {
		// Without a body a 304 would be useless.
		meta = cacheEntry{}
	}

	appLog.Info("ics fetch start", "url", redactURL(rawURL))

	var res FetchResult
	backoff := retry.WithMaxRetries(f.retries, retry.NewExponential(f.retryBase))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		r, err := f.fetchOnce(ctx, rawURL, meta, cachedBody)
		if err != nil {
			var te transientError
			if errors.As(err, &te) {
				appLog.Warn("ics fetch transient failure", "url", redactURL(rawURL), "err", err.Error())
				return retry.RetryableError(err)
			}
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return FetchResult{}, err
	}

	if !res.FromCache {
		newMeta := cacheEntry{
			URL:          rawURL,
			ETag:         res.etag,
			LastModified: res.lastModified,
		}
		if err := f.saveCache(cachePath, newMeta, res.Body); err != nil {
			// Log but still return the freshly fetched body.
			appLog.Error("ics cache save failed", err, "url", redactURL(rawURL))
		}
	}

	appLog.Info("ics fetch success", "url", redactURL(rawURL), "bytes", len(res.Body), "from_cache", res.FromCache)
	return res, nil
}

// transientError marks failures worth another attempt.
type transientError struct{ err error }

func (e transientError) Error() string { return e.err.Error() }
func (e transientError) Unwrap() error { return e.err }

// redactError strips the feed URL out of net/url errors, which quote it in
// full.
func redactError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		ue.URL = redactURL(ue.URL)
	}
	return err
}

func (f *Fetcher) fetchOnce(ctx context.Context, rawURL string, meta cacheEntry, cachedBody []byte) (FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return FetchResult{}, redactError(err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", "text/calendar, */*;q=0.5")

	// Conditional headers from cache metadata.
	if meta.ETag != "" {
		req.Header.Set("If-None-Match", meta.ETag)
	}
	if meta.LastModified != "" {
		req.Header.Set("If-Modified-Since", meta.LastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		err = redactError(err)
		if ctx.Err() != nil {
			return FetchResult{}, err
		}
		return FetchResult{}, transientError{err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
		if err != nil {
			return FetchResult{}, transientError{redactError(err)}
		}
		if int64(len(body)) > f.maxBody {
			return FetchResult{}, fmt.Errorf("feed exceeds %d bytes", f.maxBody)
		}
		return FetchResult{
			URL:          rawURL,
			Body:         body,
			etag:         resp.Header.Get("ETag"),
			lastModified: resp.Header.Get("Last-Modified"),
		}, nil

	case resp.StatusCode == http.StatusNotModified:
		if len(cachedBody) == 0 {
			return FetchResult{}, errors.New("received 304 Not Modified but no cached body available")
		}
		appLog.Info("ics fetch not modified; using cache", "url", redactURL(rawURL))
		return FetchResult{URL: rawURL, Body: cachedBody, FromCache: true}, nil

	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return FetchResult{}, transientError{fmt.Errorf("unexpected status: %s", resp.Status)}

	default:
		return FetchResult{}, fmt.Errorf("unexpected status: %s", resp.Status)
	}
}

func (f *Fetcher) cachePathForURL(rawURL string) (string, error) {
	if rawURL == "" {
		return "", errors.New("empty url")
	}
	sum := sha256.Sum256([]byte(rawURL))
	// Use first 16 hex chars as directory name.
	dir := hex.EncodeToString(sum[:8])
	return filepath.Join(f.cacheDir, dir), nil
}

func (f *Fetcher) loadCacheMeta(cachePath string) (cacheEntry, error) {
	var meta cacheEntry
	data, err := os.ReadFile(filepath.Join(cachePath, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheEntry{}, err
	}
	return meta, nil
}

func (f *Fetcher) loadCacheBody(cachePath string) ([]byte, error) {
	return os.ReadFile(filepath.Join(cachePath, "body.ics"))
}

func (f *Fetcher) saveCache(cachePath string, meta cacheEntry, body []byte) error {
	metaFile := filepath.Join(cachePath, "meta.json")
	bodyFile := filepath.Join(cachePath, "body.ics")

	// Write body first so meta never points at missing body.
	if err := os.WriteFile(bodyFile, body, 0o600); err != nil {
		return err
	}

	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(metaFile, data, 0o600)
}

// redactURL hides sensitive parts of an ICS URL for logging purposes. Only
// scheme and host survive; user info, path and query are dropped.
//
//	https://example.com/path/to/private.ics?token=abcd
//	-> https://example.com/...(redacted)
func redactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	parsed, err := url.Parse(u)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "ics:/" + redactedSuffix
	}
	return parsed.Scheme + "://" + parsed.Host + redactedSuffix
}

// RedactURL is redactURL for callers outside the package.
func RedactURL(u string) string {
	return redactURL(u)
}
