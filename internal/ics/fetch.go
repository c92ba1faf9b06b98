package ics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	appLog "calgrid/internal/log"
)

// Source is one subscribed calendar feed.
type Source struct {
	// ID tags every event imported from this feed; see store.ReplaceSource.
	ID   string
	Name string
	URL  string
	// Color is the default event color when a VEVENT carries none.
	Color string
}

// ErrFetch wraps feed download failures.
var ErrFetch = errors.New("ics: fetch failed")

// maxFeedBytes caps a single download.
const maxFeedBytes = 16 << 20

type FetchStatus string

const (
	FetchFresh       FetchStatus = "fresh"
	FetchNotModified FetchStatus = "not_modified"
	// FetchStale means the download failed and the cached body was served.
	FetchStale FetchStatus = "stale"
)

// FetchResult is the body to import for one source and where it came from.
type FetchResult struct {
	Source   Source
	Body     []byte
	Status   FetchStatus
	CachedAt time.Time
	// Err is the ErrFetch failure behind a stale result.
	Err error
}

func (r FetchResult) Stale() bool { return r.Status == FetchStale }

// Fetcher downloads feeds with conditional GETs and keeps the last good body
// of each one on disk, so an unreachable feed keeps its events.
type Fetcher struct {
	client *http.Client
	cache  feedCache
}

// NewFetcher creates cacheDir if needed. A nil client gets a 15s timeout.
func NewFetcher(cacheDir string, client *http.Client) (*Fetcher, error) {
	if cacheDir == "" {
		return nil, errors.New("ics: cache dir is required")
	}
	if err := os.MkdirAll(cacheDir, 0o700); err != nil {
		return nil, fmt.Errorf("ics: cache dir %s: %w", cacheDir, err)
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Fetcher{client: client, cache: feedCache{dir: cacheDir}}, nil
}

// FetchOne returns the current body of src. Download failures fall back to
// the cached body with Status FetchStale; without a cache they are returned
// wrapped in ErrFetch.
func (f *Fetcher) FetchOne(ctx context.Context, src Source) (FetchResult, error) {
	if src.URL == "" {
		return FetchResult{}, fmt.Errorf("%w: source %s has no url", ErrFetch, src.ID)
	}
	cached, haveCache := f.cache.load(src.URL)

	appLog.Debug("ics fetch start", "id", src.ID, "url", redactURL(src.URL), "cached", haveCache)
	next, notModified, err := f.download(ctx, src.URL, cached, haveCache)
	if err != nil {
		err = fmt.Errorf("%w: source %s: %w", ErrFetch, src.ID, err)
		if !haveCache {
			return FetchResult{}, err
		}
		appLog.Warn("ics fetch failed, serving cached feed",
			"id", src.ID,
			"url", redactURL(src.URL),
			"cached_at", cached.FetchedAt.Format(time.RFC3339),
			"err", err.Error(),
		)
		return FetchResult{Source: src, Body: cached.Body, Status: FetchStale, CachedAt: cached.FetchedAt, Err: err}, nil
	}

	if notModified {
		appLog.Info("ics feed not modified", "id", src.ID, "url", redactURL(src.URL))
		return FetchResult{Source: src, Body: cached.Body, Status: FetchNotModified, CachedAt: cached.FetchedAt}, nil
	}

	if err := f.cache.save(next); err != nil {
		appLog.Error("ics cache save failed", err, "id", src.ID, "url", redactURL(src.URL))
	}
	appLog.Info("ics feed downloaded", "id", src.ID, "url", redactURL(src.URL), "bytes", len(next.Body))
	return FetchResult{Source: src, Body: next.Body, Status: FetchFresh, CachedAt: next.FetchedAt}, nil
}

// download performs one GET, conditional on prev when conditional is set.
// A 304 reports notModified and returns no entry.
func (f *Fetcher) download(ctx context.Context, rawURL string, prev cachedFeed, conditional bool) (entry cachedFeed, notModified bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return cachedFeed{}, false, err
	}
	if conditional {
		if prev.ETag != "" {
			req.Header.Set("If-None-Match", prev.ETag)
		}
		if prev.LastModified != "" {
			req.Header.Set("If-Modified-Since", prev.LastModified)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return cachedFeed{}, false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes+1))
		if err != nil {
			return cachedFeed{}, false, err
		}
		if len(body) > maxFeedBytes {
			return cachedFeed{}, false, fmt.Errorf("feed exceeds %d bytes", maxFeedBytes)
		}
		return cachedFeed{
			URL:          rawURL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			FetchedAt:    time.Now().UTC(),
			Body:         body,
		}, false, nil
	case http.StatusNotModified:
		if !conditional {
			return cachedFeed{}, false, errors.New("304 without a cached body")
		}
		return cachedFeed{}, true, nil
	default:
		return cachedFeed{}, false, errors.New(resp.Status)
	}
}

// redactURL keeps only scheme and host; feed paths often carry tokens.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "ics://...(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/...(redacted)"
}
