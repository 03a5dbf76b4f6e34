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

	appLog "familycal/internal/log"
)

// Feed is one subscribed ICS calendar, shown read-only.
type Feed struct {
	ID   string
	Name string
	URL  string
}

// Result is the body of a feed, fresh or reused from the disk cache.
type Result struct {
	Feed      Feed
	Body      []byte
	FromCache bool
}

// cacheMeta is stored next to the cached body of each feed.
type cacheMeta struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	FetchedAt    time.Time `json:"fetched_at"`
}

// Fetcher downloads feeds with conditional requests and keeps the last good
// body on disk, so a feed that is briefly unreachable keeps showing.
type Fetcher struct {
	client   *http.Client
	cacheDir string
}

// NewFetcher returns a Fetcher caching under cacheDir. A nil client gets a
// 15 second timeout.
func NewFetcher(cacheDir string, client *http.Client) *Fetcher {
	if cacheDir == "" {
		cacheDir = "./var/ics-cache"
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Fetcher{client: client, cacheDir: cacheDir}
}

// Fetch downloads feed, honouring ETag / Last-Modified. On a network error
// or a non-2xx answer the cached body is returned if there is one.
func (f *Fetcher) Fetch(ctx context.Context, feed Feed) (Result, error) {
	if feed.URL == "" {
		return Result{}, errors.New("feed URL is empty")
	}

	dir := f.cachePath(feed.URL)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return Result{}, fmt.Errorf("create cache dir: %w", err)
	}
	meta, _ := readMeta(dir)
	cached, _ := os.ReadFile(filepath.Join(dir, "body.ics"))

	fallback := func(cause error) (Result, error) {
		if len(cached) == 0 {
			return Result{}, cause
		}
		appLog.Warn("ics fetch failed, serving cached body", "feed", feed.ID, "url", redactURL(feed.URL), "error", cause.Error())
		return Result{Feed: feed, Body: cached, FromCache: true}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return Result{}, err
	}
	if meta.ETag != "" {
		req.Header.Set("If-None-Match", meta.ETag)
	}
	if meta.LastModified != "" {
		req.Header.Set("If-Modified-Since", meta.LastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fallback(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		if len(cached) == 0 {
			return Result{}, errors.New("304 Not Modified without a cached body")
		}
		appLog.Debug("ics feed not modified", "feed", feed.ID)
		return Result{Feed: feed, Body: cached, FromCache: true}, nil

	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fallback(err)
		}
		meta := cacheMeta{
			URL:          feed.URL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			FetchedAt:    time.Now().UTC(),
		}
		if err := writeCache(dir, meta, body); err != nil {
			appLog.Error("ics cache save failed", err, "feed", feed.ID)
		}
		appLog.Info("ics feed fetched", "feed", feed.ID, "url", redactURL(feed.URL), "bytes", len(body))
		return Result{Feed: feed, Body: body}, nil

	default:
		return fallback(fmt.Errorf("unexpected status %s", resp.Status))
	}
}

func (f *Fetcher) cachePath(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func readMeta(dir string) (cacheMeta, error) {
	var meta cacheMeta
	data, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	if err != nil {
		return meta, err
	}
	err = json.Unmarshal(data, &meta)
	return meta, err
}

// writeCache stores the body before the metadata so metadata never refers
// to a missing body.
func writeCache(dir string, meta cacheMeta, body []byte) error {
	if err := os.WriteFile(filepath.Join(dir, "body.ics"), body, 0o600); err != nil {
		return err
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "meta.json"), data, 0o600)
}

// redactURL keeps only scheme and host; feed URLs often carry secret tokens.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "ics://...(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/...(redacted)"
}
