package ics

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	appLog "familycal/internal/log"
	"familycal/internal/model"
)

// Subscription keeps the last decoded snapshot of a feed. Refresh is driven
// by the scheduler; Events serves the snapshot and only fetches when nothing
// has been loaded yet.
type Subscription struct {
	feed    Feed
	fetcher *Fetcher
	opts    DecodeOptions

	mu       sync.RWMutex
	events   []model.BaseEvent
	loadedAt time.Time
}

// NewSubscription decodes feed with opts; opts.Source defaults to the feed id.
func NewSubscription(feed Feed, fetcher *Fetcher, opts DecodeOptions) *Subscription {
	if opts.Source == "" {
		opts.Source = feed.ID
	}
	if opts.DefaultOwner == "" {
		opts.DefaultOwner = feed.Name
	}
	return &Subscription{feed: feed, fetcher: fetcher, opts: opts}
}

func (s *Subscription) Name() string {
	if s.feed.Name != "" {
		return s.feed.Name
	}
	return s.feed.ID
}

// Refresh fetches and decodes the feed, replacing the snapshot on success.
func (s *Subscription) Refresh(ctx context.Context) error {
	res, err := s.fetcher.Fetch(ctx, s.feed)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", s.feed.ID, err)
	}
	events, err := Decode(bytes.NewReader(res.Body), s.opts)
	if err != nil {
		return fmt.Errorf("decode %s: %w", s.feed.ID, err)
	}

	s.mu.Lock()
	s.events = events
	s.loadedAt = time.Now()
	s.mu.Unlock()

	appLog.Info("subscription refreshed", "feed", s.feed.ID, "events", len(events), "from_cache", res.FromCache)
	return nil
}

// Events returns a copy of the current snapshot.
func (s *Subscription) Events(ctx context.Context) ([]model.BaseEvent, error) {
	s.mu.RLock()
	loaded := !s.loadedAt.IsZero()
	s.mu.RUnlock()

	if !loaded {
		if err := s.Refresh(ctx); err != nil {
			return nil, err
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.BaseEvent, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Clone()
	}
	return out, nil
}

// RefreshAll refreshes every subscription, logging failures. It returns the
// number that failed.
func RefreshAll(ctx context.Context, subs []*Subscription) int {
	failed := 0
	for _, s := range subs {
		if err := s.Refresh(ctx); err != nil {
			failed++
			appLog.Error("subscription refresh failed", err, "feed", s.feed.ID, "url", redactURL(s.feed.URL))
		}
	}
	return failed
}
