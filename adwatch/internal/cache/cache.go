// CLAUDE:SUMMARY Persistent URL-keyed response cache: absent/fresh/stale lookup, refetch-and-replace, age-based eviction.
// Package cache memoizes raw HTTP responses by URL in the adwatch store.
//
// There is no in-memory layer: every lookup is a store round trip so that
// several processes pointed at the same database share one cache.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/adwatch/adwatch/internal/store"
	"golang.org/x/sync/singleflight"
)

// DefaultFetchTimeout bounds one shared lookup, independent of the callers'
// contexts.
const DefaultFetchTimeout = time.Minute

// Default windows.
const (
	DefaultFreshness = 5 * time.Minute
	DefaultRetention = 24 * time.Hour
)

// Store is the persistence the cache needs.
type Store interface {
	GetCacheEntry(ctx context.Context, url string) (*store.CacheEntry, error)
	PutCacheEntry(ctx context.Context, url string, payload []byte, fetchedAt int64) error
	EvictCacheBefore(ctx context.Context, cutoff int64) (int64, error)
}

// Fetcher performs the live request on a miss.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Observer is notified of every lookup outcome. May be nil.
type Observer interface {
	CacheLookup(state string)
}

// state is the outcome of classifying a stored entry.
type state int

const (
	stateAbsent state = iota
	stateFresh
	stateStale
)

func (s state) String() string {
	switch s {
	case stateFresh:
		return "fresh"
	case stateStale:
		return "stale"
	default:
		return "absent"
	}
}

// classify tells whether e can be served at now.
func classify(e *store.CacheEntry, now time.Time, freshness time.Duration) state {
	if e == nil {
		return stateAbsent
	}
	if now.Sub(time.UnixMilli(e.FetchedAt)) <= freshness {
		return stateFresh
	}
	return stateStale
}

// Cache is the persistent response cache.
type Cache struct {
	store     Store
	fetcher   Fetcher
	freshness time.Duration
	now       func() time.Time
	logger    *slog.Logger
	observer  Observer
	timeout   time.Duration
	group     singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithFreshness overrides the freshness window (default 5 minutes).
func WithFreshness(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.freshness = d
		}
	}
}

// WithFetchTimeout bounds a shared lookup (default 1 minute).
func WithFetchTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option { return func(c *Cache) { c.now = now } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *Cache) { c.logger = l } }

// WithObserver sets the lookup observer (metrics).
func WithObserver(o Observer) Option { return func(c *Cache) { c.observer = o } }

// New creates a Cache over st that fills misses with f.
func New(st Store, f Fetcher, opts ...Option) *Cache {
	c := &Cache{
		store:     st,
		fetcher:   f,
		freshness: DefaultFreshness,
		timeout:   DefaultFetchTimeout,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Fetch returns the payload for url, from the store when fresh and from the
// network otherwise. A failed live fetch is returned as is; nothing is
// written and a stale row stays untouched.
//
// Concurrent calls for the same URL share one lookup, so two scans never race
// to write the same row. The shared lookup does not inherit any caller's
// cancellation; a caller whose ctx ends stops waiting with ctx.Err() and the
// others still get the result.
func (c *Cache) Fetch(ctx context.Context, url string) ([]byte, error) {
	ch := c.group.DoChan(url, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return c.fetch(fctx, url)
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.([]byte), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cache) fetch(ctx context.Context, url string) ([]byte, error) {
	entry, err := c.store.GetCacheEntry(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("cache: lookup %s: %w", url, err)
	}

	st := classify(entry, c.now(), c.freshness)
	if c.observer != nil {
		c.observer.CacheLookup(st.String())
	}

	switch st {
	case stateFresh:
		c.logger.Debug("cache: hit", "url", url)
		return entry.Payload, nil
	case stateStale:
		c.logger.Debug("cache: refresh", "url", url)
	default:
		c.logger.Debug("cache: miss", "url", url)
	}

	payload, err := c.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	if err := c.store.PutCacheEntry(ctx, url, payload, c.now().UnixMilli()); err != nil {
		return nil, fmt.Errorf("cache: store %s: %w", url, err)
	}
	return payload, nil
}

// EvictOlderThan removes entries fetched more than threshold ago and returns
// how many were removed.
func (c *Cache) EvictOlderThan(ctx context.Context, threshold time.Duration) (int64, error) {
	if threshold <= 0 {
		threshold = DefaultRetention
	}
	cutoff := c.now().Add(-threshold).UnixMilli()
	n, err := c.store.EvictCacheBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cache: evict: %w", err)
	}
	return n, nil
}
