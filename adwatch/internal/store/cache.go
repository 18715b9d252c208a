// CLAUDE:SUMMARY response_cache rows: lookup by URL, in-place upsert, age-based eviction.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hazyhaar/adwatch/dbopen"
)

// GetCacheEntry returns the cached response for url, or nil, nil.
func (s *Store) GetCacheEntry(ctx context.Context, url string) (*CacheEntry, error) {
	var e CacheEntry
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, url, payload, fetched_at FROM response_cache WHERE url = ?`, url,
	).Scan(&e.ID, &e.URL, &e.Payload, &e.FetchedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan cache entry: %w", err)
	}
	return &e, nil
}

// PutCacheEntry stores payload for url. An existing row keeps its id and has
// payload and fetched_at replaced.
func (s *Store) PutCacheEntry(ctx context.Context, url string, payload []byte, fetchedAt int64) error {
	_, err := dbopen.Exec(ctx, s.DB,
		`INSERT INTO response_cache (url, payload, fetched_at) VALUES (?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET payload = excluded.payload, fetched_at = excluded.fetched_at`,
		url, payload, fetchedAt)
	return err
}

// EvictCacheBefore deletes entries fetched strictly before cutoff (unix ms)
// and returns how many were removed.
func (s *Store) EvictCacheBefore(ctx context.Context, cutoff int64) (int64, error) {
	res, err := dbopen.Exec(ctx, s.DB,
		`DELETE FROM response_cache WHERE fetched_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountCacheEntries returns the number of cached responses.
func (s *Store) CountCacheEntries(ctx context.Context) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM response_cache`).Scan(&n)
	return n, err
}
