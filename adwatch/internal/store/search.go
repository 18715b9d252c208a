// CLAUDE:SUMMARY Search CRUD, owner registration and idempotent watermark updates.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/adwatch/dbopen"
)

const searchColumns = `id, owner_id, source_url, keyword, max_price, watermark_id, created_at, updated_at`

// InsertSearch registers the owner if needed and inserts the search.
// ID, CreatedAt and UpdatedAt are filled in on success.
func (s *Store) InsertSearch(ctx context.Context, src *Search) error {
	now := time.Now().UnixMilli()
	if src.CreatedAt == 0 {
		src.CreatedAt = now
	}
	src.UpdatedAt = now

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO owners (owner_id, created_at) VALUES (?, ?)
		ON CONFLICT(owner_id) DO NOTHING`, src.OwnerID, now); err != nil {
		return fmt.Errorf("insert owner: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO searches (owner_id, source_url, keyword, max_price, watermark_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		src.OwnerID, src.SourceURL, src.Keyword, src.MaxPrice, src.Watermark.nullString(),
		src.CreatedAt, src.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert search: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	src.ID = id
	return nil
}

// GetSearch retrieves a search by ID. Returns nil, nil when absent.
func (s *Store) GetSearch(ctx context.Context, id int64) (*Search, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+searchColumns+` FROM searches WHERE id = ?`, id)
	return scanSearch(row)
}

// ListSearches returns the searches of one owner, oldest first.
func (s *Store) ListSearches(ctx context.Context, ownerID string) ([]*Search, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+searchColumns+` FROM searches WHERE owner_id = ? ORDER BY id`, ownerID)
	if err != nil {
		return nil, err
	}
	return collectSearches(rows)
}

// ListAllSearches returns every stored search.
func (s *Store) ListAllSearches(ctx context.Context) ([]*Search, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+searchColumns+` FROM searches ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return collectSearches(rows)
}

// CountSearches returns the number of searches an owner has, or of all
// searches when ownerID is empty.
func (s *Store) CountSearches(ctx context.Context, ownerID string) (int, error) {
	var n int
	if ownerID == "" {
		err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM searches`).Scan(&n)
		return n, err
	}
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM searches WHERE owner_id = ?`, ownerID).Scan(&n)
	return n, err
}

// UpdateWatermark overwrites the watermark of a search. Calling it twice with
// the same value is a no-op.
func (s *Store) UpdateWatermark(ctx context.Context, searchID int64, wm Watermark) error {
	_, err := dbopen.Exec(ctx, s.DB,
		`UPDATE searches SET watermark_id = ?, updated_at = ? WHERE id = ?`,
		wm.nullString(), time.Now().UnixMilli(), searchID)
	return err
}

// DeleteSearch removes a search owned by ownerID. It reports whether a row
// was deleted; deleting someone else's search is not an error.
func (s *Store) DeleteSearch(ctx context.Context, ownerID string, id int64) (bool, error) {
	res, err := dbopen.Exec(ctx, s.DB,
		`DELETE FROM searches WHERE owner_id = ? AND id = ?`, ownerID, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSearch(row rowScanner) (*Search, error) {
	var s Search
	var wm sql.NullString
	err := row.Scan(&s.ID, &s.OwnerID, &s.SourceURL, &s.Keyword, &s.MaxPrice,
		&wm, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan search: %w", err)
	}
	s.Watermark = watermarkFrom(wm)
	return &s, nil
}

func collectSearches(rows *sql.Rows) ([]*Search, error) {
	defer rows.Close()
	var out []*Search
	for rows.Next() {
		s, err := scanSearch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
