package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hazyhaar/adwatch/dbopen"
)

// InsertScanRun records one scan attempt.
func (s *Store) InsertScanRun(ctx context.Context, r *ScanRun) error {
	_, err := dbopen.Exec(ctx, s.DB,
		`INSERT INTO scan_runs (id, search_id, status, error_message, checked, notified,
		watermark_id, duration_ms, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SearchID, r.Status, r.ErrorMessage, r.Checked, r.Notified,
		r.Watermark.nullString(), r.DurationMs, r.StartedAt,
	)
	return err
}

// ListScanRuns returns the most recent runs of a search, newest first.
func (s *Store) ListScanRuns(ctx context.Context, searchID int64, limit int) ([]*ScanRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, search_id, status, error_message, checked, notified, watermark_id,
		duration_ms, started_at
		FROM scan_runs WHERE search_id = ? ORDER BY started_at DESC, rowid DESC LIMIT ?`,
		searchID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ScanRun
	for rows.Next() {
		var r ScanRun
		var wm sql.NullString
		if err := rows.Scan(&r.ID, &r.SearchID, &r.Status, &r.ErrorMessage, &r.Checked,
			&r.Notified, &wm, &r.DurationMs, &r.StartedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Watermark = watermarkFrom(wm)
		out = append(out, &r)
	}
	return out, rows.Err()
}
