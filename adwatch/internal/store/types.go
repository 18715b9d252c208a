// CLAUDE:SUMMARY Store data types: Search, Watermark, ScanRun, CacheEntry.
package store

import (
	"database/sql"
	"encoding/json"
	"strings"
)

// Watermark is the ID of the newest listing a search has already processed.
// The zero value means the search was never scanned (or the newest listing
// could not be determined) and every listing on the page is new.
type Watermark struct {
	id  string
	set bool
}

// WatermarkAt returns a watermark set to listing id.
func WatermarkAt(id string) Watermark {
	return Watermark{id: id, set: true}
}

// ID returns the listing id and whether the watermark is set.
func (w Watermark) ID() (string, bool) { return w.id, w.set }

// IsSet reports whether the watermark holds a listing id.
func (w Watermark) IsSet() bool { return w.set }

// Is reports whether the watermark is set to listing id.
func (w Watermark) Is(id string) bool { return w.set && w.id == id }

func (w Watermark) String() string {
	if !w.set {
		return "<unset>"
	}
	return w.id
}

// MarshalJSON encodes an unset watermark as null.
func (w Watermark) MarshalJSON() ([]byte, error) {
	if !w.set {
		return []byte("null"), nil
	}
	return json.Marshal(w.id)
}

// UnmarshalJSON accepts null or a string.
func (w *Watermark) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*w = Watermark{}
		return nil
	}
	var id string
	if err := json.Unmarshal(data, &id); err != nil {
		return err
	}
	*w = WatermarkAt(id)
	return nil
}

func (w Watermark) nullString() sql.NullString {
	return sql.NullString{String: w.id, Valid: w.set}
}

func watermarkFrom(ns sql.NullString) Watermark {
	if !ns.Valid {
		return Watermark{}
	}
	return WatermarkAt(ns.String)
}

// Search is a user's standing query over one forum index page.
type Search struct {
	ID        int64     `json:"id"`
	OwnerID   string    `json:"owner_id"`
	SourceURL string    `json:"source_url"`
	Keyword   string    `json:"keyword"`
	MaxPrice  int       `json:"max_price"`
	Watermark Watermark `json:"watermark"`
	CreatedAt int64     `json:"created_at"`
	UpdatedAt int64     `json:"updated_at"`
}

// Forum returns the forum slug of the source URL, i.e. the last non-empty
// path segment ("13-kiekot" for .../forum/13-kiekot/).
func (s *Search) Forum() string {
	parts := strings.Split(strings.TrimRight(s.SourceURL, "/"), "/")
	return parts[len(parts)-1]
}

// ScanRun is one scan attempt of a search.
type ScanRun struct {
	ID           string    `json:"id"`
	SearchID     int64     `json:"search_id"`
	Status       string    `json:"status"` // "ok" | "error"
	ErrorMessage string    `json:"error_message,omitempty"`
	Checked      int       `json:"checked"`
	Notified     int       `json:"notified"`
	Watermark    Watermark `json:"watermark"`
	DurationMs   int64     `json:"duration_ms"`
	StartedAt    int64     `json:"started_at"`
}

// Scan run statuses.
const (
	RunOK    = "ok"
	RunError = "error"
)

// CacheEntry is a stored raw HTTP response.
type CacheEntry struct {
	ID        int64
	URL       string
	Payload   []byte
	FetchedAt int64 // unix ms
}
