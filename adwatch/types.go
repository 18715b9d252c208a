// CLAUDE:SUMMARY Re-exports store and scan types as the adwatch public API.
// Package adwatch watches classifieds forum index pages and notifies search
// owners when a new listing matches their keyword expression and price
// ceiling.
//
// Searches, their watermarks, scan history and the response cache live in one
// SQLite database. The scheduler scans every search on an interval; the
// registry is exposed over HTTP and MCP.
package adwatch

import (
	"github.com/hazyhaar/adwatch/adwatch/internal/notify"
	"github.com/hazyhaar/adwatch/adwatch/internal/scan"
	"github.com/hazyhaar/adwatch/adwatch/internal/scheduler"
	"github.com/hazyhaar/adwatch/adwatch/internal/store"
)

// Re-export types for the public API.
type (
	Search       = store.Search
	ScanRun      = store.ScanRun
	Watermark    = store.Watermark
	Notification = scan.Notification
	TickReport   = scheduler.TickReport

	Notifier       = notify.Notifier
	Message        = notify.Message
	TelegramConfig = notify.TelegramConfig
	LogNotifier    = notify.Log
)

// NewTelegramNotifier returns a Notifier posting to the Telegram Bot API.
func NewTelegramNotifier(cfg TelegramConfig) (Notifier, error) {
	t, err := notify.NewTelegram(cfg)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// SearchView is a Search as listed to its owner, with the forum slug.
type SearchView struct {
	*Search
	Forum string `json:"forum"`
}

func views(searches []*Search) []SearchView {
	out := make([]SearchView, 0, len(searches))
	for _, s := range searches {
		out = append(out, SearchView{Search: s, Forum: s.Forum()})
	}
	return out
}
