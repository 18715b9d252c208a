// CLAUDE:SUMMARY Incremental scan of one search: walk index newest-first, stop at watermark, match details, collect notifications.
// Package scan runs one search against its forum index page.
//
// The engine decides what to notify and what the next watermark is. It never
// writes to the store and never sends anything; the scheduler does both.
package scan

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/adwatch/adwatch/internal/forum"
	"github.com/hazyhaar/adwatch/adwatch/internal/match"
	"github.com/hazyhaar/adwatch/adwatch/internal/store"
)

// Fetcher returns the raw payload of a URL (the response cache).
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// DetailParser turns a topic page into a forum.Detail.
type DetailParser interface {
	ParseDetail(payload []byte) forum.Detail
}

// Notification is one listing to deliver to the search owner.
type Notification struct {
	SearchID int64  `json:"search_id"`
	OwnerID  string `json:"owner_id"`
	URL      string `json:"url"`
	PhotoURL string `json:"photo_url,omitempty"`
}

// Caption is the message text sent with or without a photo.
func (n Notification) Caption() string {
	return fmt.Sprintf("%s search ID %d", n.URL, n.SearchID)
}

// Result is the outcome of one scan.
type Result struct {
	// Watermark is the value to persist. Unchanged when the page is empty.
	Watermark     store.Watermark `json:"watermark"`
	Notifications []Notification  `json:"notifications"`
	Listings      int             `json:"listings"`      // rows on the index page
	Checked       int             `json:"checked"`       // rows evaluated before stopping
	DetailErrors  int             `json:"detail_errors"` // detail fetches that failed
	CaughtUp      bool            `json:"caught_up"`     // the old watermark was met
}

// Engine scans searches.
type Engine struct {
	fetcher      Fetcher
	parser       DetailParser
	logger       *slog.Logger
	carryForward bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithCarryForward controls what happens when a listing's detail page cannot
// be fetched or is not a for-sale ad. When true (default) the price and text
// of the previous for-sale listing are reused for matching; when false the
// listing is skipped.
func WithCarryForward(on bool) Option { return func(e *Engine) { e.carryForward = on } }

// New creates an Engine.
func New(f Fetcher, p DetailParser, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{fetcher: f, parser: p, logger: logger, carryForward: true}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Run scans one search. An index fetch failure is returned as an error and
// the caller must keep the current watermark. Detail failures are logged and
// absorbed.
func (e *Engine) Run(ctx context.Context, s *store.Search) (*Result, error) {
	log := e.logger.With("search_id", s.ID, "url", s.SourceURL)

	payload, err := e.fetcher.Fetch(ctx, s.SourceURL)
	if err != nil {
		return nil, fmt.Errorf("scan: fetch index: %w", err)
	}

	summaries := forum.ParseIndex(payload)
	res := &Result{Watermark: s.Watermark, Listings: len(summaries)}
	if len(summaries) == 0 {
		log.Info("scan: no listings found")
		return res, nil
	}
	first := summaries[0].ID

	var (
		price int
		body  string
	)
	for i, sum := range summaries {
		if s.Watermark.Is(sum.ID) {
			log.Debug("scan: met last known listing", "position", i+1, "listing_id", sum.ID)
			res.CaughtUp = true
			break
		}
		res.Checked++

		listingURL := forum.Resolve(s.SourceURL, sum.URL)
		detail, fetched := e.detail(ctx, log, listingURL)
		if !fetched {
			res.DetailErrors++
		}

		switch {
		case fetched && detail.ForSale:
			price, body = detail.Price, detail.Body
		case !e.carryForward:
			log.Debug("scan: no fresh content, skipping", "listing_id", sum.ID)
			continue
		}

		if !match.Evaluate(s.Keyword, price, s.MaxPrice, body) {
			continue
		}

		n := Notification{SearchID: s.ID, OwnerID: s.OwnerID, URL: listingURL}
		if fetched {
			n.PhotoURL = detail.PhotoURL
		}
		log.Info("scan: match", "listing_id", sum.ID, "price", price)
		res.Notifications = append(res.Notifications, n)
	}

	if !res.CaughtUp {
		log.Debug("scan: checked all listings on page", "checked", res.Checked)
	}
	res.Watermark = store.WatermarkAt(first)
	return res, nil
}

// detail fetches and parses a topic page. It reports false when the page
// could not be fetched.
func (e *Engine) detail(ctx context.Context, log *slog.Logger, url string) (forum.Detail, bool) {
	payload, err := e.fetcher.Fetch(ctx, url)
	if err != nil {
		log.Warn("scan: fetch listing", "listing_url", url, "error", err)
		return forum.Detail{}, false
	}
	return e.parser.ParseDetail(payload), true
}

// Latest returns the id of the newest listing on an index page, or an unset
// watermark when the page has no listings. Used to seed new searches so they
// only report listings posted after registration.
func (e *Engine) Latest(ctx context.Context, indexURL string) (store.Watermark, error) {
	payload, err := e.fetcher.Fetch(ctx, indexURL)
	if err != nil {
		return store.Watermark{}, fmt.Errorf("scan: fetch index: %w", err)
	}
	summaries := forum.ParseIndex(payload)
	if len(summaries) == 0 {
		return store.Watermark{}, nil
	}
	return store.WatermarkAt(summaries[0].ID), nil
}
