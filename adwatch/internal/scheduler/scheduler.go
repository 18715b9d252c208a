// Package scheduler runs every registered search on a fixed interval.
//
// One tick: load all searches, scan each (bounded concurrency), deliver the
// notifications, persist the new watermark, record a scan run, then evict
// expired cache entries. A failing search is logged and skipped; it never
// stops the tick.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/adwatch/adwatch/internal/notify"
	"github.com/hazyhaar/adwatch/adwatch/internal/scan"
	"github.com/hazyhaar/adwatch/adwatch/internal/store"
	"github.com/hazyhaar/adwatch/idgen"
)

// Store is the persistence surface the scheduler needs.
type Store interface {
	ListAllSearches(ctx context.Context) ([]*store.Search, error)
	UpdateWatermark(ctx context.Context, searchID int64, wm store.Watermark) error
	InsertScanRun(ctx context.Context, r *store.ScanRun) error
}

// Scanner scans one search.
type Scanner interface {
	Run(ctx context.Context, s *store.Search) (*scan.Result, error)
}

// Evictor drops expired cache entries.
type Evictor interface {
	EvictOlderThan(ctx context.Context, threshold time.Duration) (int64, error)
}

// Recorder receives scan and delivery outcomes. *metrics.Metrics satisfies it.
type Recorder interface {
	Scan(outcome string, seconds float64, detailErrors int)
	Notification(outcome string)
}

// Config configures the scheduler.
type Config struct {
	// Interval between ticks. Default: 60s.
	Interval time.Duration `yaml:"interval"`
	// Concurrency is how many searches are scanned at once. Default: 1.
	Concurrency int `yaml:"concurrency"`
	// Retention is the cache eviction threshold applied after each tick.
	// Default: 24h.
	Retention time.Duration `yaml:"retention"`
}

func (c *Config) defaults() {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.Retention <= 0 {
		c.Retention = 24 * time.Hour
	}
}

// TickReport summarises one tick.
type TickReport struct {
	Searches int   `json:"searches"`
	Failed   int   `json:"failed"`
	Notified int   `json:"notified"` // notifications produced, delivered or not
	Evicted  int64 `json:"evicted"`
}

// Scheduler periodically scans all searches.
type Scheduler struct {
	store    Store
	scanner  Scanner
	evictor  Evictor
	notifier notify.Notifier
	recorder Recorder
	newID    idgen.Generator
	config   Config
	logger   *slog.Logger
	now      func() time.Time

	// ticking holds one token while a tick runs; ticks never overlap.
	ticking chan struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option { return func(s *Scheduler) { s.recorder = r } }

// WithIDGenerator sets the scan run id generator. Default: idgen.Default.
func WithIDGenerator(g idgen.Generator) Option { return func(s *Scheduler) { s.newID = g } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }

// New creates a Scheduler. evictor may be nil.
func New(st Store, sc Scanner, ev Evictor, n notify.Notifier, cfg Config, logger *slog.Logger, opts ...Option) *Scheduler {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		store:    st,
		scanner:  sc,
		evictor:  ev,
		notifier: n,
		recorder: nopRecorder{},
		newID:    idgen.Default,
		config:   cfg,
		logger:   logger,
		now:      time.Now,
		ticking:  make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run ticks on the configured interval. Blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	// Run once immediately on start.
	s.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick scans every search once, then evicts expired cache entries. A tick
// started while another is running (a manual scan during the periodic one)
// waits for it, then reads the watermarks it wrote. If ctx ends while
// waiting, Tick returns an empty report.
func (s *Scheduler) Tick(ctx context.Context) TickReport {
	var report TickReport

	select {
	case s.ticking <- struct{}{}:
		defer func() { <-s.ticking }()
	case <-ctx.Done():
		s.logger.Warn("scheduler: tick abandoned while waiting for running tick", "error", ctx.Err())
		return report
	}

	searches, err := s.store.ListAllSearches(ctx)
	if err != nil {
		s.logger.Error("scheduler: list searches", "error", err)
		return report
	}
	report.Searches = len(searches)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Concurrency)
	for _, search := range searches {
		g.Go(func() error {
			res, err := s.scanOne(gctx, search)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed++
				return nil
			}
			report.Notified += len(res.Notifications)
			return nil
		})
	}
	g.Wait()

	if s.evictor != nil && ctx.Err() == nil {
		n, err := s.evictor.EvictOlderThan(ctx, s.config.Retention)
		if err != nil {
			s.logger.Warn("scheduler: evict cache", "error", err)
		}
		report.Evicted = n
	}

	s.logger.Info("scheduler: tick done",
		"searches", report.Searches, "failed", report.Failed,
		"notified", report.Notified, "evicted", report.Evicted)
	return report
}

// scanOne scans a single search end to end: deliver its notifications,
// persist the new watermark and record the run. On a scan error the
// watermark is left untouched and the error is returned after being
// recorded.
func (s *Scheduler) scanOne(ctx context.Context, search *store.Search) (*scan.Result, error) {
	start := s.now()
	log := s.logger.With("search_id", search.ID, "owner_id", search.OwnerID)

	run := &store.ScanRun{
		ID:        s.newID(),
		SearchID:  search.ID,
		StartedAt: start.UnixMilli(),
	}

	res, err := s.scanner.Run(ctx, search)
	if err != nil {
		log.Warn("scheduler: scan failed", "url", search.SourceURL, "error", err)
		run.Status = store.RunError
		run.ErrorMessage = err.Error()
		run.Watermark = search.Watermark
		s.finish(ctx, log, run, start, 0)
		s.recorder.Scan(store.RunError, s.now().Sub(start).Seconds(), 0)
		return nil, err
	}

	delivered := s.deliver(ctx, log, res.Notifications)

	if res.Watermark != search.Watermark {
		if err := s.store.UpdateWatermark(ctx, search.ID, res.Watermark); err != nil {
			log.Error("scheduler: update watermark", "watermark", res.Watermark.String(), "error", err)
		} else {
			search.Watermark = res.Watermark
		}
	}

	run.Status = store.RunOK
	run.Checked = res.Checked
	run.Notified = delivered
	run.Watermark = res.Watermark
	s.finish(ctx, log, run, start, delivered)
	s.recorder.Scan(store.RunOK, s.now().Sub(start).Seconds(), res.DetailErrors)
	return res, nil
}

// deliver sends notifications in order and returns how many went out.
// Delivery failures never block the watermark.
func (s *Scheduler) deliver(ctx context.Context, log *slog.Logger, ns []scan.Notification) int {
	sent := 0
	for _, n := range ns {
		err := s.notifier.Send(ctx, notify.Message{
			Recipient: n.OwnerID,
			Text:      n.Caption(),
			PhotoURL:  n.PhotoURL,
		})
		outcome := notify.Outcome(err)
		s.recorder.Notification(outcome)
		switch outcome {
		case "sent":
			sent++
		case "unreachable":
			log.Info("scheduler: recipient unreachable, skipping", "url", n.URL)
		default:
			log.Warn("scheduler: deliver notification", "url", n.URL, "outcome", outcome, "error", err)
		}
	}
	return sent
}

func (s *Scheduler) finish(ctx context.Context, log *slog.Logger, run *store.ScanRun, start time.Time, delivered int) {
	run.DurationMs = s.now().Sub(start).Milliseconds()
	if err := s.store.InsertScanRun(ctx, run); err != nil {
		log.Warn("scheduler: record scan run", "error", err)
		return
	}
	log.Debug("scheduler: scan recorded", "run_id", run.ID, "status", run.Status, "checked", run.Checked, "notified", delivered)
}

type nopRecorder struct{}

func (nopRecorder) Scan(string, float64, int) {}
func (nopRecorder) Notification(string)       {}
