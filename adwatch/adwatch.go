// CLAUDE:SUMMARY Service orchestrator: wires store, cache, parser, engine, notifier and scheduler; registry methods.
package adwatch

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hazyhaar/adwatch/adwatch/internal/cache"
	"github.com/hazyhaar/adwatch/adwatch/internal/fetch"
	"github.com/hazyhaar/adwatch/adwatch/internal/forum"
	"github.com/hazyhaar/adwatch/adwatch/internal/metrics"
	"github.com/hazyhaar/adwatch/adwatch/internal/notify"
	"github.com/hazyhaar/adwatch/adwatch/internal/scan"
	"github.com/hazyhaar/adwatch/adwatch/internal/scheduler"
	"github.com/hazyhaar/adwatch/adwatch/internal/store"
	"github.com/hazyhaar/adwatch/horosafe"
	"github.com/hazyhaar/adwatch/idgen"
)

// Service is the adwatch orchestrator.
type Service struct {
	store     *store.Store
	cache     *cache.Cache
	engine    *scan.Engine
	scheduler *scheduler.Scheduler
	allow     *horosafe.AllowList
	notifier  notify.Notifier
	metrics   *metrics.Metrics
	registry  prometheus.Registerer
	newID     idgen.Generator
	logger    *slog.Logger
	config    *Config
}

// ServiceOption configures a Service during creation.
type ServiceOption func(*Service)

// WithNotifier sets the notifier. Default: a Log notifier.
func WithNotifier(n notify.Notifier) ServiceOption {
	return func(s *Service) { s.notifier = n }
}

// WithMetrics registers the service's collectors on reg.
func WithMetrics(reg prometheus.Registerer) ServiceOption {
	return func(s *Service) { s.registry = reg }
}

// WithIDGenerator sets the scan run id generator.
func WithIDGenerator(g idgen.Generator) ServiceOption {
	return func(s *Service) { s.newID = g }
}

// New creates an adwatch Service on an opened database. The schema is applied
// if missing.
func New(db *sql.DB, cfg *Config, logger *slog.Logger, opts ...ServiceOption) (*Service, error) {
	if cfg == nil {
		cfg = defaultConfig()
	}
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}

	if err := store.ApplySchema(db); err != nil {
		return nil, fmt.Errorf("adwatch: apply schema: %w", err)
	}
	allow, err := horosafe.NewAllowList(cfg.AllowedURLs)
	if err != nil {
		return nil, fmt.Errorf("adwatch: %w", err)
	}
	parser, err := forum.NewParser(cfg.Labels)
	if err != nil {
		return nil, fmt.Errorf("adwatch: %w", err)
	}

	svc := &Service{
		store:  store.NewStore(db),
		allow:  allow,
		newID:  idgen.Default,
		logger: logger,
		config: cfg,
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.notifier == nil {
		svc.notifier = &notify.Log{Logger: logger}
	}
	if svc.registry != nil {
		svc.metrics = metrics.New(svc.registry)
		svc.registry.MustRegister(metrics.NewStoreCollector(svc.store, logger))
	}

	svc.cache = cache.New(svc.store, fetch.New(cfg.Fetch),
		cache.WithFreshness(cfg.Cache.Freshness),
		cache.WithLogger(logger),
		cache.WithObserver(svc.metrics),
	)
	svc.engine = scan.New(svc.cache, parser, logger, scan.WithCarryForward(*cfg.Scan.CarryForward))
	svc.scheduler = scheduler.New(svc.store, svc.engine, svc.cache, svc.notifier, cfg.Scheduler, logger,
		scheduler.WithRecorder(svc.metrics),
		scheduler.WithIDGenerator(svc.newID),
	)

	if allow.Len() == 0 {
		logger.Warn("adwatch: allow-list is empty, no search can be registered")
	}
	return svc, nil
}

// AddSearch registers a search for owner. The watermark is seeded with the
// newest listing on the page so only later listings are reported; if the
// page cannot be read the watermark stays unset.
func (svc *Service) AddSearch(ctx context.Context, owner, url, keyword string, maxPrice int) (*Search, error) {
	canonical, err := validateSearchInput(svc.allow, owner, url, keyword, maxPrice)
	if err != nil {
		return nil, err
	}

	n, err := svc.store.CountSearches(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("adwatch: count searches: %w", err)
	}
	if n >= svc.config.MaxSearchesPerOwner {
		return nil, fmt.Errorf("%w: %d searches per owner", ErrQuotaExceeded, svc.config.MaxSearchesPerOwner)
	}

	wm, err := svc.engine.Latest(ctx, canonical)
	if err != nil {
		svc.logger.Warn("adwatch: seed watermark", "url", canonical, "error", err)
		wm = store.Watermark{}
	}

	s := &Search{
		OwnerID:   owner,
		SourceURL: canonical,
		Keyword:   keyword,
		MaxPrice:  maxPrice,
		Watermark: wm,
	}
	if err := svc.store.InsertSearch(ctx, s); err != nil {
		return nil, fmt.Errorf("adwatch: insert search: %w", err)
	}
	svc.logger.Info("adwatch: search added", "search_id", s.ID, "owner_id", owner, "url", canonical, "watermark", wm.String())
	return s, nil
}

// ListSearches returns an owner's searches with their forum slug.
func (svc *Service) ListSearches(ctx context.Context, owner string) ([]SearchView, error) {
	searches, err := svc.store.ListSearches(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("adwatch: list searches: %w", err)
	}
	return views(searches), nil
}

// DeleteSearch removes one of owner's searches. Deleting a missing search or
// someone else's returns ErrNotFound.
func (svc *Service) DeleteSearch(ctx context.Context, owner string, id int64) error {
	deleted, err := svc.store.DeleteSearch(ctx, owner, id)
	if err != nil {
		return fmt.Errorf("adwatch: delete search: %w", err)
	}
	if !deleted {
		return ErrNotFound
	}
	svc.logger.Info("adwatch: search deleted", "search_id", id, "owner_id", owner)
	return nil
}

// ScanHistory returns the latest scan runs of a search, newest first.
func (svc *Service) ScanHistory(ctx context.Context, id int64, limit int) ([]*ScanRun, error) {
	s, err := svc.store.GetSearch(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("adwatch: get search: %w", err)
	}
	if s == nil {
		return nil, ErrNotFound
	}
	return svc.store.ListScanRuns(ctx, id, limit)
}

// ScanNow runs one scheduler tick synchronously.
func (svc *Service) ScanNow(ctx context.Context) TickReport {
	return svc.scheduler.Tick(ctx)
}

// Run starts the scheduler. Blocks until ctx is cancelled.
func (svc *Service) Run(ctx context.Context) {
	svc.logger.Info("adwatch: scheduler started",
		"interval", svc.config.Scheduler.Interval.String(),
		"concurrency", svc.config.Scheduler.Concurrency,
		"allowed_urls", svc.allow.Len())
	svc.scheduler.Run(ctx)
}

// AllowedURLs returns the forum pages searches can be registered on.
func (svc *Service) AllowedURLs() []string {
	return svc.allow.URLs()
}
