// CLAUDE:SUMMARY Entry point for the adwatch service: config, SQLite, scheduler, chi API, MCP over HTTP, Prometheus.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/adwatch/adwatch"
	"github.com/hazyhaar/adwatch/dbopen"
)

func main() {
	logLevel := env("LOG_LEVEL", "info")

	// Logging.
	var lvl slog.Level
	switch logLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	cfg, err := loadConfig()
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := dbopen.Open(cfg.DBPath, dbopen.WithMkdirAll())
	if err != nil {
		slog.Error("open db", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	var notifier adwatch.Notifier = &adwatch.LogNotifier{Logger: logger}
	if cfg.Telegram.Token != "" {
		notifier, err = adwatch.NewTelegramNotifier(cfg.Telegram)
		if err != nil {
			slog.Error("telegram", "error", err)
			os.Exit(1)
		}
	} else {
		slog.Warn("TELEGRAM_TOKEN not set, notifications are only logged")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svc, err := adwatch.New(db, cfg, logger, adwatch.WithNotifier(notifier), adwatch.WithMetrics(reg))
	if err != nil {
		slog.Error("adwatch service", "error", err)
		os.Exit(1)
	}

	mcpSrv := mcp.NewServer(&mcp.Implementation{Name: "adwatch", Version: "1.0.0"}, nil)
	svc.RegisterMCP(mcpSrv)
	mcpHandler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return mcpSrv }, nil)

	router := newRouter(svc, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), mcpHandler, logger)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start scheduler.
	go svc.Run(ctx)

	go func() {
		slog.Info("http listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown", "error", err)
	}
}

// loadConfig reads CONFIG_FILE when set, then applies environment overrides.
func loadConfig() (*adwatch.Config, error) {
	cfg := &adwatch.Config{}
	if path := env("CONFIG_FILE", ""); path != "" {
		var err error
		cfg, err = adwatch.LoadConfigFile(path)
		if err != nil {
			return nil, err
		}
	}
	cfg.DBPath = env("DB_PATH", cfg.DBPath)
	cfg.HTTPAddr = env("HTTP_ADDR", cfg.HTTPAddr)
	cfg.Telegram.Token = env("TELEGRAM_TOKEN", cfg.Telegram.Token)
	if v := env("SCAN_INTERVAL", ""); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, errors.New("SCAN_INTERVAL: " + err.Error())
		}
		cfg.Scheduler.Interval = d
	}
	if v := env("ALLOWED_URLS", ""); v != "" {
		cfg.AllowedURLs = strings.Split(v, ",")
	}
	return cfg, nil
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
