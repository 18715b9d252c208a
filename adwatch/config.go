package adwatch

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/adwatch/adwatch/internal/cache"
	fetchpkg "github.com/hazyhaar/adwatch/adwatch/internal/fetch"
	"github.com/hazyhaar/adwatch/adwatch/internal/forum"
	"github.com/hazyhaar/adwatch/adwatch/internal/notify"
	"github.com/hazyhaar/adwatch/adwatch/internal/scheduler"
)

// Config configures the adwatch service and its binary.
type Config struct {
	DBPath   string `yaml:"db_path"`
	HTTPAddr string `yaml:"http_addr"`

	// AllowedURLs are the forum index pages searches may watch.
	AllowedURLs []string `yaml:"allowed_urls"`
	// MaxSearchesPerOwner caps registrations per owner. Default: 50.
	MaxSearchesPerOwner int `yaml:"max_searches_per_owner"`

	Fetch     fetchpkg.Config       `yaml:"fetch"`
	Cache     CacheConfig           `yaml:"cache"`
	Scan      ScanConfig            `yaml:"scan"`
	Labels    forum.Labels          `yaml:"labels"`
	Scheduler scheduler.Config      `yaml:"scheduler"`
	Telegram  notify.TelegramConfig `yaml:"telegram"`
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	// Freshness is how long a stored page is served without refetching.
	// Default: 5m.
	Freshness time.Duration `yaml:"freshness"`
}

// ScanConfig controls the scan engine.
type ScanConfig struct {
	// CarryForward reuses the previous for-sale listing's price and text
	// when a listing's own detail is unavailable. Default: true.
	CarryForward *bool `yaml:"carry_forward"`
}

func (c *Config) defaults() {
	if c.DBPath == "" {
		c.DBPath = "adwatch.db"
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8080"
	}
	if c.MaxSearchesPerOwner <= 0 {
		c.MaxSearchesPerOwner = 50
	}
	if c.Fetch.Timeout <= 0 {
		c.Fetch.Timeout = 30 * time.Second
	}
	if c.Fetch.UserAgent == "" {
		c.Fetch.UserAgent = "Mozilla/5.0 (compatible; adwatch/1.0)"
	}
	if c.Cache.Freshness <= 0 {
		c.Cache.Freshness = cache.DefaultFreshness
	}
	if c.Scan.CarryForward == nil {
		on := true
		c.Scan.CarryForward = &on
	}
	if c.Scheduler.Interval <= 0 {
		c.Scheduler.Interval = time.Minute
	}
	if c.Scheduler.Concurrency <= 0 {
		c.Scheduler.Concurrency = 1
	}
	if c.Scheduler.Retention <= 0 {
		c.Scheduler.Retention = cache.DefaultRetention
	}
}

func defaultConfig() *Config {
	c := &Config{}
	c.defaults()
	return c
}

// LoadConfigFile reads a YAML config file. Durations are Go duration strings
// ("90s", "5m").
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("adwatch: parse config %s: %w", path, err)
	}
	return cfg, nil
}
