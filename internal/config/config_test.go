package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
logging:
  development: false
  level: warn
db:
  driver: sqlite
  dsn: ecommerce_tracker.db
  auto_migrate: true
signal:
  backend: redis
  redis_addr: localhost:6379
watcher:
  poll_interval: 10s
  scanning_window: 45s
scraper:
  engine: static
  navigation_timeout: 20s
  settle_delay: 0s
  price_selectors: [".offer-price", ".price"]
  stock_markers: ["Add to cart"]
  domain_qps: 0.5
archive:
  backend: local
  base_dir: /tmp/snapshots
pubsub:
  backend: gcp
  project_id: demo
  topic: cycles
server:
  port: 9091
  api_key: secret
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Logging.Development || cfg.Logging.Level != "warn" {
		t.Fatalf("expected logging overrides, got %+v", cfg.Logging)
	}
	if cfg.DB.Driver != "sqlite" || cfg.DB.DSN != "ecommerce_tracker.db" || !cfg.DB.AutoMigrate {
		t.Fatalf("expected db overrides, got %+v", cfg.DB)
	}
	if cfg.Signal.Backend != "redis" || cfg.Signal.RedisKey != "pricewatch:last_update_requested" {
		t.Fatalf("expected redis signal with default key, got %+v", cfg.Signal)
	}
	if cfg.Watcher.PollInterval != 10*time.Second || cfg.Watcher.ScanningWindow != 45*time.Second {
		t.Fatalf("expected watcher durations, got %+v", cfg.Watcher)
	}
	if cfg.Scraper.Engine != "static" || cfg.Scraper.NavigationTimeout != 20*time.Second {
		t.Fatalf("expected scraper overrides, got %+v", cfg.Scraper)
	}
	if cfg.Scraper.SettleDelay != 0 || cfg.Scraper.DomainQPS != 0.5 {
		t.Fatalf("expected settle delay 0 and qps 0.5, got %+v", cfg.Scraper)
	}
	if strings.Join(cfg.Scraper.PriceSelectors, "|") != ".offer-price|.price" {
		t.Fatalf("unexpected selectors %v", cfg.Scraper.PriceSelectors)
	}
	if len(cfg.Scraper.StockMarkers) != 1 || cfg.Scraper.StockMarkers[0] != "Add to cart" {
		t.Fatalf("unexpected markers %v", cfg.Scraper.StockMarkers)
	}
	if cfg.Scraper.UserAgent != DefaultUserAgent {
		t.Fatalf("expected default user agent, got %q", cfg.Scraper.UserAgent)
	}
	if cfg.Archive.BaseDir != "/tmp/snapshots" || cfg.Archive.Prefix != "snapshots" {
		t.Fatalf("unexpected archive config %+v", cfg.Archive)
	}
	if cfg.Server.Port != 9091 || cfg.Server.APIKey != "secret" {
		t.Fatalf("unexpected server config %+v", cfg.Server)
	}
}

func TestLoadDefaultsFromEnv(t *testing.T) {
	t.Setenv("PRICEWATCH_DB_DRIVER", "memory")
	t.Setenv("PRICEWATCH_WATCHER_POLL_INTERVAL", "250ms")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DB.Driver != "memory" {
		t.Fatalf("expected env driver override, got %q", cfg.DB.Driver)
	}
	if cfg.Watcher.PollInterval != 250*time.Millisecond {
		t.Fatalf("expected env poll interval, got %v", cfg.Watcher.PollInterval)
	}
	if cfg.Scraper.NavigationTimeout != 60*time.Second || cfg.Scraper.SettleDelay != 2*time.Second {
		t.Fatalf("unexpected scraper defaults %+v", cfg.Scraper)
	}
	if len(cfg.Scraper.PriceSelectors) != 6 || cfg.Scraper.PriceSelectors[0] != ".price" {
		t.Fatalf("unexpected default selectors %v", cfg.Scraper.PriceSelectors)
	}
	if cfg.Watcher.ScanningWindow != 30*time.Second {
		t.Fatalf("unexpected scanning window %v", cfg.Watcher.ScanningWindow)
	}
}

func TestLoadDatabaseURLFallback(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://tracker@localhost/tracker")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DB.Driver != "postgres" || cfg.DB.DSN != "postgres://tracker@localhost/tracker" {
		t.Fatalf("expected DATABASE_URL to populate db.dsn, got %+v", cfg.DB)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() Config {
		return Config{
			DB:      DBConfig{Driver: "memory"},
			Signal:  SignalConfig{Backend: "db", RedisKey: "k"},
			Watcher: WatcherConfig{PollInterval: time.Second},
			Scraper: ScraperConfig{
				Engine:            "headless",
				NavigationTimeout: time.Minute,
				PriceSelectors:    []string{".price"},
			},
			Archive: ArchiveConfig{Backend: "none"},
			PubSub:  PubSubConfig{Backend: "none"},
			Server:  ServerConfig{Port: 8080},
		}
	}
	if err := valid().Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	cases := map[string]func(*Config){
		"postgres without dsn":  func(c *Config) { c.DB.Driver = "postgres" },
		"unknown driver":        func(c *Config) { c.DB.Driver = "mysql" },
		"redis without addr":    func(c *Config) { c.Signal.Backend = "redis" },
		"unknown signal":        func(c *Config) { c.Signal.Backend = "file" },
		"zero poll":             func(c *Config) { c.Watcher.PollInterval = 0 },
		"unknown engine":        func(c *Config) { c.Scraper.Engine = "rod" },
		"zero nav timeout":      func(c *Config) { c.Scraper.NavigationTimeout = 0 },
		"negative settle":       func(c *Config) { c.Scraper.SettleDelay = -time.Second },
		"no selectors":          func(c *Config) { c.Scraper.PriceSelectors = nil },
		"local without dir":     func(c *Config) { c.Archive.Backend = "local" },
		"gcs without bucket":    func(c *Config) { c.Archive.Backend = "gcs" },
		"gcp without project":   func(c *Config) { c.PubSub.Backend = "gcp" },
		"zero port":             func(c *Config) { c.Server.Port = 0 },
		"negative domain rate":  func(c *Config) { c.Scraper.DomainQPS = -1 },
		"negative scan window":  func(c *Config) { c.Watcher.ScanningWindow = -time.Second },
		"negative pool setting": func(c *Config) { c.DB.MaxConns = -1 },
	}
	for name, mutate := range cases {
		cfg := valid()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}
