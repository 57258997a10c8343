// Package config loads and validates price watcher configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultUserAgent is a current desktop Chrome user agent.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	DB      DBConfig      `mapstructure:"db"`
	Signal  SignalConfig  `mapstructure:"signal"`
	Watcher WatcherConfig `mapstructure:"watcher"`
	Scraper ScraperConfig `mapstructure:"scraper"`
	Archive ArchiveConfig `mapstructure:"archive"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Server  ServerConfig  `mapstructure:"server"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// DBConfig selects and tunes the persistence backend.
type DBConfig struct {
	// Driver is one of postgres, sqlite or memory.
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// SignalConfig chooses where the refresh signal mailbox lives.
type SignalConfig struct {
	// Backend is db (same store as products) or redis.
	Backend       string `mapstructure:"backend"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisUsername string `mapstructure:"redis_username"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	RedisKey      string `mapstructure:"redis_key"`
}

// WatcherConfig controls the signal polling loop.
type WatcherConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// ScanningWindow is how long after a signal the worker is reported as scanning.
	ScanningWindow time.Duration `mapstructure:"scanning_window"`
}

// ScraperConfig governs page fetching and extraction.
type ScraperConfig struct {
	// Engine is headless (chromedp) or static (colly).
	Engine            string        `mapstructure:"engine"`
	UserAgent         string        `mapstructure:"user_agent"`
	AcceptLanguage    string        `mapstructure:"accept_language"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	SettleDelay       time.Duration `mapstructure:"settle_delay"`
	PriceSelectors    []string      `mapstructure:"price_selectors"`
	StockMarkers      []string      `mapstructure:"stock_markers"`
	DomainQPS         float64       `mapstructure:"domain_qps"`
	Headless          bool          `mapstructure:"headless"`
	ExecPath          string        `mapstructure:"exec_path"`
}

// ArchiveConfig controls optional page snapshot storage.
type ArchiveConfig struct {
	// Backend is none, local or gcs.
	Backend string `mapstructure:"backend"`
	BaseDir string `mapstructure:"base_dir"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for cycle notifications.
type PubSubConfig struct {
	// Backend is none, memory or gcp.
	Backend   string `mapstructure:"backend"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ServerConfig controls the admin HTTP server.
type ServerConfig struct {
	Port   int    `mapstructure:"port"`
	APIKey string `mapstructure:"api_key"`
}

// MetricsConfig sets where the watcher exposes /metrics. Empty disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PRICEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("db.dsn", "PRICEWATCH_DB_DSN", "DATABASE_URL"); err != nil {
		return Config{}, fmt.Errorf("bind db.dsn: %w", err)
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("db.driver", "postgres")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime", 30*time.Minute)
	v.SetDefault("db.auto_migrate", false)
	v.SetDefault("signal.backend", "db")
	v.SetDefault("signal.redis_addr", "")
	v.SetDefault("signal.redis_username", "")
	v.SetDefault("signal.redis_password", "")
	v.SetDefault("signal.redis_db", 0)
	v.SetDefault("signal.redis_key", "pricewatch:last_update_requested")
	v.SetDefault("watcher.poll_interval", 5*time.Second)
	v.SetDefault("watcher.scanning_window", 30*time.Second)
	v.SetDefault("scraper.engine", "headless")
	v.SetDefault("scraper.user_agent", DefaultUserAgent)
	v.SetDefault("scraper.accept_language", "fr-FR,fr;q=0.9,en-US;q=0.8,en;q=0.7")
	v.SetDefault("scraper.navigation_timeout", 60*time.Second)
	v.SetDefault("scraper.settle_delay", 2*time.Second)
	v.SetDefault("scraper.price_selectors", []string{
		".price", ".a-price-whole", ".current-price", ".product-price", "[data-price]", ".amount",
	})
	v.SetDefault("scraper.stock_markers", []string{"Ajouter au panier", "In stock", "En stock", "Disponible"})
	v.SetDefault("scraper.domain_qps", 0)
	v.SetDefault("scraper.headless", true)
	v.SetDefault("scraper.exec_path", "")
	v.SetDefault("archive.backend", "none")
	v.SetDefault("archive.base_dir", "")
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.prefix", "snapshots")
	v.SetDefault("pubsub.backend", "none")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "pricewatch-cycles")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_key", "")
	v.SetDefault("metrics.addr", ":9090")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	switch c.DB.Driver {
	case "postgres", "sqlite":
		if strings.TrimSpace(c.DB.DSN) == "" {
			return fmt.Errorf("db.dsn is required for driver %q", c.DB.Driver)
		}
	case "memory":
	default:
		return fmt.Errorf("db.driver must be postgres, sqlite or memory, got %q", c.DB.Driver)
	}
	if c.DB.MaxConns < 0 || c.DB.MinConns < 0 {
		return fmt.Errorf("db.max_conns and db.min_conns must be >= 0")
	}
	switch c.Signal.Backend {
	case "db":
	case "redis":
		if c.Signal.RedisAddr == "" {
			return fmt.Errorf("signal.redis_addr is required when signal.backend is redis")
		}
		if c.Signal.RedisKey == "" {
			return fmt.Errorf("signal.redis_key must be set")
		}
	default:
		return fmt.Errorf("signal.backend must be db or redis, got %q", c.Signal.Backend)
	}
	if c.Watcher.PollInterval <= 0 {
		return fmt.Errorf("watcher.poll_interval must be > 0")
	}
	if c.Watcher.ScanningWindow < 0 {
		return fmt.Errorf("watcher.scanning_window must be >= 0")
	}
	if err := c.Scraper.validate(); err != nil {
		return err
	}
	switch c.Archive.Backend {
	case "none", "":
	case "local":
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir is required when archive.backend is local")
		}
	case "gcs":
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket is required when archive.backend is gcs")
		}
	default:
		return fmt.Errorf("archive.backend must be none, local or gcs, got %q", c.Archive.Backend)
	}
	switch c.PubSub.Backend {
	case "none", "", "memory":
	case "gcp":
		if c.PubSub.ProjectID == "" || c.PubSub.Topic == "" {
			return fmt.Errorf("pubsub.project_id and pubsub.topic are required when pubsub.backend is gcp")
		}
	default:
		return fmt.Errorf("pubsub.backend must be none, memory or gcp, got %q", c.PubSub.Backend)
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	return nil
}

func (s ScraperConfig) validate() error {
	if s.Engine != "headless" && s.Engine != "static" {
		return fmt.Errorf("scraper.engine must be headless or static, got %q", s.Engine)
	}
	if s.NavigationTimeout <= 0 {
		return fmt.Errorf("scraper.navigation_timeout must be > 0")
	}
	if s.SettleDelay < 0 {
		return fmt.Errorf("scraper.settle_delay must be >= 0")
	}
	if s.DomainQPS < 0 {
		return fmt.Errorf("scraper.domain_qps must be >= 0")
	}
	if len(s.PriceSelectors) == 0 {
		return fmt.Errorf("scraper.price_selectors must not be empty")
	}
	return nil
}
