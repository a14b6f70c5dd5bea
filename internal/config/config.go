// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Catalog Catalog `mapstructure:"catalog"`
	DB      DB      `mapstructure:"db"`
	Walker  Walker  `mapstructure:"walker"`
	Crawler Crawler `mapstructure:"crawler"`
	Upload  Upload  `mapstructure:"upload"`
	Notify  Notify  `mapstructure:"notify"`
	Metrics Metrics `mapstructure:"metrics"`
	Logging Logging `mapstructure:"logging"`
}

// Catalog controls access to the book catalog API.
type Catalog struct {
	Host           string `mapstructure:"host"`
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxRetries     int    `mapstructure:"max_retries"`
	BackoffMs      int    `mapstructure:"backoff_ms"`
}

// DB controls the lifecycle store connection pool.
type DB struct {
	Provider        string `mapstructure:"provider"`
	DSN             string `mapstructure:"dsn"`
	Table           string `mapstructure:"table"`
	MaxConns        int32  `mapstructure:"max_conns"`
	MinConns        int32  `mapstructure:"min_conns"`
	ConnLifetimeMin int    `mapstructure:"conn_lifetime_minutes"`
}

// Walker governs the pagination walk over catalog search results.
type Walker struct {
	MaxRecords int    `mapstructure:"max_records"`
	StateDir   string `mapstructure:"state_dir"`
}

// Crawler governs per-book acquisition.
type Crawler struct {
	OutputDir        string `mapstructure:"output_dir"`
	WorkDir          string `mapstructure:"work_dir"`
	Concurrency      int    `mapstructure:"concurrency"`
	LoopSleepSeconds int    `mapstructure:"loop_sleep_seconds"`
}

// Upload configures the verified transfer to remote storage.
type Upload struct {
	Provider         string `mapstructure:"provider"`
	GCSBucket        string `mapstructure:"gcs_bucket"`
	Prefix           string `mapstructure:"prefix"`
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	LoopSleepSeconds int    `mapstructure:"loop_sleep_seconds"`
}

// Notify holds metadata for publish-subscribe completion notifications.
type Notify struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Metrics toggles the Prometheus endpoint served by loop commands.
type Metrics struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Logging toggles zap development features.
type Logging struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BOOKHAUL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

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
	v.SetDefault("catalog.host", "https://www.safaribooksonline.com")
	v.SetDefault("catalog.user_agent", "bookhaul/0.1")
	v.SetDefault("catalog.timeout_seconds", 30)
	v.SetDefault("catalog.max_retries", 3)
	v.SetDefault("catalog.backoff_ms", 250)
	v.SetDefault("db.provider", "postgres")
	v.SetDefault("db.table", "books")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.conn_lifetime_minutes", 30)
	v.SetDefault("walker.max_records", 10000)
	v.SetDefault("walker.state_dir", ".bookhaul")
	v.SetDefault("crawler.output_dir", "converted")
	v.SetDefault("crawler.concurrency", 8)
	v.SetDefault("crawler.loop_sleep_seconds", 1)
	v.SetDefault("upload.provider", "gcs")
	v.SetDefault("upload.timeout_seconds", 600)
	v.SetDefault("upload.loop_sleep_seconds", 1)
	v.SetDefault("notify.provider", "noop")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Catalog.Host == "" {
		return fmt.Errorf("catalog.host must be set")
	}
	if c.Catalog.TimeoutSeconds <= 0 {
		return fmt.Errorf("catalog.timeout_seconds must be > 0")
	}
	if c.Walker.MaxRecords <= 0 {
		return fmt.Errorf("walker.max_records must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	switch c.DB.Provider {
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when db.provider is postgres")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown db provider %q", c.DB.Provider)
	}
	switch c.Upload.Provider {
	case "gcs":
	case "noop":
	default:
		return fmt.Errorf("unknown upload provider %q", c.Upload.Provider)
	}
	switch c.Notify.Provider {
	case "pubsub":
		if c.Notify.ProjectID == "" || c.Notify.TopicName == "" {
			return fmt.Errorf("notify.project_id and notify.topic_name must be set when notify.provider is pubsub")
		}
	case "noop":
	default:
		return fmt.Errorf("unknown notify provider %q", c.Notify.Provider)
	}
	if c.Metrics.Enabled && c.Metrics.Port <= 0 {
		return fmt.Errorf("metrics.port must be > 0 when metrics are enabled")
	}
	return nil
}

// CatalogTimeout converts the catalog timeout into a duration.
func (c Config) CatalogTimeout() time.Duration {
	return time.Duration(c.Catalog.TimeoutSeconds) * time.Second
}

// CatalogBackoff is the base delay between catalog request retries.
func (c Config) CatalogBackoff() time.Duration {
	return time.Duration(c.Catalog.BackoffMs) * time.Millisecond
}

// UploadTimeout converts the upload timeout into a duration.
func (c Config) UploadTimeout() time.Duration {
	return time.Duration(c.Upload.TimeoutSeconds) * time.Second
}

// CrawlLoopSleep is the pause between claim attempts in crawl loop mode.
func (c Config) CrawlLoopSleep() time.Duration {
	return time.Duration(c.Crawler.LoopSleepSeconds) * time.Second
}

// UploadLoopSleep is the pause between claim attempts in upload loop mode.
func (c Config) UploadLoopSleep() time.Duration {
	return time.Duration(c.Upload.LoopSleepSeconds) * time.Second
}
