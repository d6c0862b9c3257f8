package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/maltedev/materials-scraper/internal/models"
)

const DefaultUserAgent = "MaterialsScraper/1.0 (+https://github.com/maltedev/materials-scraper)"

type Config struct {
	Scraper  ScraperConfig      `mapstructure:"scraper"`
	Storage  StorageConfig      `mapstructure:"storage"`
	Server   ServerConfig       `mapstructure:"server"`
	Browser  BrowserConfig      `mapstructure:"browser"`
	Database DatabaseConfig     `mapstructure:"database"`
	Redis    RedisConfig        `mapstructure:"redis"`
	Logging  LoggingConfig      `mapstructure:"logging"`
	Brands   []models.BrandSpec `mapstructure:"brands"`
}

type ScraperConfig struct {
	UserAgent         string        `mapstructure:"user_agent"`
	RequestDelay      time.Duration `mapstructure:"request_delay"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RetryBackoff      time.Duration `mapstructure:"retry_backoff"`
	MaxPages          int           `mapstructure:"max_pages"`
	DetailConcurrency int           `mapstructure:"detail_concurrency"`
	BrandWorkers      int           `mapstructure:"brand_workers"`
	RunTimeout        time.Duration `mapstructure:"run_timeout"`
	DefaultCurrency   string        `mapstructure:"default_currency"`
	FetchDatasheets   bool          `mapstructure:"fetch_datasheets"`
	DatasheetCacheDir string        `mapstructure:"datasheet_cache_dir"`
}

type StorageConfig struct {
	DatasetPath  string `mapstructure:"dataset_path"`
	SimplePath   string `mapstructure:"simple_path"`
	CurationPath string `mapstructure:"curation_path"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// ScrapeInterval schedules runs from serve. Zero disables scheduling.
	ScrapeInterval time.Duration `mapstructure:"scrape_interval"`
}

// BrowserConfig controls the headless renderer used by "js" brands.
type BrowserConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Headless bool          `mapstructure:"headless"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
}

type RedisConfig struct {
	URL    string `mapstructure:"url"`
	Stream string `mapstructure:"stream"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads .env, an optional YAML file and MATSCRAPER_* environment
// variables, in increasing order of precedence. An empty path searches
// the working directory and ./config for config.yaml.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("MATSCRAPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.applyBrandDefaults(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("scraper.user_agent", DefaultUserAgent)
	v.SetDefault("scraper.request_delay", "1500ms")
	v.SetDefault("scraper.timeout", "15s")
	v.SetDefault("scraper.max_retries", 3)
	v.SetDefault("scraper.retry_backoff", "500ms")
	v.SetDefault("scraper.max_pages", 20)
	v.SetDefault("scraper.detail_concurrency", 3)
	v.SetDefault("scraper.brand_workers", 4)
	v.SetDefault("scraper.run_timeout", "30m")
	v.SetDefault("scraper.default_currency", "EUR")
	v.SetDefault("scraper.fetch_datasheets", true)
	v.SetDefault("scraper.datasheet_cache_dir", "")

	v.SetDefault("storage.dataset_path", "data/materials.json")
	v.SetDefault("storage.simple_path", "data/materials_simple.json")
	v.SetDefault("storage.curation_path", "data/curation.json5")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:*", "https://localhost:*"})
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.scrape_interval", "0s")

	v.SetDefault("browser.enabled", false)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.timeout", "30s")

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 10)

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.stream", "materials:changes")

	v.SetDefault("logging.level", "info")
}

// BrandDefaults returns the scrape options every brand inherits.
func (c *Config) BrandDefaults() models.ScrapeOptions {
	return models.ScrapeOptions{
		Delay:             c.Scraper.RequestDelay,
		MaxPages:          c.Scraper.MaxPages,
		DetailConcurrency: c.Scraper.DetailConcurrency,
	}
}

func (c *Config) applyBrandDefaults() error {
	defaults := c.BrandDefaults()
	for i := range c.Brands {
		b := &c.Brands[i]
		if err := mergo.Merge(&b.Options, defaults); err != nil {
			return fmt.Errorf("failed to apply defaults to brand %q: %w", b.Name, err)
		}
		if b.PlatformHint == "" {
			b.PlatformHint = models.PlatformGeneric
		}
		if b.Currency == "" {
			b.Currency = c.Scraper.DefaultCurrency
		}
	}
	return nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Scraper.UserAgent) == "" {
		return fmt.Errorf("scraper.user_agent is required")
	}

	if c.Scraper.RequestDelay <= 0 {
		return fmt.Errorf("scraper.request_delay must be positive")
	}

	if c.Scraper.MaxRetries < 0 {
		return fmt.Errorf("scraper.max_retries cannot be negative")
	}

	if c.Scraper.BrandWorkers < 1 {
		return fmt.Errorf("scraper.brand_workers must be at least 1")
	}

	if c.Scraper.DetailConcurrency < 1 {
		return fmt.Errorf("scraper.detail_concurrency must be at least 1")
	}

	if c.Server.ScrapeInterval < 0 {
		return fmt.Errorf("server.scrape_interval cannot be negative")
	}

	if c.Storage.DatasetPath == "" {
		return fmt.Errorf("storage.dataset_path is required")
	}

	seen := make(map[string]bool, len(c.Brands))
	for _, b := range c.Brands {
		if b.Name == "" {
			return fmt.Errorf("brand name is required")
		}
		key := strings.ToLower(b.Name) + "|" + string(b.MaterialType)
		if seen[key] {
			return fmt.Errorf("duplicate brand %q for %s", b.Name, b.MaterialType)
		}
		seen[key] = true

		u, err := url.Parse(b.BaseURL)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("brand %q: invalid base_url %q", b.Name, b.BaseURL)
		}
		if !b.MaterialType.Valid() {
			return fmt.Errorf("brand %q: invalid material_type %q", b.Name, b.MaterialType)
		}
		if !b.Tier.Valid() {
			return fmt.Errorf("brand %q: invalid tier %q", b.Name, b.Tier)
		}
	}

	return nil
}

// BrandsFor returns the configured brands, restricted to t when t is set.
func (c *Config) BrandsFor(t models.MaterialType) []models.BrandSpec {
	out := make([]models.BrandSpec, 0, len(c.Brands))
	for _, b := range c.Brands {
		if t != "" && b.MaterialType != t {
			continue
		}
		out = append(out, b)
	}
	return out
}
