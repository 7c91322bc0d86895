// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Crawler     CrawlerConfig     `mapstructure:"crawler"`
	Browser     BrowserConfig     `mapstructure:"browser"`
	Ledger      LedgerConfig      `mapstructure:"ledger"`
	Diagnostics DiagnosticsConfig `mapstructure:"diagnostics"`
	Progress    ProgressConfig    `mapstructure:"progress"`
	Database    DatabaseConfig    `mapstructure:"database"`
	PubSub      PubSubConfig      `mapstructure:"pubsub"`
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// Harvest modes accepted by crawler.mode.
const (
	ModeReviews = "reviews"
	ModeParams  = "params"
)

// CrawlerConfig governs discovery, traversal, and output.
type CrawlerConfig struct {
	Mode             string        `mapstructure:"mode"`
	ListingURL       string        `mapstructure:"listing_url"`
	OutputDir        string        `mapstructure:"output_dir"`
	TableSuffix      string        `mapstructure:"table_suffix"`
	SectionName      string        `mapstructure:"section_name"`
	MaxScrollRetries int           `mapstructure:"max_scroll_retries"`
	MaxScrolls       int           `mapstructure:"max_scrolls"`
	MaxPages         int           `mapstructure:"max_pages"`
	SettleDelay      time.Duration `mapstructure:"settle_delay"`
	Interleave       bool          `mapstructure:"interleave"`
	SubjectColumn    string        `mapstructure:"subject_column"`
	AuthorColumn     string        `mapstructure:"author_column"`
	UnknownValue     string        `mapstructure:"unknown_value"`
	NameColumn       string        `mapstructure:"name_column"`
	PriceColumn      string        `mapstructure:"price_column"`
	ReportDir        string        `mapstructure:"report_dir"`
}

// CursorColumn names the column that identifies a written row: the variant
// name for parameter tables, the author otherwise.
func (c CrawlerConfig) CursorColumn() string {
	if c.Mode == ModeParams {
		return c.NameColumn
	}
	return c.AuthorColumn
}

// BrowserConfig configures the headless browser session.
type BrowserConfig struct {
	Headless          bool            `mapstructure:"headless"`
	UserAgent         string          `mapstructure:"user_agent"`
	AcceptLanguage    string          `mapstructure:"accept_language"`
	NavigationTimeout time.Duration   `mapstructure:"navigation_timeout"`
	ActionTimeout     time.Duration   `mapstructure:"action_timeout"`
	TabTimeout        time.Duration   `mapstructure:"tab_timeout"`
	ActionsPerSecond  float64         `mapstructure:"actions_per_second"`
	DisableImages     bool            `mapstructure:"disable_images"`
	DismissOverlay    bool            `mapstructure:"dismiss_overlay"`
	Selectors         SelectorsConfig `mapstructure:"selectors"`
}

// SelectorsConfig holds the CSS or XPath selectors for the target site. The
// table_* selectors are XPath.
type SelectorsConfig struct {
	EntityCard   string `mapstructure:"entity_card"`
	EntityName   string `mapstructure:"entity_name"`
	SectionLink  string `mapstructure:"section_link"`
	ItemTrigger  string `mapstructure:"item_trigger"`
	NextPage     string `mapstructure:"next_page"`
	Subject      string `mapstructure:"subject"`
	Author       string `mapstructure:"author"`
	Labels       string `mapstructure:"labels"`
	Values       string `mapstructure:"values"`
	ParamsLink   string `mapstructure:"params_link"`
	TableColumns string `mapstructure:"table_columns"`
	TableLabels  string `mapstructure:"table_labels"`
	TablePrices  string `mapstructure:"table_prices"`
	TableRows    string `mapstructure:"table_rows"`
}

// LedgerConfig selects the progress ledger backend.
type LedgerConfig struct {
	Backend string      `mapstructure:"backend"`
	Path    string      `mapstructure:"path"`
	Redis   RedisConfig `mapstructure:"redis"`
}

// RedisConfig addresses the redis ledger backend.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Key      string `mapstructure:"key"`
}

// DiagnosticsConfig controls failure screenshots.
type DiagnosticsConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Backend string        `mapstructure:"backend"`
	Prefix  string        `mapstructure:"prefix"`
	Timeout time.Duration `mapstructure:"timeout"`
	Local   LocalConfig   `mapstructure:"local"`
	GCS     GCSConfig     `mapstructure:"gcs"`
}

// LocalConfig configures the filesystem blob store.
type LocalConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// GCSConfig configures the Cloud Storage blob store.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
}

// ProgressConfig tunes the progress event hub.
type ProgressConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
	SinkTimeout    time.Duration `mapstructure:"sink_timeout"`
}

// DatabaseConfig controls access to the statistics database.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// PubSubConfig holds metadata for entity-completed notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ServerConfig controls the status HTTP server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (*Config, error) {
	cfg, err := read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadLedger builds a Config for the ledger maintenance commands, which need
// only the output and ledger sections to be valid.
func LoadLedger(path string) (*Config, error) {
	cfg, err := read(path)
	if err != nil {
		return nil, err
	}
	if cfg.Crawler.OutputDir == "" {
		return nil, fmt.Errorf("crawler.output_dir is required")
	}
	if err := cfg.validateLedger(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func read(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("AUTOHARVEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.derive()
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawler.mode", ModeReviews)
	v.SetDefault("crawler.listing_url", "")
	v.SetDefault("crawler.output_dir", "output")
	v.SetDefault("crawler.table_suffix", "")
	v.SetDefault("crawler.section_name", "口碑")
	v.SetDefault("crawler.max_scroll_retries", 3)
	v.SetDefault("crawler.max_scrolls", 0)
	v.SetDefault("crawler.max_pages", 0)
	v.SetDefault("crawler.settle_delay", "2s")
	v.SetDefault("crawler.interleave", false)
	v.SetDefault("crawler.subject_column", "subject")
	v.SetDefault("crawler.author_column", "author_id")
	v.SetDefault("crawler.unknown_value", "unknown")
	v.SetDefault("crawler.name_column", "车名")
	v.SetDefault("crawler.price_column", "官方指导价")
	v.SetDefault("crawler.report_dir", "reports")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.accept_language", "zh-CN,zh;q=0.9")
	v.SetDefault("browser.navigation_timeout", "45s")
	v.SetDefault("browser.action_timeout", "15s")
	v.SetDefault("browser.tab_timeout", "10s")
	v.SetDefault("browser.actions_per_second", 1.0)
	v.SetDefault("browser.disable_images", true)
	v.SetDefault("browser.dismiss_overlay", true)
	v.SetDefault("browser.selectors.entity_card", `//li[contains(@class,"group")]`)
	v.SetDefault("browser.selectors.entity_name", "")
	v.SetDefault("browser.selectors.section_link", `//li/a[normalize-space(text())=%s]`)
	v.SetDefault("browser.selectors.item_trigger", `//a[contains(text(),"查看完整口碑")]`)
	v.SetDefault("browser.selectors.next_page", `//a[contains(@class,"next")]`)
	v.SetDefault("browser.selectors.subject", `//div[contains(@class,"title-name")]//a`)
	v.SetDefault("browser.selectors.author", `//a[contains(@id,"nickname")]`)
	v.SetDefault("browser.selectors.labels", `//p[@class="kb-item-msg"]/preceding-sibling::h1`)
	v.SetDefault("browser.selectors.values", `//p[@class="kb-item-msg"]`)
	v.SetDefault("browser.selectors.params_link", `//a[contains(text(),"参数")]`)
	v.SetDefault("browser.selectors.table_columns", `//a[contains(@class,"cell_car")]`)
	v.SetDefault("browser.selectors.table_labels", `//label`)
	v.SetDefault("browser.selectors.table_prices", `//div[contains(@class,"official-price")]`)
	v.SetDefault("browser.selectors.table_rows", `//div[@data-row-anchor]/parent::*/div[contains(@class,"table_row") and not(contains(@class,"title"))]`)
	v.SetDefault("ledger.backend", "file")
	v.SetDefault("ledger.path", "")
	v.SetDefault("ledger.redis.addr", "")
	v.SetDefault("ledger.redis.password", "")
	v.SetDefault("ledger.redis.db", 0)
	v.SetDefault("ledger.redis.key", "autoharvest:ledger")
	v.SetDefault("diagnostics.enabled", true)
	v.SetDefault("diagnostics.backend", "local")
	v.SetDefault("diagnostics.prefix", "screenshots")
	v.SetDefault("diagnostics.timeout", "15s")
	v.SetDefault("diagnostics.local.base_dir", "")
	v.SetDefault("diagnostics.gcs.bucket", "")
	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 256)
	v.SetDefault("progress.max_batch_wait", "1s")
	v.SetDefault("progress.sink_timeout", "5s")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.max_conn_lifetime", "30m")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", false)
}

// derive fills paths that default relative to the output directory and the
// table suffix that defaults by mode.
func (c *Config) derive() {
	if c.Crawler.TableSuffix == "" {
		c.Crawler.TableSuffix = "_reviews.csv"
		if c.Crawler.Mode == ModeParams {
			c.Crawler.TableSuffix = "_参数.csv"
		}
	}
	if c.Ledger.Path == "" {
		c.Ledger.Path = filepath.Join(c.Crawler.OutputDir, "progress.json")
	}
	if c.Diagnostics.Local.BaseDir == "" {
		c.Diagnostics.Local.BaseDir = c.Crawler.OutputDir
	}
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Crawler.ListingURL == "" {
		return fmt.Errorf("crawler.listing_url is required")
	}
	switch c.Crawler.Mode {
	case ModeReviews:
	case ModeParams:
		if c.Crawler.NameColumn == "" {
			return fmt.Errorf("crawler.name_column is required in params mode")
		}
	default:
		return fmt.Errorf("crawler.mode must be reviews or params, got %q", c.Crawler.Mode)
	}
	if c.Crawler.OutputDir == "" {
		return fmt.Errorf("crawler.output_dir is required")
	}
	if c.Crawler.MaxScrollRetries <= 0 {
		return fmt.Errorf("crawler.max_scroll_retries must be > 0")
	}
	if c.Crawler.MaxScrolls < 0 {
		return fmt.Errorf("crawler.max_scrolls must be >= 0")
	}
	if c.Crawler.MaxPages < 0 {
		return fmt.Errorf("crawler.max_pages must be >= 0")
	}
	if c.Browser.ActionsPerSecond <= 0 {
		return fmt.Errorf("browser.actions_per_second must be > 0")
	}
	if err := c.validateLedger(); err != nil {
		return err
	}
	if c.Diagnostics.Enabled {
		switch c.Diagnostics.Backend {
		case "local", "memory":
		case "gcs":
			if c.Diagnostics.GCS.Bucket == "" {
				return fmt.Errorf("diagnostics.gcs.bucket must be set for the gcs backend")
			}
		default:
			return fmt.Errorf("diagnostics.backend must be local, gcs, or memory, got %q", c.Diagnostics.Backend)
		}
	}
	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic is set")
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	return nil
}

func (c Config) validateLedger() error {
	switch c.Ledger.Backend {
	case "file":
	case "redis":
		if c.Ledger.Redis.Addr == "" {
			return fmt.Errorf("ledger.redis.addr must be set for the redis backend")
		}
	default:
		return fmt.Errorf("ledger.backend must be file or redis, got %q", c.Ledger.Backend)
	}
	return nil
}
