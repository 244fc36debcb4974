// Package config loads and validates linkpub configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrMissingCredentials is returned by RequirePublish when the Feishu app
// credentials are absent.
var ErrMissingCredentials = errors.New("feishu app_id and app_secret are required for publishing")

// ErrMissingBaseURL is returned by RequirePublish when no bitable URL is set.
var ErrMissingBaseURL = errors.New("feishu base_url is required for publishing")

// Config captures all linkpub configuration knobs loaded via Viper.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Feishu    FeishuConfig    `mapstructure:"feishu"`
	Cover     CoverConfig     `mapstructure:"cover"`
	Analyze   AnalyzeConfig   `mapstructure:"analyze"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Server    ServerConfig    `mapstructure:"server"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
}

// FetchConfig controls the retrieval chain.
type FetchConfig struct {
	JinaBaseURL    string        `mapstructure:"jina_base_url" validate:"required,url"`
	JinaAPIKey     string        `mapstructure:"jina_api_key"`
	JinaTimeout    time.Duration `mapstructure:"jina_timeout"`
	ScrapeTimeout  time.Duration `mapstructure:"scrape_timeout"`
	WeChatTimeout  time.Duration `mapstructure:"wechat_timeout"`
	ScrapeEngine   string        `mapstructure:"scrape_engine" validate:"oneof=colly chromedp auto"`
	UserAgent      string        `mapstructure:"user_agent"`
	ArticleFetcher bool          `mapstructure:"article_fetcher"`
	ScrapeFetcher  bool          `mapstructure:"scrape_fetcher"`
}

// HeadlessConfig configures the chromedp scrape engine.
type HeadlessConfig struct {
	MaxParallel int           `mapstructure:"max_parallel"`
	NavTimeout  time.Duration `mapstructure:"nav_timeout"`
}

// FeishuConfig holds the bitable credentials and target.
type FeishuConfig struct {
	AppID     string `mapstructure:"app_id"`
	AppSecret string `mapstructure:"app_secret"`
	BaseURL   string `mapstructure:"base_url"`
	TableID   string `mapstructure:"table_id"`
	TableName string `mapstructure:"table_name"`
}

// CoverConfig describes how the cover tool server is launched.
type CoverConfig struct {
	Command   string   `mapstructure:"command" validate:"required"`
	Args      []string `mapstructure:"args"`
	Subtitle  string   `mapstructure:"subtitle"`
	OutputDir string   `mapstructure:"output_dir" validate:"required"`
}

// AnalyzeConfig selects the optional LLM analyzer.
type AnalyzeConfig struct {
	Provider string `mapstructure:"provider" validate:"omitempty,oneof=none gemini"`
	Model    string `mapstructure:"model"`
	APIKey   string `mapstructure:"api_key"`
}

// Enabled reports whether an analyzer should be constructed.
func (a AnalyzeConfig) Enabled() bool {
	return a.Provider == "gemini" && a.APIKey != ""
}

// StorageConfig sets where run artifacts are written.
type StorageConfig struct {
	Backend   string `mapstructure:"backend" validate:"oneof=local gcs"`
	OutputDir string `mapstructure:"output_dir"`
	GCSBucket string `mapstructure:"gcs_bucket" validate:"required_if=Backend gcs"`
	Prefix    string `mapstructure:"prefix"`
}

// LedgerConfig points at the optional Postgres outcome ledger.
type LedgerConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// NotifyConfig holds Pub/Sub notification metadata.
type NotifyConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic" validate:"required_with=ProjectID"`
}

// MetricsConfig configures the optional Pushgateway push after batch runs.
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url" validate:"omitempty,url"`
	Job            string `mapstructure:"job"`
}

// RateLimitConfig bounds per-host fetch rate during batch runs.
type RateLimitConfig struct {
	PerHostRPS float64 `mapstructure:"per_host_rps"`
	Burst      int     `mapstructure:"burst"`
}

// ServerConfig controls the HTTP server started by `serve`.
type ServerConfig struct {
	Port   int    `mapstructure:"port"`
	APIKey string `mapstructure:"api_key"`
}

// Load builds a Config from .env files, the environment and an optional file.
func Load(path string) (Config, error) {
	return load(path, openclawPaths())
}

func load(path string, fallbackPaths []string) (Config, error) {
	if err := loadDotEnv(); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix("LINKPUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return Config{}, err
	}

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

	if cfg.Feishu.AppID == "" || cfg.Feishu.AppSecret == "" {
		id, secret, ok := readOpenclaw(fallbackPaths)
		if ok {
			if cfg.Feishu.AppID == "" {
				cfg.Feishu.AppID = id
			}
			if cfg.Feishu.AppSecret == "" {
				cfg.Feishu.AppSecret = secret
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "")
	v.SetDefault("fetch.jina_base_url", "https://r.jina.ai")
	v.SetDefault("fetch.jina_api_key", "")
	v.SetDefault("fetch.jina_timeout", 60*time.Second)
	v.SetDefault("fetch.scrape_timeout", 30*time.Second)
	v.SetDefault("fetch.wechat_timeout", 10*time.Second)
	v.SetDefault("fetch.scrape_engine", "colly")
	v.SetDefault("fetch.user_agent", "")
	v.SetDefault("fetch.article_fetcher", true)
	v.SetDefault("fetch.scrape_fetcher", true)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout", 25*time.Second)
	v.SetDefault("feishu.app_id", "")
	v.SetDefault("feishu.app_secret", "")
	v.SetDefault("feishu.base_url", "")
	v.SetDefault("feishu.table_id", "")
	v.SetDefault("feishu.table_name", "")
	v.SetDefault("cover.command", "python")
	v.SetDefault("cover.args", []string{"-m", "generate_cover_mcp"})
	v.SetDefault("cover.subtitle", "精选内容·建议收藏")
	v.SetDefault("cover.output_dir", "output")
	v.SetDefault("analyze.provider", "none")
	v.SetDefault("analyze.model", "gemini-1.5-flash")
	v.SetDefault("analyze.api_key", "")
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.output_dir", "output")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "linkpub")
	v.SetDefault("ledger.dsn", "")
	v.SetDefault("ledger.table", "link_outcomes")
	v.SetDefault("notify.project_id", "")
	v.SetDefault("notify.topic", "")
	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.job", "linkpub")
	v.SetDefault("ratelimit.per_host_rps", 1.0)
	v.SetDefault("ratelimit.burst", 1)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_key", "")
}

// bindLegacyEnv maps the unprefixed variable names used by existing
// deployments. The LINKPUB_* form still wins when both are set.
func bindLegacyEnv(v *viper.Viper) error {
	bindings := map[string]string{
		"feishu.app_id":      "FEISHU_APP_ID",
		"feishu.app_secret":  "FEISHU_APP_SECRET",
		"feishu.base_url":    "FEISHU_BASE_URL",
		"fetch.jina_api_key": "JINA_API_KEY",
		"analyze.api_key":    "GEMINI_API_KEY",
	}
	for key, legacy := range bindings {
		prefixed := "LINKPUB_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

// loadDotEnv reads .env from the working directory and next to the
// executable. Variables already present in the environment are kept.
func loadDotEnv() error {
	var files []string
	if wd, err := os.Getwd(); err == nil {
		files = append(files, filepath.Join(wd, ".env"))
	}
	if exe, err := os.Executable(); err == nil {
		files = append(files, filepath.Join(filepath.Dir(exe), ".env"))
	}

	seen := make(map[string]struct{}, len(files))
	for _, f := range files {
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Fetch.JinaTimeout <= 0 {
		return fmt.Errorf("fetch.jina_timeout must be > 0")
	}
	if c.Fetch.ScrapeTimeout <= 0 {
		return fmt.Errorf("fetch.scrape_timeout must be > 0")
	}
	if c.Fetch.WeChatTimeout <= 0 {
		return fmt.Errorf("fetch.wechat_timeout must be > 0")
	}
	if c.Fetch.ScrapeEngine != "colly" && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when a browser engine is selected")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.RateLimit.PerHostRPS < 0 {
		return fmt.Errorf("ratelimit.per_host_rps must be >= 0")
	}
	if c.RateLimit.PerHostRPS > 0 && c.RateLimit.Burst <= 0 {
		return fmt.Errorf("ratelimit.burst must be > 0 when rate limiting is enabled")
	}
	return nil
}

// RequirePublish runs the checks that only matter when records will be
// written to Feishu.
func (c Config) RequirePublish() error {
	if c.Feishu.AppID == "" || c.Feishu.AppSecret == "" {
		return ErrMissingCredentials
	}
	if strings.TrimSpace(c.Feishu.BaseURL) == "" {
		return ErrMissingBaseURL
	}
	return nil
}
