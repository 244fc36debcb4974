package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "https://r.jina.ai", cfg.Fetch.JinaBaseURL)
	assert.Equal(t, 60*time.Second, cfg.Fetch.JinaTimeout)
	assert.Equal(t, 30*time.Second, cfg.Fetch.ScrapeTimeout)
	assert.Equal(t, 10*time.Second, cfg.Fetch.WeChatTimeout)
	assert.Equal(t, "colly", cfg.Fetch.ScrapeEngine)
	assert.True(t, cfg.Fetch.ArticleFetcher)
	assert.Equal(t, []string{"-m", "generate_cover_mcp"}, cfg.Cover.Args)
	assert.Equal(t, "精选内容·建议收藏", cfg.Cover.Subtitle)
	assert.Equal(t, "local", cfg.Storage.Backend)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.False(t, cfg.Analyze.Enabled())
}

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
logging:
  development: true
  level: debug
fetch:
  jina_timeout: 15s
  scrape_engine: chromedp
  article_fetcher: false
headless:
  max_parallel: 2
feishu:
  app_id: cli_file
  app_secret: file-secret
  base_url: https://example.feishu.cn/base/AppTok?table=tbl1
  table_name: 收藏
cover:
  output_dir: covers
storage:
  backend: gcs
  gcs_bucket: bucket
ratelimit:
  per_host_rps: 2.5
  burst: 3
server:
  port: 9090
  api_key: secret
`)

	cfg, err := load(path, nil)
	require.NoError(t, err)

	assert.True(t, cfg.Logging.Development)
	assert.Equal(t, 15*time.Second, cfg.Fetch.JinaTimeout)
	assert.Equal(t, "chromedp", cfg.Fetch.ScrapeEngine)
	assert.False(t, cfg.Fetch.ArticleFetcher)
	assert.Equal(t, "cli_file", cfg.Feishu.AppID)
	assert.Equal(t, "收藏", cfg.Feishu.TableName)
	assert.Equal(t, "covers", cfg.Cover.OutputDir)
	assert.Equal(t, "bucket", cfg.Storage.GCSBucket)
	assert.InDelta(t, 2.5, cfg.RateLimit.PerHostRPS, 0.0001)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.NoError(t, cfg.RequirePublish())
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "feishu:\n  app_id: from-file\n  app_secret: s\n")

	t.Setenv("FEISHU_APP_ID", "from-legacy-env")
	t.Setenv("JINA_API_KEY", "jina-key")
	t.Setenv("GEMINI_API_KEY", "gem-key")
	t.Setenv("LINKPUB_ANALYZE_PROVIDER", "gemini")
	t.Setenv("LINKPUB_SERVER_PORT", "7070")

	cfg, err := load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "from-legacy-env", cfg.Feishu.AppID)
	assert.Equal(t, "jina-key", cfg.Fetch.JinaAPIKey)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.True(t, cfg.Analyze.Enabled())

	t.Setenv("LINKPUB_FEISHU_APP_ID", "from-prefixed-env")
	cfg, err = load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "from-prefixed-env", cfg.Feishu.AppID)
}

func TestOpenclawFallbackFillsMissingCredentials(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "absent.json")
	nested := writeFile(t, dir, "nested.json", `{"feishu": {"appId": "cli_claw", "appSecret": "claw-secret"}}`)

	cfg, err := load("", []string{missing, nested})
	require.NoError(t, err)
	assert.Equal(t, "cli_claw", cfg.Feishu.AppID)
	assert.Equal(t, "claw-secret", cfg.Feishu.AppSecret)

	t.Setenv("FEISHU_APP_ID", "cli_env")
	flat := writeFile(t, dir, "flat.json", `{"appId": "cli_flat", "appSecret": "flat-secret"}`)
	cfg, err = load("", []string{flat})
	require.NoError(t, err)
	assert.Equal(t, "cli_env", cfg.Feishu.AppID, "configured values win over openclaw")
	assert.Equal(t, "flat-secret", cfg.Feishu.AppSecret)
}

func TestReadOpenclawSkipsInvalidFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	broken := writeFile(t, dir, "broken.json", `{not json`)
	partial := writeFile(t, dir, "partial.json", `{"appId": "only-id"}`)

	_, _, ok := readOpenclaw([]string{broken, partial})
	assert.False(t, ok)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Fetch: FetchConfig{
			JinaBaseURL:   "https://r.jina.ai",
			JinaTimeout:   time.Minute,
			ScrapeTimeout: time.Second,
			WeChatTimeout: time.Second,
			ScrapeEngine:  "colly",
		},
		Cover:   CoverConfig{Command: "python", OutputDir: "output"},
		Storage: StorageConfig{Backend: "local"},
		Server:  ServerConfig{Port: 8080},
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad engine", func(c *Config) { c.Fetch.ScrapeEngine = "lynx" }, "ScrapeEngine"},
		{"bad reader url", func(c *Config) { c.Fetch.JinaBaseURL = "not a url" }, "JinaBaseURL"},
		{"gcs without bucket", func(c *Config) { c.Storage.Backend = "gcs" }, "GCSBucket"},
		{"topic missing", func(c *Config) { c.Notify.ProjectID = "proj" }, "Topic"},
		{"zero timeout", func(c *Config) { c.Fetch.ScrapeTimeout = 0 }, "fetch.scrape_timeout"},
		{"headless parallel", func(c *Config) { c.Fetch.ScrapeEngine = "chromedp" }, "headless.max_parallel"},
		{"auto needs parallel", func(c *Config) { c.Fetch.ScrapeEngine = "auto" }, "headless.max_parallel"},
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"burst", func(c *Config) { c.RateLimit.PerHostRPS = 1 }, "ratelimit.burst"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestRequirePublish(t *testing.T) {
	t.Parallel()

	var cfg Config
	assert.ErrorIs(t, cfg.RequirePublish(), ErrMissingCredentials)

	cfg.Feishu = FeishuConfig{AppID: "id", AppSecret: "secret"}
	assert.ErrorIs(t, cfg.RequirePublish(), ErrMissingBaseURL)

	cfg.Feishu.BaseURL = "https://x.feishu.cn/base/tok"
	assert.NoError(t, cfg.RequirePublish())
}
