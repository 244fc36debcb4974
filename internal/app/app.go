// Package app builds and holds the long-lived services a linkpub command
// needs, acting as a small dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/link-publisher/internal/analyze"
	"github.com/JakeFAU/link-publisher/internal/clock/system"
	"github.com/JakeFAU/link-publisher/internal/config"
	"github.com/JakeFAU/link-publisher/internal/cover"
	collyfetcher "github.com/JakeFAU/link-publisher/internal/fetcher/colly"
	"github.com/JakeFAU/link-publisher/internal/fetcher/headless"
	"github.com/JakeFAU/link-publisher/internal/fetcher/reader"
	"github.com/JakeFAU/link-publisher/internal/fetcher/wechat"
	"github.com/JakeFAU/link-publisher/internal/id/uuid"
	ledgerpg "github.com/JakeFAU/link-publisher/internal/ledger/postgres"
	"github.com/JakeFAU/link-publisher/internal/metrics"
	notifypubsub "github.com/JakeFAU/link-publisher/internal/notify/pubsub"
	"github.com/JakeFAU/link-publisher/internal/pipeline"
	"github.com/JakeFAU/link-publisher/internal/policy/ratelimit"
	"github.com/JakeFAU/link-publisher/internal/publish"
	"github.com/JakeFAU/link-publisher/internal/retrieval"
	"github.com/JakeFAU/link-publisher/internal/storage"
	"github.com/JakeFAU/link-publisher/internal/storage/gcs"
	"github.com/JakeFAU/link-publisher/internal/storage/local"
)

// App holds the shared services for one process.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	runID     string
	retriever *retrieval.Orchestrator
	covers    *cover.Generator
	analyzer  analyze.Analyzer
	publisher *publish.Publisher
	pubErr    error
	artifacts storage.BlobStore
	coverCopy storage.BlobStore
	ledger    pipeline.Ledger
	notifier  pipeline.Notifier
	limiter   *ratelimit.Limiter
	recorder  metrics.Recorder
	closers   []func()
}

// New builds every service the configuration enables. Publishing is
// optional here; commands that need it call Publisher.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:      cfg,
		logger:   logger,
		runID:    uuid.New().MustID(),
		recorder: metrics.NewRecorder(),
	}
	a.logger.Debug("initializing services", zap.String("run_id", a.runID))

	steps := []func(context.Context) error{
		a.initRetriever,
		a.initAnalyzer,
		a.initStorage,
		a.initLedger,
		a.initNotifier,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}

	a.covers = cover.NewGenerator(cover.Config{Command: cfg.Cover.Command, Args: cfg.Cover.Args}, logger)
	a.closers = append(a.closers, func() {
		if err := a.covers.Close(); err != nil {
			a.logger.Warn("close cover session", zap.Error(err))
		}
	})

	a.limiter = ratelimit.New(ratelimit.Config{
		PerHostRPS: cfg.RateLimit.PerHostRPS,
		Burst:      cfg.RateLimit.Burst,
		OnDelay:    metrics.ObserveRateLimitDelay,
	})

	a.publisher, a.pubErr = a.buildPublisher()
	if a.pubErr != nil {
		a.logger.Debug("publishing unavailable", zap.Error(a.pubErr))
	}
	return a, nil
}

func (a *App) initRetriever(_ context.Context) error {
	cfg := a.cfg.Fetch
	anon := reader.New(reader.Config{BaseURL: cfg.JinaBaseURL, Timeout: cfg.JinaTimeout}, a.logger)
	var keyed retrieval.Fetcher
	if cfg.JinaAPIKey != "" {
		keyed = reader.New(reader.Config{BaseURL: cfg.JinaBaseURL, APIKey: cfg.JinaAPIKey, Timeout: cfg.JinaTimeout}, a.logger)
	}

	var scrape retrieval.Fetcher
	if cfg.ScrapeFetcher {
		var err error
		if scrape, err = a.buildScraper(); err != nil {
			return err
		}
	}

	orch, err := retrieval.NewOrchestrator(retrieval.Config{
		Capabilities: retrieval.Capabilities{
			HasArticleFetcher: cfg.ArticleFetcher,
			HasScrapeFetcher:  scrape != nil,
		},
		Article:     wechat.New(wechat.Config{UserAgent: cfg.UserAgent, Timeout: cfg.WeChatTimeout}, a.logger),
		ReaderKeyed: keyed,
		Reader:      anon,
		Scrape:      scrape,
	}, a.recorder, a.logger)
	if err != nil {
		return fmt.Errorf("init retrieval: %w", err)
	}
	a.retriever = orch
	return nil
}

// buildScraper returns the direct-scrape fetcher for the configured engine.
// "auto" scrapes statically and hands client-rendered pages to chromedp.
func (a *App) buildScraper() (retrieval.Fetcher, error) {
	cfg := a.cfg.Fetch
	static := collyfetcher.Config{UserAgent: cfg.UserAgent, Timeout: cfg.ScrapeTimeout}
	if cfg.ScrapeEngine == "colly" || cfg.ScrapeEngine == "" {
		return collyfetcher.New(static, a.logger), nil
	}

	browser, err := headless.NewChromedp(headless.Config{
		MaxParallel:       a.cfg.Headless.MaxParallel,
		UserAgent:         cfg.UserAgent,
		NavigationTimeout: a.cfg.Headless.NavTimeout,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("init headless scraper: %w", err)
	}
	a.closers = append(a.closers, browser.Close)
	if cfg.ScrapeEngine == "chromedp" {
		return browser, nil
	}

	static.Browser = browser
	static.NeedsBrowser = headless.NewDetector(0).NeedsBrowser
	return collyfetcher.New(static, a.logger), nil
}

func (a *App) initAnalyzer(ctx context.Context) error {
	if !a.cfg.Analyze.Enabled() {
		return nil
	}
	gem, err := analyze.NewGemini(ctx, a.cfg.Analyze.APIKey, a.cfg.Analyze.Model, a.logger)
	if err != nil {
		return fmt.Errorf("init analyzer: %w", err)
	}
	a.analyzer = gem
	a.closers = append(a.closers, func() {
		if err := gem.Close(); err != nil {
			a.logger.Warn("close analyzer", zap.Error(err))
		}
	})
	return nil
}

func (a *App) initStorage(ctx context.Context) error {
	switch a.cfg.Storage.Backend {
	case "gcs":
		store, err := gcs.Open(ctx, gcs.Config{Bucket: a.cfg.Storage.GCSBucket, Prefix: a.cfg.Storage.Prefix})
		if err != nil {
			return fmt.Errorf("init storage: %w", err)
		}
		a.logger.Info("using GCS storage", zap.String("bucket", a.cfg.Storage.GCSBucket))
		a.artifacts, a.coverCopy = store, store
		a.closers = append(a.closers, func() {
			if err := store.Close(); err != nil {
				a.logger.Warn("close storage", zap.Error(err))
			}
		})
	default:
		store, err := local.New(local.Config{BaseDir: a.cfg.Storage.OutputDir})
		if err != nil {
			return fmt.Errorf("init storage: %w", err)
		}
		a.artifacts = store
	}
	return nil
}

func (a *App) initLedger(ctx context.Context) error {
	if a.cfg.Ledger.DSN == "" {
		return nil
	}
	l, err := ledgerpg.Open(ctx, ledgerpg.Config{DSN: a.cfg.Ledger.DSN, Table: a.cfg.Ledger.Table})
	if err != nil {
		return fmt.Errorf("init ledger: %w", err)
	}
	a.ledger = l
	a.closers = append(a.closers, l.Close)
	return nil
}

func (a *App) initNotifier(ctx context.Context) error {
	if a.cfg.Notify.ProjectID == "" {
		return nil
	}
	n, err := notifypubsub.Open(ctx, a.cfg.Notify.ProjectID, a.cfg.Notify.Topic)
	if err != nil {
		return fmt.Errorf("init notifier: %w", err)
	}
	a.logger.Info("publishing notifications", zap.String("topic", a.cfg.Notify.Topic))
	a.notifier = n
	a.closers = append(a.closers, func() {
		if err := n.Close(); err != nil {
			a.logger.Warn("close notifier", zap.Error(err))
		}
	})
	return nil
}

func (a *App) buildPublisher() (*publish.Publisher, error) {
	if err := a.cfg.RequirePublish(); err != nil {
		return nil, err
	}
	api := publish.NewLarkAPI(a.cfg.Feishu.AppID, a.cfg.Feishu.AppSecret)
	return publish.New(publish.Config{
		BaseURL:   a.cfg.Feishu.BaseURL,
		TableID:   a.cfg.Feishu.TableID,
		TableName: a.cfg.Feishu.TableName,
	}, api, system.New(), a.logger)
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// RunID identifies this process in logs, the ledger and notifications.
func (a *App) RunID() string { return a.runID }

// Retriever returns the fetch orchestrator.
func (a *App) Retriever() pipeline.Retriever { return a.retriever }

// Covers returns the cover generator.
func (a *App) Covers() pipeline.CoverMaker { return a.covers }

// Artifacts returns the store that receives results.json.
func (a *App) Artifacts() storage.BlobStore { return a.artifacts }

// Publisher returns the bitable publisher, or why it is unavailable.
func (a *App) Publisher() (pipeline.Publisher, error) {
	if a.publisher == nil {
		if a.pubErr == nil {
			return nil, errors.New("publisher not configured")
		}
		return nil, a.pubErr
	}
	return a.publisher, nil
}

// NewRunner wires a pipeline runner. When publish is false no publisher is
// attached and missing credentials are not an error.
func (a *App) NewRunner(publish bool) (*pipeline.Runner, error) {
	deps := pipeline.Deps{
		Retriever:  a.retriever,
		Analyzer:   a.analyzer,
		Cover:      a.covers,
		Limiter:    a.limiter,
		Ledger:     a.ledger,
		Notifier:   a.notifier,
		Observer:   a.recorder,
		Artifacts:  a.artifacts,
		CoverStore: a.coverCopy,
		Clock:      system.New(),
		CoverDir:   a.cfg.Cover.OutputDir,
		RunID:      a.runID,
	}
	if publish {
		p, err := a.Publisher()
		if err != nil {
			return nil, err
		}
		deps.Publisher = p
	}
	return pipeline.New(deps, a.logger)
}

// Close releases services in reverse order of creation and flushes the
// logger. It is safe to call more than once.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	// Sync fails on stderr for some platforms; nothing useful to do with it.
	_ = a.logger.Sync()
}
