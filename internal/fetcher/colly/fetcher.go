// Package collyfetcher implements the direct-scrape strategy using gocolly.
package collyfetcher

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/link-publisher/internal/extract"
	"github.com/JakeFAU/link-publisher/internal/retrieval"
)

// Browser-like identity sent with every scrape.
const (
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
	DefaultAccept    = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
)

const defaultTimeout = 30 * time.Second

// Config controls collector behavior. When Browser and NeedsBrowser are both
// set, pages that look client-rendered are handed to Browser instead.
type Config struct {
	UserAgent    string
	Accept       string
	Timeout      time.Duration
	Browser      retrieval.Fetcher
	NeedsBrowser func(status int, body []byte) bool
}

// Fetcher implements retrieval.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	logger        *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// page is what the hooks capture from one visit.
type page struct {
	status   int
	body     []byte
	finalURL string
	err      error
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Accept == "" {
		cfg.Accept = DefaultAccept
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	// Clones share the backend, so the client is configured here only.
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)
	c.UserAgent = cfg.UserAgent

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		logger:        logger,
	}
}

// Name identifies the strategy.
func (f *Fetcher) Name() string { return "direct-scrape" }

// Fetch GETs the page, follows redirects and extracts the main text.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) retrieval.Outcome {
	var result page
	collector := f.buildCollector(&result)

	if err := f.runCollector(ctx, collector, rawURL); err != nil {
		if ctx.Err() != nil {
			// the visit goroutine may still be writing result
			return retrieval.TransportFailure(err)
		}
		if result.err == nil {
			result.err = err
		}
	}
	if result.status >= http.StatusBadRequest {
		return retrieval.HTTPFailure(result.status)
	}
	if result.err != nil {
		return retrieval.TransportFailure(result.err)
	}

	if f.canPromote() && f.cfg.NeedsBrowser(result.status, result.body) {
		return f.promote(ctx, rawURL, "client-rendered page")
	}

	text, err := extract.MainText(bytes.NewReader(result.body))
	switch {
	case errors.Is(err, extract.ErrNoContent):
		if f.canPromote() {
			return f.promote(ctx, rawURL, "no static text")
		}
		return retrieval.Failure(retrieval.ErrExtractionFailed, "no container yielded text")
	case err != nil:
		return retrieval.Failure(retrieval.ErrParse, err.Error())
	}
	f.logger.Debug("scraped page",
		zap.String("url", result.finalURL),
		zap.Int("bytes", len(result.body)),
	)
	return retrieval.Success(text, retrieval.Meta{})
}

func (f *Fetcher) canPromote() bool {
	return f.cfg.Browser != nil && f.cfg.NeedsBrowser != nil
}

func (f *Fetcher) promote(ctx context.Context, rawURL, reason string) retrieval.Outcome {
	f.logger.Info("promoting to browser",
		zap.String("url", rawURL),
		zap.String("reason", reason),
		zap.String("browser", f.cfg.Browser.Name()),
	)
	return f.cfg.Browser.Fetch(ctx, rawURL)
}

func (f *Fetcher) buildCollector(result *page) *colly.Collector {
	collector := f.baseCollector.Clone()
	f.configureCollectorHooks(collector, result)
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, result *page) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", f.cfg.Accept)
	})

	hooks.OnResponse(func(r *colly.Response) {
		result.status = r.StatusCode
		result.body = append([]byte(nil), r.Body...)
		if r.Request != nil && r.Request.URL != nil {
			result.finalURL = r.Request.URL.String()
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			result.status = r.StatusCode
		}
		result.err = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		// #nosec G402 -- scraping targets with broken certificates is intended.
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: true},
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
