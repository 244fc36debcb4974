// Package wechat implements the article-specific fetcher for WeChat official
// account articles.
package wechat

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html/charset"

	"github.com/JakeFAU/link-publisher/internal/retrieval"
)

// DefaultUserAgent mimics desktop Chrome.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

const defaultTimeout = 10 * time.Second

// Body markers that decide the outcome of a fetch.
const (
	markerSuccess      = "var createTime = "
	markerVerification = ">当前环境异常"
	markerRateLimited  = "操作频繁"
)

// Config controls the WeChat fetcher.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	Client    *http.Client
}

// Fetcher implements retrieval.Fetcher for mp.weixin.qq.com articles.
type Fetcher struct {
	userAgent string
	client    *http.Client
	logger    *zap.Logger
}

// New builds a Fetcher. TLS verification is disabled on the default client.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				// #nosec G402 -- matches the scrape client; article hosts are not a trust boundary.
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		}
	}
	return &Fetcher{userAgent: ua, client: client, logger: logger}
}

// Name identifies the strategy.
func (f *Fetcher) Name() string { return "wechat-article" }

// Fetch downloads the article, checks the body markers and formats it.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) retrieval.Outcome {
	body, out := f.download(ctx, NormalizeURL(rawURL))
	if !out.OK() {
		return out
	}
	article, err := Format(body)
	if err != nil {
		return retrieval.Failure(retrieval.ErrParse, err.Error())
	}
	f.logger.Info("wechat article fetched",
		zap.String("title", article.Title),
		zap.String("nickname", article.Nickname),
	)
	return retrieval.Success(strings.Join(article.Texts, "\n"), retrieval.Meta{
		Title:       article.Title,
		Author:      article.Author,
		Nickname:    article.Nickname,
		PublishedAt: article.CreateTime,
		ArticleLink: article.ArticleLink,
	})
}

// download returns the page body with a Success outcome when the success
// marker is present; otherwise the body is empty and the outcome a Failure.
func (f *Fetcher) download(ctx context.Context, target string) (string, retrieval.Outcome) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", retrieval.Failure(retrieval.ErrInvalidURL, err.Error())
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", retrieval.TransportFailure(err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			f.logger.Debug("close wechat response", zap.Error(cerr))
		}
	}()

	reader, err := charset.NewReader(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		return "", retrieval.Failure(retrieval.ErrParse, fmt.Sprintf("decode body: %v", err))
	}
	raw, err := io.ReadAll(reader)
	if err != nil {
		return "", retrieval.TransportFailure(fmt.Errorf("read body: %w", err))
	}
	body := string(raw)

	switch {
	case strings.Contains(body, markerSuccess):
		return body, retrieval.Success(body, retrieval.Meta{})
	case strings.Contains(body, markerVerification):
		return "", retrieval.Failure(retrieval.ErrVerificationRequired, "environment check requires verification")
	case strings.Contains(body, markerRateLimited):
		return "", retrieval.Failure(retrieval.ErrRateLimited, "requests too frequent")
	default:
		return "", retrieval.Failure(retrieval.ErrUnknown, fmt.Sprintf("no known marker (status %d)", resp.StatusCode))
	}
}

// NormalizeURL strips HTML-entity ampersand residue from copied share links.
func NormalizeURL(rawURL string) string {
	return strings.ReplaceAll(rawURL, "amp;", "")
}
