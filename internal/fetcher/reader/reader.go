// Package reader implements a fetcher backed by the Jina reader proxy, which
// renders an arbitrary URL into markdown server-side.
package reader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/link-publisher/internal/retrieval"
)

// DefaultBaseURL is the public reader proxy endpoint.
const DefaultBaseURL = "https://r.jina.ai"

const defaultTimeout = 60 * time.Second

// Config controls the reader proxy fetcher.
type Config struct {
	BaseURL string
	// APIKey is sent as a bearer token when set.
	APIKey  string
	Timeout time.Duration
	Client  *http.Client
}

// Fetcher implements retrieval.Fetcher against the reader proxy.
type Fetcher struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *zap.Logger
}

// New builds a Fetcher. A nil logger is replaced with a no-op logger.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &Fetcher{
		baseURL: base,
		apiKey:  cfg.APIKey,
		client:  client,
		logger:  logger,
	}
}

// Name identifies the keyed and anonymous variants separately.
func (f *Fetcher) Name() string {
	if f.apiKey != "" {
		return "reader-proxy-keyed"
	}
	return "reader-proxy"
}

// Fetch requests <base>/<url> and returns the cleaned markdown.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) retrieval.Outcome {
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return retrieval.Failure(retrieval.ErrInvalidURL, fmt.Sprintf("invalid url: %q", rawURL))
	}
	target := f.unwrap(rawURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/"+target, nil)
	if err != nil {
		return retrieval.Failure(retrieval.ErrInvalidURL, err.Error())
	}
	if f.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+f.apiKey)
	}
	f.logger.Debug("reader proxy request", zap.String("url", target), zap.Bool("keyed", f.apiKey != ""))

	resp, err := f.client.Do(req)
	if err != nil {
		return retrieval.TransportFailure(err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			f.logger.Debug("close reader response", zap.Error(cerr))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return retrieval.HTTPFailure(resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return retrieval.TransportFailure(fmt.Errorf("read body: %w", err))
	}

	content := StripLinks(string(body))
	if content == "" {
		return retrieval.Failure(retrieval.ErrEmptyContent, "no content retrieved")
	}
	return retrieval.Success(content, retrieval.Meta{})
}

// unwrap drops a duplicated proxy prefix such as
// https://r.jina.ai/https://example.com.
func (f *Fetcher) unwrap(rawURL string) string {
	prefix := f.baseURL + "/"
	if strings.HasPrefix(rawURL, prefix) && strings.Count(rawURL, "http") >= 2 {
		return strings.TrimPrefix(rawURL, prefix)
	}
	return rawURL
}
