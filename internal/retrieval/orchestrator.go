package retrieval

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Titles attached to WeChat results that did not come from the article fetcher.
const (
	WeChatProxyTitle  = "微信文章"
	WeChatFailedTitle = "微信文章（获取失败）"
)

// Mode forces a fetch path instead of classifying the URL.
type Mode string

// Supported fetch modes.
const (
	ModeAuto    Mode = "auto"
	ModeWeChat  Mode = "wechat"
	ModeGitHub  Mode = "github"
	ModeWebpage Mode = "webpage"
)

// ParseMode validates a mode string. Empty means auto.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "", ModeAuto:
		return ModeAuto, nil
	case ModeWeChat, ModeGitHub, ModeWebpage:
		return m, nil
	default:
		return "", fmt.Errorf("unknown fetch type %q", s)
	}
}

// Capabilities records which optional strategies are available. It is
// resolved once at startup.
type Capabilities struct {
	HasArticleFetcher bool
	HasScrapeFetcher  bool
}

// Config wires the strategies used by the orchestrator. ReaderKeyed is nil
// when no reader credential is configured.
type Config struct {
	Capabilities Capabilities
	Article      Fetcher
	ReaderKeyed  Fetcher
	Reader       Fetcher
	Scrape       Fetcher
}

// Observer receives one call per fetcher attempt.
type Observer interface {
	ObserveAttempt(fetcher, outcome string, elapsed time.Duration)
}

// Orchestrator applies the ordered, short-circuiting fallback chain.
type Orchestrator struct {
	chains   map[Kind][]Fetcher
	reader   Fetcher
	observer Observer
	logger   *zap.Logger
}

// NewOrchestrator builds the per-class chains from cfg.
func NewOrchestrator(cfg Config, observer Observer, logger *zap.Logger) (*Orchestrator, error) {
	if cfg.Reader == nil {
		return nil, errors.New("reader fetcher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var article []Fetcher
	if cfg.Capabilities.HasArticleFetcher && cfg.Article != nil {
		article = append(article, cfg.Article)
	}
	if cfg.ReaderKeyed != nil {
		article = append(article, cfg.ReaderKeyed)
	}
	article = append(article, cfg.Reader)

	// Webpages get one reader attempt, keyed when a credential exists.
	reader := cfg.Reader
	if cfg.ReaderKeyed != nil {
		reader = cfg.ReaderKeyed
	}
	web := []Fetcher{reader}
	if cfg.Capabilities.HasScrapeFetcher && cfg.Scrape != nil {
		web = append(web, cfg.Scrape)
	}

	return &Orchestrator{
		chains: map[Kind][]Fetcher{
			KindWeChat:     article,
			KindRepository: web,
			KindWebpage:    web,
		},
		reader:   reader,
		observer: observer,
		logger:   logger,
	}, nil
}

// Chain returns the ordered fetchers tried for a URL class.
func (o *Orchestrator) Chain(kind Kind) []Fetcher {
	return append([]Fetcher(nil), o.chains[kind]...)
}

// Fetch classifies rawURL and runs its chain.
func (o *Orchestrator) Fetch(ctx context.Context, rawURL string) Result {
	return o.FetchAs(ctx, rawURL, ModeAuto)
}

// FetchAs runs the chain selected by mode. ModeWebpage uses the reader proxy only.
func (o *Orchestrator) FetchAs(ctx context.Context, rawURL string, mode Mode) Result {
	var (
		kind  Kind
		chain []Fetcher
	)
	switch mode {
	case ModeWeChat:
		kind = KindWeChat
	case ModeGitHub:
		kind = KindRepository
	case ModeWebpage:
		kind, chain = KindWebpage, []Fetcher{o.reader}
	default:
		kind = Classify(rawURL)
	}
	if chain == nil {
		chain = o.chains[kind]
	}

	if !supportedScheme(rawURL) {
		o.logger.Warn("unsupported url scheme", zap.String("url", rawURL))
		return exhausted(Result{URL: rawURL, Type: kind}, ReasonNotSupported)
	}
	return o.run(ctx, rawURL, kind, chain)
}

func (o *Orchestrator) run(ctx context.Context, rawURL string, kind Kind, chain []Fetcher) Result {
	res := Result{URL: rawURL, Type: kind}
	if kind == KindRepository {
		res.Owner, res.Repo = ParseRepository(rawURL)
	}
	logger := o.logger.With(zap.String("url", rawURL), zap.String("type", string(kind)))

	for i, f := range chain {
		if err := ctx.Err(); err != nil {
			logger.Warn("fetch canceled", zap.Error(err))
			break
		}
		start := time.Now()
		out := f.Fetch(ctx, rawURL)
		if out.OK() && strings.TrimSpace(out.Text()) == "" {
			out = Failure(ErrEmptyContent, "no text returned")
		}
		if o.observer != nil {
			o.observer.ObserveAttempt(f.Name(), out.Label(), time.Since(start))
		}
		if out.OK() {
			res.Content = out.Text()
			res.Source = f.Name()
			applyMeta(&res, out.Meta())
			logger.Info("content fetched",
				zap.String("fetcher", f.Name()),
				zap.Int("chars", len([]rune(res.Content))),
			)
			return res
		}
		logger.Warn("fetcher failed",
			zap.String("fetcher", f.Name()),
			zap.Int("attempt", i+1),
			zap.Int("of", len(chain)),
			zap.String("kind", string(out.Kind())),
			zap.String("detail", out.Detail()),
		)
	}
	logger.Error("all fetchers exhausted")
	return exhausted(res, ReasonFetchFailed)
}

func applyMeta(res *Result, meta Meta) {
	res.Title = meta.Title
	res.Author = meta.Author
	res.Nickname = meta.Nickname
	res.PublishedAt = meta.PublishedAt
	if res.Type == KindWeChat && res.Title == "" {
		res.Title = WeChatProxyTitle
	}
}

func exhausted(res Result, reason string) Result {
	res.Error = reason
	res.Content = Placeholder(res.Type, res.URL)
	if res.Type == KindWeChat {
		res.Title = WeChatFailedTitle
	}
	return res
}

// Placeholder is the human-readable content used when no source produced text.
func Placeholder(kind Kind, rawURL string) string {
	if kind == KindWeChat {
		return "⚠️ 无法获取微信文章\n\n" + rawURL
	}
	return "⚠️ 无法获取网页内容\n\n" + rawURL
}

func supportedScheme(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}
