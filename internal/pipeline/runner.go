package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/link-publisher/internal/analyze"
	"github.com/JakeFAU/link-publisher/internal/cover"
	"github.com/JakeFAU/link-publisher/internal/publish"
	"github.com/JakeFAU/link-publisher/internal/retrieval"
	"github.com/JakeFAU/link-publisher/internal/storage"
)

// Defaults applied when neither the caller nor the analyzer supplies a value.
const (
	DefaultCategory  = "其他"
	DefaultSubtitle  = "精选内容·建议收藏"
	summaryRunes     = 200
	titleRunes       = 50
	ResultsFile      = "results.json"
	remoteCoverDir   = "covers"
	coverContentType = "image/png"
)

// Deps wires the collaborators of a Runner. Only Retriever is required.
type Deps struct {
	Retriever  Retriever
	Analyzer   analyze.Analyzer
	Cover      CoverMaker
	Publisher  Publisher
	Limiter    Limiter
	Ledger     Ledger
	Notifier   Notifier
	Observer   Observer
	Artifacts  storage.BlobStore
	CoverStore storage.BlobStore
	Clock      Clock
	CoverDir   string
	RunID      string
}

// Runner processes links one at a time.
type Runner struct {
	deps   Deps
	logger *zap.Logger
	mu     sync.Mutex
}

// New validates deps and builds a Runner.
func New(deps Deps, logger *zap.Logger) (*Runner, error) {
	if deps.Retriever == nil {
		return nil, errors.New("retriever is required")
	}
	if deps.Clock == nil {
		deps.Clock = wallClock{}
	}
	if deps.CoverDir == "" {
		deps.CoverDir = "output"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{deps: deps, logger: logger.Named("pipeline").With(zap.String("run_id", deps.RunID))}, nil
}

// RunID identifies this run in logs, the ledger and notifications.
func (r *Runner) RunID() string { return r.deps.RunID }

// Process runs fetch, analyze, cover and publish for one item. Concurrent
// callers are serialized.
func (r *Runner) Process(ctx context.Context, item Item, opts Options) ItemResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.process(ctx, item, opts)
}

// FetchAs runs only the fetch chain, serialized with Process and
// ProcessBatch.
func (r *Runner) FetchAs(ctx context.Context, rawURL string, mode retrieval.Mode) retrieval.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deps.Retriever.FetchAs(ctx, rawURL, mode)
}

// ProcessBatch processes items strictly in order and logs a final tally.
func (r *Runner) ProcessBatch(ctx context.Context, items []Item, opts Options) []ItemResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	results := make([]ItemResult, 0, len(items))
	for i, item := range items {
		r.logger.Info("processing link",
			zap.String("progress", fmt.Sprintf("[%d/%d]", i+1, len(items))),
			zap.String("url", item.URL),
		)
		if r.deps.Limiter != nil {
			if err := r.deps.Limiter.Wait(ctx, item.URL); err != nil {
				r.logger.Warn("batch stopped", zap.Error(err))
				break
			}
		}
		results = append(results, r.process(ctx, item, opts))
	}

	ok := 0
	for _, res := range results {
		if res.Success {
			ok++
		}
	}
	r.logger.Info("batch complete", zap.Int("succeeded", ok), zap.Int("total", len(items)))
	return results
}

// WriteResults stores results as results.json in the artifact store.
func (r *Runner) WriteResults(ctx context.Context, results []ItemResult) (string, error) {
	if r.deps.Artifacts == nil {
		return "", errors.New("no artifact store configured")
	}
	uri, err := storage.WriteJSON(ctx, r.deps.Artifacts, ResultsFile, results)
	if err != nil {
		return "", err
	}
	r.logger.Info("results saved", zap.String("uri", uri))
	return uri, nil
}

func (r *Runner) process(ctx context.Context, item Item, opts Options) ItemResult {
	start := r.deps.Clock.Now()
	res := ItemResult{
		RunID:     r.deps.RunID,
		URL:       item.URL,
		Steps:     make(map[string]StepResult, 4),
		StartedAt: start,
	}
	logger := r.logger.With(zap.String("url", item.URL))

	fetched := r.deps.Retriever.FetchAs(ctx, item.URL, opts.FetchMode)
	res.Type, res.Source, res.FetchError = fetched.Type, fetched.Source, fetched.Error
	res.Steps[StepFetch] = StepResult{Success: !fetched.Failed(), Error: fetched.Error, Detail: fetched.Source, Data: fetched}
	r.observeStep(StepFetch, res.Steps[StepFetch])

	analysis := r.analyze(ctx, logger, item, fetched, &res)
	res.Title = firstNonEmpty(item.Title, analysis.Title, fetched.Title, retrieval.Prefix(item.URL, titleRunes))
	res.Summary = firstNonEmpty(item.Summary, analysis.Summary, retrieval.Prefix(fetched.Content, summaryRunes)+"...")
	res.Categories = firstNonEmptyList(item.Categories, analysis.Categories, []string{DefaultCategory})

	style := firstNonEmpty(item.CoverStyle, analysis.CoverStyle)
	r.makeCover(ctx, logger, style, opts, &res)
	r.publish(ctx, logger, item, opts, &res)

	res.Duration = r.deps.Clock.Now().Sub(start)
	if r.deps.Observer != nil {
		r.deps.Observer.ObserveItem(res.Success)
	}
	r.record(ctx, logger, res)
	return res
}

func (r *Runner) analyze(ctx context.Context, logger *zap.Logger, item Item, fetched retrieval.Result, res *ItemResult) analyze.Analysis {
	provided := item.Title != "" && item.Summary != "" && len(item.Categories) > 0
	switch {
	case provided:
		res.Steps[StepAnalyze] = StepResult{Success: true, Skipped: true, Detail: "provided"}
	case r.deps.Analyzer == nil:
		res.Steps[StepAnalyze] = StepResult{Success: true, Skipped: true, Detail: "no analyzer"}
	case fetched.Failed():
		res.Steps[StepAnalyze] = StepResult{Success: false, Skipped: true, Error: "no content"}
	default:
		analysis, err := r.deps.Analyzer.Analyze(ctx, item.URL, fetched.Content)
		if err != nil {
			logger.Warn("analysis failed", zap.Error(err))
			res.Steps[StepAnalyze] = StepResult{Success: false, Error: err.Error()}
			break
		}
		res.Steps[StepAnalyze] = StepResult{Success: true}
		r.observeStep(StepAnalyze, res.Steps[StepAnalyze])
		return analysis
	}
	r.observeStep(StepAnalyze, res.Steps[StepAnalyze])
	return analyze.Analysis{}
}

func (r *Runner) makeCover(ctx context.Context, logger *zap.Logger, style string, opts Options, res *ItemResult) {
	if opts.NoCover || r.deps.Cover == nil {
		res.Steps[StepCover] = StepResult{Success: true, Skipped: true}
		r.observeStep(StepCover, res.Steps[StepCover])
		return
	}

	if style != "" && !cover.ValidStyle(style) {
		logger.Warn("unknown cover style, selecting automatically", zap.String("style", style))
		style = ""
	}
	if style == "" {
		style = cover.SelectStyle(res.Title, res.Categories)
	}
	subtitle := opts.Subtitle
	if subtitle == "" {
		subtitle = DefaultSubtitle
	}

	output := filepath.Join(r.deps.CoverDir, cover.FileName(style, res.URL))
	generated, err := r.deps.Cover.Generate(ctx, res.Title, subtitle, style, output)
	if err != nil {
		logger.Warn("cover generation failed", zap.Error(err))
		res.Steps[StepCover] = StepResult{Success: false, Error: err.Error()}
		r.observeStep(StepCover, res.Steps[StepCover])
		return
	}
	res.CoverPath, res.CoverStyle = generated, style
	res.Steps[StepCover] = StepResult{Success: true, Detail: cover.DisplayName(style)}
	r.observeStep(StepCover, res.Steps[StepCover])

	if r.deps.CoverStore != nil {
		res.CoverURI = r.copyCover(ctx, logger, generated)
	}
}

func (r *Runner) copyCover(ctx context.Context, logger *zap.Logger, local string) string {
	f, err := os.Open(local) // #nosec G304 -- path produced by the cover step.
	if err != nil {
		logger.Warn("cover copy skipped", zap.Error(err))
		return ""
	}
	defer f.Close()

	uri, err := r.deps.CoverStore.PutObject(ctx, path.Join(remoteCoverDir, filepath.Base(local)), coverContentType, f)
	if err != nil {
		logger.Warn("cover copy failed", zap.Error(err))
		return ""
	}
	return uri
}

func (r *Runner) publish(ctx context.Context, logger *zap.Logger, item Item, opts Options, res *ItemResult) {
	if opts.NoPublish || opts.DryRun || r.deps.Publisher == nil {
		res.Success = true
		res.Steps[StepPublish] = StepResult{Success: true, Skipped: true}
		r.observeStep(StepPublish, res.Steps[StepPublish])
		logger.Info("publish skipped")
		return
	}

	recordID, err := r.deps.Publisher.Publish(ctx, publish.Record{
		Title:           res.Title,
		URL:             res.URL,
		Summary:         res.Summary,
		Categories:      res.Categories,
		CoverPath:       res.CoverPath,
		Sender:          item.Sender,
		CreatedAtMillis: r.deps.Clock.Now().UnixMilli(),
	})
	if err != nil {
		logger.Error("publish failed", zap.Error(err))
		res.Steps[StepPublish] = StepResult{Success: false, Error: err.Error()}
		r.observeStep(StepPublish, res.Steps[StepPublish])
		return
	}
	res.Success = true
	res.RecordID = recordID
	res.Steps[StepPublish] = StepResult{Success: true, Detail: recordID}
	r.observeStep(StepPublish, res.Steps[StepPublish])
}

func (r *Runner) record(ctx context.Context, logger *zap.Logger, res ItemResult) {
	if r.deps.Ledger != nil {
		if err := r.deps.Ledger.Record(ctx, res); err != nil {
			logger.Warn("ledger write failed", zap.Error(err))
		}
	}
	if r.deps.Notifier != nil {
		if err := r.deps.Notifier.Notify(ctx, res); err != nil {
			logger.Warn("notification failed", zap.Error(err))
		}
	}
}

func (r *Runner) observeStep(step string, sr StepResult) {
	if r.deps.Observer == nil {
		return
	}
	outcome := "success"
	switch {
	case sr.Skipped:
		outcome = "skipped"
	case !sr.Success:
		outcome = "failed"
	}
	r.deps.Observer.ObserveStep(step, outcome)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstNonEmptyList(lists ...[]string) []string {
	for _, l := range lists {
		if len(l) > 0 {
			return l
		}
	}
	return nil
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }
