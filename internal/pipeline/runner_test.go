package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/link-publisher/internal/analyze"
	"github.com/JakeFAU/link-publisher/internal/notify/memory"
	"github.com/JakeFAU/link-publisher/internal/pipeline"
	"github.com/JakeFAU/link-publisher/internal/publish"
	"github.com/JakeFAU/link-publisher/internal/retrieval"
	blobmem "github.com/JakeFAU/link-publisher/internal/storage/memory"
)

type fakeRetriever struct {
	results map[string]retrieval.Result
	modes   []retrieval.Mode
}

func (f *fakeRetriever) FetchAs(_ context.Context, rawURL string, mode retrieval.Mode) retrieval.Result {
	f.modes = append(f.modes, mode)
	if res, ok := f.results[rawURL]; ok {
		return res
	}
	return retrieval.Result{URL: rawURL, Type: retrieval.KindWebpage, Content: "body of " + rawURL, Source: "reader-proxy"}
}

type fakeCover struct {
	err   error
	calls []string
}

func (f *fakeCover) Generate(_ context.Context, title, subtitle, style, output string) (string, error) {
	f.calls = append(f.calls, strings.Join([]string{title, subtitle, style}, "|"))
	if f.err != nil {
		return "", f.err
	}
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return "", err
	}
	return output, os.WriteFile(output, []byte("png"), 0o600)
}

type fakePublisher struct {
	fail    map[string]bool
	records []publish.Record
}

func (f *fakePublisher) Publish(_ context.Context, rec publish.Record) (string, error) {
	if f.fail[rec.URL] {
		return "", errors.New("create record: code=1254045")
	}
	f.records = append(f.records, rec)
	return "rec-" + rec.URL, nil
}

type fakeAnalyzer struct {
	out   analyze.Analysis
	err   error
	calls int
}

func (f *fakeAnalyzer) Analyze(context.Context, string, string) (analyze.Analysis, error) {
	f.calls++
	return f.out, f.err
}

type fakeLedger struct{ rows []pipeline.ItemResult }

func (f *fakeLedger) Record(_ context.Context, res pipeline.ItemResult) error {
	f.rows = append(f.rows, res)
	return errors.New("ledger offline")
}

type countingLimiter struct {
	mu   sync.Mutex
	urls []string
	err  error
}

func (c *countingLimiter) Wait(_ context.Context, rawURL string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.urls = append(c.urls, rawURL)
	return c.err
}

type stepCounter struct {
	items map[bool]int
	steps map[string]int
}

func (s *stepCounter) ObserveItem(ok bool)               { s.items[ok]++ }
func (s *stepCounter) ObserveStep(step, outcome string) { s.steps[step+":"+outcome]++ }

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func newRunner(t *testing.T, deps pipeline.Deps) *pipeline.Runner {
	t.Helper()
	if deps.Retriever == nil {
		deps.Retriever = &fakeRetriever{}
	}
	if deps.Clock == nil {
		deps.Clock = fixedClock{t: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)}
	}
	if deps.CoverDir == "" {
		deps.CoverDir = t.TempDir()
	}
	deps.RunID = "run-1"
	r, err := pipeline.New(deps, zap.NewNop())
	require.NoError(t, err)
	return r
}

func TestNewRequiresRetriever(t *testing.T) {
	t.Parallel()

	_, err := pipeline.New(pipeline.Deps{}, nil)
	assert.Error(t, err)
}

func TestProcessDefaultsAndPublish(t *testing.T) {
	t.Parallel()

	content := strings.Repeat("内", 250)
	retriever := &fakeRetriever{results: map[string]retrieval.Result{
		"https://example.com/post": {URL: "https://example.com/post", Type: retrieval.KindWebpage, Content: content, Source: "direct-scrape"},
	}}
	covers := &fakeCover{}
	pub := &fakePublisher{}
	obs := &stepCounter{items: map[bool]int{}, steps: map[string]int{}}
	r := newRunner(t, pipeline.Deps{Retriever: retriever, Cover: covers, Publisher: pub, Observer: obs})

	res := r.Process(context.Background(), pipeline.Item{URL: "https://example.com/post", Sender: "bob"}, pipeline.Options{})

	assert.True(t, res.Success)
	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, "https://example.com/post", res.Title)
	assert.Equal(t, strings.Repeat("内", 200)+"...", res.Summary)
	assert.Equal(t, []string{"其他"}, res.Categories)
	assert.Equal(t, "swiss", res.CoverStyle)
	assert.FileExists(t, res.CoverPath)
	assert.Equal(t, "rec-https://example.com/post", res.RecordID)
	assert.Equal(t, "direct-scrape", res.Source)
	assert.Equal(t, []string{"https://example.com/post|精选内容·建议收藏|swiss"}, covers.calls)

	require.Len(t, pub.records, 1)
	rec := pub.records[0]
	assert.Equal(t, "bob", rec.Sender)
	assert.Equal(t, res.CoverPath, rec.CoverPath)
	assert.Equal(t, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC).UnixMilli(), rec.CreatedAtMillis)

	assert.Equal(t, 1, obs.items[true])
	assert.Equal(t, 1, obs.steps["publish:success"])
	assert.Equal(t, 1, obs.steps["analyze:skipped"])
	assert.Equal(t, []retrieval.Mode{""}, retriever.modes)
}

func TestProcessUsesProvidedMetadataAndStyle(t *testing.T) {
	t.Parallel()

	analyzer := &fakeAnalyzer{}
	covers := &fakeCover{}
	r := newRunner(t, pipeline.Deps{Analyzer: analyzer, Cover: covers})

	res := r.Process(context.Background(), pipeline.Item{
		URL:        "https://example.com/a",
		Title:      "给定标题",
		Summary:    "给定摘要",
		Categories: []string{"技术"},
		CoverStyle: "geek",
	}, pipeline.Options{NoPublish: true, Subtitle: "副标题"})

	assert.Equal(t, 0, analyzer.calls)
	assert.Equal(t, "给定标题", res.Title)
	assert.Equal(t, "给定摘要", res.Summary)
	assert.Equal(t, []string{"技术"}, res.Categories)
	assert.Equal(t, "geek", res.CoverStyle)
	assert.Equal(t, []string{"给定标题|副标题|geek"}, covers.calls)
	assert.True(t, res.Steps[pipeline.StepPublish].Skipped)
	assert.True(t, res.Success)
}

func TestProcessAnalyzerFillsGaps(t *testing.T) {
	t.Parallel()

	analyzer := &fakeAnalyzer{out: analyze.Analysis{Title: "AI 编程工具", Summary: "一句话", Categories: []string{"工具"}}}
	r := newRunner(t, pipeline.Deps{Analyzer: analyzer, Cover: &fakeCover{}})

	res := r.Process(context.Background(), pipeline.Item{URL: "https://example.com/b", Summary: "mine"}, pipeline.Options{DryRun: true})

	assert.Equal(t, 1, analyzer.calls)
	assert.Equal(t, "AI 编程工具", res.Title)
	assert.Equal(t, "mine", res.Summary)
	assert.Equal(t, []string{"工具"}, res.Categories)
	assert.Equal(t, "swiss", res.CoverStyle)
	assert.True(t, res.Steps[pipeline.StepAnalyze].Success)
}

func TestProcessAnalyzerFailureIsRecorded(t *testing.T) {
	t.Parallel()

	analyzer := &fakeAnalyzer{err: errors.New("quota")}
	r := newRunner(t, pipeline.Deps{Analyzer: analyzer})

	res := r.Process(context.Background(), pipeline.Item{URL: "https://example.com/c"}, pipeline.Options{NoCover: true, NoPublish: true})
	assert.False(t, res.Steps[pipeline.StepAnalyze].Success)
	assert.Equal(t, "quota", res.Steps[pipeline.StepAnalyze].Error)
	assert.True(t, res.Success)
}

func TestProcessCoverFailureDoesNotAbort(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{}
	r := newRunner(t, pipeline.Deps{Cover: &fakeCover{err: errors.New("session unavailable")}, Publisher: pub})

	res := r.Process(context.Background(), pipeline.Item{URL: "https://example.com/d"}, pipeline.Options{})
	assert.False(t, res.Steps[pipeline.StepCover].Success)
	assert.Equal(t, "session unavailable", res.Steps[pipeline.StepCover].Error)
	assert.Empty(t, res.CoverPath)
	assert.True(t, res.Success)
	require.Len(t, pub.records, 1)
	assert.Empty(t, pub.records[0].CoverPath)
}

func TestProcessFetchExhaustedStillPublishesPlaceholder(t *testing.T) {
	t.Parallel()

	failed := retrieval.Result{
		URL:     "https://mp.weixin.qq.com/s/x",
		Type:    retrieval.KindWeChat,
		Title:   retrieval.WeChatFailedTitle,
		Content: retrieval.Placeholder(retrieval.KindWeChat, "https://mp.weixin.qq.com/s/x"),
		Error:   retrieval.ReasonFetchFailed,
	}
	analyzer := &fakeAnalyzer{}
	pub := &fakePublisher{}
	r := newRunner(t, pipeline.Deps{
		Retriever: &fakeRetriever{results: map[string]retrieval.Result{failed.URL: failed}},
		Analyzer:  analyzer,
		Publisher: pub,
	})

	res := r.Process(context.Background(), pipeline.Item{URL: failed.URL}, pipeline.Options{NoCover: true})
	assert.Equal(t, 0, analyzer.calls)
	assert.False(t, res.Steps[pipeline.StepFetch].Success)
	assert.Equal(t, failed, res.Steps[pipeline.StepFetch].Data)
	assert.Equal(t, retrieval.ReasonFetchFailed, res.FetchError)
	assert.Equal(t, retrieval.WeChatFailedTitle, res.Title)
	assert.True(t, strings.HasPrefix(res.Summary, "⚠️ 无法获取微信文章"))
	assert.True(t, res.Success)
}

func TestProcessFetchStepCarriesResultJSON(t *testing.T) {
	t.Parallel()

	fetched := retrieval.Result{
		URL:         "https://mp.weixin.qq.com/s/ok",
		Type:        retrieval.KindWeChat,
		Title:       "标题",
		Author:      "作者",
		PublishedAt: "1700000000",
		Content:     "正文",
		Source:      "wechat-article",
	}
	r := newRunner(t, pipeline.Deps{Retriever: &fakeRetriever{results: map[string]retrieval.Result{fetched.URL: fetched}}})

	res := r.Process(context.Background(), pipeline.Item{URL: fetched.URL}, pipeline.Options{NoCover: true})
	raw, err := json.Marshal(res.Steps[pipeline.StepFetch])
	require.NoError(t, err)

	var step struct {
		Success bool             `json:"success"`
		Data    retrieval.Result `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &step))
	assert.True(t, step.Success)
	assert.Equal(t, fetched, step.Data)

	raw, err = json.Marshal(res.Steps[pipeline.StepPublish])
	require.NoError(t, err)
	assert.NotContains(t, string(raw), `"data"`)
}

// gatedRetriever tracks how many fetches run at once.
type gatedRetriever struct {
	mu      sync.Mutex
	active  int
	maxSeen int
}

func (g *gatedRetriever) FetchAs(_ context.Context, rawURL string, _ retrieval.Mode) retrieval.Result {
	g.mu.Lock()
	g.active++
	if g.active > g.maxSeen {
		g.maxSeen = g.active
	}
	g.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	g.mu.Lock()
	g.active--
	g.mu.Unlock()
	return retrieval.Result{URL: rawURL, Type: retrieval.KindWebpage, Content: "text"}
}

func TestFetchAsSerializedWithProcess(t *testing.T) {
	t.Parallel()

	retriever := &gatedRetriever{}
	r := newRunner(t, pipeline.Deps{Retriever: retriever})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			res := r.FetchAs(context.Background(), "https://example.com/f", retrieval.ModeWebpage)
			assert.Equal(t, "text", res.Content)
		}()
		go func() {
			defer wg.Done()
			r.Process(context.Background(), pipeline.Item{URL: "https://example.com/p"}, pipeline.Options{NoCover: true})
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, retriever.maxSeen)
}

func TestProcessPublishFailure(t *testing.T) {
	t.Parallel()

	ledger := &fakeLedger{}
	notifier := memory.New()
	r := newRunner(t, pipeline.Deps{
		Publisher: &fakePublisher{fail: map[string]bool{"https://example.com/e": true}},
		Ledger:    ledger,
		Notifier:  notifier,
	})

	res := r.Process(context.Background(), pipeline.Item{URL: "https://example.com/e"}, pipeline.Options{NoCover: true})
	assert.False(t, res.Success)
	assert.Contains(t, res.Steps[pipeline.StepPublish].Error, "1254045")

	require.Len(t, ledger.rows, 1, "ledger errors are only logged")
	msgs := notifier.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "https://example.com/e", msgs[0].URL)
}

func TestProcessBatchSequentialWithLimiterAndResults(t *testing.T) {
	t.Parallel()

	limiter := &countingLimiter{}
	artifacts := blobmem.New()
	pub := &fakePublisher{fail: map[string]bool{"https://b.example": true}}
	r := newRunner(t, pipeline.Deps{Publisher: pub, Limiter: limiter, Artifacts: artifacts})

	items := []pipeline.Item{{URL: "https://a.example"}, {URL: "https://b.example"}, {URL: "https://c.example"}}
	results := r.ProcessBatch(context.Background(), items, pipeline.Options{NoCover: true})

	require.Len(t, results, 3)
	assert.Equal(t, []string{"https://a.example", "https://b.example", "https://c.example"}, limiter.urls)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.True(t, results[2].Success)
	assert.Len(t, pub.records, 2)

	uri, err := r.WriteResults(context.Background(), results)
	require.NoError(t, err)
	assert.Equal(t, "memory://results.json", uri)

	body, _, ok := artifacts.Object(pipeline.ResultsFile)
	require.True(t, ok)
	var decoded []pipeline.ItemResult
	require.NoError(t, json.Unmarshal(body, &decoded))
	require.Len(t, decoded, 3)
	assert.Equal(t, "run-1", decoded[1].RunID)
	assert.False(t, decoded[1].Success)
}

func TestProcessBatchStopsWhenLimiterFails(t *testing.T) {
	t.Parallel()

	r := newRunner(t, pipeline.Deps{Limiter: &countingLimiter{err: context.Canceled}})
	results := r.ProcessBatch(context.Background(), []pipeline.Item{{URL: "https://a"}, {URL: "https://b"}}, pipeline.Options{NoCover: true, NoPublish: true})
	assert.Empty(t, results)
}

func TestProcessCopiesCoverToStore(t *testing.T) {
	t.Parallel()

	store := blobmem.New()
	r := newRunner(t, pipeline.Deps{Cover: &fakeCover{}, CoverStore: store})

	res := r.Process(context.Background(), pipeline.Item{URL: "https://example.com/f", CoverStyle: "not-a-style"}, pipeline.Options{NoPublish: true})
	assert.Equal(t, "swiss", res.CoverStyle)
	assert.Equal(t, "memory://covers/"+filepath.Base(res.CoverPath), res.CoverURI)
	body, contentType, ok := store.Object("covers/" + filepath.Base(res.CoverPath))
	require.True(t, ok)
	assert.Equal(t, "png", string(body))
	assert.Equal(t, "image/png", contentType)
}

func TestWriteResultsWithoutStore(t *testing.T) {
	t.Parallel()

	r := newRunner(t, pipeline.Deps{})
	_, err := r.WriteResults(context.Background(), nil)
	assert.Error(t, err)
}
