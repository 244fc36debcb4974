package cmd

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/link-publisher/internal/analyze"
	"github.com/JakeFAU/link-publisher/internal/metrics"
	"github.com/JakeFAU/link-publisher/internal/pipeline"
	"github.com/JakeFAU/link-publisher/internal/retrieval"
	"github.com/JakeFAU/link-publisher/internal/sources"
)

type runOptions struct {
	input      sources.Input
	jsonFile   string
	title      string
	summary    string
	categories string
	coverStyle string
	sender     string
	fetchType  string
	subtitle   string
	noCover    bool
	noPublish  bool
	dryRun     bool
}

func newRunCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Fetch, cover and publish one or more links",
		Long: `Processes each link in order: fetch the content, fill in title, summary
and categories, render a cover and append a bitable record. A single link
prints its result as JSON; several links write results.json to the
configured output store.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLinks(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.input.URL, "url", "", "single link to process")
	f.StringVar(&opts.input.URLs, "urls", "", "comma-separated links")
	f.StringVar(&opts.input.URLFile, "url-file", "", "file with one link per line")
	f.StringVar(&opts.input.Feed, "feed", "", "RSS or Atom feed whose item links are processed")
	f.StringVar(&opts.jsonFile, "json-file", "", "JSON array of precomputed analyses matched to links by index")
	f.StringVar(&opts.title, "title", "", "title for a single link")
	f.StringVar(&opts.summary, "summary", "", "summary for a single link")
	f.StringVar(&opts.categories, "categories", "", "comma-separated categories for a single link")
	f.StringVar(&opts.coverStyle, "cover-style", "", "cover style key (see cover --list-styles)")
	f.StringVar(&opts.sender, "sender", "", "who shared the links")
	f.StringVar(&opts.fetchType, "type", "auto", "force the fetch path: auto, wechat, github or webpage")
	f.StringVar(&opts.subtitle, "subtitle", "", "cover subtitle (defaults to cover.subtitle)")
	f.BoolVar(&opts.noCover, "no-cover", false, "skip cover generation")
	f.BoolVar(&opts.noPublish, "no-publish", false, "skip publishing")
	f.BoolVar(&opts.dryRun, "dry-run", false, "fetch and render but do not publish")
	return cmd
}

func runLinks(cmd *cobra.Command, opts runOptions) error {
	ctx := cmd.Context()
	a, err := resolveApp(ctx)
	if err != nil {
		return err
	}
	logger := a.Logger()
	cfg := a.Config()

	mode, err := retrieval.ParseMode(opts.fetchType)
	if err != nil {
		return err
	}
	urls, err := sources.Gather(ctx, opts.input, nil)
	if err != nil {
		return err
	}
	var analyses []analyze.Analysis
	if opts.jsonFile != "" {
		if analyses, err = analyze.LoadAnalyses(opts.jsonFile); err != nil {
			return err
		}
	}

	items := buildItems(urls, analyses, opts)
	validate := validator.New()
	for _, item := range items {
		if err := validate.Struct(item); err != nil {
			logger.Warn("link does not look like a URL", zap.String("url", item.URL), zap.Error(err))
		}
	}

	runner, err := a.NewRunner(!opts.noPublish && !opts.dryRun)
	if err != nil {
		return err
	}
	popts := pipeline.Options{
		NoCover:   opts.noCover,
		NoPublish: opts.noPublish,
		DryRun:    opts.dryRun,
		FetchMode: mode,
		Subtitle:  firstSet(opts.subtitle, cfg.Cover.Subtitle),
	}

	defer func() {
		if err := metrics.Push(ctx, cfg.Metrics.PushgatewayURL, cfg.Metrics.Job); err != nil {
			logger.Warn("metrics push failed", zap.Error(err))
		}
	}()

	if len(items) == 1 {
		return writeJSON(cmd.OutOrStdout(), runner.Process(ctx, items[0], popts))
	}

	results := runner.ProcessBatch(ctx, items, popts)
	uri, err := runner.WriteResults(ctx, results)
	if err != nil {
		logger.Warn("results not saved", zap.Error(err))
	}
	ok := 0
	for _, r := range results {
		if r.Success {
			ok++
		}
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "%d/%d links succeeded, results: %s\n", ok, len(items), uri)
	return err
}

// buildItems pairs each URL with its analysis by position, then drops
// repeated URLs keeping the first. Flag metadata only applies when a single
// link remains.
func buildItems(urls []string, analyses []analyze.Analysis, opts runOptions) []pipeline.Item {
	seen := make(map[string]struct{}, len(urls))
	items := make([]pipeline.Item, 0, len(urls))
	for i, u := range urls {
		item := pipeline.Item{URL: u, Sender: opts.sender, CoverStyle: opts.coverStyle}
		if i < len(analyses) {
			an := analyses[i]
			item.Title = an.Title
			item.Summary = an.Summary
			item.Categories = an.Categories
			item.CoverStyle = firstSet(item.CoverStyle, an.CoverStyle)
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		items = append(items, item)
	}

	if len(items) == 1 {
		item := &items[0]
		item.Title = firstSet(opts.title, item.Title)
		item.Summary = firstSet(opts.summary, item.Summary)
		if cats := sources.SplitList(opts.categories); len(cats) > 0 {
			item.Categories = cats
		}
	}
	return items
}

func firstSet(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
