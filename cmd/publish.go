package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/link-publisher/internal/clock/system"
	"github.com/JakeFAU/link-publisher/internal/publish"
	"github.com/JakeFAU/link-publisher/internal/sources"
)

type publishOptions struct {
	jsonFile   string
	url        string
	title      string
	summary    string
	categories string
	cover      string
	sender     string
}

func newPublishCmd() *cobra.Command {
	var opts publishOptions
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Append one record to the bitable without fetching",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			rec, err := publishRecord(opts)
			if err != nil {
				return err
			}
			pub, err := a.Publisher()
			if err != nil {
				return err
			}
			if rec.CreatedAtMillis == 0 {
				rec.CreatedAtMillis = system.New().NowMillis()
			}
			id, err := pub.Publish(cmd.Context(), rec)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]string{"record_id": id, "url": rec.URL})
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.jsonFile, "json", "", "JSON file holding one record")
	f.StringVar(&opts.url, "url", "", "link")
	f.StringVar(&opts.title, "title", "", "record title")
	f.StringVar(&opts.summary, "summary", "", "record summary")
	f.StringVar(&opts.categories, "categories", "", "comma-separated categories")
	f.StringVar(&opts.cover, "cover", "", "local cover image to attach")
	f.StringVar(&opts.sender, "sender", "", "who shared the link")
	return cmd
}

func publishRecord(opts publishOptions) (publish.Record, error) {
	var rec publish.Record
	if opts.jsonFile != "" {
		data, err := os.ReadFile(opts.jsonFile)
		if err != nil {
			return rec, fmt.Errorf("read record file: %w", err)
		}
		if err := json.Unmarshal(data, &rec); err != nil {
			return rec, fmt.Errorf("decode record file: %w", err)
		}
	}
	rec.URL = firstSet(opts.url, rec.URL)
	rec.Title = firstSet(opts.title, rec.Title)
	rec.Summary = firstSet(opts.summary, rec.Summary)
	rec.CoverPath = firstSet(opts.cover, rec.CoverPath)
	rec.Sender = firstSet(opts.sender, rec.Sender)
	if cats := sources.SplitList(opts.categories); len(cats) > 0 {
		rec.Categories = cats
	}
	if rec.URL == "" {
		return rec, errors.New("a url is required (--url or --json)")
	}
	return rec, nil
}
