package cmd

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/link-publisher/internal/cover"
	"github.com/JakeFAU/link-publisher/internal/sources"
)

type coverOptions struct {
	listStyles bool
	title      string
	style      string
	categories string
	subtitle   string
	output     string
}

func newCoverCmd() *cobra.Command {
	var opts coverOptions
	cmd := &cobra.Command{
		Use:   "cover",
		Short: "Render a single cover image, or list the available styles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.listStyles {
				for _, s := range cover.Styles() {
					if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%-10s %s\n", s.Key, s.DisplayName); err != nil {
						return err
					}
				}
				return nil
			}
			return renderCover(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.BoolVar(&opts.listStyles, "list-styles", false, "print the style catalog and exit")
	f.StringVar(&opts.title, "title", "", "cover title")
	f.StringVar(&opts.style, "style", "", "style key; chosen from title and categories when empty")
	f.StringVar(&opts.categories, "categories", "", "comma-separated categories used for style selection")
	f.StringVar(&opts.subtitle, "subtitle", "", "cover subtitle (defaults to cover.subtitle)")
	f.StringVarP(&opts.output, "output", "o", "", "output PNG path")
	return cmd
}

func renderCover(cmd *cobra.Command, opts coverOptions) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	if opts.title == "" {
		return errors.New("--title is required")
	}
	style := opts.style
	if style != "" && !cover.ValidStyle(style) {
		return fmt.Errorf("unknown style %q", style)
	}
	if style == "" {
		style = cover.SelectStyle(opts.title, sources.SplitList(opts.categories))
	}
	cfg := a.Config()
	output := opts.output
	if output == "" {
		output = filepath.Join(cfg.Cover.OutputDir, cover.FileName(style, opts.title))
	}

	path, err := a.Covers().Generate(cmd.Context(), opts.title, firstSet(opts.subtitle, cfg.Cover.Subtitle), style, output)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", path, cover.DisplayName(style))
	return err
}
