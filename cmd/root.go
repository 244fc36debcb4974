// Package cmd defines the linkpub CLI commands.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/link-publisher/internal/app"
	"github.com/JakeFAU/link-publisher/internal/config"
	"github.com/JakeFAU/link-publisher/internal/logging"
	"github.com/JakeFAU/link-publisher/internal/pipeline"
	"github.com/JakeFAU/link-publisher/internal/storage"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is the set of services commands use. Tests inject a fake through
// newApp.
type App interface {
	Config() config.Config
	Logger() *zap.Logger
	RunID() string
	Retriever() pipeline.Retriever
	Covers() pipeline.CoverMaker
	Publisher() (pipeline.Publisher, error)
	Artifacts() storage.BlobStore
	NewRunner(publish bool) (*pipeline.Runner, error)
	Close()
}

type rootOptions struct {
	configFile string
	logDev     bool
}

// rootState keeps the App reachable after a failed RunE, when cobra skips
// the post-run hooks.
type rootState struct {
	opts rootOptions
	app  App
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, opts rootOptions) (App, error) {
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(logging.Options{
		Development: opts.logDev || cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return nil, err
	}
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return a, nil
}

func newRootCmd() (*cobra.Command, *rootState) {
	state := &rootState{}
	cmd := &cobra.Command{
		Use:   "linkpub",
		Short: "Fetch shared links, render covers and publish them to a Feishu bitable.",
		Long: `linkpub retrieves the text behind a link through an ordered chain of
sources (WeChat article fetcher, reader proxy, direct scrape), optionally
summarizes it, renders a cover image and appends a record to a Feishu
bitable.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), state.opts)
			if err != nil {
				return fmt.Errorf("initialize application services: %w", err)
			}
			state.app = appInstance
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&state.opts.configFile, "config", "", "config file (yaml, json or toml)")
	cmd.PersistentFlags().BoolVar(&state.opts.logDev, "log-dev", false, "human-readable development logging")

	cmd.AddCommand(
		newRunCmd(),
		newFetchCmd(),
		newPublishCmd(),
		newCoverCmd(),
		newServeCmd(),
	)
	return cmd, state
}

// Execute runs the root command and exits 1 on error.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	root, state := newRootCmd()
	err := root.ExecuteContext(ctx)
	stop()
	if state.app != nil {
		if err != nil {
			state.app.Logger().Error("command failed", zap.Error(err))
		}
		state.app.Close()
	}
	if err != nil {
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write json: %w", err)
	}
	return nil
}
