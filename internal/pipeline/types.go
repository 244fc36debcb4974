// Package pipeline drives one or many links through fetch, analysis, cover
// generation and publishing.
package pipeline

import (
	"context"
	"time"

	"github.com/JakeFAU/link-publisher/internal/publish"
	"github.com/JakeFAU/link-publisher/internal/retrieval"
)

// Step names used in ItemResult.Steps.
const (
	StepFetch   = "fetch"
	StepAnalyze = "analyze"
	StepCover   = "cover"
	StepPublish = "publish"
)

// Item is one link plus any editorial metadata supplied by the caller.
type Item struct {
	URL        string   `json:"url" validate:"required,url"`
	Title      string   `json:"title,omitempty"`
	Summary    string   `json:"summary,omitempty"`
	Categories []string `json:"categories,omitempty"`
	CoverStyle string   `json:"cover_style,omitempty"`
	Sender     string   `json:"sender,omitempty"`
}

// Options toggles optional steps for a run.
type Options struct {
	NoCover   bool
	NoPublish bool
	DryRun    bool
	FetchMode retrieval.Mode
	Subtitle  string
}

// StepResult records what happened in one step. Data carries the step's
// full output where there is one; the fetch step stores its retrieval.Result.
type StepResult struct {
	Success bool   `json:"success"`
	Skipped bool   `json:"skipped,omitempty"`
	Error   string `json:"error,omitempty"`
	Detail  string `json:"detail,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// ItemResult is the per-link outcome written to results.json, the ledger
// and the notifier.
type ItemResult struct {
	RunID      string                `json:"run_id"`
	URL        string                `json:"url"`
	Success    bool                  `json:"success"`
	Type       retrieval.Kind        `json:"type"`
	Source     string                `json:"source,omitempty"`
	FetchError string                `json:"fetch_error,omitempty"`
	Title      string                `json:"title"`
	Summary    string                `json:"summary"`
	Categories []string              `json:"categories"`
	CoverStyle string                `json:"cover_style,omitempty"`
	CoverPath  string                `json:"cover_path,omitempty"`
	CoverURI   string                `json:"cover_uri,omitempty"`
	RecordID   string                `json:"record_id,omitempty"`
	Steps      map[string]StepResult `json:"steps"`
	StartedAt  time.Time             `json:"started_at"`
	Duration   time.Duration         `json:"duration_ns"`
}

// Retriever runs the fetch chain for a URL.
type Retriever interface {
	FetchAs(ctx context.Context, rawURL string, mode retrieval.Mode) retrieval.Result
}

// CoverMaker renders a cover image to a local path.
type CoverMaker interface {
	Generate(ctx context.Context, title, subtitle, style, output string) (string, error)
}

// Publisher writes one record to the destination table.
type Publisher interface {
	Publish(ctx context.Context, rec publish.Record) (string, error)
}

// Limiter delays fetches to the same host.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Ledger persists item outcomes.
type Ledger interface {
	Record(ctx context.Context, res ItemResult) error
}

// Notifier announces item outcomes.
type Notifier interface {
	Notify(ctx context.Context, res ItemResult) error
}

// Observer counts item and step outcomes.
type Observer interface {
	ObserveItem(success bool)
	ObserveStep(step, outcome string)
}

// Clock supplies timestamps.
type Clock interface {
	Now() time.Time
}
