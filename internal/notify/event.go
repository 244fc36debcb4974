// Package notify defines the item-processed event announced after each link.
package notify

import (
	"time"

	"github.com/JakeFAU/link-publisher/internal/pipeline"
	"github.com/JakeFAU/link-publisher/internal/retrieval"
)

// Event is the compact notification payload for one processed link.
type Event struct {
	RunID      string         `json:"run_id"`
	URL        string         `json:"url"`
	Success    bool           `json:"success"`
	Type       retrieval.Kind `json:"type"`
	Title      string         `json:"title"`
	RecordID   string         `json:"record_id,omitempty"`
	FetchError string         `json:"fetch_error,omitempty"`
	Failed     []string       `json:"failed_steps,omitempty"`
	FinishedAt time.Time      `json:"finished_at"`
}

// NewEvent summarizes res.
func NewEvent(res pipeline.ItemResult) Event {
	ev := Event{
		RunID:      res.RunID,
		URL:        res.URL,
		Success:    res.Success,
		Type:       res.Type,
		Title:      res.Title,
		RecordID:   res.RecordID,
		FetchError: res.FetchError,
		FinishedAt: res.StartedAt.Add(res.Duration),
	}
	for _, step := range []string{pipeline.StepFetch, pipeline.StepAnalyze, pipeline.StepCover, pipeline.StepPublish} {
		if sr, ok := res.Steps[step]; ok && !sr.Success {
			ev.Failed = append(ev.Failed, step)
		}
	}
	return ev
}
