// Package analyze derives titles, summaries and categories for fetched
// links, either from an LLM or from a pre-computed analyses file.
package analyze

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Analysis is the editorial metadata attached to a link.
type Analysis struct {
	Title      string   `json:"title,omitempty"`
	Summary    string   `json:"summary,omitempty"`
	Categories []string `json:"categories,omitempty"`
	CoverStyle string   `json:"cover_style,omitempty"`
}

// Empty reports whether no field is set.
func (a Analysis) Empty() bool {
	return a.Title == "" && a.Summary == "" && len(a.Categories) == 0 && a.CoverStyle == ""
}

// Analyzer produces an Analysis from fetched content.
type Analyzer interface {
	Analyze(ctx context.Context, rawURL, content string) (Analysis, error)
}

// ErrInvalidAnalysis is returned when a document does not match the schema.
var ErrInvalidAnalysis = errors.New("analysis does not match schema")

const analysisSchema = `{
  "type": "object",
  "properties": {
    "title":       {"type": "string"},
    "summary":     {"type": "string"},
    "categories":  {"type": "array", "items": {"type": "string", "minLength": 1}},
    "cover_style": {"type": "string"}
  },
  "additionalProperties": true
}`

var analysesSchema = `{"type": "array", "items": ` + analysisSchema + `}`

// ParseAnalysis validates and decodes one analysis object.
func ParseAnalysis(data []byte) (Analysis, error) {
	if err := validate(analysisSchema, data); err != nil {
		return Analysis{}, err
	}
	var a Analysis
	if err := json.Unmarshal(data, &a); err != nil {
		return Analysis{}, fmt.Errorf("decode analysis: %w", err)
	}
	return a, nil
}

// LoadAnalyses reads a JSON array of analyses. Entries are matched to URLs
// by position.
func LoadAnalyses(path string) ([]Analysis, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator supplied path.
	if err != nil {
		return nil, fmt.Errorf("read analyses: %w", err)
	}
	if err := validate(analysesSchema, data); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	var out []Analysis
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode analyses: %w", err)
	}
	return out, nil
}

func validate(schema string, data []byte) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidAnalysis, err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%w: %s", ErrInvalidAnalysis, strings.Join(msgs, "; "))
}
