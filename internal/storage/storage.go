// Package storage defines where run artifacts such as results.json and
// uploaded covers are written.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// BlobStore persists one object and returns a URI describing where it went.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// JSONContentType is used for JSON artifacts.
const JSONContentType = "application/json; charset=utf-8"

// WriteJSON stores v as indented JSON. Non-ASCII text is written as-is.
func WriteJSON(ctx context.Context, store BlobStore, path string, v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("encode %s: %w", path, err)
	}
	uri, err := store.PutObject(ctx, path, JSONContentType, &buf)
	if err != nil {
		return "", fmt.Errorf("store %s: %w", path, err)
	}
	return uri, nil
}
