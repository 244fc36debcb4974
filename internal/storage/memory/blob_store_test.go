package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/link-publisher/internal/storage"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := New()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "runs/results.json", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, "memory://runs/results.json", uri)

	payload[0] = 'C'
	body, contentType, ok := store.Object("runs/results.json")
	require.True(t, ok)
	assert.Equal(t, "content", string(body))
	assert.Equal(t, "application/json", contentType)

	body[0] = 'X'
	again, _, _ := store.Object("runs/results.json")
	assert.Equal(t, "content", string(again))
	assert.Equal(t, []string{"runs/results.json"}, store.Paths())
}

func TestWriteJSONKeepsUnicode(t *testing.T) {
	t.Parallel()

	store := New()
	_, err := storage.WriteJSON(context.Background(), store, "results.json", []map[string]string{{"title": "微信文章 <b>"}})
	require.NoError(t, err)

	body, contentType, ok := store.Object("results.json")
	require.True(t, ok)
	assert.Equal(t, storage.JSONContentType, contentType)
	assert.Contains(t, string(body), "微信文章 <b>")
	assert.Contains(t, string(body), "\n  {")
}
