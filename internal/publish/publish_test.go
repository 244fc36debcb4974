package publish

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fixedClock int64

func (c fixedClock) NowMillis() int64 { return int64(c) }

type createdRecord struct {
	tableID string
	fields  map[string]any
}

type fakeAPI struct {
	pages      [][]Table
	listCalls  []string
	created    []createdRecord
	uploads    []string
	uploadErr  error
	createErr  error
	uploadBody []byte
}

func (f *fakeAPI) ListTables(_ context.Context, _ string, pageToken string, pageSize int) ([]Table, string, bool, error) {
	f.listCalls = append(f.listCalls, pageToken)
	if pageSize != 100 {
		return nil, "", false, errors.New("unexpected page size")
	}
	idx := 0
	if pageToken != "" {
		idx = int(pageToken[len(pageToken)-1] - '0')
	}
	if idx >= len(f.pages) {
		return nil, "", false, nil
	}
	more := idx+1 < len(f.pages)
	next := ""
	if more {
		next = "page" + string(rune('0'+idx+1))
	}
	return f.pages[idx], next, more, nil
}

func (f *fakeAPI) CreateRecord(_ context.Context, _ string, tableID string, fields map[string]any) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created = append(f.created, createdRecord{tableID: tableID, fields: fields})
	return "rec" + string(rune('0'+len(f.created))), nil
}

func (f *fakeAPI) UploadImage(_ context.Context, _ string, fileName string, size int, body io.Reader) (string, error) {
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	if len(data) != size {
		return "", errors.New("size mismatch")
	}
	f.uploadBody = data
	f.uploads = append(f.uploads, fileName)
	return "file-token", nil
}

const baseURL = "https://example.feishu.cn/base/AppTok123?table=tblX&view=vew"

func newPublisher(t *testing.T, cfg Config, api *fakeAPI, logger *zap.Logger) *Publisher {
	t.Helper()
	if cfg.BaseURL == "" {
		cfg.BaseURL = baseURL
	}
	p, err := New(cfg, api, fixedClock(1700000000000), logger)
	require.NoError(t, err)
	return p
}

func TestParseAppToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: baseURL, want: "AppTok123"},
		{in: "https://x.feishu.cn/base/Tok/", want: "Tok"},
		{in: "https://x.larksuite.com/wiki/base/Tok2?from=share", want: "Tok2"},
		{in: "https://x.feishu.cn/docx/Doc", wantErr: true},
		{in: "https://x.feishu.cn/base", wantErr: true},
		{in: "https://x.feishu.cn/base/", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseAppToken(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrInvalidBaseURL, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestNewRejectsBadBaseURL(t *testing.T) {
	t.Parallel()

	_, err := New(Config{BaseURL: "https://example.com/sheet"}, &fakeAPI{}, fixedClock(0), nil)
	assert.ErrorIs(t, err, ErrInvalidBaseURL)
}

func TestPublishFields(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{pages: [][]Table{{{ID: "tbl1", Name: "first"}}}}
	p := newPublisher(t, Config{}, api, nil)

	id, err := p.Publish(context.Background(), Record{
		URL:     "https://example.com/a-very-long-path-that-goes-on-and-on-and-on-forever",
		Summary: "sum",
		Sender:  "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, "rec1", id)

	require.Len(t, api.created, 1)
	rec := api.created[0]
	assert.Equal(t, "tbl1", rec.tableID)
	assert.Equal(t, map[string]any{
		"text": "https://example.com/a-very-long-path-that-goes-on-",
		"link": "https://example.com/a-very-long-path-that-goes-on-and-on-and-on-forever",
	}, rec.fields[FieldTitle])
	assert.Equal(t, "sum", rec.fields[FieldSummary])
	assert.Equal(t, []string{"其他"}, rec.fields[FieldType])
	assert.Equal(t, "alice", rec.fields[FieldSender])
	assert.Equal(t, int64(1700000000000), rec.fields[FieldCreatedAt])
	assert.NotContains(t, rec.fields, FieldCover)
}

func TestPublishOmitsSenderAndKeepsCreatedAt(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	p := newPublisher(t, Config{TableID: "tblFixed"}, api, nil)

	_, err := p.Publish(context.Background(), Record{
		Title: "T", URL: "https://e.com", Categories: []string{"技术"}, CreatedAtMillis: 42,
	})
	require.NoError(t, err)
	assert.Empty(t, api.listCalls, "configured table id skips listing")
	rec := api.created[0]
	assert.Equal(t, "tblFixed", rec.tableID)
	assert.NotContains(t, rec.fields, FieldSender)
	assert.Equal(t, int64(42), rec.fields[FieldCreatedAt])
	assert.Equal(t, []string{"技术"}, rec.fields[FieldType])
}

func TestPublishUploadsCover(t *testing.T) {
	t.Parallel()

	cover := filepath.Join(t.TempDir(), "cover_swiss_1.png")
	require.NoError(t, os.WriteFile(cover, []byte("png-bytes"), 0o600))

	api := &fakeAPI{}
	p := newPublisher(t, Config{TableID: "tbl"}, api, nil)
	_, err := p.Publish(context.Background(), Record{Title: "T", URL: "https://e.com", CoverPath: cover})
	require.NoError(t, err)

	assert.Equal(t, []string{"cover_swiss_1.png"}, api.uploads)
	assert.Equal(t, "png-bytes", string(api.uploadBody))
	assert.Equal(t, []map[string]any{{"file_token": "file-token"}}, api.created[0].fields[FieldCover])
}

func TestPublishMissingCoverStillCreatesRecord(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.WarnLevel)
	api := &fakeAPI{}
	p := newPublisher(t, Config{TableID: "tbl"}, api, zap.New(core))

	_, err := p.Publish(context.Background(), Record{
		Title: "T", URL: "https://e.com", CoverPath: filepath.Join(t.TempDir(), "missing.png"),
	})
	require.NoError(t, err)
	require.Len(t, api.created, 1)
	assert.NotContains(t, api.created[0].fields, FieldCover)
	assert.Empty(t, api.uploads)
	assert.Equal(t, 1, logs.FilterMessage("cover not uploaded").Len())
}

func TestPublishUploadFailureIsNonFatal(t *testing.T) {
	t.Parallel()

	cover := filepath.Join(t.TempDir(), "c.png")
	require.NoError(t, os.WriteFile(cover, []byte("x"), 0o600))

	core, logs := observer.New(zapcore.WarnLevel)
	api := &fakeAPI{uploadErr: errors.New("quota")}
	p := newPublisher(t, Config{TableID: "tbl"}, api, zap.New(core))

	_, err := p.Publish(context.Background(), Record{Title: "T", URL: "https://e.com", CoverPath: cover})
	require.NoError(t, err)
	assert.NotContains(t, api.created[0].fields, FieldCover)
	assert.Equal(t, 1, logs.FilterMessage("cover upload failed").Len())
}

func TestResolveTableByNameAcrossPages(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{pages: [][]Table{
		{{ID: "tbl1", Name: "one"}},
		{{ID: "tbl2", Name: "two"}},
	}}
	p := newPublisher(t, Config{TableName: "two"}, api, nil)

	for i := 0; i < 2; i++ {
		_, err := p.Publish(context.Background(), Record{Title: "T", URL: "https://e.com"})
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"", "page1"}, api.listCalls, "resolved once and cached")
	assert.Equal(t, "tbl2", api.created[1].tableID)
}

func TestResolveTableErrors(t *testing.T) {
	t.Parallel()

	p := newPublisher(t, Config{}, &fakeAPI{}, nil)
	_, err := p.Publish(context.Background(), Record{URL: "https://e.com"})
	assert.ErrorIs(t, err, ErrNoTables)

	p = newPublisher(t, Config{TableName: "ghost"}, &fakeAPI{pages: [][]Table{{{ID: "t", Name: "real"}}}}, nil)
	_, err = p.Publish(context.Background(), Record{URL: "https://e.com"})
	assert.ErrorIs(t, err, ErrTableNotFound)
}

func TestPublishBatchCountsSuccesses(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	p := newPublisher(t, Config{TableID: "tbl"}, api, nil)
	n := p.PublishBatch(context.Background(), []Record{
		{Title: "a", URL: "https://a"},
		{Title: "b", URL: "https://b"},
	})
	assert.Equal(t, 2, n)

	failing := newPublisher(t, Config{TableID: "tbl"}, &fakeAPI{createErr: errors.New("boom")}, nil)
	assert.Equal(t, 0, failing.PublishBatch(context.Background(), []Record{{URL: "https://a"}}))
}
