// Package publish writes link records into a Feishu bitable.
package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/link-publisher/internal/retrieval"
)

// Bitable column names.
const (
	FieldTitle     = "标题"
	FieldSummary   = "简介"
	FieldType      = "类型"
	FieldSender    = "分享者"
	FieldCreatedAt = "创建日期"
	FieldCover     = "封面"
)

// DefaultCategory is used when a record has no categories.
const DefaultCategory = "其他"

const titleFallbackRunes = 50

var (
	// ErrInvalidBaseURL means the URL does not point at a bitable.
	ErrInvalidBaseURL = errors.New("not a feishu base url")
	// ErrNoTables means the bitable has no tables to write into.
	ErrNoTables = errors.New("bitable has no tables")
	// ErrTableNotFound means no table matched the configured name.
	ErrTableNotFound = errors.New("table not found")
)

// Table is a bitable table summary.
type Table struct {
	ID   string
	Name string
}

// TableAPI is the subset of the Feishu open API the publisher needs.
type TableAPI interface {
	ListTables(ctx context.Context, appToken, pageToken string, pageSize int) (tables []Table, nextPage string, hasMore bool, err error)
	CreateRecord(ctx context.Context, appToken, tableID string, fields map[string]any) (string, error)
	UploadImage(ctx context.Context, appToken, fileName string, size int, body io.Reader) (string, error)
}

// Clock supplies the default creation timestamp.
type Clock interface {
	NowMillis() int64
}

// Record is one link to publish.
type Record struct {
	Title           string   `json:"title"`
	URL             string   `json:"url"`
	Summary         string   `json:"summary"`
	Categories      []string `json:"categories"`
	CoverPath       string   `json:"cover_path,omitempty"`
	Sender          string   `json:"sender,omitempty"`
	CreatedAtMillis int64    `json:"created_at,omitempty"`
}

// Config names the target bitable and, optionally, a table inside it.
type Config struct {
	BaseURL   string
	TableID   string
	TableName string
}

// Publisher creates one bitable record per link.
type Publisher struct {
	api      TableAPI
	clock    Clock
	logger   *zap.Logger
	appToken string
	cfg      Config

	mu      sync.Mutex
	tableID string
}

// ParseAppToken extracts the app token that follows the "base" path segment.
func ParseAppToken(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidBaseURL, err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, p := range parts {
		if p != "base" {
			continue
		}
		if i+1 < len(parts) && parts[i+1] != "" {
			return parts[i+1], nil
		}
		return "", fmt.Errorf("%w: no app token after /base/", ErrInvalidBaseURL)
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidBaseURL, baseURL)
}

// New validates cfg and builds a Publisher. The target table is resolved on
// first use.
func New(cfg Config, api TableAPI, clock Clock, logger *zap.Logger) (*Publisher, error) {
	if api == nil {
		return nil, errors.New("table api is required")
	}
	if clock == nil {
		return nil, errors.New("clock is required")
	}
	token, err := ParseAppToken(cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		api:      api,
		clock:    clock,
		logger:   logger.Named("publish"),
		appToken: token,
		cfg:      cfg,
		tableID:  cfg.TableID,
	}, nil
}

// AppToken returns the parsed bitable token.
func (p *Publisher) AppToken() string { return p.appToken }

// Publish writes rec and returns the new record id. Cover upload problems are
// logged and the record is created without a cover.
func (p *Publisher) Publish(ctx context.Context, rec Record) (string, error) {
	tableID, err := p.resolveTable(ctx)
	if err != nil {
		return "", err
	}

	fields := p.fields(rec)
	if token, ok := p.uploadCover(ctx, rec.CoverPath); ok {
		fields[FieldCover] = []map[string]any{{"file_token": token}}
	}

	recordID, err := p.api.CreateRecord(ctx, p.appToken, tableID, fields)
	if err != nil {
		return "", fmt.Errorf("create record: %w", err)
	}
	p.logger.Info("record published",
		zap.String("record_id", recordID),
		zap.String("title", retrieval.Prefix(rec.Title, 30)),
	)
	return recordID, nil
}

// PublishBatch publishes records in order and returns how many succeeded.
func (p *Publisher) PublishBatch(ctx context.Context, records []Record) int {
	ok := 0
	for i, rec := range records {
		label := rec.Title
		if label == "" {
			label = rec.URL
		}
		p.logger.Info("publishing",
			zap.Int("index", i+1),
			zap.Int("total", len(records)),
			zap.String("title", retrieval.Prefix(label, 30)),
		)
		if _, err := p.Publish(ctx, rec); err != nil {
			p.logger.Error("publish failed", zap.String("url", rec.URL), zap.Error(err))
			continue
		}
		ok++
	}
	p.logger.Info("batch published", zap.Int("succeeded", ok), zap.Int("total", len(records)))
	return ok
}

func (p *Publisher) fields(rec Record) map[string]any {
	title := rec.Title
	if title == "" {
		title = retrieval.Prefix(rec.URL, titleFallbackRunes)
	}
	categories := rec.Categories
	if len(categories) == 0 {
		categories = []string{DefaultCategory}
	}
	created := rec.CreatedAtMillis
	if created == 0 {
		created = p.clock.NowMillis()
	}

	fields := map[string]any{
		FieldTitle:     map[string]any{"text": title, "link": rec.URL},
		FieldSummary:   rec.Summary,
		FieldType:      categories,
		FieldCreatedAt: created,
	}
	if rec.Sender != "" {
		fields[FieldSender] = rec.Sender
	}
	return fields
}

func (p *Publisher) uploadCover(ctx context.Context, path string) (string, bool) {
	if path == "" {
		return "", false
	}
	logger := p.logger.With(zap.String("cover", path))

	f, err := os.Open(path) // #nosec G304 -- path is produced by the cover step.
	if err != nil {
		logger.Warn("cover not uploaded", zap.Error(err))
		return "", false
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		logger.Warn("cover not uploaded", zap.Error(err))
		return "", false
	}

	token, err := p.api.UploadImage(ctx, p.appToken, filepath.Base(path), int(info.Size()), f)
	if err != nil {
		logger.Warn("cover upload failed", zap.Error(err))
		return "", false
	}
	logger.Info("cover uploaded")
	return token, true
}

// resolveTable picks the configured table id, then a table by name, then the
// first table. The choice is cached.
func (p *Publisher) resolveTable(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.tableID != "" {
		return p.tableID, nil
	}

	tables, err := p.listTables(ctx)
	if err != nil {
		return "", err
	}
	if len(tables) == 0 {
		return "", ErrNoTables
	}

	id := tables[0].ID
	if p.cfg.TableName != "" {
		id = ""
		for _, t := range tables {
			if t.Name == p.cfg.TableName {
				id = t.ID
				break
			}
		}
		if id == "" {
			return "", fmt.Errorf("%w: %s", ErrTableNotFound, p.cfg.TableName)
		}
	}

	p.tableID = id
	p.logger.Info("bitable table resolved", zap.String("table_id", id))
	return id, nil
}

func (p *Publisher) listTables(ctx context.Context) ([]Table, error) {
	var (
		all   []Table
		token string
	)
	for {
		page, next, more, err := p.api.ListTables(ctx, p.appToken, token, 100)
		if err != nil {
			return nil, fmt.Errorf("list tables: %w", err)
		}
		all = append(all, page...)
		if !more || next == "" {
			return all, nil
		}
		token = next
	}
}
