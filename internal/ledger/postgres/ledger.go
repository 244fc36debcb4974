// Package postgres records link outcomes in a Postgres table.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/link-publisher/internal/hash/sha256"
	"github.com/JakeFAU/link-publisher/internal/id/uuid"
	"github.com/JakeFAU/link-publisher/internal/pipeline"
)

// DefaultTable receives rows when no table is configured.
const DefaultTable = "link_outcomes"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for outcome rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Ledger writes one row per processed link.
type Ledger struct {
	pool   execCloser
	table  string
	hasher *sha256.Hasher
	ids    *uuid.Generator
	query  string
}

// Open parses cfg.DSN and connects a pool.
func Open(ctx context.Context, cfg Config) (*Ledger, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("ledger.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	l, err := NewWithPool(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return l, nil
}

// NewWithPool builds a Ledger over an existing pool.
func NewWithPool(pool execCloser, table string) (*Ledger, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Ledger{
		pool:   pool,
		table:  table,
		hasher: sha256.New(),
		ids:    uuid.New(),
		query:  insertQuery(table),
	}, nil
}

// Close releases the pool.
func (l *Ledger) Close() {
	if l == nil || l.pool == nil {
		return
	}
	l.pool.Close()
}

// Record inserts the outcome row for res.
func (l *Ledger) Record(ctx context.Context, res pipeline.ItemResult) error {
	if l == nil || l.pool == nil {
		return fmt.Errorf("ledger is not configured")
	}
	categories, err := json.Marshal(nonNil(res.Categories))
	if err != nil {
		return fmt.Errorf("marshal categories: %w", err)
	}
	steps, err := json.Marshal(stepOutcomes(res.Steps))
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}
	args := []any{
		l.ids.MustID(),
		res.RunID,
		res.URL,
		l.hasher.Hash(res.URL),
		string(res.Type),
		res.Source,
		res.Success,
		res.FetchError,
		res.Title,
		categories,
		res.RecordID,
		res.CoverPath,
		steps,
		res.StartedAt.Add(res.Duration),
	}
	if _, err := l.pool.Exec(ctx, l.query, args...); err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

// stepOutcomes drops step payloads such as the fetched text; rows keep only
// the per-step outcome.
func stepOutcomes(steps map[string]pipeline.StepResult) map[string]pipeline.StepResult {
	out := make(map[string]pipeline.StepResult, len(steps))
	for name, sr := range steps {
		sr.Data = nil
		out[name] = sr
	}
	return out
}

func insertQuery(table string) string {
	return fmt.Sprintf(`
INSERT INTO %s (
	id,
	run_id,
	url,
	url_hash,
	type,
	source,
	success,
	fetch_error,
	title,
	categories,
	record_id,
	cover_path,
	steps,
	processed_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
)`, table)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
