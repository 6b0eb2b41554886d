// Package executor runs approved SELECT statements inside read-only
// transactions and returns rows as generic maps.
package executor

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type Config struct {
	Pool   *pgxpool.Pool
	Logger *zap.Logger

	MaxRows int
	Timeout time.Duration
}

type Executor struct {
	pool *pgxpool.Pool
	log  *zap.Logger

	maxRows int
	timeout time.Duration
}

func New(cfg Config) (*Executor, error) {
	if cfg.Pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	maxRows := cfg.MaxRows
	if maxRows <= 0 {
		maxRows = 1000
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Executor{
		pool:    cfg.Pool,
		log:     log,
		maxRows: maxRows,
		timeout: timeout,
	}, nil
}

var limitRe = regexp.MustCompile(`(?i)\blimit\s+\d+`)

// EnsureLimit appends LIMIT maxRows when the statement has none.
func EnsureLimit(sql string, maxRows int) string {
	trimmed := strings.TrimRight(strings.TrimSpace(sql), ";")
	if limitRe.MatchString(trimmed) {
		return trimmed
	}
	return fmt.Sprintf("%s LIMIT %d", trimmed, maxRows)
}

// Execute runs sql in a read-only transaction and returns every row as a
// column-name → value map. Errors are surfaced verbatim so the caller can
// decide whether to retry.
func (e *Executor) Execute(ctx context.Context, sql string) ([]map[string]any, error) {
	sql = EnsureLimit(sql, e.maxRows)

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	tx, err := e.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("begin read-only tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	start := time.Now()
	rows, err := tx.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = f.Name
	}

	var out []map[string]any
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = vals[i]
		}
		out = append(out, row)
		if len(out) >= e.maxRows {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	e.log.Debug("query executed",
		zap.Int("rows", len(out)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return out, nil
}
