// Package migrate applies the embedded Postgres schema.
package migrate

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carenav-org/querykit/migrations"
)

// advisoryLockID serializes concurrent migrators across connections for the
// duration of the migration transaction.
const advisoryLockID int64 = 0x71_6b_6d_69_67 // "qkmig"

// ledgerTable records applied migration files so re-runs skip them.
const ledgerTable = "querykit_schema_migrations"

func quoteIdent(ident string) (string, error) {
	ident = strings.TrimSpace(ident)
	if ident == "" {
		return "", fmt.Errorf("empty identifier")
	}
	for _, r := range ident {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			continue
		}
		return "", fmt.Errorf("invalid identifier %q", ident)
	}
	return `"` + ident + `"`, nil
}

// pendingFiles returns the lexically ordered migration files not yet recorded
// as applied.
func pendingFiles(all []string, applied map[string]struct{}) []string {
	var out []string
	for _, f := range all {
		if _, done := applied[f]; done {
			continue
		}
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// ApplyPostgres brings schema up to date: every embedded *.up.sql file not
// yet in the ledger runs in lexical order inside one transaction, under an
// advisory lock so concurrent migrators do not interleave.
func ApplyPostgres(ctx context.Context, pool *pgxpool.Pool, schema string) error {
	if strings.TrimSpace(schema) == "" {
		return fmt.Errorf("schema is required")
	}

	dirEntries, err := fs.ReadDir(migrations.Postgres, "postgres")
	if err != nil {
		return fmt.Errorf("read embedded migrations: %w", err)
	}

	var files []string
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		name := de.Name()
		if strings.HasSuffix(name, ".up.sql") {
			files = append(files, name)
		}
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire pg connection: %w", err)
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	quotedSchema, err := quoteIdent(schema)
	if err != nil {
		return fmt.Errorf("invalid schema: %w", err)
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL search_path = %s, public", quotedSchema)); err != nil {
		return fmt.Errorf("set search_path: %w", err)
	}
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockID); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}

	if _, err := tx.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			filename   text PRIMARY KEY,
			applied_at timestamptz NOT NULL DEFAULT now()
		)`, ledgerTable)); err != nil {
		return fmt.Errorf("create migration ledger: %w", err)
	}

	applied := map[string]struct{}{}
	rows, err := tx.Query(ctx, fmt.Sprintf("SELECT filename FROM %s", ledgerTable))
	if err != nil {
		return fmt.Errorf("read migration ledger: %w", err)
	}
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			rows.Close()
			return err
		}
		applied[f] = struct{}{}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, f := range pendingFiles(files, applied) {
		raw, err := fs.ReadFile(migrations.Postgres, "postgres/"+f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := tx.Exec(ctx, string(raw)); err != nil {
			return fmt.Errorf("apply migration %s: %w", f, err)
		}
		if _, err := tx.Exec(ctx,
			fmt.Sprintf("INSERT INTO %s (filename) VALUES ($1)", ledgerTable), f); err != nil {
			return fmt.Errorf("record migration %s: %w", f, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
