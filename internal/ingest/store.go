package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dgnsrekt/portal_export/internal/failure"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Store is the append-only destination for exported rows.
type Store struct {
	db *sql.DB
}

// Open opens a sqlite store from a "sqlite:///path" URL or a plain path.
// Journal mode is WAL with synchronous=NORMAL.
func Open(ctx context.Context, dbURL string) (*Store, error) {
	path := strings.TrimPrefix(dbURL, "sqlite:///")
	path = strings.TrimPrefix(path, "sqlite://")
	if path == "" {
		return nil, failure.New(failure.CodeValidation, "empty database URL", nil)
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, failure.New(failure.CodeIngestFailed, "create database dir", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, failure.New(failure.CodeIngestFailed, "open "+path, err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	for _, pragma := range []string{"PRAGMA journal_mode=WAL;", "PRAGMA synchronous=NORMAL;", "PRAGMA busy_timeout=5000;"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, failure.New(failure.CodeIngestFailed, "apply "+pragma, err)
		}
	}
	slog.Info("ingest store opened", "path", path)
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the handle for read-side callers.
func (s *Store) DB() *sql.DB { return s.db }

// Append creates table when needed, adds columns that the sheet has and the
// table lacks, and inserts every row in one transaction. It returns the
// number of rows inserted.
func (s *Store) Append(ctx context.Context, table string, sheet Sheet) (int, error) {
	if !tableName.MatchString(table) {
		return 0, failure.Newf(failure.CodeValidation, "invalid table name %q", table)
	}
	if len(sheet.Header) == 0 {
		return 0, failure.Newf(failure.CodeIngestFailed, "sheet for %s has no header", table)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, failure.New(failure.CodeIngestFailed, "begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := ensureColumns(ctx, tx, table, sheet.Header); err != nil {
		return 0, err
	}

	cols := make([]string, len(sheet.Header))
	marks := make([]string, len(sheet.Header))
	for i, h := range sheet.Header {
		cols[i] = quoteIdent(h)
		marks[i] = "?"
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(table), strings.Join(cols, ", "), strings.Join(marks, ", ")))
	if err != nil {
		return 0, failure.New(failure.CodeIngestFailed, "prepare insert into "+table, err)
	}
	defer stmt.Close()

	args := make([]any, len(sheet.Header))
	for n, row := range sheet.Rows {
		for i := range args {
			if i < len(row) {
				args[i] = row[i]
			} else {
				args[i] = nil
			}
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return 0, failure.New(failure.CodeIngestFailed, fmt.Sprintf("insert row %d into %s", n+1, table), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, failure.New(failure.CodeIngestFailed, "commit "+table, err)
	}
	return len(sheet.Rows), nil
}

func ensureColumns(ctx context.Context, tx *sql.Tx, table string, header []string) error {
	defs := make([]string, len(header))
	for i, h := range header {
		defs[i] = quoteIdent(h) + " TEXT"
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quoteIdent(table), strings.Join(defs, ", "))); err != nil {
		return failure.New(failure.CodeIngestFailed, "create table "+table, err)
	}

	existing, err := columns(ctx, tx, table)
	if err != nil {
		return err
	}
	for _, h := range header {
		if existing[strings.ToLower(h)] {
			continue
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s TEXT", quoteIdent(table), quoteIdent(h))); err != nil {
			return failure.New(failure.CodeIngestFailed, "add column "+h, err)
		}
		slog.Info("ingest column added", "table", table, "column", h)
	}
	return nil
}

func columns(ctx context.Context, tx *sql.Tx, table string) (map[string]bool, error) {
	rows, err := tx.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(table)))
	if err != nil {
		return nil, failure.New(failure.CodeIngestFailed, "inspect "+table, err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, failure.New(failure.CodeIngestFailed, "scan columns of "+table, err)
		}
		out[strings.ToLower(name)] = true
	}
	if err := rows.Err(); err != nil {
		return nil, failure.New(failure.CodeIngestFailed, "inspect "+table, err)
	}
	return out, nil
}

// Count returns the number of rows in table.
func (s *Store) Count(ctx context.Context, table string) (int, error) {
	if !tableName.MatchString(table) {
		return 0, failure.Newf(failure.CodeValidation, "invalid table name %q", table)
	}
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoteIdent(table)).Scan(&n)
	return n, err
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// File reads path and appends it to table.
func (s *Store) File(ctx context.Context, table, path string) (int, error) {
	start := time.Now()
	sheet, err := ReadFile(path)
	if err != nil {
		return 0, err
	}
	n, err := s.Append(ctx, table, sheet)
	if err != nil {
		return 0, err
	}
	slog.Info("ingest file appended", "table", table, "path", path, "rows", n, "elapsed_ms", time.Since(start).Milliseconds())
	return n, nil
}
