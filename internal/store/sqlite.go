package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/ashureev/tripmind/internal/logging"
	_ "modernc.org/sqlite"
)

const (
	busyRetries   = 3
	busyBaseDelay = 100 * time.Millisecond
)

// schema lists the columns of every table. Identifiers in queries are
// checked against it before being interpolated.
var schema = map[string][]string{
	"user_facts": {"id", "user_id", "category", "fact_text", "created_at", "updated_at"},
}

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL lets readers proceed while a writer holds the lock.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS user_facts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		category TEXT NOT NULL,
		fact_text TEXT NOT NULL,
		created_at INTEGER NOT NULL DEFAULT (unixepoch()),
		updated_at INTEGER NOT NULL DEFAULT (unixepoch()),
		UNIQUE(user_id, category)
	);
	CREATE INDEX IF NOT EXISTS idx_user_facts_user ON user_facts(user_id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Upsert writes records in a single transaction, retrying with exponential
// backoff while the database is busy.
func (s *SQLiteStore) Upsert(ctx context.Context, table string, records []Record, conflictKeys, updateFields []string) error {
	if len(records) == 0 {
		return nil
	}
	if err := checkColumns(table, conflictKeys...); err != nil {
		return err
	}
	if err := checkColumns(table, updateFields...); err != nil {
		return err
	}
	for _, r := range records {
		if err := checkColumns(table, columnsOf(r)...); err != nil {
			return err
		}
	}

	return s.retryBusy(ctx, "upsert "+table, func() error {
		return s.upsertOnce(ctx, table, records, conflictKeys, updateFields)
	})
}

func (s *SQLiteStore) upsertOnce(ctx context.Context, table string, records []Record, conflictKeys, updateFields []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, r := range records {
		query, args := upsertStatement(table, r, conflictKeys, updateFields)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("upsert into %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert into %s: %w", table, err)
	}
	return nil
}

func upsertStatement(table string, r Record, conflictKeys, updateFields []string) (string, []any) {
	cols := columnsOf(r)
	args := make([]any, 0, len(cols))
	for _, c := range cols {
		args = append(args, r[c])
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES (%s)", table,
		strings.Join(cols, ", "), strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "))
	if len(conflictKeys) > 0 {
		fmt.Fprintf(&b, " ON CONFLICT(%s) DO ", strings.Join(conflictKeys, ", "))
		if len(updateFields) == 0 {
			b.WriteString("NOTHING")
		} else {
			sets := make([]string, 0, len(updateFields))
			for _, f := range updateFields {
				sets = append(sets, f+" = excluded."+f)
			}
			b.WriteString("UPDATE SET " + strings.Join(sets, ", "))
		}
	}
	return b.String(), args
}

// Query returns matching rows ordered by insertion.
func (s *SQLiteStore) Query(ctx context.Context, table string, filter Filter) ([]Record, error) {
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if err := checkColumns(table, keys...); err != nil {
		return nil, err
	}

	cols := schema[table]
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(cols, ", "), table)
	args := make([]any, 0, len(keys))
	if len(keys) > 0 {
		conds := make([]string, 0, len(keys))
		for _, k := range keys {
			conds = append(conds, k+" = ?")
			args = append(args, filter[k])
		}
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY rowid"

	var out []Record
	err := s.retryBusy(ctx, "query "+table, func() error {
		out = nil
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("query %s: %w", table, err)
		}
		defer rows.Close()

		for rows.Next() {
			values := make([]any, len(cols))
			ptrs := make([]any, len(cols))
			for i := range values {
				ptrs[i] = &values[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				return fmt.Errorf("scan %s row: %w", table, err)
			}
			rec := make(Record, len(cols))
			for i, c := range cols {
				rec[c] = values[i]
			}
			out = append(out, rec)
		}
		return rows.Err()
	})
	return out, err
}

func (s *SQLiteStore) retryBusy(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := range busyRetries {
		err = fn()
		if err == nil || !isBusy(err) {
			return err
		}
		if attempt == busyRetries-1 {
			break
		}
		delay := busyBaseDelay * time.Duration(1<<attempt)
		logging.FromContext(ctx).Debug("sqlite busy, retrying",
			"op", op,
			"attempt", attempt+1,
			"delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("%s after %d attempts: %w", op, busyRetries, err)
}

func checkColumns(table string, cols ...string) error {
	known, ok := schema[table]
	if !ok {
		return fmt.Errorf("table %q: %w", table, ErrUnknownIdentifier)
	}
	for _, c := range cols {
		if !slices.Contains(known, c) {
			return fmt.Errorf("column %s.%q: %w", table, c, ErrUnknownIdentifier)
		}
	}
	return nil
}

func columnsOf(r Record) []string {
	cols := make([]string, 0, len(r))
	for c := range r {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}
