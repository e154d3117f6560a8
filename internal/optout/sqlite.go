package optout

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"spamstop/internal/logging"
)

// SQLiteRepository stores the set in a SQLite table. Every call writes
// through, so Flush has nothing to do.
type SQLiteRepository struct {
	db     *sql.DB
	dbPath string
}

// OpenSQLite creates or opens the opt-out database at path.
func OpenSQLite(path string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	r := &SQLiteRepository{db: db, dbPath: path}
	if err := r.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logging.OptOut("Opened opt-out database %s", path)
	return r, nil
}

func (r *SQLiteRepository) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS opted_out (
		number TEXT PRIMARY KEY,
		source TEXT NOT NULL DEFAULT '',
		run_id TEXT NOT NULL DEFAULT '',
		added_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_opted_out_source ON opted_out(source);
	`
	_, err := r.db.Exec(schema)
	return err
}

// Path returns the database file path.
func (r *SQLiteRepository) Path() string {
	return r.dbPath
}

func (r *SQLiteRepository) Contains(ctx context.Context, number string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM opted_out WHERE number = ?`, number).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query opt-out: %w", err)
	}
	return true, nil
}

func (r *SQLiteRepository) Add(ctx context.Context, e Entry) error {
	if e.AddedAt.IsZero() {
		e.AddedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO opted_out (number, source, run_id, added_at) VALUES (?, ?, ?, ?)`,
		e.Number, e.Source, e.RunID, e.AddedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert opt-out: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Remove(ctx context.Context, number string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM opted_out WHERE number = ?`, number)
	if err != nil {
		return fmt.Errorf("failed to delete opt-out: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) List(ctx context.Context) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT number, source, run_id, added_at FROM opted_out ORDER BY number`)
	if err != nil {
		return nil, fmt.Errorf("failed to list opt-outs: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			addedAt sql.NullTime
		)
		if err := rows.Scan(&e.Number, &e.Source, &e.RunID, &addedAt); err != nil {
			return nil, fmt.Errorf("failed to scan opt-out: %w", err)
		}
		e.AddedAt = addedAt.Time
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM opted_out`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count opt-outs: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) Flush(context.Context) error {
	return nil
}

// Close closes the database connection.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}
