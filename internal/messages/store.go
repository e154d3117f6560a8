// Package messages reads (and, for cleanup, prunes) the macOS Messages
// database. The schema is owned by Messages.app; only the message and
// handle tables are touched.
package messages

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"spamstop/internal/logging"
	"spamstop/internal/phone"

	_ "modernc.org/sqlite"
)

// Message is one row of the message table joined with its sender handle.
type Message struct {
	RowID  int64
	Text   string
	Handle string
	Date   time.Time
}

// Store wraps the chat.db connection.
type Store struct {
	db   *sql.DB
	path string
}

const (
	spamMarkersQuery = `
	SELECT m.ROWID, m.text, m.date
	FROM message m
	WHERE m.text LIKE ?
	ORDER BY m.date DESC
	LIMIT ?`

	recentSMSQuery = `
	SELECT m.ROWID, m.text, m.attributedBody, h.id, m.date
	FROM message m
	JOIN handle h ON m.handle_id = h.ROWID
	WHERE m.service = 'SMS' AND h.country = 'us'
	ORDER BY m.date DESC
	LIMIT ?`

	countByTextQuery  = `SELECT COUNT(*) FROM message WHERE text = ?`
	deleteByTextQuery = `DELETE FROM message WHERE text = ?`
)

// Open opens chat.db at path. The file must already exist; Messages.app
// creates it, we never do.
func Open(path string) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("chat database %s: %w", path, err)
	}

	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open chat database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to chat database: %w", err)
	}

	logging.Messages("Opened chat database %s", path)
	return &Store{db: db, path: path}, nil
}

// New wraps an existing connection.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// SpamMarkers returns the newest messages whose text carries the spam
// marker, at most limit rows.
func (s *Store) SpamMarkers(ctx context.Context, limit int) ([]Message, error) {
	timer := logging.StartTimer(logging.CategoryMessages, "SpamMarkers")
	defer timer.Stop()

	rows, err := s.db.QueryContext(ctx, spamMarkersQuery, "%"+phone.Marker+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("query spam markers: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			m    Message
			text sql.NullString
			date sql.NullInt64
		)
		if err := rows.Scan(&m.RowID, &text, &date); err != nil {
			return nil, fmt.Errorf("scan spam marker: %w", err)
		}
		m.Text = text.String
		m.Date = AppleTime(date.Int64)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate spam markers: %w", err)
	}

	logging.MessagesDebug("SpamMarkers: %d rows (limit %d)", len(out), limit)
	return out, nil
}

// RecentSMS returns the newest SMS messages from US handles. Rows whose
// text column is NULL fall back to the text decoded from attributedBody.
func (s *Store) RecentSMS(ctx context.Context, limit int) ([]Message, error) {
	timer := logging.StartTimer(logging.CategoryMessages, "RecentSMS")
	defer timer.Stop()

	rows, err := s.db.QueryContext(ctx, recentSMSQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent sms: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			m      Message
			text   sql.NullString
			body   []byte
			handle sql.NullString
			date   sql.NullInt64
		)
		if err := rows.Scan(&m.RowID, &text, &body, &handle, &date); err != nil {
			return nil, fmt.Errorf("scan recent sms: %w", err)
		}
		m.Text = text.String
		if !text.Valid || m.Text == "" {
			m.Text = DecodeAttributedBody(body)
		}
		m.Handle = handle.String
		m.Date = AppleTime(date.Int64)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent sms: %w", err)
	}

	logging.MessagesDebug("RecentSMS: %d rows (limit %d)", len(out), limit)
	return out, nil
}

// CountByText returns how many messages have text exactly equal to text.
func (s *Store) CountByText(ctx context.Context, text string) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, countByTextQuery, text).Scan(&n); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

// DeleteByText removes every message whose text equals text exactly and
// returns the number of rows deleted.
func (s *Store) DeleteByText(ctx context.Context, text string) (int64, error) {
	res, err := s.db.ExecContext(ctx, deleteByTextQuery, text)
	if err != nil {
		return 0, fmt.Errorf("delete messages: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	logging.Messages("Deleted %d messages with text %q", n, text)
	return n, nil
}

// appleEpoch is 2001-01-01T00:00:00Z, the zero of chat.db timestamps.
var appleEpoch = time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)

// AppleTime converts a chat.db date column. Databases written since macOS
// High Sierra store nanoseconds; older ones store seconds.
func AppleTime(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	if v > 1_000_000_000_000 {
		return appleEpoch.Add(time.Duration(v))
	}
	return appleEpoch.Add(time.Duration(v) * time.Second)
}
