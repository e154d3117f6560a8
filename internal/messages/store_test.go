package messages

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const testSchema = `
CREATE TABLE handle (
	ROWID INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL,
	country TEXT,
	service TEXT NOT NULL DEFAULT 'SMS'
);
CREATE TABLE message (
	ROWID INTEGER PRIMARY KEY AUTOINCREMENT,
	text TEXT,
	attributedBody BLOB,
	handle_id INTEGER DEFAULT 0,
	service TEXT,
	date INTEGER
);`

// newChatDB creates a minimal chat.db with the columns the store reads.
func newChatDB(t *testing.T) (string, *sql.DB) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chat.db")
	db, err := sql.Open("sqlite", "file:"+path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(testSchema)
	require.NoError(t, err)
	return path, db
}

func insertHandle(t *testing.T, db *sql.DB, id, country string) int64 {
	t.Helper()
	res, err := db.Exec(`INSERT INTO handle (id, country) VALUES (?, ?)`, id, country)
	require.NoError(t, err)
	n, _ := res.LastInsertId()
	return n
}

func insertMessage(t *testing.T, db *sql.DB, text any, body []byte, handleID int64, service string, date int64) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO message (text, attributedBody, handle_id, service, date) VALUES (?, ?, ?, ?, ?)`,
		text, body, handleID, service, date)
	require.NoError(t, err)
}

// attributedBlob builds a typedstream-like blob around text.
func attributedBlob(text string) []byte {
	b := []byte("\x04\x0bstreamtyped\x81\xe8\x03\x84\x01@\x84\x84\x84\x12NSAttributedString\x00\x84\x84\x08NSObject\x00\x85\x92\x84\x84\x84\x08NSString")
	b = append(b, 0x01, 0x94, 0x84, 0x01, 0x2b)
	if len(text) < 0x80 {
		b = append(b, byte(len(text)))
	} else {
		b = append(b, 0x81, byte(len(text)), byte(len(text)>>8))
	}
	b = append(b, text...)
	return append(b, 0x86, 0x84)
}

// =============================================================================
// REAL DATABASE TESTS
// =============================================================================

func TestSpamMarkers_NewestFirstWithLimit(t *testing.T) {
	path, db := newChatDB(t)
	insertMessage(t, db, "spam: 555-111-2222", nil, 0, "iMessage", 100)
	insertMessage(t, db, "hello there", nil, 0, "SMS", 200)
	insertMessage(t, db, "spam: 555-333-4444", nil, 0, "SMS", 300)
	insertMessage(t, db, "fwd spam: (555) 555-6666", nil, 0, "SMS", 400)
	insertMessage(t, db, nil, nil, 0, "SMS", 500)

	store, err := Open(path)
	require.NoError(t, err)
	defer store.Close()

	got, err := store.SpamMarkers(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "fwd spam: (555) 555-6666", got[0].Text)
	assert.Equal(t, "spam: 555-333-4444", got[1].Text)

	all, err := store.SpamMarkers(context.Background(), 100)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestRecentSMS_FiltersServiceAndCountry(t *testing.T) {
	path, db := newChatDB(t)
	us := insertHandle(t, db, "+15551234567", "us")
	ca := insertHandle(t, db, "+16135550000", "ca")

	insertMessage(t, db, "Text STOP to quit", nil, us, "SMS", 10)
	insertMessage(t, db, "bonjour", nil, ca, "SMS", 20)
	insertMessage(t, db, "imessage", nil, us, "iMessage", 30)
	insertMessage(t, db, nil, attributedBlob("campaign update, reply STOP"), us, "SMS", 40)

	store, err := Open(path)
	require.NoError(t, err)
	defer store.Close()

	got, err := store.RecentSMS(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "campaign update, reply STOP", got[0].Text, "text decoded from attributedBody")
	assert.Equal(t, "+15551234567", got[0].Handle)
	assert.Equal(t, "Text STOP to quit", got[1].Text)
}

func TestDeleteByText_ExactMatchOnly(t *testing.T) {
	path, db := newChatDB(t)
	insertMessage(t, db, "STOP", nil, 0, "SMS", 1)
	insertMessage(t, db, "STOP", nil, 0, "SMS", 2)
	insertMessage(t, db, "stop", nil, 0, "SMS", 3)
	insertMessage(t, db, "STOP please", nil, 0, "SMS", 4)

	store, err := Open(path)
	require.NoError(t, err)
	defer store.Close()

	n, err := store.CountByText(context.Background(), "STOP")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = store.DeleteByText(context.Background(), "STOP")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	var remaining int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM message`).Scan(&remaining))
	assert.Equal(t, 2, remaining)
}

func TestOpen_MissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope.db"))
	require.Error(t, err)
}

// =============================================================================
// QUERY SHAPE TESTS (sqlmock)
// =============================================================================

func TestSpamMarkers_QueryShape(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT m.ROWID, m.text, m.date FROM message m WHERE m.text LIKE \? ORDER BY m.date DESC LIMIT \?`).
		WithArgs("%spam: %", 100).
		WillReturnRows(sqlmock.NewRows([]string{"ROWID", "text", "date"}).
			AddRow(int64(7), "spam: 5551234567", int64(0)))

	got, err := New(db).SpamMarkers(context.Background(), 100)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(7), got[0].RowID)
	assert.True(t, got[0].Date.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecentSMS_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	boom := errors.New("database is locked")
	mock.ExpectQuery(`FROM message m JOIN handle h ON m.handle_id = h.ROWID WHERE m.service = 'SMS' AND h.country = 'us'`).
		WithArgs(50).
		WillReturnError(boom)

	_, err = New(db).RecentSMS(context.Background(), 50)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteByText_QueryShape(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`DELETE FROM message WHERE text = \?`).
		WithArgs("STOP").
		WillReturnResult(sqlmock.NewResult(0, 12))

	n, err := New(db).DeleteByText(context.Background(), "STOP")
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// =============================================================================
// DECODING
// =============================================================================

func TestDecodeAttributedBody(t *testing.T) {
	assert.Equal(t, "hello", DecodeAttributedBody(attributedBlob("hello")))

	long := make([]byte, 300)
	for i := range long {
		long[i] = 'a' + byte(i%26)
	}
	assert.Equal(t, string(long), DecodeAttributedBody(attributedBlob(string(long))))

	assert.Equal(t, "", DecodeAttributedBody(nil))
	assert.Equal(t, "", DecodeAttributedBody([]byte("no marker")))
	assert.Equal(t, "", DecodeAttributedBody([]byte("NSString\x01\x94")))

	truncated := attributedBlob("hello world")
	truncated = truncated[:len(truncated)-8]
	assert.Equal(t, "", DecodeAttributedBody(truncated))
}

func TestAppleTime(t *testing.T) {
	assert.True(t, AppleTime(0).IsZero())

	want := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	secs := int64(want.Sub(appleEpoch) / time.Second)
	assert.True(t, want.Equal(AppleTime(secs)))
	assert.True(t, want.Equal(AppleTime(secs*int64(time.Second))))
}
