package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BTreeMap/DeskPipe/internal/models"
)

// setupSQLiteStore creates a temporary SQLite store for testing.
func setupSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	s, err := NewSQLiteStore(WithSQLiteDSN(dbPath))
	require.NoError(t, err)

	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func TestSQLiteStore_ContactHistoryRoundTrip(t *testing.T) {
	s := setupSQLiteStore(t)
	now := time.Now().Truncate(time.Second)

	entries := []models.ContactEntry{
		{Key: "z@chat", LastContactDate: now},
		{Key: "a@chat", LastContactDate: now.Add(-time.Minute)},
	}
	require.NoError(t, s.SaveContactHistory(entries))

	loaded, err := s.LoadContactHistory()
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "z@chat", loaded[0].Key)
	assert.Equal(t, "a@chat", loaded[1].Key)
	assert.True(t, loaded[0].LastContactDate.Equal(now))
}

func TestSQLiteStore_SaveReplacesPreviousHistory(t *testing.T) {
	s := setupSQLiteStore(t)
	require.NoError(t, s.SaveContactHistory([]models.ContactEntry{{Key: "old", LastContactDate: time.Now()}}))
	require.NoError(t, s.SaveContactHistory([]models.ContactEntry{{Key: "new", LastContactDate: time.Now()}}))

	loaded, err := s.LoadContactHistory()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "new", loaded[0].Key)

	require.NoError(t, s.SaveContactHistory(nil))
	loaded, err = s.LoadContactHistory()
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestSQLiteStore_DedupRepo(t *testing.T) {
	s := setupSQLiteStore(t)

	isNew, err := s.RecordInbound("msg-1", "chat-1")
	require.NoError(t, err)
	assert.True(t, isNew)

	isNew, err = s.RecordInbound("msg-1", "chat-1")
	require.NoError(t, err)
	assert.False(t, isNew, "second record of the same message must report a duplicate")
}

func TestSQLiteStore_DedupPrunesExpired(t *testing.T) {
	s := setupSQLiteStore(t)

	_, err := s.db.Exec(`INSERT INTO inbound_dedup (message_id, chat_id, received_at) VALUES (?, ?, ?)`,
		"old", "chat-1", time.Now().UTC().Add(-2*DefaultDedupTTL))
	require.NoError(t, err)

	isNew, err := s.RecordInbound("new", "chat-1")
	require.NoError(t, err)
	assert.True(t, isNew)

	var count int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM inbound_dedup`).Scan(&count))
	assert.Equal(t, 1, count, "expired records are removed on insert")

	isNew, err = s.RecordInbound("old", "chat-1")
	require.NoError(t, err)
	assert.True(t, isNew, "an expired ID is accepted again")
}

func TestSQLiteStore_Receipts(t *testing.T) {
	s := setupSQLiteStore(t)

	require.NoError(t, s.AddReceipt(models.Receipt{ID: "1", To: "a", Status: models.MessageStatusSent, MessageID: "WAID", Time: 2}))
	require.NoError(t, s.AddReceipt(models.Receipt{ID: "2", To: "b", Status: models.MessageStatusTimeout, Error: "dispatch timed out", Time: 1}))

	receipts, err := s.GetReceipts()
	require.NoError(t, err)
	require.Len(t, receipts, 2)
	assert.Equal(t, "b", receipts[0].To)
	assert.Equal(t, models.MessageStatusTimeout, receipts[0].Status)
	assert.Equal(t, "WAID", receipts[1].MessageID)
}
