package store

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BTreeMap/DeskPipe/internal/models"
)

func setupFileStore(t *testing.T) (*FileStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state", "contactHistory.json")
	s, err := NewFileStore(WithFilePath(path))
	require.NoError(t, err)
	return s, path
}

func TestFileStore_LoadMissingFile(t *testing.T) {
	s, _ := setupFileStore(t)

	entries, err := s.LoadContactHistory()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFileStore_SaveAndLoadPreservesOrder(t *testing.T) {
	s, path := setupFileStore(t)
	now := time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

	entries := []models.ContactEntry{
		{Key: "b@chat", LastContactDate: now},
		{Key: "a@chat", LastContactDate: now.Add(time.Hour)},
	}
	require.NoError(t, s.SaveContactHistory(entries))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `[["b@chat","2026-05-04T09:30:00Z"],["a@chat","2026-05-04T10:30:00Z"]]`, string(raw))

	loaded, err := s.LoadContactHistory()
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "b@chat", loaded[0].Key)
	assert.True(t, loaded[1].LastContactDate.Equal(now.Add(time.Hour)))
}

func TestFileStore_ReadsJavaScriptDates(t *testing.T) {
	s, path := setupFileStore(t)
	require.NoError(t, os.WriteFile(path, []byte(`[["x@y","2024-06-01T14:05:09.123Z"]]`), 0644))

	loaded, err := s.LoadContactHistory()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, 123*time.Millisecond, time.Duration(loaded[0].LastContactDate.Nanosecond()))
}

func TestFileStore_CorruptFile(t *testing.T) {
	s, path := setupFileStore(t)
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0644))

	_, err := s.LoadContactHistory()
	assert.Error(t, err)
}

func TestFileStore_SaveEmptyWipesFile(t *testing.T) {
	s, path := setupFileStore(t)
	require.NoError(t, s.SaveContactHistory([]models.ContactEntry{{Key: "k", LastContactDate: time.Now()}}))
	require.NoError(t, s.SaveContactHistory(nil))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(raw))
}

func TestFileStore_Dedup(t *testing.T) {
	s, _ := setupFileStore(t)

	isNew, err := s.RecordInbound("msg-1", "chat-1")
	require.NoError(t, err)
	assert.True(t, isNew)

	isNew, err = s.RecordInbound("msg-1", "chat-1")
	require.NoError(t, err)
	assert.False(t, isNew)
}

func TestFileStore_DedupBoundedByTTL(t *testing.T) {
	s, _ := setupFileStore(t)
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	for i := 0; i < 50; i++ {
		isNew, err := s.RecordInbound(fmt.Sprintf("msg-%d", i), "chat-1")
		require.NoError(t, err)
		require.True(t, isNew)
	}

	now = now.Add(DefaultDedupTTL / 2)
	isNew, err := s.RecordInbound("msg-0", "chat-1")
	require.NoError(t, err)
	assert.False(t, isNew, "redelivery inside the window is a duplicate")

	now = now.Add(DefaultDedupTTL)
	isNew, err = s.RecordInbound("fresh", "chat-1")
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Len(t, s.seen, 1, "expired records are dropped")

	isNew, err = s.RecordInbound("msg-0", "chat-1")
	require.NoError(t, err)
	assert.True(t, isNew, "an expired ID is accepted again")
}

func TestFileStore_ReceiptsBounded(t *testing.T) {
	s, _ := setupFileStore(t)
	for i := 0; i < DefaultMaxReceipts+5; i++ {
		require.NoError(t, s.AddReceipt(models.Receipt{To: "t", Status: models.MessageStatusSent, Time: int64(i)}))
	}

	receipts, err := s.GetReceipts()
	require.NoError(t, err)
	assert.Len(t, receipts, DefaultMaxReceipts)
	assert.Equal(t, int64(5), receipts[0].Time)
}
