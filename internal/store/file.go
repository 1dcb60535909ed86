package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BTreeMap/DeskPipe/internal/models"
)

// DefaultMaxReceipts bounds the in-memory receipt log of the file backend.
const DefaultMaxReceipts = 1000

// expired dedup records are dropped at most this often
const dedupPruneInterval = time.Minute

// FileStore keeps the contact history in a JSON file and everything else in memory.
//
// The file holds an ordered array of [key, RFC3339 timestamp] pairs and is
// rewritten in full on every save.
type FileStore struct {
	path string

	dedupTTL time.Duration
	now      func() time.Time

	mu        sync.Mutex
	seen      map[string]DedupRecord
	lastPrune time.Time
	receipts  []models.Receipt
}

// Compile-time check that FileStore implements Store.
var _ Store = (*FileStore)(nil)

// NewFileStore creates a file-backed store. The parent directory is created if missing.
func NewFileStore(opts ...Option) (*FileStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.FilePath == "" {
		return nil, fmt.Errorf("history file path not set")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), DefaultDirPermissions); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}
	slog.Debug("FileStore created", "path", cfg.FilePath)
	return &FileStore{
		path:     cfg.FilePath,
		dedupTTL: cfg.dedupTTL(),
		now:      time.Now,
		seen:     make(map[string]DedupRecord),
	}, nil
}

// LoadContactHistory reads the history file. A missing file yields an empty history.
func (s *FileStore) LoadContactHistory() ([]models.ContactEntry, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		slog.Debug("FileStore.LoadContactHistory: no history file", "path", s.path)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read history file %s: %w", s.path, err)
	}

	var pairs [][2]string
	if err := json.Unmarshal(data, &pairs); err != nil {
		return nil, fmt.Errorf("failed to decode history file %s: %w", s.path, err)
	}

	entries := make([]models.ContactEntry, 0, len(pairs))
	for _, p := range pairs {
		at, err := time.Parse(time.RFC3339Nano, p[1])
		if err != nil {
			return nil, fmt.Errorf("invalid timestamp for %s in history file: %w", p[0], err)
		}
		entries = append(entries, models.ContactEntry{Key: p[0], LastContactDate: at})
	}
	slog.Debug("FileStore.LoadContactHistory succeeded", "count", len(entries))
	return entries, nil
}

// SaveContactHistory rewrites the history file. The write goes through a
// temporary file and a rename so a crash never leaves a truncated file.
func (s *FileStore) SaveContactHistory(entries []models.ContactEntry) error {
	pairs := make([][2]string, 0, len(entries))
	for _, e := range entries {
		pairs = append(pairs, [2]string{e.Key, e.LastContactDate.Format(time.RFC3339Nano)})
	}
	data, err := json.Marshal(pairs)
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".history-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary history file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write history: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temporary history file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace history file: %w", err)
	}
	slog.Debug("FileStore.SaveContactHistory succeeded", "count", len(entries), "path", s.path)
	return nil
}

func (s *FileStore) RecordInbound(messageID, chatID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if rec, ok := s.seen[messageID]; ok && now.Sub(rec.ReceivedAt) <= s.dedupTTL {
		return false, nil
	}
	if now.Sub(s.lastPrune) >= dedupPruneInterval {
		for id, rec := range s.seen {
			if now.Sub(rec.ReceivedAt) > s.dedupTTL {
				delete(s.seen, id)
			}
		}
		s.lastPrune = now
	}
	s.seen[messageID] = DedupRecord{MessageID: messageID, ChatID: chatID, ReceivedAt: now}
	return true, nil
}

func (s *FileStore) AddReceipt(r models.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts = append(s.receipts, r)
	if over := len(s.receipts) - DefaultMaxReceipts; over > 0 {
		s.receipts = append([]models.Receipt(nil), s.receipts[over:]...)
	}
	return nil
}

func (s *FileStore) GetReceipts() ([]models.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Receipt(nil), s.receipts...), nil
}

// Close is a no-op; the history file is written synchronously on every save.
func (s *FileStore) Close() error {
	return nil
}
