// Package store provides storage backends for DeskPipe.
//
// Every backend persists the contact history (one "last contact" fact per
// conversation), inbound message deduplication records and dispatch receipts.
package store

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/DeskPipe/internal/models"
)

// HistoryRepo persists the contact history as a whole.
// SaveContactHistory replaces the stored list; order is preserved.
type HistoryRepo interface {
	LoadContactHistory() ([]models.ContactEntry, error)
	SaveContactHistory(entries []models.ContactEntry) error
}

// ReceiptRepo records dispatch outcomes.
type ReceiptRepo interface {
	AddReceipt(r models.Receipt) error
	GetReceipts() ([]models.Receipt, error)
}

// DedupRecord marks an inbound message ID as seen.
type DedupRecord struct {
	MessageID  string    `json:"message_id"`
	ChatID     string    `json:"chat_id"`
	ReceivedAt time.Time `json:"received_at"`
}

// DefaultDedupTTL is how long an inbound message ID is remembered.
// Redeliveries arrive shortly after a reconnect, well inside this window.
const DefaultDedupTTL = time.Hour

// DedupRepo filters redelivered inbound messages.
// RecordInbound reports false when messageID was recorded within the dedup TTL.
type DedupRepo interface {
	RecordInbound(messageID, chatID string) (bool, error)
}

// Store is the complete persistence surface used by DeskPipe.
type Store interface {
	HistoryRepo
	DedupRepo
	ReceiptRepo
	Close() error
}

// Opts holds configuration for store construction.
type Opts struct {
	DSN      string // database connection string or file path for SQL backends
	FilePath string // path of the JSON history file for the file backend
	DedupTTL time.Duration
}

// Option defines a configuration option for store construction.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithDedupTTL overrides DefaultDedupTTL.
func WithDedupTTL(d time.Duration) Option {
	return func(o *Opts) { o.DedupTTL = d }
}

func (o Opts) dedupTTL() time.Duration {
	if o.DedupTTL > 0 {
		return o.DedupTTL
	}
	return DefaultDedupTTL
}

// WithFilePath sets the contact history file used by the file backend.
func WithFilePath(path string) Option {
	return func(o *Opts) { o.FilePath = path }
}

// DetectDSNType reports "postgres" for PostgreSQL DSNs and "sqlite3" for anything else.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres"
	}
	// key=value DSNs ("host=... user=...") are PostgreSQL; file paths never contain spaced pairs
	if strings.Contains(dsn, "=") && strings.Contains(dsn, " ") && !strings.HasPrefix(dsn, "file:") {
		return "postgres"
	}
	if strings.HasPrefix(dsn, "host=") {
		return "postgres"
	}
	return "sqlite3"
}

// New selects a backend: PostgreSQL or SQLite when a DSN is set, otherwise the file backend.
func New(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}

	switch {
	case cfg.DSN != "" && DetectDSNType(cfg.DSN) == "postgres":
		slog.Debug("store.New: using PostgreSQL backend")
		return NewPostgresStore(opts...)
	case cfg.DSN != "":
		slog.Debug("store.New: using SQLite backend", "dsn", cfg.DSN)
		return NewSQLiteStore(opts...)
	case cfg.FilePath != "":
		slog.Debug("store.New: using file backend", "path", cfg.FilePath)
		return NewFileStore(opts...)
	default:
		return nil, fmt.Errorf("store: neither DSN nor history file path configured")
	}
}
