// Package store provides storage backends for DeskPipe.
//
// This file implements an SQLite-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "embed"

	"github.com/BTreeMap/DeskPipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db       *sql.DB
	dedupTTL time.Duration
}

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(strings.TrimPrefix(strings.SplitN(dsn, "?", 2)[0], "file:"))
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db, dedupTTL: cfg.dedupTTL()}, nil
}

func (s *SQLiteStore) LoadContactHistory() ([]models.ContactEntry, error) {
	rows, err := s.db.Query(`SELECT conversation_key, last_contact FROM contact_history ORDER BY position`)
	if err != nil {
		slog.Error("SQLiteStore LoadContactHistory query failed", "error", err)
		return nil, fmt.Errorf("failed to query contact history: %w", err)
	}
	defer rows.Close()

	var entries []models.ContactEntry
	for rows.Next() {
		var e models.ContactEntry
		if err := rows.Scan(&e.Key, &e.LastContactDate); err != nil {
			return nil, fmt.Errorf("failed to scan contact history row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate contact history rows: %w", err)
	}
	slog.Debug("SQLiteStore LoadContactHistory succeeded", "count", len(entries))
	return entries, nil
}

func (s *SQLiteStore) SaveContactHistory(entries []models.ContactEntry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin contact history transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM contact_history`); err != nil {
		return fmt.Errorf("failed to clear contact history: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO contact_history (position, conversation_key, last_contact) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare contact history insert: %w", err)
	}
	defer stmt.Close()
	for i, e := range entries {
		if _, err := stmt.Exec(i, e.Key, e.LastContactDate); err != nil {
			return fmt.Errorf("failed to insert contact history for %s: %w", e.Key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit contact history: %w", err)
	}
	slog.Debug("SQLiteStore SaveContactHistory succeeded", "count", len(entries))
	return nil
}

func (s *SQLiteStore) RecordInbound(messageID, chatID string) (bool, error) {
	now := time.Now().UTC()
	if _, err := s.db.Exec(`DELETE FROM inbound_dedup WHERE received_at < ?`, now.Add(-s.dedupTTL)); err != nil {
		slog.Warn("SQLiteStore.RecordInbound: failed to prune dedup records", "error", err)
	}
	result, err := s.db.Exec(
		`INSERT OR IGNORE INTO inbound_dedup (message_id, chat_id, received_at) VALUES (?, ?, ?)`,
		messageID, chatID, now,
	)
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("dedup rows affected check failed: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) AddReceipt(r models.Receipt) error {
	_, err := s.db.Exec(
		`INSERT INTO receipts (id, recipient, message_id, status, error, time) VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.To, r.MessageID, r.Status, r.Error, r.Time,
	)
	if err != nil {
		slog.Error("SQLiteStore AddReceipt failed", "error", err, "to", r.To)
		return fmt.Errorf("failed to insert receipt for %s: %w", r.To, err)
	}
	slog.Debug("SQLiteStore AddReceipt succeeded", "to", r.To, "status", r.Status)
	return nil
}

func (s *SQLiteStore) GetReceipts() ([]models.Receipt, error) {
	rows, err := s.db.Query(`SELECT id, recipient, message_id, status, error, time FROM receipts ORDER BY time, rowid`)
	if err != nil {
		slog.Error("SQLiteStore GetReceipts query failed", "error", err)
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	defer rows.Close()
	return scanReceipts(rows)
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}

// scanReceipts drains rows of (id, recipient, message_id, status, error, time).
func scanReceipts(rows *sql.Rows) ([]models.Receipt, error) {
	var receipts []models.Receipt
	for rows.Next() {
		var r models.Receipt
		if err := rows.Scan(&r.ID, &r.To, &r.MessageID, &r.Status, &r.Error, &r.Time); err != nil {
			return nil, fmt.Errorf("failed to scan receipt row: %w", err)
		}
		receipts = append(receipts, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate receipt rows: %w", err)
	}
	return receipts, nil
}
