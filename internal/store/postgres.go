// Package store provides storage backends for DeskPipe.
//
// This file implements a PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/DeskPipe/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 10
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 10
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db       *sql.DB
	dedupTTL time.Duration
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db, dedupTTL: cfg.dedupTTL()}, nil
}

func (s *PostgresStore) LoadContactHistory() ([]models.ContactEntry, error) {
	rows, err := s.db.Query(`SELECT conversation_key, last_contact FROM contact_history ORDER BY position`)
	if err != nil {
		slog.Error("PostgresStore LoadContactHistory query failed", "error", err)
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
	slog.Debug("PostgresStore LoadContactHistory succeeded", "count", len(entries))
	return entries, nil
}

func (s *PostgresStore) SaveContactHistory(entries []models.ContactEntry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin contact history transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM contact_history`); err != nil {
		return fmt.Errorf("failed to clear contact history: %w", err)
	}
	for i, e := range entries {
		if _, err := tx.Exec(
			`INSERT INTO contact_history (position, conversation_key, last_contact) VALUES ($1, $2, $3)`,
			i, e.Key, e.LastContactDate,
		); err != nil {
			return fmt.Errorf("failed to insert contact history for %s: %w", e.Key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit contact history: %w", err)
	}
	slog.Debug("PostgresStore SaveContactHistory succeeded", "count", len(entries))
	return nil
}

func (s *PostgresStore) RecordInbound(messageID, chatID string) (bool, error) {
	now := time.Now().UTC()
	if _, err := s.db.Exec(`DELETE FROM inbound_dedup WHERE received_at < $1`, now.Add(-s.dedupTTL)); err != nil {
		slog.Warn("PostgresStore.RecordInbound: failed to prune dedup records", "error", err)
	}
	result, err := s.db.Exec(
		`INSERT INTO inbound_dedup (message_id, chat_id, received_at) VALUES ($1, $2, $3) ON CONFLICT (message_id) DO NOTHING`,
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

func (s *PostgresStore) AddReceipt(r models.Receipt) error {
	_, err := s.db.Exec(
		`INSERT INTO receipts (id, recipient, message_id, status, error, time) VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.To, r.MessageID, r.Status, r.Error, r.Time,
	)
	if err != nil {
		slog.Error("PostgresStore AddReceipt failed", "error", err, "to", r.To)
		return fmt.Errorf("failed to insert receipt for %s: %w", r.To, err)
	}
	slog.Debug("PostgresStore AddReceipt succeeded", "to", r.To, "status", r.Status)
	return nil
}

func (s *PostgresStore) GetReceipts() ([]models.Receipt, error) {
	rows, err := s.db.Query(`SELECT id, recipient, message_id, status, error, time FROM receipts ORDER BY time, seq`)
	if err != nil {
		slog.Error("PostgresStore GetReceipts query failed", "error", err)
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	defer rows.Close()
	return scanReceipts(rows)
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}
