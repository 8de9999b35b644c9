// This file implements an SQLite-backed store for triage records.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"
	"github.com/medtriage/MedTriage/internal/models"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("SQLiteStore.NewSQLiteStore: creating SQLite store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)

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
	slog.Debug("SQLite migrations applied successfully", "dir", dir)

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SaveTriageRecord(r models.TriageRecord) error {
	if err := r.Validate(); err != nil {
		return err
	}
	args, err := triageRecordArgs(r)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT OR REPLACE INTO triage_records (`+triageRecordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	if err != nil {
		slog.Error("SQLiteStore SaveTriageRecord failed", "error", err, "conversationID", r.ConversationID)
		return fmt.Errorf("failed to save triage record %s: %w", r.ConversationID, err)
	}
	slog.Debug("SQLiteStore SaveTriageRecord succeeded", "conversationID", r.ConversationID, "final_state", r.FinalState)
	return nil
}

func (s *SQLiteStore) GetTriageRecord(conversationID string) (models.TriageRecord, error) {
	row := s.db.QueryRow(`SELECT `+triageRecordColumns+` FROM triage_records WHERE conversation_id = ?`, conversationID)
	r, err := scanTriageRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.TriageRecord{}, models.ErrRecordNotFound
	}
	if err != nil {
		slog.Error("SQLiteStore GetTriageRecord failed", "error", err, "conversationID", conversationID)
		return models.TriageRecord{}, fmt.Errorf("failed to get triage record %s: %w", conversationID, err)
	}
	return r, nil
}

func (s *SQLiteStore) ListTriageRecords(limit int) ([]models.TriageRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.db.Query(`SELECT `+triageRecordColumns+` FROM triage_records
		ORDER BY ended_at DESC, conversation_id ASC LIMIT ?`, limit)
	if err != nil {
		slog.Error("SQLiteStore ListTriageRecords query failed", "error", err)
		return nil, fmt.Errorf("failed to query triage records: %w", err)
	}
	records, err := collectTriageRecords(rows)
	if err != nil {
		slog.Error("SQLiteStore ListTriageRecords failed", "error", err)
		return nil, err
	}
	slog.Debug("SQLiteStore ListTriageRecords succeeded", "count", len(records))
	return records, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
