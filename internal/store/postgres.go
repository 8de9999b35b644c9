// This file implements a PostgreSQL-backed store for triage records.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"
	"github.com/medtriage/MedTriage/internal/models"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

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
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) SaveTriageRecord(r models.TriageRecord) error {
	if err := r.Validate(); err != nil {
		return err
	}
	args, err := triageRecordArgs(r)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO triage_records (`+triageRecordColumns+`)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (conversation_id) DO UPDATE SET
			call_id = EXCLUDED.call_id,
			caller_id = EXCLUDED.caller_id,
			final_state = EXCLUDED.final_state,
			symptoms = EXCLUDED.symptoms,
			emergency_detected = EXCLUDED.emergency_detected,
			emergency_type = EXCLUDED.emergency_type,
			urgency = EXCLUDED.urgency,
			confidence = EXCLUDED.confidence,
			analysis_method = EXCLUDED.analysis_method,
			interaction_count = EXCLUDED.interaction_count,
			started_at = EXCLUDED.started_at,
			ended_at = EXCLUDED.ended_at`, args...)
	if err != nil {
		slog.Error("PostgresStore SaveTriageRecord failed", "error", err, "conversationID", r.ConversationID)
		return fmt.Errorf("failed to save triage record %s: %w", r.ConversationID, err)
	}
	slog.Debug("PostgresStore SaveTriageRecord succeeded", "conversationID", r.ConversationID, "final_state", r.FinalState)
	return nil
}

func (s *PostgresStore) GetTriageRecord(conversationID string) (models.TriageRecord, error) {
	row := s.db.QueryRow(`SELECT `+triageRecordColumns+` FROM triage_records WHERE conversation_id = $1`, conversationID)
	r, err := scanTriageRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.TriageRecord{}, models.ErrRecordNotFound
	}
	if err != nil {
		slog.Error("PostgresStore GetTriageRecord failed", "error", err, "conversationID", conversationID)
		return models.TriageRecord{}, fmt.Errorf("failed to get triage record %s: %w", conversationID, err)
	}
	return r, nil
}

func (s *PostgresStore) ListTriageRecords(limit int) ([]models.TriageRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.db.Query(`SELECT `+triageRecordColumns+` FROM triage_records
		ORDER BY ended_at DESC, conversation_id ASC LIMIT $1`, limit)
	if err != nil {
		slog.Error("PostgresStore ListTriageRecords query failed", "error", err)
		return nil, fmt.Errorf("failed to query triage records: %w", err)
	}
	records, err := collectTriageRecords(rows)
	if err != nil {
		slog.Error("PostgresStore ListTriageRecords failed", "error", err)
		return nil, err
	}
	slog.Debug("PostgresStore ListTriageRecords succeeded", "count", len(records))
	return records, nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
