// Package store provides storage backends for MedTriage.
//
// It persists the audit record of every finished triage call. An in-memory
// store is used when no database is configured; SQLite and PostgreSQL are
// selected by DSN.
package store

import (
	"sort"
	"strings"
	"sync"

	"github.com/medtriage/MedTriage/internal/models"
)

// DefaultListLimit bounds ListTriageRecords when no positive limit is given.
const DefaultListLimit = 100

// Store persists triage records.
type Store interface {
	SaveTriageRecord(r models.TriageRecord) error
	GetTriageRecord(conversationID string) (models.TriageRecord, error)
	// ListTriageRecords returns the newest records first.
	ListTriageRecords(limit int) ([]models.TriageRecord, error)
	Close() error
}

// Opts holds configuration for store backends.
type Opts struct {
	DSN string
}

// Option configures a store backend.
type Option func(*Opts)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithSQLiteDSN sets the SQLite database path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType returns the database/sql driver name for dsn: "postgres" for
// PostgreSQL URLs and keyword strings, "sqlite3" otherwise.
func DetectDSNType(dsn string) string {
	d := strings.TrimSpace(dsn)
	if strings.HasPrefix(d, "postgres://") || strings.HasPrefix(d, "postgresql://") {
		return "postgres"
	}
	if strings.Contains(d, "host=") || strings.Contains(d, "dbname=") {
		return "postgres"
	}
	return "sqlite3"
}

// InMemoryStore is a simple in-memory store for triage records.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]models.TriageRecord
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]models.TriageRecord)}
}

// SaveTriageRecord inserts or replaces the record for its conversation.
func (s *InMemoryStore) SaveTriageRecord(r models.TriageRecord) error {
	if err := r.Validate(); err != nil {
		return err
	}
	r.Symptoms = append([]string{}, r.Symptoms...)
	s.mu.Lock()
	s.records[r.ConversationID] = r
	s.mu.Unlock()
	return nil
}

func (s *InMemoryStore) GetTriageRecord(conversationID string) (models.TriageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[conversationID]
	if !ok {
		return models.TriageRecord{}, models.ErrRecordNotFound
	}
	r.Symptoms = append([]string{}, r.Symptoms...)
	return r, nil
}

func (s *InMemoryStore) ListTriageRecords(limit int) ([]models.TriageRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	s.mu.RLock()
	out := make([]models.TriageRecord, 0, len(s.records))
	for _, r := range s.records {
		r.Symptoms = append([]string{}, r.Symptoms...)
		out = append(out, r)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].EndedAt.Equal(out[j].EndedAt) {
			return out[i].EndedAt.After(out[j].EndedAt)
		}
		return out[i].ConversationID < out[j].ConversationID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) Close() error {
	return nil
}

// Open applies opts and opens the backend selected by the DSN. An empty DSN
// yields an InMemoryStore.
func Open(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return NewInMemoryStore(), nil
	}
	if DetectDSNType(dsn) == "postgres" {
		pg, err := NewPostgresStore(WithPostgresDSN(dsn))
		if err != nil {
			return nil, err
		}
		return pg, nil
	}
	lite, err := NewSQLiteStore(WithSQLiteDSN(dsn))
	if err != nil {
		return nil, err
	}
	return lite, nil
}

// TypeOf names the backend behind s for health reporting.
func TypeOf(s Store) string {
	switch s.(type) {
	case *PostgresStore:
		return "postgres"
	case *SQLiteStore:
		return "sqlite3"
	case *InMemoryStore:
		return "memory"
	default:
		return "unknown"
	}
}
