// Package memory provides the persistent customer-memory backends for
// VoiceFlow.
//
// This file implements the PostgreSQL-backed store.
package memory

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/nexella/voiceflow/internal/models"
)

// Database connection pool configuration constants.
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database.
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool.
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused.
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore is the PostgreSQL-backed memory store.
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
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run Postgres migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied")

	return &PostgresStore{db: db}, nil
}

// StoreConversationMemory persists one call's outcome as a
// conversation memory and, when discovery captured business answers,
// refreshes the customer's business-context memory.
func (s *PostgresStore) StoreConversationMemory(rec ConversationRecord) error {
	content, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode conversation record: %w", err)
	}
	now := time.Now().UTC()
	_, err = s.db.Exec(`INSERT INTO memories (id, email, type, content, created_at) VALUES ($1, $2, $3, $4, $5)`,
		uuid.NewString(), rec.Contact.Email, TypeConversation, string(content), now)
	if err != nil {
		slog.Error("PostgresStore StoreConversationMemory failed", "error", err, "email", rec.Contact.Email)
		return fmt.Errorf("failed to insert conversation memory: %w", err)
	}
	if ctx := businessContextFrom(rec.Discovery); ctx != "" {
		if _, err := s.db.Exec(`INSERT INTO memories (id, email, type, content, created_at) VALUES ($1, $2, $3, $4, $5)`,
			uuid.NewString(), rec.Contact.Email, TypeBusinessContext, ctx, now); err != nil {
			slog.Warn("PostgresStore business context insert failed", "error", err, "email", rec.Contact.Email)
		}
	}
	slog.Debug("PostgresStore StoreConversationMemory succeeded", "email", rec.Contact.Email, "call_id", rec.CallID)
	return nil
}

// GetCustomerContext aggregates stored memories for a customer.
func (s *PostgresStore) GetCustomerContext(email string) (*CustomerContext, error) {
	ctx := &CustomerContext{Email: email}
	row := s.db.QueryRow(`SELECT COUNT(*) FROM memories WHERE email = $1 AND type = $2`, email, TypeConversation)
	if err := row.Scan(&ctx.TotalInteractions); err != nil {
		slog.Error("PostgresStore GetCustomerContext scan failed", "error", err, "email", email)
		return nil, fmt.Errorf("failed to query customer context: %w", err)
	}
	if ctx.TotalInteractions > 0 {
		var last time.Time
		row = s.db.QueryRow(`SELECT created_at FROM memories WHERE email = $1 AND type = $2 ORDER BY created_at DESC LIMIT 1`,
			email, TypeConversation)
		if err := row.Scan(&last); err == nil {
			ctx.LastInteraction = last
		}
	}
	biz, err := s.GetMemoriesByType(email, TypeBusinessContext, 1)
	if err == nil && len(biz) > 0 {
		ctx.BusinessContext = biz[0].Content
	}
	return ctx, nil
}

// GetMemoriesByType returns the newest memories of one type for a
// customer, most recent first.
func (s *PostgresStore) GetMemoriesByType(email, memType string, limit int) ([]Memory, error) {
	rows, err := s.db.Query(`SELECT id, email, type, content, created_at FROM memories WHERE email = $1 AND type = $2 ORDER BY created_at DESC LIMIT $3`,
		email, memType, limit)
	if err != nil {
		slog.Error("PostgresStore GetMemoriesByType query failed", "error", err, "email", email, "type", memType)
		return nil, fmt.Errorf("failed to query memories: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// StoreSuccessfulPattern upserts a learned booking phrase, bumping its
// success counter.
func (s *PostgresStore) StoreSuccessfulPattern(utterance string, candidate *models.AppointmentCandidate) error {
	_, err := s.db.Exec(`INSERT INTO booking_patterns (id, utterance, day, time_text, successes, updated_at)
		VALUES ($1, $2, $3, $4, 1, $5)
		ON CONFLICT (utterance) DO UPDATE SET successes = booking_patterns.successes + 1, day = EXCLUDED.day, time_text = EXCLUDED.time_text, updated_at = EXCLUDED.updated_at`,
		uuid.NewString(), normalizeUtterance(utterance), candidate.DayToken, candidate.DisplayTime, time.Now().UTC())
	if err != nil {
		slog.Error("PostgresStore StoreSuccessfulPattern failed", "error", err)
		return fmt.Errorf("failed to upsert booking pattern: %w", err)
	}
	return nil
}

// StoreFailedAttempt upserts a failed booking phrase with its error.
func (s *PostgresStore) StoreFailedAttempt(utterance, reason string) error {
	_, err := s.db.Exec(`INSERT INTO booking_patterns (id, utterance, failures, last_error, updated_at)
		VALUES ($1, $2, 1, $3, $4)
		ON CONFLICT (utterance) DO UPDATE SET failures = booking_patterns.failures + 1, last_error = EXCLUDED.last_error, updated_at = EXCLUDED.updated_at`,
		uuid.NewString(), normalizeUtterance(utterance), reason, time.Now().UTC())
	if err != nil {
		slog.Error("PostgresStore StoreFailedAttempt failed", "error", err)
		return fmt.Errorf("failed to upsert failed attempt: %w", err)
	}
	return nil
}

// BookingPatterns returns all learned booking phrases.
func (s *PostgresStore) BookingPatterns() ([]BookingPattern, error) {
	rows, err := s.db.Query(`SELECT id, utterance, day, time_text, successes, failures, last_error, updated_at FROM booking_patterns`)
	if err != nil {
		slog.Error("PostgresStore BookingPatterns query failed", "error", err)
		return nil, fmt.Errorf("failed to query booking patterns: %w", err)
	}
	defer rows.Close()
	return scanPatterns(rows)
}

// Close closes the underlying database.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
