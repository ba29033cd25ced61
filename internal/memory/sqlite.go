// Package memory provides the persistent customer-memory backends for
// VoiceFlow.
//
// This file implements the SQLite-backed store.
package memory

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "embed"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/nexella/voiceflow/internal/models"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore is the SQLite-backed memory store.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN (a file
// path). The parent directory is created when missing.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
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
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run SQLite migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied")

	return &SQLiteStore{db: db}, nil
}

// StoreConversationMemory persists one call's outcome as a
// conversation memory and, when discovery captured business answers,
// refreshes the customer's business-context memory.
func (s *SQLiteStore) StoreConversationMemory(rec ConversationRecord) error {
	content, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode conversation record: %w", err)
	}
	now := time.Now().UTC()
	_, err = s.db.Exec(`INSERT INTO memories (id, email, type, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), rec.Contact.Email, TypeConversation, string(content), now)
	if err != nil {
		slog.Error("SQLiteStore StoreConversationMemory failed", "error", err, "email", rec.Contact.Email)
		return fmt.Errorf("failed to insert conversation memory: %w", err)
	}
	if ctx := businessContextFrom(rec.Discovery); ctx != "" {
		if _, err := s.db.Exec(`INSERT INTO memories (id, email, type, content, created_at) VALUES (?, ?, ?, ?, ?)`,
			uuid.NewString(), rec.Contact.Email, TypeBusinessContext, ctx, now); err != nil {
			slog.Warn("SQLiteStore business context insert failed", "error", err, "email", rec.Contact.Email)
		}
	}
	slog.Debug("SQLiteStore StoreConversationMemory succeeded", "email", rec.Contact.Email, "call_id", rec.CallID)
	return nil
}

// GetCustomerContext aggregates stored memories for a customer.
func (s *SQLiteStore) GetCustomerContext(email string) (*CustomerContext, error) {
	ctx := &CustomerContext{Email: email}
	row := s.db.QueryRow(`SELECT COUNT(*) FROM memories WHERE email = ? AND type = ?`, email, TypeConversation)
	if err := row.Scan(&ctx.TotalInteractions); err != nil {
		slog.Error("SQLiteStore GetCustomerContext scan failed", "error", err, "email", email)
		return nil, fmt.Errorf("failed to query customer context: %w", err)
	}
	if ctx.TotalInteractions > 0 {
		var last time.Time
		row = s.db.QueryRow(`SELECT created_at FROM memories WHERE email = ? AND type = ? ORDER BY created_at DESC LIMIT 1`,
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
func (s *SQLiteStore) GetMemoriesByType(email, memType string, limit int) ([]Memory, error) {
	rows, err := s.db.Query(`SELECT id, email, type, content, created_at FROM memories WHERE email = ? AND type = ? ORDER BY created_at DESC LIMIT ?`,
		email, memType, limit)
	if err != nil {
		slog.Error("SQLiteStore GetMemoriesByType query failed", "error", err, "email", email, "type", memType)
		return nil, fmt.Errorf("failed to query memories: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// StoreSuccessfulPattern upserts a learned booking phrase, bumping its
// success counter.
func (s *SQLiteStore) StoreSuccessfulPattern(utterance string, candidate *models.AppointmentCandidate) error {
	_, err := s.db.Exec(`INSERT INTO booking_patterns (id, utterance, day, time_text, successes, updated_at)
		VALUES (?, ?, ?, ?, 1, ?)
		ON CONFLICT(utterance) DO UPDATE SET successes = successes + 1, day = excluded.day, time_text = excluded.time_text, updated_at = excluded.updated_at`,
		uuid.NewString(), normalizeUtterance(utterance), candidate.DayToken, candidate.DisplayTime, time.Now().UTC())
	if err != nil {
		slog.Error("SQLiteStore StoreSuccessfulPattern failed", "error", err)
		return fmt.Errorf("failed to upsert booking pattern: %w", err)
	}
	return nil
}

// StoreFailedAttempt upserts a failed booking phrase with its error.
func (s *SQLiteStore) StoreFailedAttempt(utterance, reason string) error {
	_, err := s.db.Exec(`INSERT INTO booking_patterns (id, utterance, failures, last_error, updated_at)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT(utterance) DO UPDATE SET failures = failures + 1, last_error = excluded.last_error, updated_at = excluded.updated_at`,
		uuid.NewString(), normalizeUtterance(utterance), reason, time.Now().UTC())
	if err != nil {
		slog.Error("SQLiteStore StoreFailedAttempt failed", "error", err)
		return fmt.Errorf("failed to upsert failed attempt: %w", err)
	}
	return nil
}

// BookingPatterns returns all learned booking phrases.
func (s *SQLiteStore) BookingPatterns() ([]BookingPattern, error) {
	rows, err := s.db.Query(`SELECT id, utterance, day, time_text, successes, failures, last_error, updated_at FROM booking_patterns`)
	if err != nil {
		slog.Error("SQLiteStore BookingPatterns query failed", "error", err)
		return nil, fmt.Errorf("failed to query booking patterns: %w", err)
	}
	defer rows.Close()
	return scanPatterns(rows)
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// scanMemories reads memory rows; shared by both backends.
func scanMemories(rows *sql.Rows) ([]Memory, error) {
	var memories []Memory
	for rows.Next() {
		var m Memory
		if err := rows.Scan(&m.ID, &m.Email, &m.Type, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan memory row: %w", err)
		}
		memories = append(memories, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate memory rows: %w", err)
	}
	return memories, nil
}

// scanPatterns reads booking pattern rows; shared by both backends.
func scanPatterns(rows *sql.Rows) ([]BookingPattern, error) {
	var patterns []BookingPattern
	for rows.Next() {
		var p BookingPattern
		if err := rows.Scan(&p.ID, &p.Utterance, &p.Day, &p.TimeText, &p.Successes, &p.Failures, &p.LastError, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pattern row: %w", err)
		}
		patterns = append(patterns, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pattern rows: %w", err)
	}
	return patterns, nil
}

// normalizeUtterance canonicalizes a phrase for pattern identity.
func normalizeUtterance(utterance string) string {
	return strings.Join(strings.Fields(strings.ToLower(utterance)), " ")
}

// businessContextFrom builds a short business summary from discovery
// answers, or "" when none were captured.
func businessContextFrom(data models.DiscoveryData) string {
	var parts []string
	if v := data["industry"]; v != "" {
		parts = append(parts, "industry: "+v)
	}
	if v := data["product_service"]; v != "" {
		parts = append(parts, "product: "+v)
	}
	if v := data["pain_points"]; v != "" {
		parts = append(parts, "challenges: "+v)
	}
	return strings.Join(parts, "; ")
}
