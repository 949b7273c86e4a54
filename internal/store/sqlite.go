package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/stridehq/tether/internal/types"
	_ "modernc.org/sqlite"
)

// Meta keys stored in worker_meta.
const (
	MetaDrainLock          = "drain_lock"
	MetaInstallDismissedAt = "install_dismissed_at"
)

// createdAtLayout is a fixed-width UTC timestamp encoding. Every field is
// zero-padded, so the TEXT column sorts lexicographically in chronological
// order and ORDER BY created_at is correct without parsing.
const createdAtLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore is the SQLite-backed durable mutation store.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the local store at dbPath.
// It initializes the database with WAL mode, applies pragmas, and runs
// migrations. Opening is idempotent across processes and contexts.
//
// Any failure to establish the store is reported as ErrStorageUnavailable:
// the caller degrades offline features to a no-op rather than failing the
// whole application.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("%w: create database directory: %v", ErrStorageUnavailable, err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %v", ErrStorageUnavailable, err)
	}

	// Enable pragmas for performance and safety
	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: enable pragmas: %v", ErrStorageUnavailable, err)
	}

	// Run goose migrations
	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: run migrations: %v", ErrStorageUnavailable, err)
	}

	return &SQLiteStore{db: db}, nil
}

// enablePragmas sets SQLite pragmas for optimal performance and safety.
func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveMutation upserts a queued mutation by id.
func (s *SQLiteStore) SaveMutation(ctx context.Context, m *types.QueuedMutation) error {
	synced := 0
	if m.Synced {
		synced = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mutation_queue (id, record_type, payload, created_at, synced)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			record_type = excluded.record_type,
			payload     = excluded.payload,
			created_at  = excluded.created_at,
			synced      = excluded.synced
	`, m.ID, string(m.RecordType), string(m.Payload), m.CreatedAt.UTC().Format(createdAtLayout), synced)

	if err != nil {
		return fmt.Errorf("%w: save mutation %s: %v", ErrWriteFailed, m.ID, err)
	}
	return nil
}

// ListUnsynced returns all unsynced mutations ordered by created_at ascending,
// with id as the tiebreaker for records created in the same instant.
func (s *SQLiteStore) ListUnsynced(ctx context.Context) ([]types.QueuedMutation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, record_type, payload, created_at, synced
		FROM mutation_queue
		WHERE synced = 0
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query unsynced mutations: %w", err)
	}
	defer rows.Close()

	mutations := make([]types.QueuedMutation, 0)
	for rows.Next() {
		m, err := scanMutation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mutation: %w", err)
		}
		mutations = append(mutations, *m)
	}
	return mutations, rows.Err()
}

// scanMutation scans a row into a QueuedMutation.
func scanMutation(scanner interface{ Scan(...any) error }) (*types.QueuedMutation, error) {
	var m types.QueuedMutation
	var recordType, payload, createdAt string
	var synced int

	if err := scanner.Scan(&m.ID, &recordType, &payload, &createdAt, &synced); err != nil {
		return nil, err
	}

	m.RecordType = types.RecordType(recordType)
	m.Payload = []byte(payload)
	m.Synced = synced != 0

	var parseErr error
	if m.CreatedAt, parseErr = time.Parse(time.RFC3339Nano, createdAt); parseErr != nil {
		return nil, fmt.Errorf("parse created_at %q: %w", createdAt, parseErr)
	}

	return &m, nil
}

// MarkSynced sets synced=true for exactly one record. A missing id is a
// no-op, not an error (idempotent under concurrent pruning).
func (s *SQLiteStore) MarkSynced(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE mutation_queue SET synced = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%w: mark synced %s: %v", ErrWriteFailed, id, err)
	}
	return nil
}

// PruneSynced bulk-deletes synced records and returns the count deleted.
func (s *SQLiteStore) PruneSynced(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM mutation_queue WHERE synced = 1`)
	if err != nil {
		return 0, fmt.Errorf("%w: prune synced: %v", ErrWriteFailed, err)
	}
	return result.RowsAffected()
}

// CountAll returns the number of queued mutations, synced or not.
func (s *SQLiteStore) CountAll(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM mutation_queue`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count mutations: %w", err)
	}
	return count, nil
}

// CountUnsynced returns the number of mutations still awaiting replay.
func (s *SQLiteStore) CountUnsynced(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM mutation_queue WHERE synced = 0`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unsynced mutations: %w", err)
	}
	return count, nil
}

// AcquireDrainLock takes the drain-in-progress marker for owner with the
// given ttl. The marker lives in worker_meta so it excludes drainers across
// execution contexts sharing the same store, not just goroutines.
func (s *SQLiteStore) AcquireDrainLock(ctx context.Context, owner string, ttl time.Duration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRowContext(ctx,
		`SELECT value FROM worker_meta WHERE key = ?`, MetaDrainLock).Scan(&raw)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("read drain lock: %w", err)
	}

	if holder, expiry, ok := parseDrainLock(raw); ok {
		if holder != owner && time.Now().Before(expiry) {
			return ErrDrainLockHeld
		}
	}

	value := owner + "|" + time.Now().Add(ttl).UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO worker_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, MetaDrainLock, value); err != nil {
		return fmt.Errorf("%w: write drain lock: %v", ErrWriteFailed, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ReleaseDrainLock clears the drain marker if owned by owner.
func (s *SQLiteStore) ReleaseDrainLock(ctx context.Context, owner string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE worker_meta SET value = ''
		WHERE key = ? AND value LIKE ?
	`, MetaDrainLock, owner+"|%")
	if err != nil {
		return fmt.Errorf("%w: release drain lock: %v", ErrWriteFailed, err)
	}
	return nil
}

// parseDrainLock splits a stored "owner|expiry" marker value.
func parseDrainLock(raw string) (owner string, expiry time.Time, ok bool) {
	if raw == "" {
		return "", time.Time{}, false
	}
	parts := strings.SplitN(raw, "|", 2)
	if len(parts) != 2 {
		return "", time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, parts[1])
	if err != nil {
		return "", time.Time{}, false
	}
	return parts[0], t, true
}

// GetMeta returns the value stored for key, or "" when absent.
func (s *SQLiteStore) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM worker_meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read meta %s: %w", key, err)
	}
	return value, nil
}

// SetMeta upserts a worker_meta value.
func (s *SQLiteStore) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO worker_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("%w: write meta %s: %v", ErrWriteFailed, key, err)
	}
	return nil
}
