package statestore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/cloudwarden/cloudwarden/pkg/secrets"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	return &SQLiteStore{
		path: cfg.Path,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	// Open database with SQLite-specific connection parameters
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Ensure foreign keys are enabled (connection-level setting)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// UpsertState inserts or updates the state record for a kind/name pair
func (s *SQLiteStore) UpsertState(ctx context.Context, record *StateRecord) error {
	query := `
		INSERT INTO entity_states (kind, name, document, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(kind, name) DO UPDATE SET
			document = excluded.document,
			updated_at = excluded.updated_at
	`

	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, query,
		record.Kind,
		record.Name,
		record.Document,
		record.CreatedAt,
		record.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to upsert state: %w", err)
	}

	return nil
}

// GetState retrieves the state record for a kind/name pair
func (s *SQLiteStore) GetState(ctx context.Context, kind, name string) (*StateRecord, error) {
	query := `
		SELECT kind, name, document, created_at, updated_at
		FROM entity_states
		WHERE kind = ? AND name = ?
	`

	record := &StateRecord{}
	err := s.db.QueryRowContext(ctx, query, kind, name).Scan(
		&record.Kind,
		&record.Name,
		&record.Document,
		&record.CreatedAt,
		&record.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, kind, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get state: %w", err)
	}

	return record, nil
}

// ListStates lists state records with pagination
func (s *SQLiteStore) ListStates(ctx context.Context, limit, offset int) ([]*StateRecord, error) {
	query := `
		SELECT kind, name, document, created_at, updated_at
		FROM entity_states
		ORDER BY kind ASC, name ASC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list states: %w", err)
	}
	defer rows.Close()

	records := []*StateRecord{}
	for rows.Next() {
		record := &StateRecord{}
		err := rows.Scan(
			&record.Kind,
			&record.Name,
			&record.Document,
			&record.CreatedAt,
			&record.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan state: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating states: %w", err)
	}

	return records, nil
}

// DeleteState removes the state record for a kind/name pair. Deleting an
// absent record is not an error; absence is the goal state.
func (s *SQLiteStore) DeleteState(ctx context.Context, kind, name string) error {
	query := `DELETE FROM entity_states WHERE kind = ? AND name = ?`

	if _, err := s.db.ExecContext(ctx, query, kind, name); err != nil {
		return fmt.Errorf("failed to delete state: %w", err)
	}

	return nil
}

// Get returns the secret value stored under name, or secrets.ErrNotFound
func (s *SQLiteStore) Get(ctx context.Context, name string) (string, error) {
	query := `SELECT value FROM secrets WHERE name = ?`

	var value string
	err := s.db.QueryRowContext(ctx, query, name).Scan(&value)

	if err == sql.ErrNoRows {
		return "", secrets.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get secret: %w", err)
	}

	return value, nil
}

// Set stores value under name, replacing any previous value
func (s *SQLiteStore) Set(ctx context.Context, name string, value string) error {
	query := `
		INSERT INTO secrets (name, value, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`

	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx, query, name, value, now, now); err != nil {
		return fmt.Errorf("failed to set secret: %w", err)
	}

	return nil
}

// Remove deletes the secret stored under name
func (s *SQLiteStore) Remove(ctx context.Context, name string) error {
	query := `DELETE FROM secrets WHERE name = ?`

	result, err := s.db.ExecContext(ctx, query, name)
	if err != nil {
		return fmt.Errorf("failed to remove secret: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return secrets.ErrNotFound
	}

	return nil
}

// AppendInvocation appends a new invocation record to the audit trail
func (s *SQLiteStore) AppendInvocation(ctx context.Context, record *InvocationRecord) error {
	query := `
		INSERT INTO invocations (invocation_id, kind, name, operation, outcome, error, duration_ms, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		record.InvocationID,
		record.Kind,
		record.Name,
		record.Operation,
		record.Outcome,
		record.Error,
		record.DurationMS,
		record.Timestamp,
	)

	if err != nil {
		return fmt.Errorf("failed to append invocation: %w", err)
	}

	// Get the auto-generated ID
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get invocation ID: %w", err)
	}

	record.ID = id
	return nil
}

// ListInvocations lists invocation records with optional filters and pagination
func (s *SQLiteStore) ListInvocations(ctx context.Context, kind *string, name *string, limit, offset int) ([]*InvocationRecord, error) {
	query := `
		SELECT id, invocation_id, kind, name, operation, outcome, error, duration_ms, timestamp
		FROM invocations
		WHERE (? IS NULL OR kind = ?)
		  AND (? IS NULL OR name = ?)
		ORDER BY timestamp DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, kind, kind, name, name, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list invocations: %w", err)
	}
	defer rows.Close()

	records := []*InvocationRecord{}
	for rows.Next() {
		record := &InvocationRecord{}
		err := rows.Scan(
			&record.ID,
			&record.InvocationID,
			&record.Kind,
			&record.Name,
			&record.Operation,
			&record.Outcome,
			&record.Error,
			&record.DurationMS,
			&record.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invocation: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating invocations: %w", err)
	}

	return records, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
