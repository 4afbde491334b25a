package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/offsync/internal/record"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Fresh database (pre-migration)
// 1 - Added index on (status, finished_at) for retention purges
const currentSchemaVersion = 1

// DefaultMaxAttempts is used when no WithMaxAttempts option is given.
const DefaultMaxAttempts = 3

var (
	// ErrNotFound is returned when no record has the given ID.
	ErrNotFound = errors.New("record not found")

	// ErrNotClaimable is returned by MarkInFlight when the record is not PENDING.
	ErrNotClaimable = errors.New("record not claimable")

	// ErrNotInFlight is returned when an outcome is reported for a record
	// that is not currently claimed.
	ErrNotInFlight = errors.New("record not in flight")

	// ErrCorrupt is returned when a stored row fails its checksum.
	ErrCorrupt = errors.New("record checksum mismatch")
)

// Store is the durable operation queue.
type Store struct {
	db          *sql.DB
	maxAttempts int
	ids         record.IDGenerator
}

// Option configures a Store.
type Option func(*Store)

// WithMaxAttempts sets the attempt count at which MarkFailed gives up.
func WithMaxAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithIDGenerator overrides the generator used for records enqueued without an ID.
func WithIDGenerator(gen record.IDGenerator) Option {
	return func(s *Store) {
		s.ids = gen
	}
}

// Open creates or opens a SQLite queue at the given path.
// Applies required pragmas and migrations automatically.
//
// This function is idempotent - safe to call multiple times.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite allows one writer; a single connection also makes the
	// conditional claim update the only path to IN_FLIGHT.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := &Store{
		db:          db,
		maxAttempts: DefaultMaxAttempts,
		ids:         record.UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// MaxAttempts returns the configured give-up threshold.
func (s *Store) MaxAttempts() int {
	return s.maxAttempts
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_operations_finished
		ON operations(status, finished_at)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
