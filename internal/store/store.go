package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/outpost/internal/clock"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Empty database
// 1 - Events, node clock, conflict reports
const currentSchemaVersion = 1

// Store provides durable storage for one node's events.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db     *sql.DB
	clock  *clock.Causal
	now    func() time.Time
	logger *slog.Logger

	// mu serializes every write. It is the critical section around
	// "advance clock + persist event".
	mu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithNow overrides the wall clock used for event timestamps.
func WithNow(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithLogger sets the logger used for quarantine warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// Open creates or opens a SQLite database at the given path for node nodeID.
// Applies required pragmas and migrations automatically and restores the
// node's causal clock.
//
// A database belongs to exactly one node. Opening it with a different node ID
// returns ErrNodeMismatch.
func Open(path, nodeID string, opts ...Option) (*Store, error) {
	if nodeID == "" {
		return nil, errors.New("open store: node ID is required")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
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

	if err := claimNode(db, nodeID); err != nil {
		db.Close()
		return nil, err
	}

	v, err := loadClock(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to restore clock: %w", err)
	}

	s := &Store{
		db:     db,
		clock:  clock.Restore(nodeID, v),
		now:    time.Now,
		logger: slog.Default(),
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

// NodeID returns the owning node.
func (s *Store) NodeID() string {
	return s.clock.Owner()
}

// Clock returns a snapshot of the node's causal clock.
func (s *Store) Clock() clock.Vector {
	return s.clock.Snapshot()
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
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
// This function is idempotent.
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

	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}

	// Version 1 is the baseline created by schema.sql; later migrations go here.

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// claimNode records the owning node on first open and rejects any other node later.
func claimNode(db *sql.DB, nodeID string) error {
	if _, err := db.Exec(`
		INSERT INTO node_meta (key, value) VALUES ('node_id', ?)
		ON CONFLICT(key) DO NOTHING
	`, nodeID); err != nil {
		return fmt.Errorf("claim node: %w", err)
	}

	var owner string
	if err := db.QueryRow(`SELECT value FROM node_meta WHERE key = 'node_id'`).Scan(&owner); err != nil {
		return fmt.Errorf("claim node: %w", err)
	}
	if owner != nodeID {
		return fmt.Errorf("%w: database belongs to %q, not %q", ErrNodeMismatch, owner, nodeID)
	}
	return nil
}

func loadClock(db *sql.DB) (clock.Vector, error) {
	rows, err := db.Query(`SELECT node_id, counter FROM node_clock ORDER BY node_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	v := clock.Vector{}
	for rows.Next() {
		var node string
		var counter int64
		if err := rows.Scan(&node, &counter); err != nil {
			return nil, err
		}
		v[node] = uint64(counter)
	}
	return v, rows.Err()
}

// saveClock persists next inside tx. Counters only move forward.
func saveClock(ctx context.Context, tx *sql.Tx, next clock.Vector) error {
	for _, node := range next.Nodes() {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO node_clock (node_id, counter) VALUES (?, ?)
			ON CONFLICT(node_id) DO UPDATE SET counter = excluded.counter
			WHERE excluded.counter > node_clock.counter
		`, node, int64(next.Get(node)))
		if err != nil {
			return fmt.Errorf("save clock: %w", err)
		}
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
