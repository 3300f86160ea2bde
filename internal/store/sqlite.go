package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/jpalmerr/flightwatch/internal/flight"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - flight_state table
const currentSchemaVersion = 1

// maxOpenConns allows readers to proceed while a write is in progress (WAL).
// SQLite still admits a single writer at a time.
const maxOpenConns = 4

// SQLiteStore is a durable [StateStore] backed by SQLite.
//
// Each flight occupies one row holding its revision and the full snapshot
// encoded as CBOR.
type SQLiteStore struct {
	db     *sql.DB
	closed atomic.Bool
}

// connParams are applied by the driver to every pooled connection, unlike a
// PRAGMA executed once on whichever connection happens to run it.
const connParams = "_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"

// OpenSQLite creates or opens a SQLite database at the given path.
//
// Every connection is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?"+connParams)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxOpenConns)

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Get returns the stored snapshot for flightID.
func (s *SQLiteStore) Get(ctx context.Context, flightID string) (flight.Snapshot, bool, error) {
	if s.closed.Load() {
		return flight.Snapshot{}, false, ErrClosed
	}

	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT snapshot FROM flight_state WHERE flight_id = ?`, flightID,
	).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return flight.Snapshot{}, false, nil
	}
	if err != nil {
		return flight.Snapshot{}, false, fmt.Errorf("get %s: %w", flightID, err)
	}

	snap, err := decodeSnapshot(blob)
	if err != nil {
		return flight.Snapshot{}, false, fmt.Errorf("decode %s: %w", flightID, err)
	}
	return snap, true, nil
}

// Put upserts the snapshot row for its flight.
func (s *SQLiteStore) Put(ctx context.Context, snapshot flight.Snapshot) error {
	if s.closed.Load() {
		return fmt.Errorf("%w: %s: %w", ErrWriteFailed, snapshot.ID, ErrClosed)
	}

	blob, err := encodeSnapshot(snapshot)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrWriteFailed, snapshot.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO flight_state (flight_id, revision, observed_at, status, snapshot, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(flight_id) DO UPDATE SET
			revision = excluded.revision,
			observed_at = excluded.observed_at,
			status = excluded.status,
			snapshot = excluded.snapshot,
			updated_at = excluded.updated_at
	`,
		snapshot.ID,
		snapshot.Revision,
		snapshot.ObservedAt.UTC().Format(time.RFC3339Nano),
		string(snapshot.Status),
		blob,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrWriteFailed, snapshot.ID, err)
	}
	return nil
}

// All returns every stored snapshot ordered by flight identifier.
func (s *SQLiteStore) All(ctx context.Context) ([]flight.Snapshot, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, `SELECT snapshot FROM flight_state ORDER BY flight_id`)
	if err != nil {
		return nil, fmt.Errorf("list flights: %w", err)
	}
	defer rows.Close()

	var results []flight.Snapshot
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("scan flight: %w", err)
		}
		snap, err := decodeSnapshot(blob)
		if err != nil {
			return nil, fmt.Errorf("decode flight: %w", err)
		}
		results = append(results, snap)
	}
	return results, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db == nil || s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

// applySchema creates tables if they don't exist and records the schema
// version. This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported %d", version, currentSchemaVersion)
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}
