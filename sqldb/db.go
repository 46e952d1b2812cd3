// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package sqldb provides the SQL backend shared by the wallet's
// transactional stores.  It hides the differences between the SQLite and
// Postgres engines behind a Backend value and offers a single
// way of running read-modify-write sequences: one write transaction per
// call, released on every exit path and retried when the engine reports a
// serialization conflict.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"time"

	// Register the pgx driver under name "pgx".
	_ "github.com/jackc/pgx/v5/stdlib"

	// Register SQLite driver under name "sqlite".
	_ "modernc.org/sqlite"
)

// Backend identifies the SQL engine behind a DB.
type Backend uint8

const (
	// BackendSQLite is an embedded SQLite database file.
	BackendSQLite Backend = iota

	// BackendPostgres is a Postgres server reached through pgx.
	BackendPostgres
)

// String returns a human readable name of the backend.
func (b Backend) String() string {
	switch b {
	case BackendSQLite:
		return "sqlite"
	case BackendPostgres:
		return "postgres"
	default:
		return fmt.Sprintf("unknown backend (%d)", uint8(b))
	}
}

// ParseBackend maps a configuration value to a Backend.
func ParseBackend(s string) (Backend, error) {
	switch s {
	case "sqlite":
		return BackendSQLite, nil
	case "postgres":
		return BackendPostgres, nil
	default:
		return 0, fmt.Errorf("unsupported database backend %q", s)
	}
}

const (
	// DefaultMaxRetries is the number of times a transaction closure is
	// re-executed after a serialization conflict before giving up.
	DefaultMaxRetries = 10

	// defaultRetryDelay is the initial delay between two attempts.  It
	// doubles on each retry.
	defaultRetryDelay = 10 * time.Millisecond

	// sqliteBusyTimeout is the time SQLite waits on a locked database
	// before reporting SQLITE_BUSY.
	sqliteBusyTimeout = 5000
)

var (
	// ErrInvalidTableName is returned when a table name fails validation.
	ErrInvalidTableName = errors.New("invalid table name")

	// ErrRetriesExceeded is returned when a transaction kept failing with
	// serialization conflicts.
	ErrRetriesExceeded = errors.New("transaction retries exceeded")

	tableNameRegex = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)
)

// DB wraps a *sql.DB together with the backend it talks to.
type DB struct {
	*sql.DB

	backend    Backend
	maxRetries int
}

// New wraps an already opened database handle.
func New(db *sql.DB, backend Backend) *DB {
	return &DB{
		DB:         db,
		backend:    backend,
		maxRetries: DefaultMaxRetries,
	}
}

// NewSQLite opens (creating if needed) the SQLite database at path.  The
// database runs in WAL mode with foreign keys enabled and every write
// transaction begins IMMEDIATE, so concurrent writers queue on the busy
// timeout instead of failing halfway through a transaction.
func NewSQLite(path string) (*DB, error) {
	dsn := sqliteDSN(path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// A single connection serializes writers at the driver level.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}

	log.Debugf("Opened SQLite database %s", path)

	return New(db, BackendSQLite), nil
}

// sqliteDSN builds the DSN for a file backed SQLite database.
func sqliteDSN(path string) string {
	params := url.Values{}
	params.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", sqliteBusyTimeout))
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_pragma", "synchronous(NORMAL)")
	params.Add("_pragma", "foreign_keys(1)")
	params.Set("_txlock", "immediate")

	return "file:" + path + "?" + params.Encode()
}

// NewPostgres connects to the Postgres database identified by dsn.
func NewPostgres(dsn string) (*DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(30 * time.Second)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres database: %w", err)
	}

	log.Debugf("Connected to Postgres database")

	return New(db, BackendPostgres), nil
}

// Backend returns the engine this DB talks to.
func (d *DB) Backend() Backend {
	return d.backend
}

// SetMaxRetries overrides the number of serialization retries.  A value of
// zero disables retrying.
func (d *DB) SetMaxRetries(n int) {
	d.maxRetries = n
}

// PrimaryKeyType returns the column definition of an auto incrementing
// 64-bit primary key.
func (d *DB) PrimaryKeyType() string {
	if d.backend == BackendPostgres {
		return "BIGSERIAL PRIMARY KEY"
	}
	return "INTEGER PRIMARY KEY AUTOINCREMENT"
}

// BlobType returns the column type used for opaque byte payloads.
func (d *DB) BlobType() string {
	if d.backend == BackendPostgres {
		return "BYTEA"
	}
	return "BLOB"
}

// ValidTableName returns an error if name can't be safely interpolated into
// a statement as a table name.
func ValidTableName(name string) error {
	if !tableNameRegex.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidTableName, name)
	}
	return nil
}
