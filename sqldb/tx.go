// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Postgres SQLSTATE codes reporting a transaction that lost a conflict with
// a concurrent one.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// TxFunc is the body of a write transaction.
type TxFunc func(tx *sql.Tx) error

// txOptions returns the options used to begin a write transaction.  SQLite
// write transactions are already serialized by the IMMEDIATE lock taken at
// BEGIN.
func (d *DB) txOptions() *sql.TxOptions {
	if d.backend == BackendPostgres {
		return &sql.TxOptions{Isolation: sql.LevelSerializable}
	}
	return nil
}

// ExecTx runs fn inside a single serializable write transaction.  The
// transaction commits only if fn returns nil, and is rolled back on every
// other exit path, including a panic inside fn.  When the engine aborts the
// transaction because of a conflicting concurrent writer, the whole closure
// is executed again, so fn must not keep state across invocations.
func (d *DB) ExecTx(ctx context.Context, fn TxFunc) error {
	delay := defaultRetryDelay

	for attempt := 0; ; attempt++ {
		err := d.execTxOnce(ctx, fn)
		if err == nil {
			return nil
		}

		if !IsSerializationError(err) {
			return err
		}

		if attempt >= d.maxRetries {
			return fmt.Errorf("%w: %v", ErrRetriesExceeded, err)
		}

		log.Debugf("Retrying transaction after serialization "+
			"conflict (attempt %d): %v", attempt+1, err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
}

// execTxOnce performs a single attempt of ExecTx.
func (d *DB) execTxOnce(ctx context.Context, fn TxFunc) (err error) {
	tx, err := d.BeginTx(ctx, d.txOptions())
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}

		rbErr := tx.Rollback()
		if rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			log.Errorf("Unable to roll back transaction: %v", rbErr)
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	committed = true

	return nil
}

// IsSerializationError reports whether err signals that the transaction was
// aborted in favor of a concurrent one and may succeed if run again.
func IsSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationFailure ||
			pgErr.Code == pgDeadlockDetected
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
	}

	return false
}
