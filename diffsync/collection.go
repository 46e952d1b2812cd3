// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package diffsync keeps a locally cached set in agreement with an external
// source that can only be read as a whole.
//
// Each pass over the source is identified by a scan timestamp, strictly
// increasing per collection.  Reconcile stamps every fresh item with the
// timestamp, reports the items first seen in this pass as added and the
// items not seen in this pass as removed, and drops the latter.  All of it
// happens in one transaction, so a failed pass leaves the collection as it
// was and can be retried with a new timestamp.
package diffsync

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/cosignwallet/sqldb"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// scansTable records the last completed scan of every collection.
const scansTable = "sync_scans"

// Item is an element of the external source, identified by a natural key.
type Item struct {
	Key     string
	Payload []byte
}

// StoredItem is an item as kept in the collection.
type StoredItem struct {
	Item

	FirstSeen int64
	LastSeen  int64

	// Fingerprint is computed once, when the item is first seen.
	Fingerprint string
}

// Change is an added or removed item.
type Change struct {
	Key         string
	Fingerprint string
}

// Diff is the outcome of one reconcile pass.
type Diff struct {
	ScanTimestamp int64

	Added   []Change
	Removed []Change
}

// IsEmpty reports whether the pass changed nothing.
func (d *Diff) IsEmpty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0
}

// AddedKeys returns the keys of the added items.
func (d *Diff) AddedKeys() []string {
	return changeKeys(d.Added)
}

// RemovedKeys returns the keys of the removed items.
func (d *Diff) RemovedKeys() []string {
	return changeKeys(d.Removed)
}

func changeKeys(changes []Change) []string {
	keys := make([]string, 0, len(changes))
	for _, c := range changes {
		keys = append(keys, c.Key)
	}
	return keys
}

// Fingerprinter computes the fingerprint of a newly seen item.
type Fingerprinter func(item Item) (string, error)

// SHA256Fingerprint fingerprints an item with the hex encoded SHA-256 of its
// key.
func SHA256Fingerprint(item Item) (string, error) {
	sum := sha256.Sum256([]byte(item.Key))
	return hex.EncodeToString(sum[:]), nil
}

// Collection is one synchronized set.
type Collection struct {
	db          *sqldb.DB
	name        string
	fingerprint Fingerprinter
}

// NewCollection returns the collection stored in table name, creating its
// tables if needed.  A nil fingerprinter selects SHA256Fingerprint.
func NewCollection(ctx context.Context, db *sqldb.DB, name string,
	fingerprint Fingerprinter) (*Collection, error) {

	if err := sqldb.ValidTableName(name); err != nil {
		return nil, err
	}
	if name == scansTable {
		return nil, fmt.Errorf("%w: %q is reserved",
			sqldb.ErrInvalidTableName, name)
	}
	if fingerprint == nil {
		fingerprint = SHA256Fingerprint
	}

	schema := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			key TEXT PRIMARY KEY,
			payload %s,
			first_seen BIGINT NOT NULL,
			last_seen BIGINT NOT NULL,
			fingerprint TEXT
		)`, name, db.BlobType()),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_last_seen_idx
			ON %s (last_seen)`, name, name),
		`CREATE TABLE IF NOT EXISTS ` + scansTable + ` (
			collection TEXT PRIMARY KEY,
			last_scan BIGINT NOT NULL
		)`,
	}

	err := db.ExecTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range schema {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, syncError(ErrDatabase, "create collection "+name, err)
	}

	return &Collection{
		db:          db,
		name:        name,
		fingerprint: fingerprint,
	}, nil
}

// Name returns the name of the collection.
func (c *Collection) Name() string {
	return c.name
}

// Reconcile brings the collection in line with items, the complete content
// of the external source as read in the pass identified by scanTimestamp.
//
// scanTimestamp must be greater than that of every earlier pass over this
// collection; otherwise ErrScanTimestampReused is returned and nothing is
// changed.
func (c *Collection) Reconcile(ctx context.Context, items []Item,
	scanTimestamp int64) (*Diff, error) {

	var diff *Diff
	err := c.db.ExecTx(ctx, func(tx *sql.Tx) error {
		var err error
		diff, err = c.reconcileTx(ctx, tx, items, scanTimestamp)
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Debugf("Reconciled %s at scan %d: %d added, %d removed", c.name,
		scanTimestamp, len(diff.Added), len(diff.Removed))

	return diff, nil
}

func (c *Collection) reconcileTx(ctx context.Context, tx *sql.Tx,
	items []Item, scanTs int64) (*Diff, error) {

	if err := c.checkScanTimestamp(ctx, tx, scanTs); err != nil {
		return nil, err
	}

	// Insert the new items and stamp every fresh item.  The payload of a
	// known item is left as first observed.
	stamp, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (key, payload, first_seen, last_seen)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (key) DO UPDATE SET last_seen = excluded.last_seen`,
		c.name,
	))
	if err != nil {
		return nil, syncError(ErrDatabase, "prepare stamp", err)
	}
	defer stamp.Close()

	for _, item := range items {
		_, err := stamp.ExecContext(ctx, item.Key, item.Payload, scanTs)
		if err != nil {
			return nil, syncError(ErrDatabase, "stamp item", err)
		}
	}

	diff := &Diff{ScanTimestamp: scanTs}

	diff.Added, err = c.fingerprintAdded(ctx, tx, scanTs)
	if err != nil {
		return nil, err
	}

	diff.Removed, err = c.selectChanges(ctx, tx, fmt.Sprintf(`
		SELECT key, fingerprint FROM %s WHERE last_seen <> $1
		ORDER BY key`, c.name), scanTs)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf(
		"DELETE FROM %s WHERE last_seen <> $1", c.name,
	), scanTs)
	if err != nil {
		return nil, syncError(ErrDatabase, "delete removed items", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO `+scansTable+` (collection, last_scan)
		VALUES ($1, $2)
		ON CONFLICT (collection) DO UPDATE SET
			last_scan = excluded.last_scan`, c.name, scanTs)
	if err != nil {
		return nil, syncError(ErrDatabase, "record scan", err)
	}

	return diff, nil
}

// checkScanTimestamp fails if scanTs does not follow the last completed
// scan.
func (c *Collection) checkScanTimestamp(ctx context.Context, tx *sql.Tx,
	scanTs int64) error {

	var last int64
	err := tx.QueryRowContext(ctx, `SELECT last_scan FROM `+scansTable+`
		WHERE collection = $1`, c.name).Scan(&last)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil

	case err != nil:
		return syncError(ErrDatabase, "select last scan", err)

	case scanTs <= last:
		str := fmt.Sprintf("scan timestamp %d of %s does not follow "+
			"last scan %d", scanTs, c.name, last)
		return syncError(ErrScanTimestampReused, str, nil)
	}

	return nil
}

// fingerprintAdded fingerprints the items first seen at scanTs and returns
// them.
func (c *Collection) fingerprintAdded(ctx context.Context, tx *sql.Tx,
	scanTs int64) ([]Change, error) {

	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`
		SELECT key, payload FROM %s WHERE first_seen = $1
		ORDER BY key`, c.name), scanTs)
	if err != nil {
		return nil, syncError(ErrDatabase, "select added items", err)
	}

	var added []Item
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.Key, &item.Payload); err != nil {
			_ = rows.Close()
			return nil, syncError(ErrDatabase, "scan added item", err)
		}
		added = append(added, item)
	}
	if err := rows.Close(); err != nil {
		return nil, syncError(ErrDatabase, "select added items", err)
	}
	if err := rows.Err(); err != nil {
		return nil, syncError(ErrDatabase, "select added items", err)
	}

	changes := make([]Change, 0, len(added))
	for _, item := range added {
		fp, err := c.fingerprint(item)
		if err != nil {
			str := fmt.Sprintf("fingerprint %s item", c.name)
			return nil, syncError(ErrFingerprint, str, err)
		}

		_, err = tx.ExecContext(ctx, fmt.Sprintf(
			"UPDATE %s SET fingerprint = $1 WHERE key = $2", c.name,
		), fp, item.Key)
		if err != nil {
			return nil, syncError(ErrDatabase, "store fingerprint", err)
		}

		changes = append(changes, Change{Key: item.Key, Fingerprint: fp})
	}

	return changes, nil
}

func (c *Collection) selectChanges(ctx context.Context, tx *sql.Tx,
	query string, args ...any) ([]Change, error) {

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, syncError(ErrDatabase, "select items", err)
	}
	defer rows.Close()

	var changes []Change
	for rows.Next() {
		var (
			change Change
			fp     sql.NullString
		)
		if err := rows.Scan(&change.Key, &fp); err != nil {
			return nil, syncError(ErrDatabase, "scan item", err)
		}
		change.Fingerprint = fp.String
		changes = append(changes, change)
	}
	if err := rows.Err(); err != nil {
		return nil, syncError(ErrDatabase, "select items", err)
	}

	return changes, nil
}

// Items returns the stored items ordered by key.
func (c *Collection) Items(ctx context.Context) ([]StoredItem, error) {
	rows, err := c.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT key, payload, first_seen, last_seen, fingerprint
		FROM %s ORDER BY key`, c.name))
	if err != nil {
		return nil, syncError(ErrDatabase, "select items", err)
	}
	defer rows.Close()

	var items []StoredItem
	for rows.Next() {
		var (
			item StoredItem
			fp   sql.NullString
		)
		err := rows.Scan(
			&item.Key, &item.Payload, &item.FirstSeen,
			&item.LastSeen, &fp,
		)
		if err != nil {
			return nil, syncError(ErrDatabase, "scan item", err)
		}
		item.Fingerprint = fp.String
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, syncError(ErrDatabase, "select items", err)
	}

	return items, nil
}

// LastScan returns the timestamp of the last completed scan, if any.
func (c *Collection) LastScan(ctx context.Context) (fn.Option[int64], error) {
	var last int64
	err := c.db.QueryRowContext(ctx, `SELECT last_scan FROM `+scansTable+`
		WHERE collection = $1`, c.name).Scan(&last)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fn.None[int64](), nil

	case err != nil:
		return fn.None[int64](), syncError(
			ErrDatabase, "select last scan", err,
		)
	}

	return fn.Some(last), nil
}
