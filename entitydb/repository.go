// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package entitydb implements the wallet's entity reconciliation store.
//
// Every locally cached record is an Entity: a local identifier assigned by
// the store, an optional remote identifier issued by the co-signer once it
// acknowledges the record, and a payload.  Upsert merges a record coming
// from either side with the row that already represents it, keyed by the
// remote identifier, so a record fetched from the co-signer never
// duplicates the one created locally.  At most one row of a table may carry
// a given remote identifier; a violation is reported, never repaired.
package entitydb

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/btcsuite/cosignwallet/session"
	"github.com/btcsuite/cosignwallet/sqldb"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// Payload is the serializable domain part of an entity.
type Payload interface {
	Encode(w io.Writer) error
	Decode(r io.Reader) error
}

// Entity is a stored record.
type Entity[T any] struct {
	// ID is the local identifier.  It is zero until the entity is first
	// stored and never changes afterwards.
	ID int64

	// RemoteID is the identifier issued by the co-signer.  Once set it
	// never changes.
	RemoteID fn.Option[int64]

	Payload T

	// UpdatedAt is the time of the last write.
	UpdatedAt time.Time
}

// HasRemoteID reports whether the entity was acknowledged remotely.
func (e *Entity[T]) HasRemoteID() bool {
	return e.RemoteID.IsSome()
}

// Repository stores the entities of one type in one table.
type Repository[T any, PT interface {
	*T
	Payload
}] struct {
	db    *sqldb.DB
	table string
}

// NewRepository returns the repository backed by table, creating the table
// if needed.
func NewRepository[T any, PT interface {
	*T
	Payload
}](ctx context.Context, db *sqldb.DB, table string) (*Repository[T, PT],
	error) {

	if err := sqldb.ValidTableName(table); err != nil {
		return nil, err
	}

	r := &Repository[T, PT]{
		db:    db,
		table: table,
	}

	// The remote identifier index is deliberately not unique: the upsert
	// transaction enforces uniqueness and a violation must be observable.
	schema := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id %s,
			remote_id BIGINT,
			payload %s NOT NULL,
			updated_at BIGINT NOT NULL
		)`, table, db.PrimaryKeyType(), db.BlobType()),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_remote_id_idx
			ON %s (remote_id)`, table, table),
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
		return nil, storeError(ErrDatabase, "create table "+table, err)
	}

	return r, nil
}

// Upsert stores e and returns the stored entity.
//
// An entity without a remote identifier is provably new to the co-signer:
// it is inserted, or written over its own row if it already has a local
// identifier.  An entity with a remote identifier is matched against the
// rows carrying it: with no match it is stored as above, with exactly one
// match it takes over that row's local identifier and replaces the row's
// payload, and with more than one match the table invariant is broken and
// ErrDuplicateRemoteID is returned.  The lookup and the write run in one
// serializable transaction, so concurrent upserts of the same remote
// identifier can't both insert.
func (r *Repository[T, PT]) Upsert(ctx context.Context, sess *session.Session,
	e *Entity[T]) (*Entity[T], error) {

	if err := session.Validate(sess); err != nil {
		return nil, err
	}

	var stored *Entity[T]
	err := r.db.ExecTx(ctx, func(tx *sql.Tx) error {
		var err error
		stored, err = r.upsertTx(ctx, tx, sess.Now(), e)
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Tracef("Stored %s entity %d for user %d", r.table, stored.ID,
		sess.UserID())

	return stored, nil
}

// ReplaceAll removes every stored entity and stores the given ones, in a
// single transaction.
func (r *Repository[T, PT]) ReplaceAll(ctx context.Context,
	sess *session.Session, entities []*Entity[T]) ([]*Entity[T], error) {

	if err := session.Validate(sess); err != nil {
		return nil, err
	}

	var stored []*Entity[T]
	err := r.db.ExecTx(ctx, func(tx *sql.Tx) error {
		stored = make([]*Entity[T], 0, len(entities))

		_, err := tx.ExecContext(ctx, "DELETE FROM "+r.table)
		if err != nil {
			return storeError(ErrDatabase, "delete entities", err)
		}

		now := sess.Now()
		for _, e := range entities {
			fresh := *e
			fresh.ID = 0

			s, err := r.upsertTx(ctx, tx, now, &fresh)
			if err != nil {
				return err
			}
			stored = append(stored, s)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Debugf("Replaced %s with %d %s for user %d", r.table,
		len(stored), pickNoun(len(stored), "entity", "entities"),
		sess.UserID())

	return stored, nil
}

// upsertTx performs Upsert inside tx.
func (r *Repository[T, PT]) upsertTx(ctx context.Context, tx *sql.Tx,
	now time.Time, e *Entity[T]) (*Entity[T], error) {

	payload, err := encodePayload[T, PT](&e.Payload)
	if err != nil {
		return nil, err
	}

	stored := *e
	stored.UpdatedAt = now

	if e.RemoteID.IsSome() {
		remoteID := e.RemoteID.UnwrapOr(0)

		ids, err := r.idsByRemoteID(ctx, tx, remoteID)
		if err != nil {
			return nil, err
		}

		switch {
		case len(ids) > 1:
			return nil, r.duplicateError(remoteID)

		case len(ids) == 1:
			// A different row already represents this remote
			// entity, storing e under its own local identifier
			// would duplicate it.
			if e.ID != 0 && e.ID != ids[0] {
				return nil, r.duplicateError(remoteID)
			}
			stored.ID = ids[0]
		}
	}

	if stored.ID == 0 {
		stored.ID, err = r.insert(ctx, tx, &stored, payload)
		if err != nil {
			return nil, err
		}
		return &stored, nil
	}

	if err := r.update(ctx, tx, &stored, payload); err != nil {
		return nil, err
	}

	return &stored, nil
}

// insert adds a new row and returns its local identifier.
func (r *Repository[T, PT]) insert(ctx context.Context, tx *sql.Tx,
	e *Entity[T], payload []byte) (int64, error) {

	query := fmt.Sprintf(`INSERT INTO %s (remote_id, payload, updated_at)
		VALUES ($1, $2, $3) RETURNING id`, r.table)

	var id int64
	err := tx.QueryRowContext(
		ctx, query, remoteIDArg(e.RemoteID), payload,
		e.UpdatedAt.UnixNano(),
	).Scan(&id)
	if err != nil {
		return 0, storeError(ErrDatabase, "insert entity", err)
	}

	return id, nil
}

// update overwrites the row with e's local identifier.
func (r *Repository[T, PT]) update(ctx context.Context, tx *sql.Tx,
	e *Entity[T], payload []byte) error {

	query := fmt.Sprintf("SELECT remote_id FROM %s WHERE id = $1", r.table)

	var current sql.NullInt64
	err := tx.QueryRowContext(ctx, query, e.ID).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		str := fmt.Sprintf("no %s entity with local id %d", r.table,
			e.ID)
		return storeError(ErrNotFound, str, nil)

	case err != nil:
		return storeError(ErrDatabase, "select entity", err)
	}

	changed := e.RemoteID.IsNone() ||
		e.RemoteID.UnwrapOr(0) != current.Int64
	if current.Valid && changed {
		str := fmt.Sprintf("%s entity %d already has remote id %d",
			r.table, e.ID, current.Int64)
		return storeError(ErrRemoteIDChanged, str, nil)
	}

	query = fmt.Sprintf(`UPDATE %s SET remote_id = $1, payload = $2,
		updated_at = $3 WHERE id = $4`, r.table)

	_, err = tx.ExecContext(
		ctx, query, remoteIDArg(e.RemoteID), payload,
		e.UpdatedAt.UnixNano(), e.ID,
	)
	if err != nil {
		return storeError(ErrDatabase, "update entity", err)
	}

	return nil
}

// idsByRemoteID returns the local identifiers of up to two rows carrying
// remoteID, enough to tell zero, one and many apart.
func (r *Repository[T, PT]) idsByRemoteID(ctx context.Context, tx *sql.Tx,
	remoteID int64) ([]int64, error) {

	query := fmt.Sprintf(`SELECT id FROM %s WHERE remote_id = $1
		ORDER BY id LIMIT 2`, r.table)

	rows, err := tx.QueryContext(ctx, query, remoteID)
	if err != nil {
		return nil, storeError(ErrDatabase, "select by remote id", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, storeError(ErrDatabase, "scan id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError(ErrDatabase, "select by remote id", err)
	}

	return ids, nil
}

func (r *Repository[T, PT]) duplicateError(remoteID int64) StoreError {
	str := fmt.Sprintf("more than one %s entity with remote id %d",
		r.table, remoteID)

	log.Errorf("Consistency violation: %s", str)

	return storeError(ErrDuplicateRemoteID, str, nil)
}

// FetchByID returns the entity with the given local identifier.
func (r *Repository[T, PT]) FetchByID(ctx context.Context,
	id int64) (*Entity[T], error) {

	query := fmt.Sprintf(`SELECT id, remote_id, payload, updated_at
		FROM %s WHERE id = $1`, r.table)

	e, err := r.scanEntity(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		str := fmt.Sprintf("no %s entity with local id %d", r.table, id)
		return nil, storeError(ErrNotFound, str, nil)
	}

	return e, err
}

// FetchByRemoteID returns the entity carrying remoteID.
func (r *Repository[T, PT]) FetchByRemoteID(ctx context.Context,
	remoteID int64) (*Entity[T], error) {

	query := fmt.Sprintf(`SELECT id, remote_id, payload, updated_at
		FROM %s WHERE remote_id = $1 ORDER BY id LIMIT 2`, r.table)

	entities, err := r.query(ctx, query, remoteID)
	if err != nil {
		return nil, err
	}

	switch len(entities) {
	case 0:
		str := fmt.Sprintf("no %s entity with remote id %d", r.table,
			remoteID)
		return nil, storeError(ErrNotFound, str, nil)

	case 1:
		return entities[0], nil

	default:
		return nil, r.duplicateError(remoteID)
	}
}

// FetchAll returns every stored entity ordered by local identifier.
func (r *Repository[T, PT]) FetchAll(ctx context.Context) ([]*Entity[T],
	error) {

	query := fmt.Sprintf(`SELECT id, remote_id, payload, updated_at
		FROM %s ORDER BY id`, r.table)

	return r.query(ctx, query)
}

// LatestRemoteID returns the highest remote identifier stored, or none if
// no stored entity has one.
func (r *Repository[T, PT]) LatestRemoteID(
	ctx context.Context) (fn.Option[int64], error) {

	query := fmt.Sprintf("SELECT MAX(remote_id) FROM %s", r.table)

	var latest sql.NullInt64
	err := r.db.QueryRowContext(ctx, query).Scan(&latest)
	if err != nil {
		return fn.None[int64](), storeError(
			ErrDatabase, "select latest remote id", err,
		)
	}

	if !latest.Valid {
		return fn.None[int64](), nil
	}

	return fn.Some(latest.Int64), nil
}

// Delete removes the entity with the given local identifier.
func (r *Repository[T, PT]) Delete(ctx context.Context, id int64) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1", r.table)

	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return storeError(ErrDatabase, "delete entity", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return storeError(ErrDatabase, "delete entity", err)
	}
	if n == 0 {
		str := fmt.Sprintf("no %s entity with local id %d", r.table, id)
		return storeError(ErrNotFound, str, nil)
	}

	return nil
}

// DeleteAll removes every stored entity.
func (r *Repository[T, PT]) DeleteAll(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM "+r.table)
	if err != nil {
		return storeError(ErrDatabase, "delete entities", err)
	}

	return nil
}

func (r *Repository[T, PT]) query(ctx context.Context, query string,
	args ...any) ([]*Entity[T], error) {

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError(ErrDatabase, "select entities", err)
	}
	defer rows.Close()

	var entities []*Entity[T]
	for rows.Next() {
		e, err := r.scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError(ErrDatabase, "select entities", err)
	}

	return entities, nil
}

// rowScanner is implemented by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func (r *Repository[T, PT]) scanEntity(row rowScanner) (*Entity[T], error) {
	var (
		id        int64
		remoteID  sql.NullInt64
		payload   []byte
		updatedAt int64
	)

	err := row.Scan(&id, &remoteID, &payload, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, storeError(ErrDatabase, "scan entity", err)
	}

	e := &Entity[T]{
		ID:        id,
		RemoteID:  fn.None[int64](),
		UpdatedAt: time.Unix(0, updatedAt),
	}
	if remoteID.Valid {
		e.RemoteID = fn.Some(remoteID.Int64)
	}

	if err := PT(&e.Payload).Decode(bytes.NewReader(payload)); err != nil {
		str := fmt.Sprintf("decode %s entity %d", r.table, id)
		return nil, storeError(ErrEncoding, str, err)
	}

	return e, nil
}

func encodePayload[T any, PT interface {
	*T
	Payload
}](v *T) ([]byte, error) {

	var b bytes.Buffer
	if err := PT(v).Encode(&b); err != nil {
		return nil, storeError(ErrEncoding, "encode payload", err)
	}

	return b.Bytes(), nil
}

// remoteIDArg maps an optional remote identifier to a nullable query
// argument.
func remoteIDArg(id fn.Option[int64]) sql.NullInt64 {
	var arg sql.NullInt64
	id.WhenSome(func(v int64) {
		arg = sql.NullInt64{Int64: v, Valid: true}
	})

	return arg
}

// pickNoun returns the singular or plural form of a noun depending
// on the count n.
func pickNoun(n int, singular, plural string) string {
	if n == 1 {
		return singular
	}
	return plural
}
