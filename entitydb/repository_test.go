// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package entitydb

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/cosignwallet/internal/sqltest"
	"github.com/btcsuite/cosignwallet/ledger"
	"github.com/btcsuite/cosignwallet/session"
	"github.com/btcsuite/cosignwallet/sqldb"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/tlv"
	"github.com/stretchr/testify/require"
)

// testRecord is a minimal payload.
type testRecord struct {
	Label string
	Value uint64
}

const (
	typeRecordLabel tlv.Type = 1
	typeRecordValue tlv.Type = 2
)

// Encode implements the Payload interface.
func (r *testRecord) Encode(w io.Writer) error {
	label := []byte(r.Label)
	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeRecordLabel, &label),
		tlv.MakePrimitiveRecord(typeRecordValue, &r.Value),
	)
	if err != nil {
		return err
	}
	return stream.Encode(w)
}

// Decode implements the Payload interface.
func (r *testRecord) Decode(rd io.Reader) error {
	var label []byte
	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeRecordLabel, &label),
		tlv.MakePrimitiveRecord(typeRecordValue, &r.Value),
	)
	if err != nil {
		return err
	}
	if err := stream.Decode(rd); err != nil {
		return err
	}
	r.Label = string(label)
	return nil
}

var testStart = time.Unix(1_700_000_000, 0)

func testSession() *session.Session {
	return session.New(
		ledger.PublicProfile{UserID: 1, FirstName: "Satoshi"},
		clock.NewTestClock(testStart),
	)
}

func newTestRepo(t *testing.T,
	db *sqldb.DB) *Repository[testRecord, *testRecord] {

	t.Helper()

	repo, err := NewRepository[testRecord](
		context.Background(), db, "records",
	)
	require.NoError(t, err)

	return repo
}

func record(label string, value uint64,
	remoteID fn.Option[int64]) *Entity[testRecord] {

	return &Entity[testRecord]{
		RemoteID: remoteID,
		Payload:  testRecord{Label: label, Value: value},
	}
}

// insertRaw bypasses Upsert to build states the store itself never
// produces.
func insertRaw(t *testing.T, db *sqldb.DB, remoteID int64) {
	t.Helper()

	payload, err := encodePayload[testRecord](&testRecord{Label: "raw"})
	require.NoError(t, err)

	_, err = db.Exec(
		`INSERT INTO records (remote_id, payload, updated_at)
		VALUES ($1, $2, $3)`, remoteID, payload, 0,
	)
	require.NoError(t, err)
}

func countRows(t *testing.T, db *sqldb.DB) int {
	t.Helper()

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM records").Scan(&n))
	return n
}

// TestUpsertWithoutRemoteID checks that entities without a remote
// identifier are never merged.
func TestUpsertWithoutRemoteID(t *testing.T) {
	sqltest.RunDatabaseTest(t, func(t *testing.T,
		dbFactory sqltest.DBFactory) {

		ctx := context.Background()
		db := dbFactory(t)
		repo := newTestRepo(t, db)
		sess := testSession()

		a, err := repo.Upsert(ctx, sess, record("a", 1, fn.None[int64]()))
		require.NoError(t, err)
		b, err := repo.Upsert(ctx, sess, record("a", 1, fn.None[int64]()))
		require.NoError(t, err)

		require.NotZero(t, a.ID)
		require.NotZero(t, b.ID)
		require.NotEqual(t, a.ID, b.ID)
		require.Equal(t, 2, countRows(t, db))
		require.True(t, testStart.Equal(a.UpdatedAt))
	})
}

// TestUpsertMergesByRemoteID checks that a second upsert of the same remote
// identifier keeps the first local identifier and the second payload.
func TestUpsertMergesByRemoteID(t *testing.T) {
	sqltest.RunDatabaseTest(t, func(t *testing.T,
		dbFactory sqltest.DBFactory) {

		ctx := context.Background()
		db := dbFactory(t)
		repo := newTestRepo(t, db)
		sess := testSession()

		first, err := repo.Upsert(
			ctx, sess, record("first", 1, fn.Some[int64](7)),
		)
		require.NoError(t, err)

		second, err := repo.Upsert(
			ctx, sess, record("second", 2, fn.Some[int64](7)),
		)
		require.NoError(t, err)
		require.Equal(t, first.ID, second.ID)

		stored, err := repo.FetchByRemoteID(ctx, 7)
		require.NoError(t, err)
		require.Equal(t, first.ID, stored.ID)
		require.Equal(t, "second", stored.Payload.Label)
		require.EqualValues(t, 2, stored.Payload.Value)
		require.Equal(t, 1, countRows(t, db))
	})
}

// TestUpsertLifecycle follows an entity from local creation to remote
// acknowledgment and a later copy fetched from the remote side.
func TestUpsertLifecycle(t *testing.T) {
	sqltest.RunDatabaseTest(t, func(t *testing.T,
		dbFactory sqltest.DBFactory) {

		ctx := context.Background()
		db := dbFactory(t)
		repo := newTestRepo(t, db)
		sess := testSession()

		local, err := repo.Upsert(
			ctx, sess, record("draft", 1, fn.None[int64]()),
		)
		require.NoError(t, err)

		// Acknowledged: the remote identifier is attached to the
		// existing row.
		local.RemoteID = fn.Some[int64](42)
		local.Payload.Label = "submitted"
		acked, err := repo.Upsert(ctx, sess, local)
		require.NoError(t, err)
		require.Equal(t, local.ID, acked.ID)

		// The same entity arrives from the remote side without a
		// local identifier.
		fetched, err := repo.Upsert(
			ctx, sess, record("settled", 3, fn.Some[int64](42)),
		)
		require.NoError(t, err)
		require.Equal(t, local.ID, fetched.ID)

		stored, err := repo.FetchByID(ctx, local.ID)
		require.NoError(t, err)
		require.Equal(t, "settled", stored.Payload.Label)
		require.Equal(t, fn.Some[int64](42), stored.RemoteID)
		require.Equal(t, 1, countRows(t, db))
	})
}

// TestUpsertDuplicateRemoteID checks that a broken table invariant is
// reported instead of resolved.
func TestUpsertDuplicateRemoteID(t *testing.T) {
	sqltest.RunDatabaseTest(t, func(t *testing.T,
		dbFactory sqltest.DBFactory) {

		ctx := context.Background()
		db := dbFactory(t)
		repo := newTestRepo(t, db)
		sess := testSession()

		insertRaw(t, db, 9)
		insertRaw(t, db, 9)

		_, err := repo.Upsert(ctx, sess, record("x", 1, fn.Some[int64](9)))
		require.ErrorIs(t, err, ErrDuplicateRemoteID)

		_, err = repo.FetchByRemoteID(ctx, 9)
		require.ErrorIs(t, err, ErrDuplicateRemoteID)

		// Nothing was written.
		require.Equal(t, 2, countRows(t, db))
	})
}

// TestUpsertRejectsIdentityChanges checks the guards protecting local and
// remote identifiers.
func TestUpsertRejectsIdentityChanges(t *testing.T) {
	sqltest.RunDatabaseTest(t, func(t *testing.T,
		dbFactory sqltest.DBFactory) {

		ctx := context.Background()
		db := dbFactory(t)
		repo := newTestRepo(t, db)
		sess := testSession()

		a, err := repo.Upsert(ctx, sess, record("a", 1, fn.Some[int64](1)))
		require.NoError(t, err)
		b, err := repo.Upsert(ctx, sess, record("b", 1, fn.Some[int64](2)))
		require.NoError(t, err)

		testCases := []struct {
			name        string
			entity      *Entity[testRecord]
			expectedErr error
		}{
			{
				name: "change remote id",
				entity: &Entity[testRecord]{
					ID:       a.ID,
					RemoteID: fn.Some[int64](3),
				},
				expectedErr: ErrRemoteIDChanged,
			},
			{
				name: "clear remote id",
				entity: &Entity[testRecord]{
					ID:       a.ID,
					RemoteID: fn.None[int64](),
				},
				expectedErr: ErrRemoteIDChanged,
			},
			{
				name: "claim remote id of another row",
				entity: &Entity[testRecord]{
					ID:       a.ID,
					RemoteID: fn.Some[int64](2),
				},
				expectedErr: ErrDuplicateRemoteID,
			},
			{
				name: "unknown local id",
				entity: &Entity[testRecord]{
					ID:       a.ID + b.ID + 100,
					RemoteID: fn.None[int64](),
				},
				expectedErr: ErrNotFound,
			},
		}

		for _, tc := range testCases {
			_, err := repo.Upsert(ctx, sess, tc.entity)
			require.ErrorIs(t, err, tc.expectedErr, tc.name)
		}

		require.Equal(t, 2, countRows(t, db))
	})
}

// TestConcurrentUpserts checks that concurrent upserts of one remote
// identifier end with a single row.
func TestConcurrentUpserts(t *testing.T) {
	sqltest.RunDatabaseTest(t, func(t *testing.T,
		dbFactory sqltest.DBFactory) {

		ctx := context.Background()
		db := dbFactory(t)
		repo := newTestRepo(t, db)
		sess := testSession()

		const writers = 8

		var wg sync.WaitGroup
		errs := make(chan error, writers)
		for i := range writers {
			wg.Add(1)
			go func() {
				defer wg.Done()

				_, err := repo.Upsert(ctx, sess, record(
					fmt.Sprintf("writer-%d", i), uint64(i),
					fn.Some[int64](77),
				))
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)

		for err := range errs {
			require.NoError(t, err)
		}

		require.Equal(t, 1, countRows(t, db))
	})
}

// TestFetchAndDelete covers the read and delete helpers.
func TestFetchAndDelete(t *testing.T) {
	sqltest.RunDatabaseTest(t, func(t *testing.T,
		dbFactory sqltest.DBFactory) {

		ctx := context.Background()
		db := dbFactory(t)
		repo := newTestRepo(t, db)
		sess := testSession()

		latest, err := repo.LatestRemoteID(ctx)
		require.NoError(t, err)
		require.True(t, latest.IsNone())

		_, err = repo.FetchByID(ctx, 1)
		require.ErrorIs(t, err, ErrNotFound)
		_, err = repo.FetchByRemoteID(ctx, 1)
		require.ErrorIs(t, err, ErrNotFound)

		local, err := repo.Upsert(
			ctx, sess, record("local", 0, fn.None[int64]()),
		)
		require.NoError(t, err)

		latest, err = repo.LatestRemoteID(ctx)
		require.NoError(t, err)
		require.True(t, latest.IsNone())

		for _, id := range []int64{5, 12, 8} {
			_, err := repo.Upsert(ctx, sess, record(
				"remote", uint64(id), fn.Some(id),
			))
			require.NoError(t, err)
		}

		latest, err = repo.LatestRemoteID(ctx)
		require.NoError(t, err)
		require.Equal(t, fn.Some[int64](12), latest)

		all, err := repo.FetchAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 4)
		require.Equal(t, local.ID, all[0].ID)
		require.True(t, all[0].RemoteID.IsNone())

		require.NoError(t, repo.Delete(ctx, local.ID))
		require.ErrorIs(t, repo.Delete(ctx, local.ID), ErrNotFound)

		require.NoError(t, repo.DeleteAll(ctx))
		require.Zero(t, countRows(t, db))
	})
}

// TestReplaceAll checks the full resynchronization helper.
func TestReplaceAll(t *testing.T) {
	sqltest.RunDatabaseTest(t, func(t *testing.T,
		dbFactory sqltest.DBFactory) {

		ctx := context.Background()
		db := dbFactory(t)
		repo := newTestRepo(t, db)
		sess := testSession()

		_, err := repo.Upsert(ctx, sess, record("old", 0, fn.Some[int64](1)))
		require.NoError(t, err)
		_, err = repo.Upsert(ctx, sess, record("draft", 0, fn.None[int64]()))
		require.NoError(t, err)

		stored, err := repo.ReplaceAll(ctx, sess, []*Entity[testRecord]{
			record("new", 1, fn.Some[int64](1)),
			record("other", 2, fn.Some[int64](2)),
		})
		require.NoError(t, err)
		require.Len(t, stored, 2)

		all, err := repo.FetchAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		require.Equal(t, "new", all[0].Payload.Label)

		// Duplicates in the replacement set are merged, not doubled.
		_, err = repo.ReplaceAll(ctx, sess, []*Entity[testRecord]{
			record("a", 1, fn.Some[int64](3)),
			record("b", 2, fn.Some[int64](3)),
		})
		require.NoError(t, err)
		require.Equal(t, 1, countRows(t, db))
	})
}

// TestUpsertRequiresSession checks that a nil session is refused.
func TestUpsertRequiresSession(t *testing.T) {
	t.Parallel()

	db := sqltest.NewSQLiteDB(t)
	repo := newTestRepo(t, db)

	_, err := repo.Upsert(
		context.Background(), nil, record("a", 1, fn.None[int64]()),
	)
	require.ErrorIs(t, err, session.ErrNoSession)

	_, err = NewRepository[testRecord](
		context.Background(), db, "bad name",
	)
	require.ErrorIs(t, err, sqldb.ErrInvalidTableName)
}
