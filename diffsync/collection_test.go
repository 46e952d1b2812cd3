// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package diffsync

import (
	"context"
	"errors"
	"testing"

	"github.com/btcsuite/cosignwallet/internal/sqltest"
	"github.com/btcsuite/cosignwallet/sqldb"
	"github.com/stretchr/testify/require"
)

var errFingerprint = errors.New("fingerprint service unavailable")

func items(keys ...string) []Item {
	out := make([]Item, 0, len(keys))
	for _, k := range keys {
		out = append(out, Item{Key: k, Payload: []byte("payload " + k)})
	}
	return out
}

func newTestCollection(t *testing.T, db *sqldb.DB,
	fp Fingerprinter) *Collection {

	t.Helper()

	c, err := NewCollection(context.Background(), db, "contacts", fp)
	require.NoError(t, err)

	return c
}

// TestReconcileScenario runs the reference scenario: stored A and B seen at
// scan 1, fresh A and C at scan 2.
func TestReconcileScenario(t *testing.T) {
	sqltest.RunDatabaseTest(t, func(t *testing.T,
		dbFactory sqltest.DBFactory) {

		ctx := context.Background()
		c := newTestCollection(t, dbFactory(t), nil)

		diff, err := c.Reconcile(ctx, items("A", "B"), 1)
		require.NoError(t, err)
		require.Equal(t, []string{"A", "B"}, diff.AddedKeys())
		require.Empty(t, diff.Removed)

		diff, err = c.Reconcile(ctx, items("A", "C"), 2)
		require.NoError(t, err)
		require.Equal(t, []string{"C"}, diff.AddedKeys())
		require.Equal(t, []string{"B"}, diff.RemovedKeys())

		fpC, err := SHA256Fingerprint(Item{Key: "C"})
		require.NoError(t, err)
		require.Equal(t, fpC, diff.Added[0].Fingerprint)

		// The removed item reports the fingerprint it was stored
		// with.
		fpB, err := SHA256Fingerprint(Item{Key: "B"})
		require.NoError(t, err)
		require.Equal(t, fpB, diff.Removed[0].Fingerprint)

		stored, err := c.Items(ctx)
		require.NoError(t, err)
		require.Len(t, stored, 2)

		require.Equal(t, "A", stored[0].Key)
		require.EqualValues(t, 1, stored[0].FirstSeen)
		require.EqualValues(t, 2, stored[0].LastSeen)

		require.Equal(t, "C", stored[1].Key)
		require.EqualValues(t, 2, stored[1].FirstSeen)
		require.EqualValues(t, 2, stored[1].LastSeen)

		last, err := c.LastScan(ctx)
		require.NoError(t, err)
		require.EqualValues(t, 2, last.UnwrapOr(0))
	})
}

// TestReconcileDiffs checks added and removed sets over two scans.
func TestReconcileDiffs(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		first   []string
		second  []string
		added   []string
		removed []string
	}{
		{
			name:    "unchanged",
			first:   []string{"a", "b"},
			second:  []string{"b", "a"},
			added:   []string{},
			removed: []string{},
		},
		{
			name:    "everything replaced",
			first:   []string{"a", "b"},
			second:  []string{"c"},
			added:   []string{"c"},
			removed: []string{"a", "b"},
		},
		{
			name:    "source emptied",
			first:   []string{"a"},
			second:  nil,
			added:   []string{},
			removed: []string{"a"},
		},
		{
			name:    "duplicate keys in source",
			first:   []string{"a"},
			second:  []string{"b", "b", "a"},
			added:   []string{"b"},
			removed: []string{},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			c := newTestCollection(t, sqltest.NewSQLiteDB(t), nil)

			_, err := c.Reconcile(ctx, items(tc.first...), 10)
			require.NoError(t, err)

			diff, err := c.Reconcile(ctx, items(tc.second...), 20)
			require.NoError(t, err)
			require.Equal(t, tc.added, diff.AddedKeys())
			require.Equal(t, tc.removed, diff.RemovedKeys())
			require.Equal(
				t, len(tc.added) == 0 && len(tc.removed) == 0,
				diff.IsEmpty(),
			)
		})
	}
}

// TestReconcileKeepsFirstPayload checks that a known item keeps the payload
// it was first seen with.
func TestReconcileKeepsFirstPayload(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := newTestCollection(t, sqltest.NewSQLiteDB(t), nil)

	_, err := c.Reconcile(ctx, []Item{{Key: "k", Payload: []byte("v1")}}, 1)
	require.NoError(t, err)
	_, err = c.Reconcile(ctx, []Item{{Key: "k", Payload: []byte("v2")}}, 2)
	require.NoError(t, err)

	stored, err := c.Items(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Equal(t, []byte("v1"), stored[0].Payload)
}

// TestReconcileRejectsReusedTimestamp checks that a non increasing scan
// timestamp fails without touching the collection.
func TestReconcileRejectsReusedTimestamp(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := newTestCollection(t, sqltest.NewSQLiteDB(t), nil)

	_, err := c.Reconcile(ctx, items("a"), 5)
	require.NoError(t, err)
	before, err := c.Items(ctx)
	require.NoError(t, err)

	for _, ts := range []int64{5, 4} {
		_, err = c.Reconcile(ctx, items("b"), ts)
		require.ErrorIs(t, err, ErrScanTimestampReused)
	}

	after, err := c.Items(ctx)
	require.NoError(t, err)
	require.Equal(t, before, after)
}

// TestReconcileAtomicity injects a failure after the fresh items were
// stamped and checks that the collection is left exactly as before.
func TestReconcileAtomicity(t *testing.T) {
	sqltest.RunDatabaseTest(t, func(t *testing.T,
		dbFactory sqltest.DBFactory) {

		ctx := context.Background()

		fail := false
		fp := func(item Item) (string, error) {
			if fail {
				return "", errFingerprint
			}
			return SHA256Fingerprint(item)
		}
		c := newTestCollection(t, dbFactory(t), fp)

		_, err := c.Reconcile(ctx, items("A", "B"), 1)
		require.NoError(t, err)

		before, err := c.Items(ctx)
		require.NoError(t, err)

		fail = true
		_, err = c.Reconcile(ctx, items("A", "C"), 2)
		require.ErrorIs(t, err, ErrFingerprint)
		require.ErrorIs(t, err, errFingerprint)

		after, err := c.Items(ctx)
		require.NoError(t, err)
		require.Equal(t, before, after)

		last, err := c.LastScan(ctx)
		require.NoError(t, err)
		require.EqualValues(t, 1, last.UnwrapOr(0))

		// The pass can be retried with a new timestamp.
		fail = false
		diff, err := c.Reconcile(ctx, items("A", "C"), 3)
		require.NoError(t, err)
		require.Equal(t, []string{"C"}, diff.AddedKeys())
		require.Equal(t, []string{"B"}, diff.RemovedKeys())
	})
}

// TestNewCollectionNames checks the table name guard.
func TestNewCollectionNames(t *testing.T) {
	t.Parallel()

	db := sqltest.NewSQLiteDB(t)

	_, err := NewCollection(context.Background(), db, scansTable, nil)
	require.ErrorIs(t, err, sqldb.ErrInvalidTableName)

	_, err = NewCollection(context.Background(), db, "x;--", nil)
	require.ErrorIs(t, err, sqldb.ErrInvalidTableName)
}
