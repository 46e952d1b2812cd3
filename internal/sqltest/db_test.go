package sqltest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

// testTable represents a simple table structure for testing.
type testTable struct {
	ID   int
	Name string
}

// Common SQL statements that work identically in both PostgreSQL and SQLite.
const (
	createTableSQL = `
		CREATE TABLE IF NOT EXISTS test_table (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL
		);`
	insertSQL     = `INSERT INTO test_table (id, name) VALUES ($1, $2);`
	selectSQL     = `SELECT id, name FROM test_table ORDER BY id`
	selectByIDSQL = `SELECT id, name FROM test_table WHERE id = $1`
	countSQL      = `SELECT COUNT(*) FROM test_table`
)

var errAbort = errors.New("abort")

// TestDatabaseIsolation tests that each test gets a fresh isolated database
// instance. It runs multiple subtests in parallel, each creating its own
// database, applying migrations, inserting data, and querying it.
func TestDatabaseIsolation(t *testing.T) {
	RunDatabaseTest(t, func(t *testing.T, dbFactory DBFactory) {
		for i := range 3 {
			t.Run(fmt.Sprintf("TestIsolationDB%d", i), func(t *testing.T) {
				t.Parallel()

				db := dbFactory(t)
				require.NotNil(t, db)
				_, err := db.Exec(createTableSQL)
				require.NoError(t, err)

				// Ensure that the table is empty.
				row := db.QueryRow(selectSQL)
				err = row.Scan()
				require.ErrorIs(t, err, sql.ErrNoRows)

				for j := range 10 {
					_, err = db.Exec(insertSQL, j, "db")
					require.NoError(t, err, "insert failed")
				}

				var result testTable
				row = db.QueryRow(selectSQL)
				err = row.Scan(&result.ID, &result.Name)
				require.NoError(t, err, "select failed")

				require.Equal(t, 0, result.ID)
				require.Equal(t, "db", result.Name)
			})
		}
	})
}

// TestExecTxRollback checks that a failing transaction body leaves no trace
// and a successful one is committed.
func TestExecTxRollback(t *testing.T) {
	RunDatabaseTest(t, func(t *testing.T, dbFactory DBFactory) {
		ctx := context.Background()
		db := dbFactory(t)

		_, err := db.Exec(createTableSQL)
		require.NoError(t, err)

		err = db.ExecTx(ctx, func(tx *sql.Tx) error {
			_, err := tx.Exec(insertSQL, 1, "rolled back")
			require.NoError(t, err)
			return errAbort
		})
		require.ErrorIs(t, err, errAbort)

		var count int
		require.NoError(t, db.QueryRow(countSQL).Scan(&count))
		require.Zero(t, count)

		err = db.ExecTx(ctx, func(tx *sql.Tx) error {
			_, err := tx.Exec(insertSQL, 2, "committed")
			return err
		})
		require.NoError(t, err)

		var result testTable
		err = db.QueryRow(selectByIDSQL, 2).Scan(&result.ID, &result.Name)
		require.NoError(t, err)
		require.Equal(t, "committed", result.Name)
	})
}

// TestExecTxPanic makes sure a panicking transaction body releases the
// transaction before the panic propagates.
func TestExecTxPanic(t *testing.T) {
	RunDatabaseTest(t, func(t *testing.T, dbFactory DBFactory) {
		ctx := context.Background()
		db := dbFactory(t)

		_, err := db.Exec(createTableSQL)
		require.NoError(t, err)

		require.Panics(t, func() {
			_ = db.ExecTx(ctx, func(tx *sql.Tx) error {
				_, err := tx.Exec(insertSQL, 1, "lost")
				require.NoError(t, err)
				panic("boom")
			})
		})

		// The store must still accept writers.
		err = db.ExecTx(ctx, func(tx *sql.Tx) error {
			_, err := tx.Exec(insertSQL, 1, "kept")
			return err
		})
		require.NoError(t, err)

		var count int
		require.NoError(t, db.QueryRow(countSQL).Scan(&count))
		require.Equal(t, 1, count)
	})
}
