package sqltest

import (
	"path/filepath"
	"testing"

	"github.com/btcsuite/cosignwallet/sqldb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// NewSQLiteDB creates an isolated fresh SQLite database in a temporary
// directory for each test. The database file is named deterministically and
// removed together with the directory when the test ends.
func NewSQLiteDB(t testing.TB) *sqldb.DB {
	t.Helper()

	dir := t.TempDir()
	dbPath := filepath.Join(
		dir, "cosignwallettest_"+deterministicTestID(t)+".sqlite",
	)

	db, err := sqldb.NewSQLite(dbPath)
	require.NoError(t, err, "failed to open SQLite database")

	t.Cleanup(func() {
		err := db.Close()
		assert.NoError(t, err, "failed to close SQLite database")
	})

	return db
}
