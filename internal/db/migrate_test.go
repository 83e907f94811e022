package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrate_UpDownVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "migrate.db")
	db, err := OpenDB(path)
	require.NoError(t, err)
	defer db.Close()

	v, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(0), v)
	assert.False(t, dirty)

	require.NoError(t, db.MigrateUp())
	v, _, err = db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)

	require.NoError(t, db.MigrateUp(), "no change is not an error")

	require.NoError(t, db.MigrateDown())
	v, _, err = db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE name = 'idx_access_log_device'`).Scan(&n))
	assert.Zero(t, n)
}

func TestNewDB_CreatesSchema(t *testing.T) {
	db := setupTestDB(t)
	for _, table := range []string{"users", "access_log"} {
		var n int
		require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name = ?`, table).Scan(&n))
		assert.Equal(t, 1, n, table)
	}
}
