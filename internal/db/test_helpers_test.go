package db

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	fname := filepath.Join(t.TempDir(), strings.ReplaceAll(t.Name(), "/", "_")+".db")
	_ = os.Remove(fname)

	db, err := NewDB(fname)
	if err != nil {
		t.Fatalf("failed to create test DB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func intPtr(v int) *int { return &v }
