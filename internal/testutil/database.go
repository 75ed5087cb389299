package testutil

import (
	"testing"

	"snipsync/internal/database"
)

// NewTestLedger creates a new in-memory run ledger with schema applied.
// The database is automatically closed when the test completes.
func NewTestLedger(t *testing.T) *database.SQLiteDatabase {
	t.Helper()

	db, err := database.NewSQLiteDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		t.Fatalf("failed to apply schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}
