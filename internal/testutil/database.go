package testutil

import (
	"testing"

	"github.com/docshare/linkdrive/internal/database"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

// NewTestDatabase opens an in-memory SQLite database with the schema
// migrated. It is closed when the test completes.
func NewTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := database.Open(sqlite.Open(":memory:"))
	if err != nil {
		t.Fatalf("failed opening in-memory sqlite database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed getting sql.DB from gorm: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	if err := database.Migrate(db); err != nil {
		t.Fatalf("failed automigrating models: %v", err)
	}
	return db
}
