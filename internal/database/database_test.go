package database

import (
	"errors"
	"testing"

	"github.com/docshare/linkdrive/internal/config"
	"github.com/docshare/linkdrive/internal/models"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

func TestConnectRejectsUnknownDriver(t *testing.T) {
	if _, err := Connect(config.DBConfig{Driver: "oracle"}); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestConnectSQLiteMigrates(t *testing.T) {
	db, err := Connect(config.DBConfig{Driver: "sqlite", SQLitePath: ":memory:"})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if !db.Migrator().HasTable(&models.FileNode{}) {
		t.Fatal("expected file_nodes table")
	}
	if !db.Migrator().HasTable(&models.ReconciliationTask{}) {
		t.Fatal("expected reconciliation_tasks table")
	}
}

func TestUniqueOwnerPathTranslatesToDuplicatedKey(t *testing.T) {
	db, err := Open(sqlite.Open(":memory:"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	owner := uuid.New()
	first := models.FileNode{OwnerID: owner, Name: "a", Path: "/a", ParentPath: "/", IsFolder: true}
	if err := db.Create(&first).Error; err != nil {
		t.Fatalf("create first: %v", err)
	}
	second := models.FileNode{OwnerID: owner, Name: "a", Path: "/a", ParentPath: "/"}
	err = db.Create(&second).Error
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		t.Fatalf("expected ErrDuplicatedKey, got %v", err)
	}

	other := models.FileNode{OwnerID: uuid.New(), Name: "a", Path: "/a", ParentPath: "/"}
	if err := db.Create(&other).Error; err != nil {
		t.Fatalf("same path for another owner should succeed: %v", err)
	}
}
