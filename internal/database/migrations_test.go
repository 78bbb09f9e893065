package database

import (
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/egh-labs/egh-backend/internal/accounts"
)

func newMigratedDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:database_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func TestNormalizeEmailsMigrationLowercasesLegacyRows(t *testing.T) {
	db := newMigratedDB(t)

	legacy := accounts.User{
		Email:        "Legacy@Example.COM",
		Username:     "legacy",
		PasswordHash: "x",
		IsActive:     true,
	}
	if err := db.Create(&legacy).Error; err != nil {
		t.Fatalf("failed to seed legacy user: %v", err)
	}

	if err := applyMigrations(db, nil); err != nil {
		t.Fatalf("migrations failed: %v", err)
	}

	var normalized accounts.User
	if err := db.Take(&normalized, legacy.ID).Error; err != nil {
		t.Fatalf("failed to load user: %v", err)
	}
	if normalized.Email != "legacy@example.com" {
		t.Fatalf("expected lowercased email, got %s", normalized.Email)
	}
}

func TestMigrationsApplyOnce(t *testing.T) {
	db := newMigratedDB(t)

	if err := applyMigrations(db, nil); err != nil {
		t.Fatalf("migrations failed: %v", err)
	}
	if err := applyMigrations(db, nil); err != nil {
		t.Fatalf("re-run must be a no-op: %v", err)
	}

	var records int64
	if err := db.Model(&migrationRecord{}).Count(&records).Error; err != nil {
		t.Fatalf("failed to count records: %v", err)
	}
	if records != 1 {
		t.Fatalf("expected one recorded migration, got %d", records)
	}
}
