package database

import (
	"fmt"

	"github.com/egh-labs/egh-backend/internal/accounts"
	"github.com/egh-labs/egh-backend/internal/comments"
	"github.com/egh-labs/egh-backend/internal/devices"
	"github.com/egh-labs/egh-backend/internal/journal"
	"github.com/egh-labs/egh-backend/internal/reflections"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OpenSQLite establishes a SQLite connection and performs schema migrations.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := Migrate(db); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}

// Migrate creates or updates the schema for every persisted entity.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&accounts.User{},
		&accounts.Follow{},
		&journal.DailySummary{},
		&reflections.Generation{},
		&reflections.Vote{},
		&reflections.Impression{},
		&comments.Comment{},
		&devices.Device{},
		&migrationRecord{},
	)
}
