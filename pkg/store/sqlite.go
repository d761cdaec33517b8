package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/NERVsystems/mapty/pkg/monitoring"
)

// item is one row of the items table.
type item struct {
	Key   string `gorm:"primaryKey"`
	Value string `gorm:"type:text;not null"`
}

func (item) TableName() string { return "items" }

// SQLite is a KV persisted in a local database file.
type SQLite struct {
	db     *gorm.DB
	logger *slog.Logger
}

// OpenSQLite opens (creating if needed) the database at path and migrates
// the items table. Use ":memory:" for a throwaway database.
func OpenSQLite(path string, log *slog.Logger) (*SQLite, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// A single connection keeps ":memory:" databases shared across calls.
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	if err := db.AutoMigrate(&item{}); err != nil {
		return nil, fmt.Errorf("migrate items table: %w", err)
	}
	log.With("component", "store").Debug("sqlite store ready", "path", path)
	return &SQLite{db: db, logger: log.With("component", "store")}, nil
}

func (s *SQLite) SetItem(ctx context.Context, key, value string) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&item{Key: key, Value: value}).Error
	monitoring.RecordStoreOperation("sqlite", "set", err == nil)
	if err != nil {
		s.logger.Error("failed to write item", "key", key, "error", err)
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *SQLite) GetItem(ctx context.Context, key string) (string, bool, error) {
	var it item
	err := s.db.WithContext(ctx).Where("key = ?", key).Take(&it).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		monitoring.RecordStoreOperation("sqlite", "get", true)
		return "", false, nil
	case err != nil:
		monitoring.RecordStoreOperation("sqlite", "get", false)
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	monitoring.RecordStoreOperation("sqlite", "get", true)
	return it.Value, true, nil
}

// Ping checks the underlying connection. Used by the health monitor.
func (s *SQLite) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the database handle.
func (s *SQLite) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
