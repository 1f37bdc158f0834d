// Package dbtest opens throwaway in-memory databases with the production
// schema for store-backed tests.
package dbtest

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/lisanmuaddib/profilegraph/pkg/db"
)

// NewMemoryDB returns a migrated, uniquely named in-memory SQLite database.
// The pool is capped at one connection, so concurrent transactions are
// serialized and unique constraint races surface as conflicts.
func NewMemoryDB(logger *logrus.Logger) (*gorm.DB, error) {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.PanicLevel)
	}

	gormDB, err := db.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	return gormDB, nil
}

// Close releases the database
func Close(gormDB *gorm.DB) {
	if sqlDB, err := gormDB.DB(); err == nil {
		sqlDB.Close()
	}
}
