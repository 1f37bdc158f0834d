package db

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/lisanmuaddib/profilegraph/pkg/db/models"
)

// SetupDatabase initializes the Postgres connection and runs migrations
func SetupDatabase(logger *logrus.Logger) (*gorm.DB, error) {
	logger.Debug("Starting database setup")

	projectRoot, err := findProjectRoot()
	if err != nil {
		return nil, fmt.Errorf("failed to find project root: %w", err)
	}

	// Run migrations
	if err := RunMigrations(logger, projectRoot); err != nil {
		return nil, err
	}

	logger.Debug("Establishing GORM database connection")

	db, err := Open(postgres.Open(constructDSN()), logger)
	if err != nil {
		return nil, err
	}

	logger.Info("Database setup completed successfully")
	return db, nil
}

// Open connects through the given dialector, ensures the site enum exists
// on Postgres and auto-migrates the schema.
func Open(dialector gorm.Dialector, logger *logrus.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         NewGormLogrusLogger(logger),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if db.Dialector.Name() == "postgres" {
		if err := ensureSiteEnum(db); err != nil {
			return nil, fmt.Errorf("failed to ensure profile_site enum: %w", err)
		}
	}

	if err := db.AutoMigrate(models.All()...); err != nil {
		return nil, fmt.Errorf("failed to auto-migrate database schema: %w", err)
	}

	return db, nil
}
