package db

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/gorm"

	"github.com/lisanmuaddib/profilegraph/pkg/db/models"
)

// findProjectRoot looks for go.mod file to determine project root
func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("could not find project root (go.mod)")
		}
		dir = parent
	}
}

// constructDBURL creates the migrate database URL from environment variables
func constructDBURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		os.Getenv("DB_USER"),
		os.Getenv("DB_PASSWORD"),
		os.Getenv("DB_HOST"),
		os.Getenv("DB_PORT"),
		os.Getenv("DB_NAME"),
	)
}

// constructDSN creates the GORM DSN from environment variables
func constructDSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		os.Getenv("DB_HOST"),
		os.Getenv("DB_USER"),
		os.Getenv("DB_PASSWORD"),
		os.Getenv("DB_NAME"),
		os.Getenv("DB_PORT"),
	)
}

// ensureSiteEnum ensures the profile_site enum type exists
func ensureSiteEnum(db *gorm.DB) error {
	var exists bool
	err := db.Raw(`
		SELECT EXISTS (
			SELECT 1 FROM pg_type
			WHERE typname = 'profile_site'
		);
	`).Scan(&exists).Error

	if err != nil {
		return err
	}

	if exists {
		return nil
	}

	values := make([]string, 0, len(models.Sites))
	for _, site := range models.Sites {
		values = append(values, fmt.Sprintf("'%s'", site))
	}

	return db.Exec(fmt.Sprintf("CREATE TYPE profile_site AS ENUM (%s);", strings.Join(values, ", "))).Error
}
