// Package reconcile merges freshly scraped upstream data into the relational
// store without creating duplicates. It is the only writer of profiles,
// usernames, posts, relationships and labels in the scrape pipeline.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/lisanmuaddib/profilegraph/pkg/db/models"
)

// ErrConflict is returned by TryInsert when another writer already holds the
// row's reconciliation key
var ErrConflict = errors.New("reconcile: row already exists")

// ErrProfileNotFound is returned when a profile id does not exist locally
var ErrProfileNotFound = errors.New("reconcile: profile does not exist")

// Mode describes how the caller came to know about a profile
type Mode int

const (
	// Direct is a scrape of the profile itself
	Direct Mode = iota
	// DirectStub is a scrape of the profile itself that was asked to leave
	// new rows as stubs
	DirectStub
	// Discovery is a profile found in another profile's relation list
	Discovery
)

func (m Mode) String() string {
	switch m {
	case Direct:
		return "direct"
	case DirectStub:
		return "direct_stub"
	case Discovery:
		return "discovery"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Store reconciles entities against a GORM database. Every public method
// runs in its own transaction.
type Store struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewStore(logger *logrus.Logger, db *gorm.DB) *Store {
	return &Store{
		logger: logger,
		db:     db,
	}
}

// DB returns the underlying handle for read paths
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Profile loads a profile by local id
func (s *Store) Profile(ctx context.Context, id uint) (*models.Profile, error) {
	var profile models.Profile
	err := s.db.WithContext(ctx).First(&profile, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: id=%d", ErrProfileNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load profile %d: %w", id, err)
	}
	return &profile, nil
}

// ProfileByUpstreamID loads a profile by its reconciliation key
func (s *Store) ProfileByUpstreamID(ctx context.Context, site models.Site, upstreamID string) (*models.Profile, error) {
	return findByKey(s.db.WithContext(ctx), site, upstreamID)
}

func findByKey(tx *gorm.DB, site models.Site, upstreamID string) (*models.Profile, error) {
	var profile models.Profile
	err := tx.Where("site = ? AND upstream_id = ?", site, upstreamID).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: site=%s upstream_id=%s", ErrProfileNotFound, site, upstreamID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load profile %s/%s: %w", site, upstreamID, err)
	}
	return &profile, nil
}
