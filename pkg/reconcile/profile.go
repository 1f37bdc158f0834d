package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lisanmuaddib/profilegraph/pkg/db/models"
	"github.com/lisanmuaddib/profilegraph/pkg/interfaces/upstream"
	"github.com/lisanmuaddib/profilegraph/pkg/metrics"
)

// UpsertProfile gets, creates or updates the profile keyed by
// (site, upstreamID). A concurrent insert of the same key is resolved by
// applying attrs to the row that won; it is never returned as an error.
func (s *Store) UpsertProfile(ctx context.Context, site models.Site, upstreamID string, attrs upstream.ProfileData, mode Mode) (*models.Profile, error) {
	profile, err := s.TryInsert(ctx, site, upstreamID, attrs, mode)
	if err == nil {
		return profile, nil
	}
	if !errors.Is(err, ErrConflict) {
		return nil, err
	}

	metrics.ReconcileConflicts.WithLabelValues("profile").Inc()
	s.logger.WithFields(logrus.Fields{
		"site":        site,
		"upstream_id": upstreamID,
		"mode":        mode.String(),
	}).Debug("Profile already exists, updating instead")

	return s.FallbackUpdateOnConflict(ctx, site, upstreamID, attrs, mode)
}

// TryInsert creates the profile and its first username in one transaction.
// It returns ErrConflict if (site, upstreamID) already exists.
func (s *Store) TryInsert(ctx context.Context, site models.Site, upstreamID string, attrs upstream.ProfileData, mode Mode) (*models.Profile, error) {
	now := time.Now()
	profile := newProfile(site, upstreamID, attrs, now)
	profile.IsStub = mode == DirectStub || mode == Discovery

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(profile).Error; err != nil {
			return err
		}

		if profile.Username == "" {
			return nil
		}
		return tx.Create(&models.ProfileUsername{
			ProfileID: profile.ID,
			Username:  profile.Username,
			StartDate: now,
		}).Error
	})

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, ErrConflict
	}
	if err != nil {
		return nil, fmt.Errorf("failed to insert profile %s/%s: %w", site, upstreamID, err)
	}

	s.logger.WithFields(logrus.Fields{
		"profile_id":  profile.ID,
		"site":        site,
		"upstream_id": upstreamID,
		"is_stub":     profile.IsStub,
	}).Info("Created profile")

	return profile, nil
}

// FallbackUpdateOnConflict applies attrs to the existing row keyed by
// (site, upstreamID) with a single UPDATE, so concurrent writers never leave
// a mix of fields. Only a Direct scrape promotes a stub; no mode demotes a
// full profile.
func (s *Store) FallbackUpdateOnConflict(ctx context.Context, site models.Site, upstreamID string, attrs upstream.ProfileData, mode Mode) (*models.Profile, error) {
	var profile *models.Profile
	now := time.Now()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := findByKey(tx, site, upstreamID)
		if err != nil {
			return err
		}

		updates := profileUpdates(attrs, now)
		if mode == Direct && existing.IsStub {
			updates["is_stub"] = false
		}

		if err := tx.Model(&models.Profile{}).Where("id = ?", existing.ID).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to update profile %d: %w", existing.ID, err)
		}

		if attrs.Username != "" && attrs.Username != existing.Username {
			if err := recordUsername(tx, existing.ID, attrs.Username, now); err != nil {
				return err
			}
		}

		profile = &models.Profile{}
		return tx.First(profile, existing.ID).Error
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"profile_id":  profile.ID,
		"site":        site,
		"upstream_id": upstreamID,
		"is_stub":     profile.IsStub,
		"summary":     attrs.Summary,
	}).Debug("Updated profile")

	return profile, nil
}

// recordUsername closes the open username interval and opens one for
// username. An older entry for the same username is reopened from now.
func recordUsername(tx *gorm.DB, profileID uint, username string, now time.Time) error {
	if err := tx.Model(&models.ProfileUsername{}).
		Where("profile_id = ? AND end_date IS NULL", profileID).
		Update("end_date", now).Error; err != nil {
		return fmt.Errorf("failed to close username interval: %w", err)
	}

	entry := &models.ProfileUsername{
		ProfileID: profileID,
		Username:  username,
		StartDate: now,
	}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "profile_id"}, {Name: "username"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"start_date": now, "end_date": nil}),
	}).Create(entry).Error
	if err != nil {
		return fmt.Errorf("failed to record username %q: %w", username, err)
	}
	return nil
}

func newProfile(site models.Site, upstreamID string, attrs upstream.ProfileData, now time.Time) *models.Profile {
	return &models.Profile{
		Site:          site,
		UpstreamID:    upstreamID,
		Username:      attrs.Username,
		Name:          attrs.Name,
		Description:   attrs.Description,
		Homepage:      attrs.Homepage,
		JoinDate:      attrs.JoinDate,
		FollowerCount: attrs.FollowerCount,
		FriendCount:   attrs.FriendCount,
		PostCount:     attrs.PostCount,
		Lang:          attrs.Lang,
		Location:      attrs.Location,
		TimeZone:      attrs.TimeZone,
		Private:       attrs.Private,
		LastUpdate:    now,
	}
}

// profileUpdates lists every column attrs owns. A summary only knows the
// username and name.
func profileUpdates(attrs upstream.ProfileData, now time.Time) map[string]interface{} {
	updates := map[string]interface{}{
		"name": attrs.Name,
	}
	if attrs.Username != "" {
		updates["username"] = attrs.Username
	}
	if attrs.Summary {
		return updates
	}

	updates["description"] = attrs.Description
	updates["homepage"] = attrs.Homepage
	updates["join_date"] = attrs.JoinDate
	updates["follower_count"] = attrs.FollowerCount
	updates["friend_count"] = attrs.FriendCount
	updates["post_count"] = attrs.PostCount
	updates["lang"] = attrs.Lang
	updates["location"] = attrs.Location
	updates["time_zone"] = attrs.TimeZone
	updates["private"] = attrs.Private
	updates["last_update"] = now
	return updates
}
