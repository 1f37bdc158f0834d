package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/lisanmuaddib/profilegraph/pkg/db/models"
)

// FindAvatar returns the profile's avatar seen at upstreamURL, or nil
func (s *Store) FindAvatar(ctx context.Context, profileID uint, upstreamURL string) (*models.Avatar, error) {
	var avatar models.Avatar
	err := s.db.WithContext(ctx).
		Where("profile_id = ? AND upstream_url = ?", profileID, upstreamURL).
		Order("id DESC").
		First(&avatar).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load avatar: %w", err)
	}
	return &avatar, nil
}

// TouchAvatar extends the validity window of an already stored avatar
func (s *Store) TouchAvatar(ctx context.Context, avatar *models.Avatar) error {
	now := time.Now()
	err := s.db.WithContext(ctx).Model(&models.Avatar{}).
		Where("id = ?", avatar.ID).
		Update("end_date", now).Error
	if err != nil {
		return fmt.Errorf("failed to update avatar %d: %w", avatar.ID, err)
	}
	avatar.EndDate = &now
	return nil
}

// AddAvatar stores the original image and its thumbnail and links both to
// the profile
func (s *Store) AddAvatar(ctx context.Context, profileID uint, upstreamURL string, original, thumb models.File) (*models.Avatar, error) {
	now := time.Now()
	avatar := &models.Avatar{
		ProfileID:   profileID,
		UpstreamURL: upstreamURL,
		StartDate:   now,
		EndDate:     &now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&original).Error; err != nil {
			return fmt.Errorf("failed to store avatar image: %w", err)
		}
		if err := tx.Create(&thumb).Error; err != nil {
			return fmt.Errorf("failed to store avatar thumbnail: %w", err)
		}

		avatar.FileID = original.ID
		avatar.ThumbFileID = thumb.ID
		return tx.Omit("File", "ThumbFile").Create(avatar).Error
	})
	if err != nil {
		return nil, err
	}

	avatar.File = original
	avatar.ThumbFile = thumb
	return avatar, nil
}
