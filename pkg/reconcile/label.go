package reconcile

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lisanmuaddib/profilegraph/pkg/db/models"
)

// NormalizeLabel is the canonical form of a label name
func NormalizeLabel(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// LabelProfile attaches labels by name, creating any that do not exist.
// Labels already on the profile are kept.
func (s *Store) LabelProfile(ctx context.Context, profileID uint, names []string) error {
	seen := make(map[string]bool, len(names))
	var normalized []string
	for _, name := range names {
		name = NormalizeLabel(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		normalized = append(normalized, name)
	}
	if len(normalized) == 0 {
		return nil
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, name := range normalized {
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "name"}},
				DoNothing: true,
			}).Create(&models.Label{Name: name}).Error; err != nil {
				return fmt.Errorf("failed to create label %q: %w", name, err)
			}
		}

		var labels []models.Label
		if err := tx.Where("name IN ?", normalized).Find(&labels).Error; err != nil {
			return fmt.Errorf("failed to load labels: %w", err)
		}

		for _, label := range labels {
			if err := tx.Table("label_join_profile").
				Clauses(clause.OnConflict{DoNothing: true}).
				Create(map[string]interface{}{
					"profile_id": profileID,
					"label_id":   label.ID,
				}).Error; err != nil {
				return fmt.Errorf("failed to label profile %d: %w", profileID, err)
			}
		}
		return nil
	})
}

// ProfileLabels returns the label names attached to a profile
func (s *Store) ProfileLabels(ctx context.Context, profileID uint) ([]string, error) {
	var names []string
	err := s.db.WithContext(ctx).Table("label").
		Joins("JOIN label_join_profile ON label_join_profile.label_id = label.id").
		Where("label_join_profile.profile_id = ?", profileID).
		Order("label.name").
		Pluck("label.name", &names).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load labels for profile %d: %w", profileID, err)
	}
	return names, nil
}
