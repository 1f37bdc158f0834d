package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lisanmuaddib/profilegraph/pkg/db/models"
	"github.com/lisanmuaddib/profilegraph/pkg/interfaces/upstream"
	"github.com/lisanmuaddib/profilegraph/pkg/metrics"
)

// PostAttrs is one fetched post with its already downloaded attachments
type PostAttrs struct {
	Data        upstream.PostData
	Attachments []models.File
}

// UpsertPost stores a single post. It returns nil when the author already
// has a post with this upstream id; stored posts are never modified.
func (s *Store) UpsertPost(ctx context.Context, authorID uint, attrs PostAttrs) (*models.Post, error) {
	var created *models.Post
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		post, err := insertPost(tx, authorID, attrs, time.Now())
		created = post
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// UpsertPosts stores one page of posts in a single transaction and returns
// the ids of the posts it created. Posts that already exist are skipped.
func (s *Store) UpsertPosts(ctx context.Context, authorID uint, page []PostAttrs) ([]uint, error) {
	var ids []uint
	now := time.Now()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ids = ids[:0]
		for _, attrs := range page {
			post, err := insertPost(tx, authorID, attrs, now)
			if err != nil {
				return err
			}
			if post != nil {
				ids = append(ids, post.ID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"author_id": authorID,
		"fetched":   len(page),
		"created":   len(ids),
	}).Debug("Reconciled posts page")

	return ids, nil
}

// ExistingPosts returns which of upstreamIDs the author already has, so
// callers can skip downloading attachments for them
func (s *Store) ExistingPosts(ctx context.Context, authorID uint, upstreamIDs []string) (map[string]bool, error) {
	existing := make(map[string]bool, len(upstreamIDs))
	if len(upstreamIDs) == 0 {
		return existing, nil
	}

	var found []string
	err := s.db.WithContext(ctx).Model(&models.Post{}).
		Where("author_id = ? AND upstream_id IN ?", authorID, upstreamIDs).
		Pluck("upstream_id", &found).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load existing posts: %w", err)
	}

	for _, id := range found {
		existing[id] = true
	}
	return existing, nil
}

func insertPost(tx *gorm.DB, authorID uint, attrs PostAttrs, now time.Time) (*models.Post, error) {
	data := attrs.Data
	post := &models.Post{
		AuthorID:        authorID,
		UpstreamID:      data.UpstreamID,
		UpstreamCreated: data.Created,
		LastUpdate:      now,
		Content:         data.Content,
		Language:        data.Language,
		Latitude:        data.Latitude,
		Longitude:       data.Longitude,
		Location:        data.Location,
		AttachmentURLs:  models.StringArray(data.AttachmentURLs),
	}

	result := tx.Clauses(clause.OnConflict{DoNothing: true}).Omit("Attachments").Create(post)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to insert post %s: %w", data.UpstreamID, result.Error)
	}
	if result.RowsAffected == 0 {
		metrics.ReconcileConflicts.WithLabelValues("post").Inc()
		return nil, nil
	}

	for i := range attrs.Attachments {
		file := attrs.Attachments[i]
		file.ID = 0
		if err := tx.Create(&file).Error; err != nil {
			return nil, fmt.Errorf("failed to store attachment for post %s: %w", data.UpstreamID, err)
		}
		if err := tx.Table("file_join_post").Create(map[string]interface{}{
			"post_id": post.ID,
			"file_id": file.ID,
		}).Error; err != nil {
			return nil, fmt.Errorf("failed to link attachment for post %s: %w", data.UpstreamID, err)
		}
	}

	return post, nil
}
