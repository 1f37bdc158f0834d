package index

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/lisanmuaddib/profilegraph/pkg/db/models"
)

// Indexer builds documents from the relational store and writes them to a
// Sink
type Indexer struct {
	db     *gorm.DB
	sink   Sink
	logger *logrus.Logger
}

func NewIndexer(logger *logrus.Logger, db *gorm.DB, sink Sink) *Indexer {
	return &Indexer{db: db, sink: sink, logger: logger}
}

// IndexProfile upserts the profile document, stubs included
func (i *Indexer) IndexProfile(ctx context.Context, profileID uint) error {
	var profile models.Profile
	err := i.db.WithContext(ctx).
		Preload("Labels").
		Preload("Usernames").
		First(&profile, profileID).Error
	if err != nil {
		return fmt.Errorf("failed to load profile %d for indexing: %w", profileID, err)
	}

	if err := i.sink.Upsert(ctx, ProfileDocument(&profile)); err != nil {
		return err
	}

	i.logger.WithFields(logrus.Fields{
		"profile_id": profileID,
		"site":       profile.Site,
	}).Debug("Indexed profile")
	return nil
}

// IndexPosts upserts documents for the given posts. Ids that no longer
// exist are skipped.
func (i *Indexer) IndexPosts(ctx context.Context, postIDs []uint) (int, error) {
	if len(postIDs) == 0 {
		return 0, nil
	}

	var posts []models.Post
	if err := i.db.WithContext(ctx).Where("id IN ?", postIDs).Order("id").Find(&posts).Error; err != nil {
		return 0, fmt.Errorf("failed to load posts for indexing: %w", err)
	}
	if len(posts) == 0 {
		return 0, nil
	}

	authorIDs := make([]uint, 0, len(posts))
	seen := make(map[uint]bool)
	for _, post := range posts {
		if !seen[post.AuthorID] {
			seen[post.AuthorID] = true
			authorIDs = append(authorIDs, post.AuthorID)
		}
	}

	var authors []models.Profile
	if err := i.db.WithContext(ctx).Select("id", "site", "username", "upstream_id").Where("id IN ?", authorIDs).Find(&authors).Error; err != nil {
		return 0, fmt.Errorf("failed to load post authors for indexing: %w", err)
	}
	byID := make(map[uint]*models.Profile, len(authors))
	for idx := range authors {
		byID[authors[idx].ID] = &authors[idx]
	}

	docs := make([]Document, 0, len(posts))
	for idx := range posts {
		docs = append(docs, PostDocument(&posts[idx], byID[posts[idx].AuthorID]))
	}

	if err := i.sink.Upsert(ctx, docs...); err != nil {
		return 0, err
	}
	return len(docs), nil
}

// DeleteProfile removes the profile document
func (i *Indexer) DeleteProfile(ctx context.Context, profileID uint) error {
	return i.sink.Delete(ctx, TypeProfile, profileID)
}

// DeleteProfilePosts removes every post document authored by the profile
func (i *Indexer) DeleteProfilePosts(ctx context.Context, profileID uint) error {
	return i.sink.DeleteByQuery(ctx, TypePost, map[string]interface{}{"author_id": profileID})
}

// ProfileDocument renders a profile. Labels and Usernames are included when
// preloaded.
func ProfileDocument(p *models.Profile) Document {
	labels := make([]string, 0, len(p.Labels))
	for _, label := range p.Labels {
		labels = append(labels, label.Name)
	}
	sort.Strings(labels)

	usernames := make([]string, 0, len(p.Usernames))
	for _, u := range p.Usernames {
		usernames = append(usernames, u.Username)
	}
	sort.Strings(usernames)

	fields := map[string]interface{}{
		"site":           string(p.Site),
		"upstream_id":    p.UpstreamID,
		"username":       p.Username,
		"usernames":      usernames,
		"name":           p.Name,
		"description":    p.Description,
		"homepage":       p.Homepage,
		"location":       p.Location,
		"lang":           p.Lang,
		"time_zone":      p.TimeZone,
		"follower_count": p.FollowerCount,
		"friend_count":   p.FriendCount,
		"post_count":     p.PostCount,
		"private":        p.Private,
		"is_stub":        p.IsStub,
		"labels":         labels,
		"last_update":    p.LastUpdate.UTC(),
	}
	if p.JoinDate != nil {
		fields["join_date"] = p.JoinDate.UTC()
	}
	if p.IsInteresting != nil {
		fields["is_interesting"] = *p.IsInteresting
	}

	return Document{Type: TypeProfile, ID: p.ID, Fields: fields}
}

// PostDocument renders a post with its author's identity
func PostDocument(post *models.Post, author *models.Profile) Document {
	fields := map[string]interface{}{
		"author_id":        post.AuthorID,
		"upstream_id":      post.UpstreamID,
		"upstream_created": post.UpstreamCreated.UTC(),
		"content":          post.Content,
		"language":         post.Language,
		"location":         post.Location,
		"attachment_urls":  []string(post.AttachmentURLs),
	}
	if post.Latitude != nil && post.Longitude != nil {
		fields["location_point"] = fmt.Sprintf("%f,%f", *post.Latitude, *post.Longitude)
	}
	if author != nil {
		fields["site"] = string(author.Site)
		fields["username"] = author.Username
	}

	return Document{Type: TypePost, ID: post.ID, Fields: fields}
}
