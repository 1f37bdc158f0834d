// Package cursor derives incremental fetch bounds from already stored rows
// so repeated scrapes only pull the delta.
package cursor

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/lisanmuaddib/profilegraph/pkg/db/models"
)

// Direction selects which side of the stored posts to extend
type Direction string

const (
	// Newer fetches posts created after the newest stored post
	Newer Direction = "newer"
	// Older fetches posts created before the oldest stored post
	Older Direction = "older"
)

// Bound is an upstream pagination limit. At most one field is set; the
// zero value means no posts are stored yet and the fetch is unbounded.
type Bound struct {
	SinceID string
	MaxID   string
}

// IsZero reports whether the bound leaves the fetch open
func (b Bound) IsZero() bool {
	return b.SinceID == "" && b.MaxID == ""
}

// Tracker reads bounds from the relational store
type Tracker struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewTracker(logger *logrus.Logger, db *gorm.DB) *Tracker {
	return &Tracker{db: db, logger: logger}
}

// PostsBound returns the since id of the newest stored post for Newer, or
// the max id of the oldest for Older
func (t *Tracker) PostsBound(ctx context.Context, authorID uint, dir Direction) (Bound, error) {
	order := "upstream_created DESC, id DESC"
	if dir == Older {
		order = "upstream_created ASC, id ASC"
	}

	var post models.Post
	err := t.db.WithContext(ctx).
		Select("id", "upstream_id", "upstream_created").
		Where("author_id = ?", authorID).
		Order(order).
		First(&post).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Bound{}, nil
	}
	if err != nil {
		return Bound{}, fmt.Errorf("failed to load post bound for author %d: %w", authorID, err)
	}

	bound := Bound{SinceID: post.UpstreamID}
	if dir == Older {
		bound = Bound{MaxID: post.UpstreamID}
	}

	t.logger.WithFields(logrus.Fields{
		"author_id": authorID,
		"direction": dir,
		"since_id":  bound.SinceID,
		"max_id":    bound.MaxID,
	}).Debug("Computed posts bound")

	return bound, nil
}

// Relations is the set of upstream ids already linked to a profile
type Relations struct {
	Friends   map[string]bool
	Followers map[string]bool
}

// Known reports whether the edge of the given kind is stored
func (r Relations) Known(friend bool, upstreamID string) bool {
	if friend {
		return r.Friends[upstreamID]
	}
	return r.Followers[upstreamID]
}

// KnownRelations returns the upstream ids of the profile's stored friends
// and followers
func (t *Tracker) KnownRelations(ctx context.Context, profileID uint) (Relations, error) {
	friends, err := t.relatedIDs(ctx, "friend_id", "follower_id", profileID)
	if err != nil {
		return Relations{}, fmt.Errorf("failed to load friends of %d: %w", profileID, err)
	}

	followers, err := t.relatedIDs(ctx, "follower_id", "friend_id", profileID)
	if err != nil {
		return Relations{}, fmt.Errorf("failed to load followers of %d: %w", profileID, err)
	}

	return Relations{Friends: friends, Followers: followers}, nil
}

func (t *Tracker) relatedIDs(ctx context.Context, joinColumn, filterColumn string, profileID uint) (map[string]bool, error) {
	var ids []string
	err := t.db.WithContext(ctx).
		Table("profile").
		Joins(fmt.Sprintf("JOIN profile_join_self ON profile_join_self.%s = profile.id", joinColumn)).
		Where(fmt.Sprintf("profile_join_self.%s = ?", filterColumn), profileID).
		Pluck("profile.upstream_id", &ids).Error
	if err != nil {
		return nil, err
	}

	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}
