package reconcile

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lisanmuaddib/profilegraph/pkg/db/models"
)

// Edge is a directed relationship: Follower follows Friend
type Edge struct {
	FollowerID uint
	FriendID   uint
}

// UpsertRelationship adds a single edge. An existing edge is left as is.
func (s *Store) UpsertRelationship(ctx context.Context, followerID, friendID uint) error {
	return s.UpsertRelationships(ctx, []Edge{{FollowerID: followerID, FriendID: friendID}})
}

// UpsertRelationships adds edges in one transaction. Edges are never
// updated or removed.
func (s *Store) UpsertRelationships(ctx context.Context, edges []Edge) error {
	if len(edges) == 0 {
		return nil
	}

	rows := make([]models.Relationship, 0, len(edges))
	for _, edge := range edges {
		if edge.FollowerID == 0 || edge.FriendID == 0 {
			return fmt.Errorf("relationship requires both ends, got %d -> %d", edge.FollowerID, edge.FriendID)
		}
		rows = append(rows, models.Relationship{FollowerID: edge.FollowerID, FriendID: edge.FriendID})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{DoNothing: true}).
			Omit(clause.Associations).
			Create(&rows).Error
	})
	if err != nil {
		return fmt.Errorf("failed to insert %d relationships: %w", len(edges), err)
	}
	return nil
}
