package workflow

import (
	"context"
	"fmt"

	"github.com/lisanmuaddib/profilegraph/pkg/db/models"
	"github.com/lisanmuaddib/profilegraph/pkg/queue"
)

// Job function names
const (
	FuncScrapeProfile               = "scrape_profile"
	FuncScrapeProfileByID           = "scrape_profile_by_id"
	FuncScrapeAvatar                = "scrape_avatar"
	FuncScrapePosts                 = "scrape_posts"
	FuncScrapeRelations             = "scrape_relations"
	FuncIndexProfile                = "index_profile"
	FuncIndexPosts                  = "index_posts"
	FuncDeleteProfileFromIndex      = "delete_profile_from_index"
	FuncDeleteProfilePostsFromIndex = "delete_profile_posts_from_index"
)

// ProfileArgs selects profiles on one site by username or by upstream id.
// Labels are keyed by the lowercase username or the upstream id.
type ProfileArgs struct {
	Site        models.Site         `json:"site"`
	Usernames   []string            `json:"usernames,omitempty"`
	UpstreamIDs []string            `json:"upstream_ids,omitempty"`
	Stub        bool                `json:"stub"`
	Labels      map[string][]string `json:"labels,omitempty"`
}

// AvatarArgs identifies an avatar image to fetch
type AvatarArgs struct {
	ProfileID uint   `json:"profile_id"`
	URL       string `json:"url"`
}

// PostsArgs selects which side of the stored posts to extend
type PostsArgs struct {
	ProfileID uint `json:"profile_id"`
	Recent    bool `json:"recent"`
}

// ProfileIDArgs references one profile
type ProfileIDArgs struct {
	ProfileID uint `json:"profile_id"`
}

// PostIDsArgs references stored posts
type PostIDsArgs struct {
	PostIDs []uint `json:"post_ids"`
}

// Register binds every job function to the engine
func Register(registry *queue.Registry, engine *Engine) {
	registry.Register(FuncScrapeProfile, decoded(engine.ScrapeProfiles))
	registry.Register(FuncScrapeProfileByID, decoded(engine.ScrapeProfiles))
	registry.Register(FuncScrapeAvatar, decoded(engine.ScrapeAvatar))
	registry.Register(FuncScrapePosts, decoded(engine.ScrapePosts))
	registry.Register(FuncScrapeRelations, decoded(engine.ScrapeRelations))
	registry.Register(FuncIndexProfile, decoded(engine.IndexProfile))
	registry.Register(FuncIndexPosts, decoded(engine.IndexPosts))
	registry.Register(FuncDeleteProfileFromIndex, decoded(engine.DeleteProfileFromIndex))
	registry.Register(FuncDeleteProfilePostsFromIndex, decoded(engine.DeleteProfilePostsFromIndex))
}

// decoded adapts a typed workflow to a queue handler
func decoded[A any](run func(ctx context.Context, args A, progress queue.Reporter) error) queue.Handler {
	return func(ctx context.Context, job *queue.Job, progress queue.Reporter) error {
		var args A
		if err := job.DecodeArgs(&args); err != nil {
			return fmt.Errorf("malformed arguments for %s: %w", job.Func, err)
		}
		return run(ctx, args, progress)
	}
}
