package workflow

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/lisanmuaddib/profilegraph/pkg/cursor"
	"github.com/lisanmuaddib/profilegraph/pkg/db/models"
	"github.com/lisanmuaddib/profilegraph/pkg/interfaces/upstream"
	"github.com/lisanmuaddib/profilegraph/pkg/notify"
	"github.com/lisanmuaddib/profilegraph/pkg/queue"
	"github.com/lisanmuaddib/profilegraph/pkg/reconcile"
)

// ScrapePosts pages through an author's posts newer (args.Recent) or older
// than the ones already stored, up to the configured maximum. Each page is
// committed on its own and followed by an index job for the posts it
// created, so a failure on a later page keeps the earlier ones.
func (e *Engine) ScrapePosts(ctx context.Context, args PostsArgs, progress queue.Reporter) error {
	author, err := e.store.Profile(ctx, args.ProfileID)
	if err != nil {
		return err
	}
	errEvent := notify.ErrorEvent{ID: author.ID}

	limit, err := e.settings.MaxPosts(ctx, author.Site)
	if err != nil {
		return e.fail(ctx, notify.ChannelProfilePosts, author.Site, "posts", errEvent, err)
	}
	ctx, adapter, err := e.prepare(ctx, author.Site)
	if err != nil {
		return e.fail(ctx, notify.ChannelProfilePosts, author.Site, "posts", errEvent, err)
	}

	direction := cursor.Older
	if args.Recent {
		direction = cursor.Newer
	}
	bound, err := e.tracker.PostsBound(ctx, author.ID, direction)
	if err != nil {
		return e.fail(ctx, notify.ChannelProfilePosts, author.Site, "posts", errEvent, err)
	}

	log := e.logger.WithFields(logrus.Fields{
		"profile_id": author.ID,
		"site":       author.Site,
		"direction":  direction,
		"max_posts":  limit,
	})

	progress.StartJob(ctx, limit)

	fetched, created, pages := 0, 0, 0
	token := ""
	for fetched < limit {
		page, err := adapter.FetchPostsPage(ctx, upstream.PostsQuery{
			AuthorUpstreamID: author.UpstreamID,
			SinceID:          bound.SinceID,
			MaxID:            bound.MaxID,
			PageToken:        token,
			Limit:            limit - fetched,
		})
		if err != nil {
			log.WithField("pages", pages).Warn("Posts fetch stopped by upstream failure")
			return e.fail(ctx, notify.ChannelProfilePosts, author.Site, "posts", errEvent, err)
		}
		pages++

		posts := page.Posts
		if remaining := limit - fetched; len(posts) > remaining {
			posts = posts[:remaining]
		}

		fresh, err := e.newPosts(ctx, author.ID, posts)
		if err != nil {
			return e.fail(ctx, notify.ChannelProfilePosts, author.Site, "posts", errEvent, err)
		}
		ids, err := e.store.UpsertPosts(ctx, author.ID, e.withAttachments(ctx, adapter, fresh))
		if err != nil {
			return e.fail(ctx, notify.ChannelProfilePosts, author.Site, "posts", errEvent, err)
		}
		if len(ids) > 0 {
			if _, err := e.scheduler.ScheduleIndexPosts(ctx, ids); err != nil {
				log.WithError(err).Error("Failed to schedule post indexing")
			}
		}

		fetched += len(posts)
		created += len(ids)
		progress.UpdateJob(ctx, fetched)

		if page.Done || page.NextToken == "" || len(page.Posts) == 0 {
			break
		}
		token = page.NextToken
	}

	progress.FinishJob(ctx)
	e.publish(ctx, notify.ChannelProfilePosts, notify.EntityEvent{ID: author.ID})

	log.WithFields(logrus.Fields{
		"pages":   pages,
		"fetched": fetched,
		"created": created,
	}).Info("Scraped posts")
	return nil
}

// newPosts drops posts the author already has, so their attachments are
// not downloaded again
func (e *Engine) newPosts(ctx context.Context, authorID uint, posts []upstream.PostData) ([]upstream.PostData, error) {
	if len(posts) == 0 {
		return nil, nil
	}

	upstreamIDs := make([]string, 0, len(posts))
	for _, post := range posts {
		upstreamIDs = append(upstreamIDs, post.UpstreamID)
	}
	existing, err := e.store.ExistingPosts(ctx, authorID, upstreamIDs)
	if err != nil {
		return nil, err
	}

	fresh := make([]upstream.PostData, 0, len(posts))
	for _, post := range posts {
		if !existing[post.UpstreamID] {
			fresh = append(fresh, post)
		}
	}
	return fresh, nil
}

// withAttachments downloads each post's attachment images. A failed
// download leaves the attachment URL on the post without a stored file.
func (e *Engine) withAttachments(ctx context.Context, adapter Adapter, posts []upstream.PostData) []reconcile.PostAttrs {
	attrs := make([]reconcile.PostAttrs, 0, len(posts))
	for _, post := range posts {
		item := reconcile.PostAttrs{Data: post}
		for _, attachmentURL := range post.AttachmentURLs {
			blob, err := adapter.Download(ctx, attachmentURL)
			if err != nil {
				e.logger.WithError(err).WithFields(logrus.Fields{
					"upstream_id": post.UpstreamID,
					"url":         attachmentURL,
				}).Warn("Failed to download post attachment")
				continue
			}
			item.Attachments = append(item.Attachments, models.File{
				Name:    fileName(attachmentURL),
				Mime:    blob.Mime,
				Content: blob.Content,
			})
		}
		attrs = append(attrs, item)
	}
	return attrs
}
