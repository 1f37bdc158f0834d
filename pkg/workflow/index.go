package workflow

import (
	"context"

	"github.com/lisanmuaddib/profilegraph/pkg/queue"
)

// IndexChunkSize is how many posts go to the index per batch
const IndexChunkSize = 100

// IndexProfile writes the current state of a profile to the index
func (e *Engine) IndexProfile(ctx context.Context, args ProfileIDArgs, progress queue.Reporter) error {
	progress.StartJob(ctx, 0)
	if err := e.indexer.IndexProfile(ctx, args.ProfileID); err != nil {
		return err
	}
	progress.FinishJob(ctx)
	return nil
}

// IndexPosts writes stored posts to the index in batches
func (e *Engine) IndexPosts(ctx context.Context, args PostIDsArgs, progress queue.Reporter) error {
	progress.StartJob(ctx, len(args.PostIDs))

	done, indexed := 0, 0
	for _, chunk := range queue.Chunk(args.PostIDs, IndexChunkSize) {
		n, err := e.indexer.IndexPosts(ctx, chunk)
		if err != nil {
			return err
		}
		done += len(chunk)
		indexed += n
		progress.UpdateJob(ctx, done)
	}

	progress.FinishJob(ctx)
	e.logger.WithField("indexed", indexed).Debug("Indexed posts")
	return nil
}

// DeleteProfileFromIndex removes a profile document
func (e *Engine) DeleteProfileFromIndex(ctx context.Context, args ProfileIDArgs, progress queue.Reporter) error {
	progress.StartJob(ctx, 0)
	if err := e.indexer.DeleteProfile(ctx, args.ProfileID); err != nil {
		return err
	}
	progress.FinishJob(ctx)
	return nil
}

// DeleteProfilePostsFromIndex removes every post document of a profile
func (e *Engine) DeleteProfilePostsFromIndex(ctx context.Context, args ProfileIDArgs, progress queue.Reporter) error {
	progress.StartJob(ctx, 0)
	if err := e.indexer.DeleteProfilePosts(ctx, args.ProfileID); err != nil {
		return err
	}
	progress.FinishJob(ctx)
	return nil
}
