package workflow

import (
	"context"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/lisanmuaddib/profilegraph/pkg/db/models"
	"github.com/lisanmuaddib/profilegraph/pkg/interfaces/upstream"
	"github.com/lisanmuaddib/profilegraph/pkg/notify"
	"github.com/lisanmuaddib/profilegraph/pkg/queue"
	"github.com/lisanmuaddib/profilegraph/pkg/reconcile"
)

// RelationChunkSize is how many related accounts are reconciled per edge
// transaction
const RelationChunkSize = 100

type relation struct {
	friend     bool
	upstreamID string
}

// relationList is one side of the follow graph as collected from upstream
type relationList struct {
	ids       []string
	summaries map[string]upstream.ProfileData
}

// ScrapeRelations collects the friends and followers of a profile that are
// not yet linked to it, up to the configured maximum per side. Accounts not
// seen before become stubs; stubs get no follow-up jobs.
func (e *Engine) ScrapeRelations(ctx context.Context, args ProfileIDArgs, progress queue.Reporter) error {
	profile, err := e.store.Profile(ctx, args.ProfileID)
	if err != nil {
		return err
	}
	errEvent := notify.ErrorEvent{ID: profile.ID}

	limit, err := e.settings.MaxRelations(ctx, profile.Site)
	if err != nil {
		return e.fail(ctx, notify.ChannelProfileRelations, profile.Site, "relations", errEvent, err)
	}
	ctx, adapter, err := e.prepare(ctx, profile.Site)
	if err != nil {
		return e.fail(ctx, notify.ChannelProfileRelations, profile.Site, "relations", errEvent, err)
	}

	known, err := e.tracker.KnownRelations(ctx, profile.ID)
	if err != nil {
		return e.fail(ctx, notify.ChannelProfileRelations, profile.Site, "relations", errEvent, err)
	}

	var friends, followers relationList
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		friends, err = collectRelations(gctx, adapter, profile.UpstreamID, upstream.RelationFriends, known.Friends, limit)
		return err
	})
	g.Go(func() error {
		var err error
		followers, err = collectRelations(gctx, adapter, profile.UpstreamID, upstream.RelationFollowers, known.Followers, limit)
		return err
	})
	if err := g.Wait(); err != nil {
		return e.fail(ctx, notify.ChannelProfileRelations, profile.Site, "relations", errEvent, err)
	}

	summaries := make(map[string]upstream.ProfileData, len(friends.summaries)+len(followers.summaries))
	relations := make([]relation, 0, len(friends.ids)+len(followers.ids))
	for _, id := range friends.ids {
		relations = append(relations, relation{friend: true, upstreamID: id})
	}
	for _, id := range followers.ids {
		relations = append(relations, relation{friend: false, upstreamID: id})
	}
	for id, data := range friends.summaries {
		summaries[id] = data
	}
	for id, data := range followers.summaries {
		summaries[id] = data
	}

	log := e.logger.WithFields(logrus.Fields{
		"profile_id": profile.ID,
		"site":       profile.Site,
		"friends":    len(friends.ids),
		"followers":  len(followers.ids),
	})

	progress.StartJob(ctx, len(relations))

	resolved := make(map[string]*models.Profile)
	done, linked := 0, 0
	for _, chunk := range queue.Chunk(relations, RelationChunkSize) {
		if err := e.lookupMissing(ctx, adapter, chunk, summaries); err != nil {
			return e.fail(ctx, notify.ChannelProfileRelations, profile.Site, "relations", errEvent, err)
		}

		edges := make([]reconcile.Edge, 0, len(chunk))
		for _, rel := range chunk {
			related, err := e.resolveRelated(ctx, profile.Site, rel.upstreamID, summaries, resolved)
			if err != nil {
				return e.fail(ctx, notify.ChannelProfileRelations, profile.Site, "relations", errEvent, err)
			}
			if related == nil {
				continue
			}

			if rel.friend {
				edges = append(edges, reconcile.Edge{FollowerID: profile.ID, FriendID: related.ID})
			} else {
				edges = append(edges, reconcile.Edge{FollowerID: related.ID, FriendID: profile.ID})
			}
		}

		if err := e.store.UpsertRelationships(ctx, edges); err != nil {
			return e.fail(ctx, notify.ChannelProfileRelations, profile.Site, "relations", errEvent, err)
		}

		done += len(chunk)
		linked += len(edges)
		progress.UpdateJob(ctx, done)
	}

	progress.FinishJob(ctx)
	e.publish(ctx, notify.ChannelProfileRelations, notify.EntityEvent{ID: profile.ID})

	log.WithField("linked", linked).Info("Scraped relations")
	return nil
}

// collectRelations pages one relation list, skipping ids already linked,
// until limit new ids are found or the upstream runs out
func collectRelations(ctx context.Context, adapter Adapter, upstreamID string, kind upstream.RelationKind, known map[string]bool, limit int) (relationList, error) {
	list := relationList{summaries: make(map[string]upstream.ProfileData)}
	seen := make(map[string]bool)

	add := func(id string) bool {
		if id == "" || known[id] || seen[id] {
			return false
		}
		seen[id] = true
		list.ids = append(list.ids, id)
		return true
	}

	cursor := ""
	for len(list.ids) < limit {
		page, err := adapter.FetchRelationsPage(ctx, upstreamID, kind, cursor)
		if err != nil {
			return list, err
		}

		for _, id := range page.IDs {
			if len(list.ids) >= limit {
				break
			}
			add(id)
		}
		for _, data := range page.Profiles {
			if seen[data.UpstreamID] {
				if _, ok := list.summaries[data.UpstreamID]; !ok {
					list.summaries[data.UpstreamID] = data
				}
				continue
			}
			if len(list.ids) >= limit {
				continue
			}
			if add(data.UpstreamID) {
				list.summaries[data.UpstreamID] = data
			}
		}

		if page.Done || page.NextCursor == "" || len(page.IDs)+len(page.Profiles) == 0 {
			break
		}
		cursor = page.NextCursor
	}
	return list, nil
}

// lookupMissing fetches full profiles for chunk entries that came without a
// summary. Accounts the upstream no longer knows are left out.
func (e *Engine) lookupMissing(ctx context.Context, adapter Adapter, chunk []relation, summaries map[string]upstream.ProfileData) error {
	var missing []string
	for _, rel := range chunk {
		if _, ok := summaries[rel.upstreamID]; !ok {
			missing = append(missing, rel.upstreamID)
		}
	}

	for _, ids := range queue.Chunk(missing, adapter.LookupBatchSize()) {
		fetched, err := adapter.FetchProfiles(ctx, upstream.ProfileQuery{UpstreamIDs: ids})
		if upstream.IsKind(err, upstream.KindNotFound) {
			e.logger.WithField("profiles", len(ids)).Warn("Related profiles no longer exist")
			continue
		}
		if err != nil {
			return err
		}
		for _, data := range fetched {
			summaries[data.UpstreamID] = data
		}
	}
	return nil
}

func (e *Engine) resolveRelated(ctx context.Context, site models.Site, upstreamID string, summaries map[string]upstream.ProfileData, resolved map[string]*models.Profile) (*models.Profile, error) {
	if related, ok := resolved[upstreamID]; ok {
		return related, nil
	}

	data, ok := summaries[upstreamID]
	if !ok {
		return nil, nil
	}

	related, err := e.store.UpsertProfile(ctx, site, upstreamID, data, reconcile.Discovery)
	if err != nil {
		return nil, err
	}
	resolved[upstreamID] = related
	return related, nil
}
