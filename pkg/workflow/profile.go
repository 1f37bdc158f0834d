package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/lisanmuaddib/profilegraph/pkg/db/models"
	"github.com/lisanmuaddib/profilegraph/pkg/interfaces/upstream"
	"github.com/lisanmuaddib/profilegraph/pkg/notify"
	"github.com/lisanmuaddib/profilegraph/pkg/queue"
	"github.com/lisanmuaddib/profilegraph/pkg/reconcile"
)

// ScrapeProfiles fetches bios for a batch of usernames or upstream ids,
// reconciles each profile in its own transaction, applies labels, then
// publishes and schedules follow-up work for the committed rows
func (e *Engine) ScrapeProfiles(ctx context.Context, args ProfileArgs, progress queue.Reporter) error {
	query := upstream.ProfileQuery{Usernames: args.Usernames, UpstreamIDs: args.UpstreamIDs}
	errEvent := notify.ErrorEvent{Usernames: args.Usernames, UpstreamIDs: args.UpstreamIDs}

	log := e.logger.WithFields(logrus.Fields{
		"site":     args.Site,
		"profiles": query.Len(),
	})

	if query.Len() == 0 {
		return fmt.Errorf("profile scrape on %s has no usernames or upstream ids", args.Site)
	}

	ctx, adapter, err := e.prepare(ctx, args.Site)
	if err != nil {
		return e.fail(ctx, notify.ChannelProfile, args.Site, "profile", errEvent, err)
	}

	progress.StartJob(ctx, query.Len())

	fetched, err := adapter.FetchProfiles(ctx, query)
	if err != nil {
		return e.fail(ctx, notify.ChannelProfile, args.Site, "profile", errEvent, err)
	}

	mode := reconcile.Direct
	if args.Stub {
		mode = reconcile.DirectStub
	}

	reconciled := 0
	for i, data := range fetched {
		profile, err := e.store.UpsertProfile(ctx, args.Site, data.UpstreamID, data, mode)
		if err != nil {
			return e.fail(ctx, notify.ChannelProfile, args.Site, "profile", errEvent, err)
		}

		if names := labelsFor(args, data); len(names) > 0 {
			if err := e.store.LabelProfile(ctx, profile.ID, names); err != nil {
				if scheduleErr := e.committed(ctx, profile, data.AvatarURL); scheduleErr != nil {
					log.WithError(scheduleErr).Warn("Failed to schedule follow-ups for unlabelled profile")
				}
				return e.fail(ctx, notify.ChannelProfile, args.Site, "profile", errEvent, err)
			}
		}

		if err := e.committed(ctx, profile, data.AvatarURL); err != nil {
			return err
		}
		reconciled++
		progress.UpdateJob(ctx, i+1)
	}

	if missing := query.Len() - len(fetched); missing > 0 {
		log.WithField("missing", missing).Info("Upstream did not return every requested profile")
	}

	progress.FinishJob(ctx)
	log.WithField("reconciled", reconciled).Info("Scraped profiles")
	return nil
}

// committed publishes the profile and schedules its follow-ups once its
// row is committed, so a later failure in the same job leaves it indexed
func (e *Engine) committed(ctx context.Context, profile *models.Profile, avatarURL string) error {
	e.publish(ctx, notify.ChannelProfile, notify.ProfileEvent{
		ID:         profile.ID,
		Site:       string(profile.Site),
		UpstreamID: profile.UpstreamID,
		Username:   profile.Username,
		IsStub:     profile.IsStub,
	})

	if err := e.scheduleFollowUps(ctx, profile, avatarURL); err != nil {
		return fmt.Errorf("failed to schedule follow-up jobs for profile %d: %w", profile.ID, err)
	}
	return nil
}

// scheduleFollowUps always indexes the profile. Full profiles also get
// their avatar; posts and relations are skipped for private profiles.
func (e *Engine) scheduleFollowUps(ctx context.Context, profile *models.Profile, avatarURL string) error {
	if _, err := e.scheduler.ScheduleIndexProfile(ctx, profile); err != nil {
		return err
	}
	if profile.IsStub {
		return nil
	}

	if avatarURL != "" {
		if _, err := e.scheduler.ScheduleAvatar(ctx, profile, avatarURL); err != nil {
			return err
		}
	}
	if profile.Private {
		return nil
	}

	if _, err := e.scheduler.SchedulePosts(ctx, profile, true); err != nil {
		return err
	}
	if _, err := e.scheduler.ScheduleRelations(ctx, profile); err != nil {
		return err
	}
	return nil
}

// labelsFor looks up the labels requested for one fetched profile, keyed the
// same way the scheduler keyed them
func labelsFor(args ProfileArgs, data upstream.ProfileData) []string {
	if len(args.Labels) == 0 {
		return nil
	}
	if len(args.UpstreamIDs) > 0 {
		return args.Labels[data.UpstreamID]
	}
	return args.Labels[strings.ToLower(strings.TrimSpace(data.Username))]
}
