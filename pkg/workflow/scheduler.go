package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/lisanmuaddib/profilegraph/pkg/db/models"
	"github.com/lisanmuaddib/profilegraph/pkg/queue"
	"github.com/lisanmuaddib/profilegraph/pkg/reconcile"
)

// Enqueuer places jobs on queues. *queue.Queue satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, req queue.Request) (*queue.Job, error)
}

// ProfileRequest is one profile an external caller wants scraped. Exactly
// one of Username and UpstreamID is set.
type ProfileRequest struct {
	Site       models.Site `json:"site"`
	Username   string      `json:"username,omitempty"`
	UpstreamID string      `json:"upstream_id,omitempty"`
	Labels     []string    `json:"labels,omitempty"`
}

// Scheduler turns workflow requests into queued jobs with timeouts and
// descriptions
type Scheduler struct {
	queue      Enqueuer
	timeouts   queue.Timeouts
	batchSizes map[models.Site]int
	settings   *Settings
	logger     *logrus.Logger
}

// NewScheduler creates a scheduler. batchSizes holds each site's profile
// lookup limit; settings, when set, scales the relations timeout by the
// configured maximum.
func NewScheduler(q Enqueuer, timeouts queue.Timeouts, batchSizes map[models.Site]int, settings *Settings, logger *logrus.Logger) *Scheduler {
	if logger == nil {
		logger = logrus.New()
	}
	return &Scheduler{
		queue:      q,
		timeouts:   timeouts,
		batchSizes: batchSizes,
		settings:   settings,
		logger:     logger,
	}
}

// BatchSizesOf collects the lookup limits of adapters
func BatchSizesOf(adapters ...Adapter) map[models.Site]int {
	sizes := make(map[models.Site]int, len(adapters))
	for _, adapter := range adapters {
		sizes[adapter.Site()] = adapter.LookupBatchSize()
	}
	return sizes
}

// ScheduleProfiles groups requests by site and by lookup kind, chunks each
// group by the site's lookup limit and enqueues one job per chunk carrying
// only that chunk's labels
func (s *Scheduler) ScheduleProfiles(ctx context.Context, requests []ProfileRequest, stub bool) ([]*queue.Job, error) {
	type group struct {
		usernames   []ProfileRequest
		upstreamIDs []ProfileRequest
	}

	var sites []models.Site
	groups := make(map[models.Site]*group)
	for _, req := range requests {
		if req.Username == "" && req.UpstreamID == "" {
			return nil, fmt.Errorf("profile request on %s has neither username nor upstream id", req.Site)
		}
		if _, ok := s.batchSizes[req.Site]; !ok {
			return nil, fmt.Errorf("no scraper exists for site: %s", req.Site)
		}

		g, ok := groups[req.Site]
		if !ok {
			g = &group{}
			groups[req.Site] = g
			sites = append(sites, req.Site)
		}
		if req.UpstreamID != "" {
			g.upstreamIDs = append(g.upstreamIDs, req)
		} else {
			g.usernames = append(g.usernames, req)
		}
	}

	var jobs []*queue.Job
	for _, site := range sites {
		size := s.batchSizes[site]
		g := groups[site]

		for _, chunk := range queue.Chunk(g.usernames, size) {
			args := ProfileArgs{Site: site, Stub: stub, Labels: chunkLabels(chunk, true)}
			for _, req := range chunk {
				args.Usernames = append(args.Usernames, req.Username)
			}
			job, err := s.enqueueProfiles(ctx, FuncScrapeProfile, args, args.Usernames)
			if err != nil {
				return jobs, err
			}
			jobs = append(jobs, job)
		}

		for _, chunk := range queue.Chunk(g.upstreamIDs, size) {
			args := ProfileArgs{Site: site, Stub: stub, Labels: chunkLabels(chunk, false)}
			for _, req := range chunk {
				args.UpstreamIDs = append(args.UpstreamIDs, req.UpstreamID)
			}
			job, err := s.enqueueProfiles(ctx, FuncScrapeProfileByID, args, args.UpstreamIDs)
			if err != nil {
				return jobs, err
			}
			jobs = append(jobs, job)
		}
	}

	s.logger.WithFields(logrus.Fields{
		"profiles": len(requests),
		"jobs":     len(jobs),
	}).Debug("Scheduled profile scrapes")

	return jobs, nil
}

// ScheduleProfile enqueues a scrape of one profile by username
func (s *Scheduler) ScheduleProfile(ctx context.Context, site models.Site, username string, stub bool) (*queue.Job, error) {
	args := ProfileArgs{Site: site, Usernames: []string{username}, Stub: stub}
	return s.enqueueProfiles(ctx, FuncScrapeProfile, args, args.Usernames)
}

// ScheduleProfileByID enqueues a scrape of one profile by upstream id
func (s *Scheduler) ScheduleProfileByID(ctx context.Context, site models.Site, upstreamID string, stub bool) (*queue.Job, error) {
	args := ProfileArgs{Site: site, UpstreamIDs: []string{upstreamID}, Stub: stub}
	return s.enqueueProfiles(ctx, FuncScrapeProfileByID, args, args.UpstreamIDs)
}

func (s *Scheduler) enqueueProfiles(ctx context.Context, fn string, args ProfileArgs, identifiers []string) (*queue.Job, error) {
	description := fmt.Sprintf("Scraping bio for %d profiles on %s", len(identifiers), args.Site)
	if len(identifiers) == 1 {
		description = fmt.Sprintf("Scraping bio for %q on %s", identifiers[0], args.Site)
	}

	return s.queue.Enqueue(ctx, queue.Request{
		Queue:       queue.ScrapeQueue,
		Func:        fn,
		Args:        args,
		Timeout:     s.timeouts.Profile,
		Description: description,
	})
}

// chunkLabels keys each request's normalized labels by the identifier the
// profile workflow will see
func chunkLabels(chunk []ProfileRequest, byUsername bool) map[string][]string {
	labels := make(map[string][]string)
	for _, req := range chunk {
		if len(req.Labels) == 0 {
			continue
		}

		key := req.UpstreamID
		if byUsername {
			key = strings.ToLower(strings.TrimSpace(req.Username))
		}

		names := labels[key]
		seen := make(map[string]bool, len(names))
		for _, name := range names {
			seen[name] = true
		}
		for _, label := range req.Labels {
			name := reconcile.NormalizeLabel(label)
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			names = append(names, name)
		}
		labels[key] = names
	}
	if len(labels) == 0 {
		return nil
	}
	return labels
}

// ScheduleAvatar enqueues an avatar fetch
func (s *Scheduler) ScheduleAvatar(ctx context.Context, profile *models.Profile, avatarURL string) (*queue.Job, error) {
	return s.queue.Enqueue(ctx, queue.Request{
		Queue:       queue.ScrapeQueue,
		Func:        FuncScrapeAvatar,
		Args:        AvatarArgs{ProfileID: profile.ID, URL: avatarURL},
		Timeout:     s.timeouts.Avatar,
		Description: fmt.Sprintf("Getting avatar image for %q on %s", profile.Username, profile.Site),
	})
}

// SchedulePosts enqueues a posts fetch newer (recent) or older than the
// stored posts
func (s *Scheduler) SchedulePosts(ctx context.Context, profile *models.Profile, recent bool) (*queue.Job, error) {
	return s.queue.Enqueue(ctx, queue.Request{
		Queue:        queue.ScrapeQueue,
		Func:         FuncScrapePosts,
		Args:         PostsArgs{ProfileID: profile.ID, Recent: recent},
		Timeout:      s.timeouts.Posts,
		Description:  fmt.Sprintf("Getting posts for %q on %s", profile.Username, profile.Site),
		ProgressType: queue.ProgressDeterminate,
	})
}

// ScheduleRelations enqueues a friends and followers fetch
func (s *Scheduler) ScheduleRelations(ctx context.Context, profile *models.Profile) (*queue.Job, error) {
	timeout := s.timeouts.Relations
	if s.settings != nil {
		if limit, err := s.settings.MaxRelations(ctx, profile.Site); err == nil {
			timeout = s.timeouts.RelationsTimeout(limit)
		}
	}

	return s.queue.Enqueue(ctx, queue.Request{
		Queue:        queue.ScrapeQueue,
		Func:         FuncScrapeRelations,
		Args:         ProfileIDArgs{ProfileID: profile.ID},
		Timeout:      timeout,
		Description:  fmt.Sprintf("Getting friends & followers for %q on %s", profile.Username, profile.Site),
		ProgressType: queue.ProgressDeterminate,
	})
}

// ScheduleIndexProfile enqueues a profile index update
func (s *Scheduler) ScheduleIndexProfile(ctx context.Context, profile *models.Profile) (*queue.Job, error) {
	return s.queue.Enqueue(ctx, queue.Request{
		Queue:       queue.IndexQueue,
		Func:        FuncIndexProfile,
		Args:        ProfileIDArgs{ProfileID: profile.ID},
		Timeout:     s.timeouts.Index,
		Description: fmt.Sprintf("Indexing profile %q on %s", profile.Username, profile.Site),
	})
}

// ScheduleIndexPosts enqueues an index update for stored posts
func (s *Scheduler) ScheduleIndexPosts(ctx context.Context, postIDs []uint) (*queue.Job, error) {
	return s.queue.Enqueue(ctx, queue.Request{
		Queue:        queue.IndexQueue,
		Func:         FuncIndexPosts,
		Args:         PostIDsArgs{PostIDs: postIDs},
		Timeout:      s.timeouts.Index,
		Description:  fmt.Sprintf("Indexing %d posts", len(postIDs)),
		ProgressType: queue.ProgressDeterminate,
	})
}

// ScheduleDeleteProfileFromIndex enqueues removal of a profile document
func (s *Scheduler) ScheduleDeleteProfileFromIndex(ctx context.Context, profileID uint) (*queue.Job, error) {
	return s.queue.Enqueue(ctx, queue.Request{
		Queue:       queue.IndexQueue,
		Func:        FuncDeleteProfileFromIndex,
		Args:        ProfileIDArgs{ProfileID: profileID},
		Timeout:     s.timeouts.Index,
		Description: fmt.Sprintf("Deleting profile %d from index", profileID),
	})
}

// ScheduleDeleteProfilePostsFromIndex enqueues removal of a profile's post
// documents
func (s *Scheduler) ScheduleDeleteProfilePostsFromIndex(ctx context.Context, profileID uint) (*queue.Job, error) {
	return s.queue.Enqueue(ctx, queue.Request{
		Queue:       queue.IndexQueue,
		Func:        FuncDeleteProfilePostsFromIndex,
		Args:        ProfileIDArgs{ProfileID: profileID},
		Timeout:     s.timeouts.Index,
		Description: fmt.Sprintf("Deleting posts for profile %d from index", profileID),
	})
}
