package workflow_test

import (
	"errors"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	"github.com/lisanmuaddib/profilegraph/pkg/db/models"
	"github.com/lisanmuaddib/profilegraph/pkg/interfaces/upstream"
	"github.com/lisanmuaddib/profilegraph/pkg/notify"
	"github.com/lisanmuaddib/profilegraph/pkg/queue"
	"github.com/lisanmuaddib/profilegraph/pkg/reconcile"
	"github.com/lisanmuaddib/profilegraph/pkg/workflow"
)

var _ = Describe("Profile scrape", func() {
	var h *harness

	BeforeEach(func() {
		h = newHarness()
		h.configure()
		h.adapter.addProfile(twitterUser("1001", "alice"))
	})

	AfterEach(func() {
		h.close()
	})

	scrape := func(args workflow.ProfileArgs) error {
		return h.engine.ScrapeProfiles(h.ctx, args, queue.NopReporter{})
	}

	Context("when the profile is new", func() {
		It("creates a full profile and schedules its follow-ups", func() {
			err := scrape(workflow.ProfileArgs{Site: models.SiteTwitter, Usernames: []string{"alice"}})
			Expect(err).NotTo(HaveOccurred())

			profile, err := h.store.ProfileByUpstreamID(h.ctx, models.SiteTwitter, "1001")
			Expect(err).NotTo(HaveOccurred())
			Expect(profile.Username).To(Equal("alice"))
			Expect(profile.IsStub).To(BeFalse())

			var names []models.ProfileUsername
			Expect(h.db.Where("profile_id = ?", profile.ID).Find(&names).Error).To(Succeed())
			Expect(names).To(HaveLen(1))

			events := h.publisher.on(notify.ChannelProfile)
			Expect(events).To(HaveLen(1))
			Expect(events[0]).To(Equal(notify.ProfileEvent{
				ID:         profile.ID,
				Site:       "twitter",
				UpstreamID: "1001",
				Username:   "alice",
				IsStub:     false,
			}))

			Expect(h.enqueuer.funcs()).To(ConsistOf(
				workflow.FuncIndexProfile,
				workflow.FuncScrapeAvatar,
				workflow.FuncScrapePosts,
				workflow.FuncScrapeRelations,
			))
			Expect(h.adapter.proxySeen).To(BeTrue())
		})

		It("publishes only after the profile is committed", func() {
			var visible bool
			h.publisher.onPublish = func(channel string, payload interface{}) {
				if channel != notify.ChannelProfile {
					return
				}
				event := payload.(notify.ProfileEvent)
				found, err := h.store.Profile(h.ctx, event.ID)
				visible = err == nil && found.UpstreamID == "1001"
			}

			Expect(scrape(workflow.ProfileArgs{Site: models.SiteTwitter, Usernames: []string{"alice"}})).To(Succeed())
			Expect(visible).To(BeTrue())
		})

		It("leaves the row a stub when asked to", func() {
			err := scrape(workflow.ProfileArgs{Site: models.SiteTwitter, Usernames: []string{"alice"}, Stub: true})
			Expect(err).NotTo(HaveOccurred())

			profile, err := h.store.ProfileByUpstreamID(h.ctx, models.SiteTwitter, "1001")
			Expect(err).NotTo(HaveOccurred())
			Expect(profile.IsStub).To(BeTrue())
			Expect(h.enqueuer.funcs()).To(Equal([]string{workflow.FuncIndexProfile}))
		})

		It("applies the labels requested for it", func() {
			err := scrape(workflow.ProfileArgs{
				Site:      models.SiteTwitter,
				Usernames: []string{"alice"},
				Labels:    map[string][]string{"alice": {"journalist", "verified"}},
			})
			Expect(err).NotTo(HaveOccurred())

			profile, err := h.store.ProfileByUpstreamID(h.ctx, models.SiteTwitter, "1001")
			Expect(err).NotTo(HaveOccurred())

			labels, err := h.store.ProfileLabels(h.ctx, profile.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(labels).To(Equal([]string{"journalist", "verified"}))
		})
	})

	Context("when the profile is private", func() {
		It("skips posts and relations", func() {
			private := twitterUser("1002", "bob")
			private.Private = true
			h.adapter.addProfile(private)

			Expect(scrape(workflow.ProfileArgs{Site: models.SiteTwitter, UpstreamIDs: []string{"1002"}})).To(Succeed())
			Expect(h.enqueuer.funcs()).To(ConsistOf(workflow.FuncIndexProfile, workflow.FuncScrapeAvatar))
		})
	})

	Context("when the profile already exists as a stub", func() {
		It("promotes it on a direct scrape", func() {
			_, err := h.store.UpsertProfile(h.ctx, models.SiteTwitter, "1001",
				upstream.ProfileData{UpstreamID: "1001", Username: "alice", Summary: true}, reconcile.Discovery)
			Expect(err).NotTo(HaveOccurred())

			Expect(scrape(workflow.ProfileArgs{Site: models.SiteTwitter, Usernames: []string{"alice"}})).To(Succeed())

			profile, err := h.store.ProfileByUpstreamID(h.ctx, models.SiteTwitter, "1001")
			Expect(err).NotTo(HaveOccurred())
			Expect(profile.IsStub).To(BeFalse())
			Expect(profile.Description).To(Equal("bio of alice"))
			Expect(h.countProfiles()).To(Equal(int64(1)))
		})
	})

	Context("when two workers scrape the same profile", func() {
		It("ends with one row and no error", func() {
			var wg sync.WaitGroup
			errs := make([]error, 2)
			for i := range errs {
				wg.Add(1)
				go func(i int) {
					defer GinkgoRecover()
					defer wg.Done()
					errs[i] = scrape(workflow.ProfileArgs{Site: models.SiteTwitter, UpstreamIDs: []string{"1001"}})
				}(i)
			}
			wg.Wait()

			Expect(errs[0]).NotTo(HaveOccurred())
			Expect(errs[1]).NotTo(HaveOccurred())
			Expect(h.countProfiles()).To(Equal(int64(1)))
		})
	})

	Context("when a later profile in the batch cannot be stored", func() {
		BeforeEach(func() {
			h.adapter.addProfile(twitterUser("1002", "bob"))
			Expect(h.db.Callback().Create().Before("gorm:create").Register("test:reject_bob", func(tx *gorm.DB) {
				if profile, ok := tx.Statement.Dest.(*models.Profile); ok && profile.UpstreamID == "1002" {
					tx.AddError(errors.New("disk full"))
				}
			})).To(Succeed())
		})

		It("still publishes and indexes the profiles already committed", func() {
			err := scrape(workflow.ProfileArgs{Site: models.SiteTwitter, Usernames: []string{"alice", "bob"}})
			Expect(err).To(HaveOccurred())

			alice, lookupErr := h.store.ProfileByUpstreamID(h.ctx, models.SiteTwitter, "1001")
			Expect(lookupErr).NotTo(HaveOccurred())
			Expect(h.countProfiles()).To(Equal(int64(1)))

			events := h.publisher.on(notify.ChannelProfile)
			Expect(events).To(HaveLen(2))
			Expect(events[0]).To(Equal(notify.ProfileEvent{
				ID:         alice.ID,
				Site:       "twitter",
				UpstreamID: "1001",
				Username:   "alice",
			}))
			Expect(events[1]).To(BeAssignableToTypeOf(notify.ErrorEvent{}))

			index := h.enqueuer.byFunc(workflow.FuncIndexProfile)
			Expect(index).To(HaveLen(1))
			Expect(index[0].Args).To(Equal(workflow.ProfileIDArgs{ProfileID: alice.ID}))
		})
	})

	Context("when the upstream fails", func() {
		It("reports an unknown account without creating anything", func() {
			err := scrape(workflow.ProfileArgs{Site: models.SiteTwitter, Usernames: []string{"ghost"}})
			Expect(err).To(HaveOccurred())
			Expect(queue.IsHandled(err)).To(BeTrue())

			Expect(h.countProfiles()).To(BeZero())
			Expect(h.enqueuer.funcs()).To(BeEmpty())

			events := h.publisher.on(notify.ChannelProfile)
			Expect(events).To(HaveLen(1))
			event := events[0].(notify.ErrorEvent)
			Expect(event.Category).To(Equal(notify.CategoryNotFound))
			Expect(event.Error).To(Equal("Does not exist on Twitter."))
			Expect(event.Usernames).To(Equal([]string{"ghost"}))
		})

		It("reports communication failures with the status code", func() {
			h.adapter.profileErr = upstream.Communication("twitter", 503, errors.New("over capacity"))

			err := scrape(workflow.ProfileArgs{Site: models.SiteTwitter, Usernames: []string{"alice"}})
			Expect(queue.IsHandled(err)).To(BeTrue())

			event := h.publisher.on(notify.ChannelProfile)[0].(notify.ErrorEvent)
			Expect(event.Category).To(Equal(notify.CategoryCommunication))
			Expect(event.Error).To(Equal("Cannot communicate with Twitter (503)"))
			Expect(event.Code).To(Equal(503))
		})

		It("returns unknown failures unhandled", func() {
			boom := errors.New("boom")
			h.adapter.profileErr = boom

			err := scrape(workflow.ProfileArgs{Site: models.SiteTwitter, Usernames: []string{"alice"}})
			Expect(err).To(MatchError(boom))
			Expect(queue.IsHandled(err)).To(BeFalse())

			event := h.publisher.on(notify.ChannelProfile)[0].(notify.ErrorEvent)
			Expect(event.Category).To(Equal(notify.CategoryUnknown))
			Expect(event.Error).To(Equal("Unknown error while fetching profile."))
		})
	})

	Context("when configuration is missing", func() {
		It("fails before any upstream call without a proxy", func() {
			Expect(h.db.Where("1 = 1").Delete(&models.Configuration{}).Error).To(Succeed())

			err := scrape(workflow.ProfileArgs{Site: models.SiteTwitter, Usernames: []string{"alice"}})
			Expect(upstream.IsKind(err, upstream.KindConfiguration)).To(BeTrue())
			Expect(h.adapter.profileCalls).To(BeZero())

			event := h.publisher.on(notify.ChannelProfile)[0].(notify.ErrorEvent)
			Expect(event.Category).To(Equal(notify.CategoryConfiguration))
			Expect(event.Error).To(Equal("No Piscina server configured."))
		})

		It("rejects sites without a scraper", func() {
			err := scrape(workflow.ProfileArgs{Site: models.SiteInstagram, Usernames: []string{"alice"}})
			Expect(upstream.IsKind(err, upstream.KindConfiguration)).To(BeTrue())

			event := h.publisher.on(notify.ChannelProfile)[0].(notify.ErrorEvent)
			Expect(event.Error).To(Equal("No scraper exists for site: instagram"))
		})
	})
})
