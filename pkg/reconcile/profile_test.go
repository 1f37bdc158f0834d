package reconcile_test

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/lisanmuaddib/profilegraph/pkg/db/dbtest"
	"github.com/lisanmuaddib/profilegraph/pkg/db/models"
	"github.com/lisanmuaddib/profilegraph/pkg/interfaces/upstream"
	"github.com/lisanmuaddib/profilegraph/pkg/reconcile"
)

func bio(username, description string, followers int) upstream.ProfileData {
	return upstream.ProfileData{
		UpstreamID:    "999",
		Username:      username,
		Name:          "Name of " + username,
		Description:   description,
		Homepage:      "https://example.com/" + username,
		FollowerCount: followers,
		FriendCount:   followers * 2,
		PostCount:     followers * 3,
		Location:      "Loc " + description,
		TimeZone:      "UTC",
	}
}

var _ = Describe("Profile reconciliation", func() {
	var (
		store  *reconcile.Store
		testDB *gorm.DB
		ctx    context.Context
		cancel context.CancelFunc
	)

	BeforeEach(func() {
		var err error
		logger := logrus.New()
		logger.SetLevel(logrus.PanicLevel)

		testDB, err = dbtest.NewMemoryDB(logger)
		Expect(err).NotTo(HaveOccurred(), "Failed to setup database")

		store = reconcile.NewStore(logger, testDB)
		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	})

	AfterEach(func() {
		cancel()
		dbtest.Close(testDB)
	})

	countProfiles := func() int64 {
		var count int64
		Expect(testDB.Model(&models.Profile{}).Count(&count).Error).To(Succeed())
		return count
	}

	Context("when the profile is new", func() {
		It("creates one full profile with its username", func() {
			profile, err := store.UpsertProfile(ctx, models.SiteTwitter, "999", bio("alice", "hello", 10), reconcile.Direct)
			Expect(err).NotTo(HaveOccurred())
			Expect(profile.ID).NotTo(BeZero())
			Expect(profile.IsStub).To(BeFalse())
			Expect(profile.UpstreamID).To(Equal("999"))

			var names []models.ProfileUsername
			Expect(testDB.Where("profile_id = ?", profile.ID).Find(&names).Error).To(Succeed())
			Expect(names).To(HaveLen(1))
			Expect(names[0].Username).To(Equal("alice"))
			Expect(names[0].EndDate).To(BeNil())
		})

		It("creates a stub when discovered through relations", func() {
			profile, err := store.UpsertProfile(ctx, models.SiteTwitter, "888", upstream.ProfileData{Username: "bob"}, reconcile.Discovery)
			Expect(err).NotTo(HaveOccurred())
			Expect(profile.IsStub).To(BeTrue())
		})

		It("keeps the same upstream id apart across sites", func() {
			_, err := store.UpsertProfile(ctx, models.SiteTwitter, "999", bio("alice", "a", 1), reconcile.Direct)
			Expect(err).NotTo(HaveOccurred())
			_, err = store.UpsertProfile(ctx, models.SiteInstagram, "999", bio("alice", "a", 1), reconcile.Direct)
			Expect(err).NotTo(HaveOccurred())
			Expect(countProfiles()).To(Equal(int64(2)))
		})
	})

	Context("when the same profile is reconciled twice", func() {
		It("is idempotent and ends with the second call's attributes", func() {
			first, err := store.UpsertProfile(ctx, models.SiteTwitter, "999", bio("alice", "first", 10), reconcile.Direct)
			Expect(err).NotTo(HaveOccurred())

			second, err := store.UpsertProfile(ctx, models.SiteTwitter, "999", bio("alice", "second", 20), reconcile.Direct)
			Expect(err).NotTo(HaveOccurred())

			Expect(second.ID).To(Equal(first.ID))
			Expect(countProfiles()).To(Equal(int64(1)))
			Expect(second.Description).To(Equal("second"))
			Expect(second.FollowerCount).To(Equal(20))
			Expect(second.Location).To(Equal("Loc second"))

			var names int64
			Expect(testDB.Model(&models.ProfileUsername{}).Count(&names).Error).To(Succeed())
			Expect(names).To(Equal(int64(1)))
		})
	})

	Context("when the username changes", func() {
		It("closes the old interval and opens a new one", func() {
			profile, err := store.UpsertProfile(ctx, models.SiteTwitter, "999", bio("alice", "x", 1), reconcile.Direct)
			Expect(err).NotTo(HaveOccurred())

			profile, err = store.UpsertProfile(ctx, models.SiteTwitter, "999", bio("alice2", "x", 1), reconcile.Direct)
			Expect(err).NotTo(HaveOccurred())
			Expect(profile.Username).To(Equal("alice2"))

			var names []models.ProfileUsername
			Expect(testDB.Where("profile_id = ?", profile.ID).Order("id").Find(&names).Error).To(Succeed())
			Expect(names).To(HaveLen(2))
			Expect(names[0].Username).To(Equal("alice"))
			Expect(names[0].EndDate).NotTo(BeNil())
			Expect(names[1].Username).To(Equal("alice2"))
			Expect(names[1].EndDate).To(BeNil())
		})

		It("reopens a username the profile used before", func() {
			var first, second models.ProfileUsername
			for i, name := range []string{"alice", "alice2", "alice"} {
				_, err := store.UpsertProfile(ctx, models.SiteTwitter, "999", bio(name, "x", 1), reconcile.Direct)
				Expect(err).NotTo(HaveOccurred())
				switch i {
				case 0:
					Expect(testDB.Where("username = ?", "alice").First(&first).Error).To(Succeed())
				case 1:
					Expect(testDB.Where("username = ?", "alice2").First(&second).Error).To(Succeed())
				}
			}

			var open []models.ProfileUsername
			Expect(testDB.Where("end_date IS NULL").Find(&open).Error).To(Succeed())
			Expect(open).To(HaveLen(1))
			Expect(open[0].Username).To(Equal("alice"))
			Expect(open[0].StartDate).To(BeTemporally(">", first.StartDate))
			Expect(open[0].StartDate).To(BeTemporally(">=", second.StartDate))

			var total int64
			Expect(testDB.Model(&models.ProfileUsername{}).Count(&total).Error).To(Succeed())
			Expect(total).To(Equal(int64(2)))
		})
	})

	Context("stub lifecycle", func() {
		It("promotes a stub on a direct scrape", func() {
			_, err := store.UpsertProfile(ctx, models.SiteTwitter, "888", upstream.ProfileData{Username: "bob"}, reconcile.Discovery)
			Expect(err).NotTo(HaveOccurred())

			profile, err := store.UpsertProfile(ctx, models.SiteTwitter, "888", bio("bob", "full", 5), reconcile.Direct)
			Expect(err).NotTo(HaveOccurred())
			Expect(profile.IsStub).To(BeFalse())
			Expect(profile.Description).To(Equal("full"))
		})

		It("never turns a full profile back into a stub", func() {
			_, err := store.UpsertProfile(ctx, models.SiteTwitter, "999", bio("alice", "x", 1), reconcile.Direct)
			Expect(err).NotTo(HaveOccurred())

			for _, mode := range []reconcile.Mode{reconcile.Discovery, reconcile.DirectStub, reconcile.Discovery} {
				profile, err := store.UpsertProfile(ctx, models.SiteTwitter, "999", bio("alice", "x", 1), mode)
				Expect(err).NotTo(HaveOccurred())
				Expect(profile.IsStub).To(BeFalse(), "mode %s demoted the profile", mode)
			}
		})

		It("leaves a stub a stub when discovered again or scraped with the stub flag", func() {
			_, err := store.UpsertProfile(ctx, models.SiteTwitter, "888", upstream.ProfileData{Username: "bob"}, reconcile.Discovery)
			Expect(err).NotTo(HaveOccurred())

			profile, err := store.UpsertProfile(ctx, models.SiteTwitter, "888", bio("bob", "x", 1), reconcile.Discovery)
			Expect(err).NotTo(HaveOccurred())
			Expect(profile.IsStub).To(BeTrue())

			profile, err = store.UpsertProfile(ctx, models.SiteTwitter, "888", bio("bob", "x", 1), reconcile.DirectStub)
			Expect(err).NotTo(HaveOccurred())
			Expect(profile.IsStub).To(BeTrue())
		})

		It("only touches the name and username for summaries", func() {
			_, err := store.UpsertProfile(ctx, models.SiteInstagram, "77", bio("carol", "keep me", 9), reconcile.Direct)
			Expect(err).NotTo(HaveOccurred())

			summary := upstream.ProfileData{UpstreamID: "77", Username: "carol", Name: "Carol C", Summary: true}
			profile, err := store.UpsertProfile(ctx, models.SiteInstagram, "77", summary, reconcile.Discovery)
			Expect(err).NotTo(HaveOccurred())
			Expect(profile.Name).To(Equal("Carol C"))
			Expect(profile.Description).To(Equal("keep me"))
			Expect(profile.FollowerCount).To(Equal(9))
		})
	})

	Context("conflict path", func() {
		It("reports a conflict from TryInsert and applies the update through the fallback", func() {
			_, err := store.TryInsert(ctx, models.SiteTwitter, "999", bio("alice", "A", 1), reconcile.Direct)
			Expect(err).NotTo(HaveOccurred())

			_, err = store.TryInsert(ctx, models.SiteTwitter, "999", bio("alice", "B", 2), reconcile.Direct)
			Expect(err).To(MatchError(reconcile.ErrConflict))
			Expect(countProfiles()).To(Equal(int64(1)))

			profile, err := store.FallbackUpdateOnConflict(ctx, models.SiteTwitter, "999", bio("alice", "B", 2), reconcile.Direct)
			Expect(err).NotTo(HaveOccurred())
			Expect(profile.Description).To(Equal("B"))
		})

		It("fails the fallback when the row does not exist", func() {
			_, err := store.FallbackUpdateOnConflict(ctx, models.SiteTwitter, "404", bio("nobody", "x", 1), reconcile.Direct)
			Expect(err).To(MatchError(reconcile.ErrProfileNotFound))
		})
	})

	Context("concurrent first scrapes", func() {
		It("leaves one row holding exactly one of the snapshots", func() {
			snapshots := []upstream.ProfileData{bio("alice", "A", 100), bio("alice", "B", 200)}

			var wg sync.WaitGroup
			errs := make([]error, len(snapshots))
			for i := range snapshots {
				wg.Add(1)
				go func(i int) {
					defer GinkgoRecover()
					defer wg.Done()
					_, errs[i] = store.UpsertProfile(ctx, models.SiteTwitter, "999", snapshots[i], reconcile.Direct)
				}(i)
			}
			wg.Wait()

			Expect(errs[0]).NotTo(HaveOccurred())
			Expect(errs[1]).NotTo(HaveOccurred())
			Expect(countProfiles()).To(Equal(int64(1)))

			profile, err := store.ProfileByUpstreamID(ctx, models.SiteTwitter, "999")
			Expect(err).NotTo(HaveOccurred())

			matches := func(s upstream.ProfileData) bool {
				return profile.Description == s.Description &&
					profile.FollowerCount == s.FollowerCount &&
					profile.FriendCount == s.FriendCount &&
					profile.PostCount == s.PostCount &&
					profile.Location == s.Location
			}
			Expect(matches(snapshots[0]) || matches(snapshots[1])).To(BeTrue(),
				"profile mixes fields: %+v", profile)
		})
	})
})
