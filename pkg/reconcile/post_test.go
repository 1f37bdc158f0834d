package reconcile_test

import (
	"context"
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

var _ = Describe("Posts, relationships and labels", func() {
	var (
		store  *reconcile.Store
		testDB *gorm.DB
		ctx    context.Context
		cancel context.CancelFunc
		author *models.Profile
	)

	BeforeEach(func() {
		var err error
		logger := logrus.New()
		logger.SetLevel(logrus.PanicLevel)

		testDB, err = dbtest.NewMemoryDB(logger)
		Expect(err).NotTo(HaveOccurred())

		store = reconcile.NewStore(logger, testDB)
		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)

		author, err = store.UpsertProfile(ctx, models.SiteTwitter, "999", upstream.ProfileData{Username: "alice"}, reconcile.Direct)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		cancel()
		dbtest.Close(testDB)
	})

	post := func(id string, created time.Time) reconcile.PostAttrs {
		return reconcile.PostAttrs{Data: upstream.PostData{UpstreamID: id, Created: created, Content: "post " + id}}
	}

	Describe("UpsertPosts", func() {
		It("creates new posts and skips ones already stored", func() {
			base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

			ids, err := store.UpsertPosts(ctx, author.ID, []reconcile.PostAttrs{post("1", base), post("2", base.Add(time.Hour))})
			Expect(err).NotTo(HaveOccurred())
			Expect(ids).To(HaveLen(2))

			ids, err = store.UpsertPosts(ctx, author.ID, []reconcile.PostAttrs{post("2", base.Add(time.Hour)), post("3", base.Add(2*time.Hour))})
			Expect(err).NotTo(HaveOccurred())
			Expect(ids).To(HaveLen(1))

			var stored models.Post
			Expect(testDB.First(&stored, ids[0]).Error).To(Succeed())
			Expect(stored.UpstreamID).To(Equal("3"))

			var count int64
			Expect(testDB.Model(&models.Post{}).Count(&count).Error).To(Succeed())
			Expect(count).To(Equal(int64(3)))
		})

		It("stores attachments and their urls", func() {
			attrs := post("7", time.Now())
			attrs.Data.AttachmentURLs = []string{"https://x/7.jpg"}
			attrs.Attachments = []models.File{{Name: "7.jpg", Mime: "image/jpeg", Content: []byte{0xff, 0xd8}}}

			ids, err := store.UpsertPosts(ctx, author.ID, []reconcile.PostAttrs{attrs})
			Expect(err).NotTo(HaveOccurred())
			Expect(ids).To(HaveLen(1))

			var stored models.Post
			Expect(testDB.Preload("Attachments").First(&stored, ids[0]).Error).To(Succeed())
			Expect(stored.Attachments).To(HaveLen(1))
			Expect(stored.Attachments[0].Mime).To(Equal("image/jpeg"))
			Expect([]string(stored.AttachmentURLs)).To(Equal([]string{"https://x/7.jpg"}))
		})
	})

	Describe("UpsertPost", func() {
		It("returns nil for a post that already exists", func() {
			created, err := store.UpsertPost(ctx, author.ID, post("1", time.Now()))
			Expect(err).NotTo(HaveOccurred())
			Expect(created).NotTo(BeNil())

			again, err := store.UpsertPost(ctx, author.ID, post("1", time.Now()))
			Expect(err).NotTo(HaveOccurred())
			Expect(again).To(BeNil())
		})
	})

	Describe("ExistingPosts", func() {
		It("reports which upstream ids are stored", func() {
			_, err := store.UpsertPosts(ctx, author.ID, []reconcile.PostAttrs{post("1", time.Now())})
			Expect(err).NotTo(HaveOccurred())

			existing, err := store.ExistingPosts(ctx, author.ID, []string{"1", "2"})
			Expect(err).NotTo(HaveOccurred())
			Expect(existing).To(Equal(map[string]bool{"1": true}))
		})
	})

	Describe("UpsertRelationships", func() {
		It("adds edges once", func() {
			friend, err := store.UpsertProfile(ctx, models.SiteTwitter, "888", upstream.ProfileData{Username: "bob"}, reconcile.Discovery)
			Expect(err).NotTo(HaveOccurred())

			edges := []reconcile.Edge{{FollowerID: author.ID, FriendID: friend.ID}, {FollowerID: friend.ID, FriendID: author.ID}}
			Expect(store.UpsertRelationships(ctx, edges)).To(Succeed())
			Expect(store.UpsertRelationships(ctx, edges)).To(Succeed())
			Expect(store.UpsertRelationship(ctx, author.ID, friend.ID)).To(Succeed())

			var count int64
			Expect(testDB.Model(&models.Relationship{}).Count(&count).Error).To(Succeed())
			Expect(count).To(Equal(int64(2)))
		})

		It("rejects an edge with a missing end", func() {
			Expect(store.UpsertRelationship(ctx, author.ID, 0)).NotTo(Succeed())
		})
	})

	Describe("LabelProfile", func() {
		It("normalizes names and keeps existing labels", func() {
			Expect(store.LabelProfile(ctx, author.ID, []string{"  Journalist ", "journalist", "NYC"})).To(Succeed())
			Expect(store.LabelProfile(ctx, author.ID, []string{"nyc", "Activist"})).To(Succeed())

			names, err := store.ProfileLabels(ctx, author.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(names).To(Equal([]string{"activist", "journalist", "nyc"}))

			var labels int64
			Expect(testDB.Model(&models.Label{}).Count(&labels).Error).To(Succeed())
			Expect(labels).To(Equal(int64(3)))
		})
	})

	Describe("Avatars", func() {
		It("finds a stored avatar by upstream url and extends its window", func() {
			original := models.File{Name: "a.jpg", Mime: "image/jpeg", Content: []byte{1}}
			thumb := models.File{Name: "a-thumb.jpg", Mime: "image/jpeg", Content: []byte{2}}

			avatar, err := store.AddAvatar(ctx, author.ID, "https://x/a.jpg", original, thumb)
			Expect(err).NotTo(HaveOccurred())
			Expect(avatar.FileID).NotTo(BeZero())
			Expect(avatar.ThumbFileID).NotTo(Equal(avatar.FileID))

			found, err := store.FindAvatar(ctx, author.ID, "https://x/a.jpg")
			Expect(err).NotTo(HaveOccurred())
			Expect(found).NotTo(BeNil())
			Expect(found.ID).To(Equal(avatar.ID))
			Expect(store.TouchAvatar(ctx, found)).To(Succeed())

			missing, err := store.FindAvatar(ctx, author.ID, "https://x/other.jpg")
			Expect(err).NotTo(HaveOccurred())
			Expect(missing).To(BeNil())
		})
	})
})
