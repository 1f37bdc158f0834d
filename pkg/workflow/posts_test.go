package workflow_test

import (
	"errors"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/lisanmuaddib/profilegraph/pkg/db/models"
	"github.com/lisanmuaddib/profilegraph/pkg/interfaces/upstream"
	"github.com/lisanmuaddib/profilegraph/pkg/notify"
	"github.com/lisanmuaddib/profilegraph/pkg/queue"
	"github.com/lisanmuaddib/profilegraph/pkg/reconcile"
	"github.com/lisanmuaddib/profilegraph/pkg/workflow"
)

var postsEpoch = time.Date(2016, 3, 1, 12, 0, 0, 0, time.UTC)

func postsFrom(first, n int) []upstream.PostData {
	posts := make([]upstream.PostData, 0, n)
	for i := 0; i < n; i++ {
		id := first - i
		posts = append(posts, upstream.PostData{
			UpstreamID: fmt.Sprintf("%d", id),
			Created:    postsEpoch.Add(time.Duration(id) * time.Minute),
			Content:    fmt.Sprintf("post %d", id),
		})
	}
	return posts
}

var _ = Describe("Posts scrape", func() {
	var (
		h      *harness
		author *models.Profile
	)

	BeforeEach(func() {
		h = newHarness()
		h.configure()

		var err error
		author, err = h.store.UpsertProfile(h.ctx, models.SiteTwitter, "1001", twitterUser("1001", "alice"), reconcile.Direct)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		h.close()
	})

	scrape := func(recent bool) error {
		return h.engine.ScrapePosts(h.ctx, workflow.PostsArgs{ProfileID: author.ID, Recent: recent}, queue.NopReporter{})
	}

	countPosts := func() int64 {
		var count int64
		Expect(h.db.Model(&models.Post{}).Where("author_id = ?", author.ID).Count(&count).Error).To(Succeed())
		return count
	}

	It("pages until the configured maximum", func() {
		h.adapter.postPages[""] = &upstream.PostsPage{Posts: postsFrom(100, 3), NextToken: "p2"}
		h.adapter.postPages["p2"] = &upstream.PostsPage{Posts: postsFrom(97, 3), NextToken: "p3"}

		Expect(scrape(true)).To(Succeed())

		Expect(countPosts()).To(Equal(int64(5)))
		Expect(h.adapter.postsCalls).To(HaveLen(2))
		Expect(h.adapter.postsCalls[1].PageToken).To(Equal("p2"))
		Expect(h.adapter.postsCalls[1].Limit).To(Equal(2))

		Expect(h.enqueuer.byFunc(workflow.FuncIndexPosts)).To(HaveLen(2))
		Expect(h.publisher.on(notify.ChannelProfilePosts)).To(Equal([]interface{}{notify.EntityEvent{ID: author.ID}}))
	})

	It("stops when the upstream reports the last page", func() {
		h.adapter.postPages[""] = &upstream.PostsPage{Posts: postsFrom(100, 2), NextToken: "p2", Done: true}
		h.adapter.postPages["p2"] = &upstream.PostsPage{Posts: postsFrom(98, 2)}

		Expect(scrape(true)).To(Succeed())
		Expect(h.adapter.postsCalls).To(HaveLen(1))
		Expect(countPosts()).To(Equal(int64(2)))
	})

	It("stops on an empty page", func() {
		h.adapter.postPages[""] = &upstream.PostsPage{NextToken: "p2"}

		Expect(scrape(true)).To(Succeed())
		Expect(h.adapter.postsCalls).To(HaveLen(1))
		Expect(h.enqueuer.byFunc(workflow.FuncIndexPosts)).To(BeEmpty())
	})

	It("bounds recent fetches by the newest stored post and older ones by the oldest", func() {
		_, err := h.store.UpsertPosts(h.ctx, author.ID, []reconcile.PostAttrs{
			{Data: postsFrom(50, 1)[0]},
			{Data: postsFrom(40, 1)[0]},
		})
		Expect(err).NotTo(HaveOccurred())

		Expect(scrape(true)).To(Succeed())
		Expect(scrape(false)).To(Succeed())

		Expect(h.adapter.postsCalls[0].SinceID).To(Equal("50"))
		Expect(h.adapter.postsCalls[0].MaxID).To(BeEmpty())
		Expect(h.adapter.postsCalls[1].MaxID).To(Equal("40"))
		Expect(h.adapter.postsCalls[1].SinceID).To(BeEmpty())
	})

	It("keeps committed pages when a later page fails", func() {
		h.adapter.postPages[""] = &upstream.PostsPage{Posts: postsFrom(100, 3), NextToken: "p2"}
		h.adapter.postsErr = upstream.Communication("twitter", 500, errors.New("server error"))

		err := scrape(true)
		Expect(queue.IsHandled(err)).To(BeTrue())
		Expect(countPosts()).To(Equal(int64(3)))

		events := h.publisher.on(notify.ChannelProfilePosts)
		Expect(events).To(HaveLen(1))
		event := events[0].(notify.ErrorEvent)
		Expect(event.ID).To(Equal(author.ID))
		Expect(event.Error).To(Equal("Cannot communicate with Twitter (500)"))
	})

	It("stores attachments that download and skips ones that do not", func() {
		post := postsFrom(100, 1)[0]
		post.AttachmentURLs = []string{"https://img.example.com/ok.jpg", "https://img.example.com/gone.jpg"}
		h.adapter.postPages[""] = &upstream.PostsPage{Posts: []upstream.PostData{post}, Done: true}
		h.adapter.blobs["https://img.example.com/ok.jpg"] = &upstream.Blob{Mime: "image/jpeg", Content: []byte("jpeg")}

		Expect(scrape(true)).To(Succeed())

		var stored models.Post
		Expect(h.db.Preload("Attachments").Where("upstream_id = ?", "100").First(&stored).Error).To(Succeed())
		Expect(stored.Attachments).To(HaveLen(1))
		Expect(stored.Attachments[0].Name).To(Equal("ok.jpg"))
		Expect([]string(stored.AttachmentURLs)).To(HaveLen(2))
	})

	It("does not download attachments of posts it already has", func() {
		post := postsFrom(100, 1)[0]
		post.AttachmentURLs = []string{"https://img.example.com/ok.jpg"}
		_, err := h.store.UpsertPosts(h.ctx, author.ID, []reconcile.PostAttrs{{Data: post}})
		Expect(err).NotTo(HaveOccurred())

		h.adapter.postPages[""] = &upstream.PostsPage{Posts: []upstream.PostData{post}, Done: true}
		Expect(scrape(false)).To(Succeed())
		Expect(h.adapter.downloads).To(BeEmpty())
		Expect(h.enqueuer.byFunc(workflow.FuncIndexPosts)).To(BeEmpty())
	})

	Context("when the maximum is misconfigured", func() {
		It("requires the setting", func() {
			Expect(h.db.Delete(&models.Configuration{Key: workflow.MaxPostsKey(models.SiteTwitter)}).Error).To(Succeed())

			err := scrape(true)
			Expect(upstream.IsKind(err, upstream.KindConfiguration)).To(BeTrue())
			Expect(h.adapter.postsCalls).To(BeEmpty())

			event := h.publisher.on(notify.ChannelProfilePosts)[0].(notify.ErrorEvent)
			Expect(event.Error).To(Equal("Missing required configuration: max_posts_twitter"))
		})

		It("requires an integer", func() {
			Expect(h.settings.Set(h.ctx, workflow.MaxPostsKey(models.SiteTwitter), "lots")).To(Succeed())

			err := scrape(true)
			Expect(upstream.IsKind(err, upstream.KindConfiguration)).To(BeTrue())

			event := h.publisher.on(notify.ChannelProfilePosts)[0].(notify.ErrorEvent)
			Expect(event.Error).To(Equal("Value of max_posts_twitter must be an integer"))
		})
	})
})
