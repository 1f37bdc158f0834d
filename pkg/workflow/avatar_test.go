package workflow_test

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/lisanmuaddib/profilegraph/pkg/db/models"
	"github.com/lisanmuaddib/profilegraph/pkg/interfaces/upstream"
	"github.com/lisanmuaddib/profilegraph/pkg/notify"
	"github.com/lisanmuaddib/profilegraph/pkg/queue"
	"github.com/lisanmuaddib/profilegraph/pkg/reconcile"
	"github.com/lisanmuaddib/profilegraph/pkg/workflow"
)

func pngImage(width, height int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	Expect(png.Encode(&buf, img)).To(Succeed())
	return buf.Bytes()
}

var _ = Describe("Thumbnail", func() {
	It("fits wide images within the box keeping the aspect ratio", func() {
		thumb, err := workflow.Thumbnail(pngImage(128, 64), workflow.ThumbSize)
		Expect(err).NotTo(HaveOccurred())

		img, err := jpeg.Decode(bytes.NewReader(thumb))
		Expect(err).NotTo(HaveOccurred())
		Expect(img.Bounds().Dx()).To(Equal(32))
		Expect(img.Bounds().Dy()).To(Equal(16))
	})

	It("fits tall images within the box", func() {
		thumb, err := workflow.Thumbnail(pngImage(40, 80), workflow.ThumbSize)
		Expect(err).NotTo(HaveOccurred())

		img, err := jpeg.Decode(bytes.NewReader(thumb))
		Expect(err).NotTo(HaveOccurred())
		Expect(img.Bounds().Dx()).To(Equal(16))
		Expect(img.Bounds().Dy()).To(Equal(32))
	})

	It("never enlarges small images", func() {
		thumb, err := workflow.Thumbnail(pngImage(20, 10), workflow.ThumbSize)
		Expect(err).NotTo(HaveOccurred())

		img, err := jpeg.Decode(bytes.NewReader(thumb))
		Expect(err).NotTo(HaveOccurred())
		Expect(img.Bounds().Dx()).To(Equal(20))
	})

	It("rejects content that is not an image", func() {
		_, err := workflow.Thumbnail([]byte("not an image"), workflow.ThumbSize)
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Avatar scrape", func() {
	const avatarURL = "https://img.example.com/alice.png"

	var (
		h       *harness
		profile *models.Profile
	)

	BeforeEach(func() {
		h = newHarness()
		h.configure()

		var err error
		profile, err = h.store.UpsertProfile(h.ctx, models.SiteTwitter, "1001", twitterUser("1001", "alice"), reconcile.Direct)
		Expect(err).NotTo(HaveOccurred())
		h.adapter.blobs[avatarURL] = &upstream.Blob{URL: avatarURL, Mime: "image/png", Content: pngImage(64, 64)}
	})

	AfterEach(func() {
		h.close()
	})

	scrape := func() error {
		return h.engine.ScrapeAvatar(h.ctx, workflow.AvatarArgs{ProfileID: profile.ID, URL: avatarURL}, queue.NopReporter{})
	}

	It("stores the image with a thumbnail and publishes their urls", func() {
		Expect(scrape()).To(Succeed())

		var avatars []models.Avatar
		Expect(h.db.Preload("File").Preload("ThumbFile").Where("profile_id = ?", profile.ID).Find(&avatars).Error).To(Succeed())
		Expect(avatars).To(HaveLen(1))
		Expect(avatars[0].File.Name).To(Equal("alice.png"))
		Expect(avatars[0].File.Mime).To(Equal("image/png"))
		Expect(avatars[0].ThumbFile.Name).To(Equal("thumb-alice.png"))
		Expect(avatars[0].ThumbFile.Mime).To(Equal("image/jpeg"))

		events := h.publisher.on(notify.ChannelAvatar)
		Expect(events).To(Equal([]interface{}{notify.AvatarEvent{
			ID:       profile.ID,
			URL:      fmt.Sprintf("/api/file/%d", avatars[0].FileID),
			ThumbURL: fmt.Sprintf("/api/file/%d", avatars[0].ThumbFileID),
		}}))
	})

	It("extends a known avatar instead of downloading it again", func() {
		Expect(scrape()).To(Succeed())
		Expect(scrape()).To(Succeed())

		Expect(h.adapter.downloads).To(HaveLen(1))

		var count int64
		Expect(h.db.Model(&models.Avatar{}).Where("profile_id = ?", profile.ID).Count(&count).Error).To(Succeed())
		Expect(count).To(Equal(int64(1)))
		Expect(h.publisher.on(notify.ChannelAvatar)).To(HaveLen(2))
	})

	It("reports a failed download", func() {
		delete(h.adapter.blobs, avatarURL)

		err := scrape()
		Expect(queue.IsHandled(err)).To(BeTrue())

		event := h.publisher.on(notify.ChannelAvatar)[0].(notify.ErrorEvent)
		Expect(event.ID).To(Equal(profile.ID))
		Expect(event.Category).To(Equal(notify.CategoryCommunication))
	})

	It("treats undecodable images as unknown failures", func() {
		h.adapter.blobs[avatarURL] = &upstream.Blob{URL: avatarURL, Mime: "image/png", Content: []byte("garbage")}

		err := scrape()
		Expect(err).To(HaveOccurred())
		Expect(queue.IsHandled(err)).To(BeFalse())
	})
})
