package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/lisanmuaddib/profilegraph/internal/workerconfig"
	"github.com/lisanmuaddib/profilegraph/pkg/db"
	"github.com/lisanmuaddib/profilegraph/pkg/db/models"
	"github.com/lisanmuaddib/profilegraph/pkg/index"
	"github.com/lisanmuaddib/profilegraph/pkg/interfaces/twitter"
	"github.com/lisanmuaddib/profilegraph/pkg/notify"
	"github.com/lisanmuaddib/profilegraph/pkg/queue"
	"github.com/lisanmuaddib/profilegraph/pkg/workflow"
)

type memorySink struct {
	mu   sync.Mutex
	docs map[string]index.Document
}

func (s *memorySink) Upsert(ctx context.Context, docs ...index.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, doc := range docs {
		s.docs[doc.Key()] = doc
	}
	return nil
}

func (s *memorySink) Delete(ctx context.Context, docType string, id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, fmt.Sprintf("%s:%d", docType, id))
	return nil
}

func (s *memorySink) DeleteByQuery(ctx context.Context, docType string, query map[string]interface{}) error {
	return nil
}

func (s *memorySink) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.docs[key]
	return ok
}

// fakeTwitter answers the v1.1 endpoints the workflows call
func fakeTwitter(upstreamID, username string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/users/lookup.json":
			json.NewEncoder(w).Encode([]map[string]interface{}{{
				"id_str":          upstreamID,
				"screen_name":     username,
				"name":            "Integration " + username,
				"followers_count": 3,
				"created_at":      "Mon Jan 02 15:04:05 +0000 2006",
			}})
		case "/statuses/user_timeline.json":
			fmt.Fprint(w, `[]`)
		case "/friends/ids.json", "/followers/ids.json":
			fmt.Fprint(w, `{"ids":[],"next_cursor_str":"0"}`)
		default:
			http.NotFound(w, r)
		}
	}
}

var _ = Describe("Scrape pipeline", func() {
	var (
		logger   *logrus.Logger
		database *gorm.DB
		rdb      *redis.Client
		sink     *memorySink
		worker   *workerconfig.Worker
		server   *httptest.Server
		ctx      context.Context
		cancel   context.CancelFunc
		done     chan struct{}

		prefix     string
		upstreamID string
		username   string
	)

	BeforeEach(func() {
		// Skip if not running integration tests
		if os.Getenv("INTEGRATION_TESTS") != "true" {
			Skip("Skipping integration test")
		}

		logger = logrus.New()
		logger.SetLevel(logrus.DebugLevel)

		var err error
		database, err = db.SetupDatabase(logger)
		Expect(err).NotTo(HaveOccurred())

		redisConfig, err := queue.NewRedisConfig()
		Expect(err).NotTo(HaveOccurred())
		rdb, err = queue.NewRedisClient(redisConfig, logger)
		Expect(err).NotTo(HaveOccurred())

		stamp := time.Now().UnixNano()
		upstreamID = fmt.Sprintf("%d", stamp)
		username = fmt.Sprintf("it_%d", stamp%1000000)
		server = httptest.NewServer(fakeTwitter(upstreamID, username))

		client, err := twitter.NewTwitterClient(&twitter.TwitterConfig{
			BearerToken: "integration",
			BaseURL:     server.URL,
			RateLimit:   1000,
			RateWindow:  1,
			Logger:      logger,
		}, twitter.WithDoer(server.Client()))
		Expect(err).NotTo(HaveOccurred())

		prefix = fmt.Sprintf("profilegraph-it-%d", stamp)
		queueConfig := &queue.QueueConfig{
			Prefix:       prefix,
			WorkerQueues: []string{queue.ScrapeQueue, queue.IndexQueue},
			WorkerCount:  2,
			PollTimeout:  time.Second,
		}
		Expect(queueConfig.Validate()).To(Succeed())

		sink = &memorySink{docs: make(map[string]index.Document)}
		worker, err = workerconfig.ConfigureWorker(workerconfig.WorkerConfig{
			DB:          database,
			Redis:       rdb,
			QueueConfig: queueConfig,
			Sink:        sink,
			Adapters:    []workflow.Adapter{client},
			Logger:      logger,
		})
		Expect(err).NotTo(HaveOccurred())

		settings := workflow.NewSettings(database)
		Expect(settings.Set(context.Background(), workflow.KeyProxyURL, "http://127.0.0.1:3128")).To(Succeed())
		Expect(settings.Set(context.Background(), workflow.MaxPostsKey(models.SiteTwitter), "200")).To(Succeed())
		Expect(settings.Set(context.Background(), workflow.MaxRelationsKey(models.SiteTwitter), "1000")).To(Succeed())

		ctx, cancel = context.WithCancel(context.Background())
		done = make(chan struct{})
		var wg sync.WaitGroup
		for _, pool := range worker.Pools {
			wg.Add(1)
			go func(pool *queue.Pool) {
				defer GinkgoRecover()
				defer wg.Done()
				Expect(pool.Run(ctx)).To(Succeed())
			}(pool)
		}
		go func() {
			wg.Wait()
			close(done)
		}()
	})

	AfterEach(func() {
		if cancel == nil {
			return
		}
		cancel()
		Eventually(done, 10*time.Second).Should(BeClosed())
		server.Close()
		rdb.Close()
	})

	It("reconciles, notifies and indexes a scraped profile", func() {
		sub := rdb.Subscribe(ctx, prefix+":"+notify.ChannelProfile)
		defer sub.Close()
		_, err := sub.Receive(ctx)
		Expect(err).NotTo(HaveOccurred())

		_, err = worker.Engine.Scheduler().ScheduleProfiles(ctx, []workflow.ProfileRequest{
			{Site: models.SiteTwitter, Username: username, Labels: []string{"integration"}},
		}, false)
		Expect(err).NotTo(HaveOccurred())

		var msg *redis.Message
		Eventually(sub.Channel(), 30*time.Second).Should(Receive(&msg))

		var event notify.ProfileEvent
		Expect(json.Unmarshal([]byte(msg.Payload), &event)).To(Succeed())
		Expect(event.UpstreamID).To(Equal(upstreamID))
		Expect(event.IsStub).To(BeFalse())

		var profile models.Profile
		Expect(database.Where("site = ? AND upstream_id = ?", models.SiteTwitter, upstreamID).First(&profile).Error).To(Succeed())
		Expect(profile.Username).To(Equal(username))

		Eventually(func() bool {
			return sink.has(fmt.Sprintf("%s:%d", index.TypeProfile, profile.ID))
		}, 30*time.Second, 200*time.Millisecond).Should(BeTrue())

		Eventually(func() int64 {
			pending, err := worker.Queue.Pending(ctx, queue.ScrapeQueue)
			Expect(err).NotTo(HaveOccurred())
			return pending
		}, 30*time.Second, 200*time.Millisecond).Should(BeZero())

		failed, err := worker.Queue.Failed(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(failed).To(BeEmpty())
	})
})

