package workerconfig

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/lisanmuaddib/profilegraph/pkg/cursor"
	"github.com/lisanmuaddib/profilegraph/pkg/index"
	"github.com/lisanmuaddib/profilegraph/pkg/interfaces/instagram"
	"github.com/lisanmuaddib/profilegraph/pkg/interfaces/twitter"
	"github.com/lisanmuaddib/profilegraph/pkg/notify"
	"github.com/lisanmuaddib/profilegraph/pkg/queue"
	"github.com/lisanmuaddib/profilegraph/pkg/reconcile"
	"github.com/lisanmuaddib/profilegraph/pkg/workflow"
)

// AdapterConfig selects the platform adapters to build
type AdapterConfig struct {
	// Sites limits the adapters; empty means every site with credentials
	Sites  []string
	Logger *logrus.Logger
}

// ConfigureAdapters builds one adapter per configured site. A site whose
// credentials are missing is skipped with a warning, so its jobs fail
// with a configuration error instead of stopping the worker.
func ConfigureAdapters(config AdapterConfig) ([]workflow.Adapter, error) {
	wanted := make(map[string]bool, len(config.Sites))
	for _, site := range config.Sites {
		wanted[site] = true
	}
	enabled := func(site string) bool {
		return len(wanted) == 0 || wanted[site]
	}

	var adapters []workflow.Adapter

	if enabled("twitter") {
		twitterConfig, err := twitter.NewTwitterConfig()
		if err == nil {
			twitterConfig.Logger = config.Logger
			var client *twitter.TwitterClient
			client, err = twitter.NewTwitterClient(twitterConfig)
			if err == nil {
				adapters = append(adapters, client)
			}
		}
		if err != nil {
			config.Logger.WithError(err).Warn("Twitter scraper disabled")
		}
	}

	if enabled("instagram") {
		instagramConfig, err := instagram.NewInstagramConfig()
		if err == nil {
			instagramConfig.Logger = config.Logger
			var client *instagram.InstagramClient
			client, err = instagram.NewInstagramClient(instagramConfig)
			if err == nil {
				adapters = append(adapters, client)
			}
		}
		if err != nil {
			config.Logger.WithError(err).Warn("Instagram scraper disabled")
		}
	}

	if len(adapters) == 0 {
		return nil, fmt.Errorf("no scraper could be configured")
	}
	return adapters, nil
}

// WorkerConfig is everything the worker process opened at startup
type WorkerConfig struct {
	DB          *gorm.DB
	Redis       *redis.Client
	QueueConfig *queue.QueueConfig
	Sink        index.Sink
	Adapters    []workflow.Adapter
	Logger      *logrus.Logger
}

// Worker is the wired job runtime
type Worker struct {
	Queue    *queue.Queue
	Registry *queue.Registry
	Engine   *workflow.Engine
	Pools    []*queue.Pool
}

// ConfigureWorker wires the store, scheduler, engine and one pool per
// worker queue
func ConfigureWorker(config WorkerConfig) (*Worker, error) {
	switch {
	case config.DB == nil:
		return nil, fmt.Errorf("DB is required")
	case config.Redis == nil:
		return nil, fmt.Errorf("Redis is required")
	case config.QueueConfig == nil:
		return nil, fmt.Errorf("QueueConfig is required")
	case config.Sink == nil:
		return nil, fmt.Errorf("Sink is required")
	case config.Logger == nil:
		return nil, fmt.Errorf("Logger is required")
	}

	q := queue.NewQueue(config.Redis, config.QueueConfig, config.Logger)
	settings := workflow.NewSettings(config.DB)
	scheduler := workflow.NewScheduler(q, config.QueueConfig.Timeouts, workflow.BatchSizesOf(config.Adapters...), settings, config.Logger)

	engine, err := workflow.New(workflow.Config{
		Store:     reconcile.NewStore(config.Logger, config.DB),
		Tracker:   cursor.NewTracker(config.Logger, config.DB),
		Settings:  settings,
		Scheduler: scheduler,
		Publisher: notify.NewRedisPublisher(config.Redis, config.QueueConfig.Prefix, config.Logger),
		Indexer:   index.NewIndexer(config.Logger, config.DB, config.Sink),
		Adapters:  config.Adapters,
		Logger:    config.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow engine: %w", err)
	}

	registry := queue.NewRegistry()
	workflow.Register(registry, engine)

	pools := make([]*queue.Pool, 0, len(config.QueueConfig.WorkerQueues))
	for _, name := range config.QueueConfig.WorkerQueues {
		pools = append(pools, queue.NewPool(q, registry, queue.PoolConfig{
			Queues:         []string{name},
			WorkerCount:    config.QueueConfig.WorkersFor(name),
			StatusInterval: config.QueueConfig.StatusInterval,
			PollTimeout:    config.QueueConfig.PollTimeout,
		}, config.Logger))
	}

	return &Worker{
		Queue:    q,
		Registry: registry,
		Engine:   engine,
		Pools:    pools,
	}, nil
}
