package queue

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Default configuration values
const (
	DefaultPrefix         = "profilegraph"
	DefaultWorkerCount    = 2
	DefaultStatusInterval = 30 * time.Second
	DefaultPollTimeout    = 5 * time.Second
	DefaultResultTTL      = 10 * time.Minute
	DefaultWorkerTTL      = 90 * time.Second
)

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// NewRedisConfig reads REDIS_* from the environment
func NewRedisConfig() (*RedisConfig, error) {
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	port, err := strconv.Atoi(getEnvOrDefault("REDIS_PORT", "6379"))
	if err != nil {
		return nil, fmt.Errorf("REDIS_PORT must be an integer: %w", err)
	}
	db, err := strconv.Atoi(getEnvOrDefault("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("REDIS_DB must be an integer: %w", err)
	}

	return &RedisConfig{
		Host:     getEnvOrDefault("REDIS_HOST", "localhost"),
		Port:     port,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
	}, nil
}

// NewRedisClient connects and pings Redis
func NewRedisClient(cfg *RedisConfig, logger *logrus.Logger) (*redis.Client, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	logger.WithField("addr", addr).Info("Connected to Redis")
	return rdb, nil
}

// Timeouts are the per operation job timeouts
type Timeouts struct {
	Avatar    time.Duration
	Index     time.Duration
	Profile   time.Duration
	Posts     time.Duration
	Relations time.Duration
}

// DefaultTimeouts returns the stock timeouts
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Avatar:    60 * time.Second,
		Index:     60 * time.Second,
		Profile:   60 * time.Second,
		Posts:     10 * time.Minute,
		Relations: time.Hour,
	}
}

// RelationsTimeout scales the relations timeout with the number of
// relations to fetch, one base timeout per 5000, never below the base
func (t Timeouts) RelationsTimeout(maxRelations int) time.Duration {
	scaled := time.Duration(float64(t.Relations) * float64(maxRelations) / 5000)
	if scaled < t.Relations {
		return t.Relations
	}
	return scaled
}

// QueueConfig configures the queue facade and worker pools
type QueueConfig struct {
	Prefix         string
	WorkerQueues   []string
	WorkerCount    int
	// QueueWorkers overrides WorkerCount for individual queues
	QueueWorkers   map[string]int
	StatusInterval time.Duration
	PollTimeout    time.Duration
	ResultTTL      time.Duration
	Timeouts       Timeouts
}

// NewQueueConfig reads QUEUE_PREFIX, WORKER_* and *_TIMEOUT overrides from
// the environment
func NewQueueConfig() (*QueueConfig, error) {
	workers, err := strconv.Atoi(getEnvOrDefault("WORKER_COUNT", strconv.Itoa(DefaultWorkerCount)))
	if err != nil {
		return nil, fmt.Errorf("WORKER_COUNT must be an integer: %w", err)
	}

	interval, err := time.ParseDuration(getEnvOrDefault("WORKER_STATUS_INTERVAL", DefaultStatusInterval.String()))
	if err != nil {
		return nil, fmt.Errorf("WORKER_STATUS_INTERVAL must be a duration: %w", err)
	}

	timeouts := DefaultTimeouts()
	for key, target := range map[string]*time.Duration{
		"AVATAR_TIMEOUT":    &timeouts.Avatar,
		"INDEX_TIMEOUT":     &timeouts.Index,
		"PROFILE_TIMEOUT":   &timeouts.Profile,
		"POSTS_TIMEOUT":     &timeouts.Posts,
		"RELATIONS_TIMEOUT": &timeouts.Relations,
	} {
		raw := os.Getenv(key)
		if raw == "" {
			continue
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("%s must be a duration: %w", key, err)
		}
		*target = d
	}

	queues := splitList(getEnvOrDefault("WORKER_QUEUES", ScrapeQueue+","+IndexQueue))
	perQueue := make(map[string]int)
	for _, name := range queues {
		key := "WORKER_COUNT_" + strings.ToUpper(name)
		raw := os.Getenv(key)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("%s must be an integer: %w", key, err)
		}
		perQueue[name] = n
	}

	cfg := &QueueConfig{
		Prefix:         getEnvOrDefault("QUEUE_PREFIX", DefaultPrefix),
		WorkerQueues:   queues,
		WorkerCount:    workers,
		QueueWorkers:   perQueue,
		StatusInterval: interval,
		PollTimeout:    DefaultPollTimeout,
		ResultTTL:      DefaultResultTTL,
		Timeouts:       timeouts,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration and fills defaults
func (c *QueueConfig) Validate() error {
	if c.Prefix == "" {
		c.Prefix = DefaultPrefix
	}
	if c.WorkerCount < 1 {
		return fmt.Errorf("worker count must be positive")
	}
	if len(c.WorkerQueues) == 0 {
		return fmt.Errorf("at least one worker queue is required")
	}
	if c.StatusInterval <= 0 {
		c.StatusInterval = DefaultStatusInterval
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = DefaultPollTimeout
	}
	if c.ResultTTL <= 0 {
		c.ResultTTL = DefaultResultTTL
	}
	if c.Timeouts == (Timeouts{}) {
		c.Timeouts = DefaultTimeouts()
	}
	return nil
}

// WorkersFor returns the pool size for a queue
func (c *QueueConfig) WorkersFor(queue string) int {
	if n, ok := c.QueueWorkers[queue]; ok && n > 0 {
		return n
	}
	return c.WorkerCount
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
