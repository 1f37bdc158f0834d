package twitter

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const (
	// LookupBatchSize is the users/lookup maximum per request
	LookupBatchSize = 100
	// TimelinePageSize is the statuses/user_timeline maximum per request
	TimelinePageSize = 200
	// RelationsPageSize is the friends/ids and followers/ids maximum per request
	RelationsPageSize = 5000
)

type TwitterConfig struct {
	// API Authentication
	ConsumerKey       string
	ConsumerSecret    string
	AccessToken       string
	AccessTokenSecret string
	BearerToken       string

	// API Endpoints
	BaseURL           string
	LookupEndpoint    string
	TimelineEndpoint  string
	FriendsEndpoint   string
	FollowersEndpoint string

	// Rate Limiting, RateLimit requests per RateWindow minutes
	RateLimit  int
	RateWindow int

	// General Config
	Logger *logrus.Logger
}

func NewTwitterConfig() (*TwitterConfig, error) {
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	rateLimit, err := strconv.Atoi(getEnvOrDefault("TWITTER_RATE_LIMIT", "900"))
	if err != nil {
		return nil, fmt.Errorf("TWITTER_RATE_LIMIT must be an integer: %w", err)
	}
	rateWindow, err := strconv.Atoi(getEnvOrDefault("TWITTER_RATE_WINDOW", "15"))
	if err != nil {
		return nil, fmt.Errorf("TWITTER_RATE_WINDOW must be an integer: %w", err)
	}

	config := &TwitterConfig{
		ConsumerKey:       os.Getenv("TWITTER_CONSUMER_KEY"),
		ConsumerSecret:    os.Getenv("TWITTER_CONSUMER_SECRET"),
		AccessToken:       os.Getenv("TWITTER_ACCESS_TOKEN"),
		AccessTokenSecret: os.Getenv("TWITTER_ACCESS_TOKEN_SECRET"),
		BearerToken:       os.Getenv("TWITTER_BEARER_TOKEN"),

		BaseURL:           getEnvOrDefault("TWITTER_API_BASE_URL", "https://api.twitter.com/1.1"),
		LookupEndpoint:    "/users/lookup.json",
		TimelineEndpoint:  "/statuses/user_timeline.json",
		FriendsEndpoint:   "/friends/ids.json",
		FollowersEndpoint: "/followers/ids.json",

		RateLimit:  rateLimit,
		RateWindow: rateWindow,

		Logger: logrus.StandardLogger(),
	}

	config.Logger.WithFields(logrus.Fields{
		"consumer_key_exists": config.ConsumerKey != "",
		"bearer_token_exists": config.BearerToken != "",
		"base_url":            config.BaseURL,
		"rate_limit":          config.RateLimit,
	}).Debug("Twitter config initialized")

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *TwitterConfig) Validate() error {
	if c.Logger == nil {
		return fmt.Errorf("logger is required")
	}

	c.Logger.Debug("Validating Twitter configuration")

	if !c.HasUserAuth() && c.BearerToken == "" {
		c.Logger.WithFields(logrus.Fields{
			"consumer_key_exists":        c.ConsumerKey != "",
			"consumer_secret_exists":     c.ConsumerSecret != "",
			"access_token_exists":        c.AccessToken != "",
			"access_token_secret_exists": c.AccessTokenSecret != "",
		}).Debug("OAuth credentials validation")

		return fmt.Errorf("either OAuth 1.0a credentials or Bearer token must be provided")
	}

	if c.RateLimit < 1 {
		return fmt.Errorf("rate limit must be positive")
	}
	if c.RateWindow < 1 {
		return fmt.Errorf("rate window must be positive")
	}

	// Set default endpoints if not provided
	if c.BaseURL == "" {
		c.BaseURL = "https://api.twitter.com/1.1"
	}
	if c.LookupEndpoint == "" {
		c.LookupEndpoint = "/users/lookup.json"
	}
	if c.TimelineEndpoint == "" {
		c.TimelineEndpoint = "/statuses/user_timeline.json"
	}
	if c.FriendsEndpoint == "" {
		c.FriendsEndpoint = "/friends/ids.json"
	}
	if c.FollowersEndpoint == "" {
		c.FollowersEndpoint = "/followers/ids.json"
	}

	return nil
}

// HasUserAuth returns true if OAuth 1.0a credentials are configured
func (c *TwitterConfig) HasUserAuth() bool {
	return c.ConsumerKey != "" && c.ConsumerSecret != "" &&
		c.AccessToken != "" && c.AccessTokenSecret != ""
}

// Window returns the rate window as a duration
func (c *TwitterConfig) Window() time.Duration {
	return time.Duration(c.RateWindow) * time.Minute
}

// Helper function to get environment variable with default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
