package instagram

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// LookupBatchSize is the number of accounts one users/{id} request returns
const LookupBatchSize = 1

type InstagramConfig struct {
	AccessToken string
	BaseURL     string

	// RateLimit requests per RateWindow minutes
	RateLimit  int
	RateWindow int

	Logger *logrus.Logger
}

func NewInstagramConfig() (*InstagramConfig, error) {
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	rateLimit, err := strconv.Atoi(getEnvOrDefault("INSTAGRAM_RATE_LIMIT", "5000"))
	if err != nil {
		return nil, fmt.Errorf("INSTAGRAM_RATE_LIMIT must be an integer: %w", err)
	}
	rateWindow, err := strconv.Atoi(getEnvOrDefault("INSTAGRAM_RATE_WINDOW", "60"))
	if err != nil {
		return nil, fmt.Errorf("INSTAGRAM_RATE_WINDOW must be an integer: %w", err)
	}

	config := &InstagramConfig{
		AccessToken: os.Getenv("INSTAGRAM_ACCESS_TOKEN"),
		BaseURL:     getEnvOrDefault("INSTAGRAM_API_BASE_URL", "https://api.instagram.com/v1"),
		RateLimit:   rateLimit,
		RateWindow:  rateWindow,
		Logger:      logrus.StandardLogger(),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *InstagramConfig) Validate() error {
	if c.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if c.AccessToken == "" {
		return fmt.Errorf("INSTAGRAM_ACCESS_TOKEN must be provided")
	}
	if c.RateLimit < 1 || c.RateWindow < 1 {
		return fmt.Errorf("rate limit and window must be positive")
	}
	if c.BaseURL == "" {
		c.BaseURL = "https://api.instagram.com/v1"
	}
	return nil
}

// Window returns the rate window as a duration
func (c *InstagramConfig) Window() time.Duration {
	return time.Duration(c.RateWindow) * time.Minute
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
