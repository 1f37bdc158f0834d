package workflow

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"gorm.io/gorm"

	"github.com/lisanmuaddib/profilegraph/pkg/db/models"
	"github.com/lisanmuaddib/profilegraph/pkg/interfaces/upstream"
)

// Configuration keys managed by operators
const (
	KeyProxyURL = "piscina_proxy_url"
)

// MaxPostsKey returns the configuration key bounding posts per fetch
func MaxPostsKey(site models.Site) string {
	return "max_posts_" + string(site)
}

// MaxRelationsKey returns the configuration key bounding relations per
// direction
func MaxRelationsKey(site models.Site) string {
	return "max_relations_" + string(site)
}

// Settings reads the runtime configuration table. All failures are
// configuration errors and are raised before any upstream call.
type Settings struct {
	db *gorm.DB
}

func NewSettings(db *gorm.DB) *Settings {
	return &Settings{db: db}
}

// Get returns the value stored under key
func (s *Settings) Get(ctx context.Context, key string) (string, error) {
	var cfg models.Configuration
	err := s.db.WithContext(ctx).Where(&models.Configuration{Key: key}).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", upstream.Configuration(fmt.Sprintf("Missing required configuration: %s", key))
	}
	if err != nil {
		return "", fmt.Errorf("failed to read configuration %s: %w", key, err)
	}
	return cfg.Value, nil
}

// Int returns the integer stored under key
func (s *Settings) Int(ctx context.Context, key string) (int, error) {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return 0, err
	}

	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || value < 0 {
		return 0, upstream.Configuration(fmt.Sprintf("Value of %s must be an integer", key))
	}
	return value, nil
}

// Set stores value under key
func (s *Settings) Set(ctx context.Context, key, value string) error {
	return s.db.WithContext(ctx).Save(&models.Configuration{Key: key, Value: value}).Error
}

// MaxPosts bounds a posts fetch for site
func (s *Settings) MaxPosts(ctx context.Context, site models.Site) (int, error) {
	return s.Int(ctx, MaxPostsKey(site))
}

// MaxRelations bounds each side of a relations fetch for site
func (s *Settings) MaxRelations(ctx context.Context, site models.Site) (int, error) {
	return s.Int(ctx, MaxRelationsKey(site))
}

// Proxy returns the outbound proxy endpoint
func (s *Settings) Proxy(ctx context.Context) (*url.URL, error) {
	raw, err := s.Get(ctx, KeyProxyURL)
	if upstream.IsKind(err, upstream.KindConfiguration) {
		return nil, upstream.Configuration("No Piscina server configured.")
	}
	if err != nil {
		return nil, err
	}
	return upstream.ParseProxy(raw)
}

// WithProxy attaches the configured proxy to ctx
func (s *Settings) WithProxy(ctx context.Context) (context.Context, error) {
	proxyURL, err := s.Proxy(ctx)
	if err != nil {
		return ctx, err
	}
	return upstream.WithProxy(ctx, proxyURL), nil
}
