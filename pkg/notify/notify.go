// Package notify publishes small JSON events about reconciled entities to
// Redis pub/sub channels consumed by the server push layer.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/lisanmuaddib/profilegraph/pkg/metrics"
)

// Channels, one per entity kind
const (
	ChannelProfile          = "profile"
	ChannelAvatar           = "avatar"
	ChannelProfilePosts     = "profile_posts"
	ChannelProfileRelations = "profile_relations"
)

// Error categories carried by error events
const (
	CategoryNotFound      = "not_found"
	CategoryCommunication = "communication"
	CategoryConfiguration = "configuration"
	CategoryUnknown       = "unknown"
)

// Publisher sends one payload to a named channel. Callers publish only
// after the transaction that produced the payload has committed.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload interface{}) error
}

// ProfileEvent announces a reconciled profile
type ProfileEvent struct {
	ID         uint   `json:"id"`
	Site       string `json:"site"`
	UpstreamID string `json:"upstream_id"`
	Username   string `json:"username"`
	IsStub     bool   `json:"is_stub"`
}

// AvatarEvent announces a stored avatar
type AvatarEvent struct {
	ID       uint   `json:"id"`
	URL      string `json:"url"`
	ThumbURL string `json:"thumb_url"`
}

// EntityEvent references an updated entity by id only; subscribers re-fetch
// from the store
type EntityEvent struct {
	ID uint `json:"id"`
}

// ErrorEvent reports a classified workflow failure
type ErrorEvent struct {
	ID          uint     `json:"id,omitempty"`
	Site        string   `json:"site,omitempty"`
	Usernames   []string `json:"usernames,omitempty"`
	UpstreamIDs []string `json:"upstream_ids,omitempty"`
	Code        int      `json:"code,omitempty"`
	Category    string   `json:"category"`
	Error       string   `json:"error"`
}

// RedisPublisher publishes JSON payloads with PUBLISH
type RedisPublisher struct {
	rdb    *redis.Client
	prefix string
	logger *logrus.Logger
}

// NewRedisPublisher creates a publisher. A non-empty prefix is joined to
// channel names with a colon.
func NewRedisPublisher(rdb *redis.Client, prefix string, logger *logrus.Logger) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, prefix: prefix, logger: logger}
}

// ChannelName returns the Redis channel a logical channel is published on
func (p *RedisPublisher) ChannelName(channel string) string {
	if p.prefix == "" {
		return channel
	}
	return p.prefix + ":" + channel
}

// Publish marshals payload and publishes it on channel
func (p *RedisPublisher) Publish(ctx context.Context, channel string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s notification: %w", channel, err)
	}

	receivers, err := p.rdb.Publish(ctx, p.ChannelName(channel), data).Result()
	if err != nil {
		return fmt.Errorf("failed to publish %s notification: %w", channel, err)
	}

	metrics.NotificationsPublished.WithLabelValues(channel).Inc()
	p.logger.WithFields(logrus.Fields{
		"channel":   channel,
		"receivers": receivers,
	}).Debug("Published notification")

	return nil
}
