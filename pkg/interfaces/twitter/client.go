package twitter

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/lisanmuaddib/profilegraph/pkg/db/models"
	"github.com/lisanmuaddib/profilegraph/pkg/interfaces/upstream"
)

// ClientOption allows for customization of the client
type ClientOption func(*clientOptions)

type clientOptions struct {
	upstreamOpts []upstream.ClientOption
	doer         upstream.Doer
}

// WithDoer replaces the authenticated request sender
func WithDoer(doer upstream.Doer) ClientOption {
	return func(o *clientOptions) {
		o.doer = doer
	}
}

// TwitterClient is the Twitter platform adapter over the v1.1 REST API
type TwitterClient struct {
	config *TwitterConfig
	api    *upstream.Client
	logger *logrus.Logger
}

// NewTwitterClient creates a new Twitter API client
func NewTwitterClient(config *TwitterConfig, opts ...ClientOption) (*TwitterClient, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	options := &clientOptions{}
	for _, opt := range opts {
		opt(options)
	}

	if options.doer == nil {
		doer, err := NewAuthenticatedDoer(config)
		if err != nil {
			return nil, fmt.Errorf("failed to create authenticator: %w", err)
		}
		options.doer = doer
	}

	api := upstream.NewClient(upstream.Config{
		Site:       string(models.SiteTwitter),
		BaseURL:    config.BaseURL,
		RateLimit:  config.RateLimit,
		RateWindow: config.Window(),
		Logger:     config.Logger,
	}, upstream.WithHTTPClient(options.doer))

	return &TwitterClient{
		config: config,
		api:    api,
		logger: config.Logger,
	}, nil
}

// Site returns the platform this adapter serves
func (c *TwitterClient) Site() models.Site {
	return models.SiteTwitter
}

// LookupBatchSize returns the maximum identifiers per FetchProfiles call
func (c *TwitterClient) LookupBatchSize() int {
	return LookupBatchSize
}

// Download fetches an avatar or attachment through the signed client
func (c *TwitterClient) Download(ctx context.Context, rawURL string) (*upstream.Blob, error) {
	return c.api.Download(ctx, rawURL)
}

// FetchProfiles looks up to LookupBatchSize accounts in a single request.
// Accounts that do not exist are absent from the result; a lookup where
// none exist is a 404 from the API.
func (c *TwitterClient) FetchProfiles(ctx context.Context, query upstream.ProfileQuery) ([]upstream.ProfileData, error) {
	if query.Len() == 0 {
		return nil, nil
	}
	if query.Len() > LookupBatchSize {
		return nil, fmt.Errorf("cannot look up %d twitter profiles at once, the maximum is %d", query.Len(), LookupBatchSize)
	}

	form := url.Values{}
	if len(query.Usernames) > 0 {
		form.Set("screen_name", strings.Join(query.Usernames, ","))
	} else {
		form.Set("user_id", strings.Join(query.UpstreamIDs, ","))
	}

	var users []User
	if err := c.api.PostFormJSON(ctx, c.config.LookupEndpoint, form, &users); err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"requested": query.Len(),
		"returned":  len(users),
	}).Debug("Looked up twitter profiles")

	profiles := make([]upstream.ProfileData, 0, len(users))
	for _, user := range users {
		profiles = append(profiles, user.ToProfileData())
	}
	return profiles, nil
}

// FetchPostsPage returns one user_timeline page, newest first. Pages walk
// backwards through max_id; the tweet equal to the max_id sent is dropped
// since the API includes it.
func (c *TwitterClient) FetchPostsPage(ctx context.Context, query upstream.PostsQuery) (*upstream.PostsPage, error) {
	params := url.Values{}
	params.Set("user_id", query.AuthorUpstreamID)
	params.Set("count", strconv.Itoa(TimelinePageSize))
	params.Set("tweet_mode", "extended")

	if query.SinceID != "" {
		params.Set("since_id", query.SinceID)
	}

	maxID := query.MaxID
	if query.PageToken != "" {
		maxID = query.PageToken
	}
	if maxID != "" {
		params.Set("max_id", maxID)
	}

	var tweets []Tweet
	if err := c.api.GetJSON(ctx, c.config.TimelineEndpoint, params, &tweets); err != nil {
		return nil, err
	}

	page := &upstream.PostsPage{Done: len(tweets) < TimelinePageSize}

	for _, tweet := range tweets {
		if tweet.IDStr == maxID {
			continue
		}
		page.Posts = append(page.Posts, tweet.ToPostData())
	}

	if len(tweets) > 0 {
		page.NextToken = tweets[len(tweets)-1].IDStr
	}
	// Only the max_id tweet came back, so nothing older remains
	if len(page.Posts) == 0 {
		page.Done = true
	}

	c.logger.WithFields(logrus.Fields{
		"upstream_id": query.AuthorUpstreamID,
		"since_id":    query.SinceID,
		"max_id":      maxID,
		"fetched":     len(page.Posts),
		"done":        page.Done,
	}).Debug("Fetched twitter timeline page")

	return page, nil
}

// FetchRelationsPage returns one page of friend or follower ids
func (c *TwitterClient) FetchRelationsPage(ctx context.Context, upstreamID string, kind upstream.RelationKind, cursor string) (*upstream.RelationsPage, error) {
	endpoint := c.config.FriendsEndpoint
	if kind == upstream.RelationFollowers {
		endpoint = c.config.FollowersEndpoint
	}

	if cursor == "" {
		cursor = "-1"
	}

	params := url.Values{}
	params.Set("user_id", upstreamID)
	params.Set("count", strconv.Itoa(RelationsPageSize))
	params.Set("cursor", cursor)
	params.Set("stringify_ids", "true")

	var ids IDsPage
	if err := c.api.GetJSON(ctx, endpoint, params, &ids); err != nil {
		return nil, err
	}

	return &upstream.RelationsPage{
		IDs:        ids.IDs,
		NextCursor: ids.NextCursorStr,
		Done:       ids.NextCursorStr == "" || ids.NextCursorStr == "0",
	}, nil
}

// NormalizeAvatarURL strips the size suffix Twitter appends to profile images
func (c *TwitterClient) NormalizeAvatarURL(rawURL string) string {
	return strings.Replace(rawURL, "_normal", "", 1)
}
