// Package instagram is the Instagram platform adapter over the v1 REST API.
package instagram

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/lisanmuaddib/profilegraph/pkg/db/models"
	"github.com/lisanmuaddib/profilegraph/pkg/interfaces/upstream"
)

type InstagramClient struct {
	config *InstagramConfig
	api    *upstream.Client
	logger *logrus.Logger
}

// NewInstagramClient creates a new adapter. The access token is sent as a
// query parameter on every request.
func NewInstagramClient(config *InstagramConfig, opts ...upstream.ClientOption) (*InstagramClient, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	opts = append([]upstream.ClientOption{
		upstream.WithHTTPClient(&http.Client{Transport: upstream.NewTransport()}),
	}, opts...)

	api := upstream.NewClient(upstream.Config{
		Site:       string(models.SiteInstagram),
		BaseURL:    config.BaseURL,
		RateLimit:  config.RateLimit,
		RateWindow: config.Window(),
		Logger:     config.Logger,
	}, opts...)

	return &InstagramClient{config: config, api: api, logger: config.Logger}, nil
}

func (c *InstagramClient) Site() models.Site {
	return models.SiteInstagram
}

func (c *InstagramClient) LookupBatchSize() int {
	return LookupBatchSize
}

func (c *InstagramClient) Download(ctx context.Context, rawURL string) (*upstream.Blob, error) {
	return c.api.Download(ctx, rawURL)
}

// FetchProfiles resolves each identifier to a full account. Usernames take
// an extra search request since the API only looks accounts up by id.
func (c *InstagramClient) FetchProfiles(ctx context.Context, query upstream.ProfileQuery) ([]upstream.ProfileData, error) {
	profiles := make([]upstream.ProfileData, 0, query.Len())

	for _, id := range query.UpstreamIDs {
		profile, err := c.fetchUser(ctx, id)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, profile)
	}

	for _, username := range query.Usernames {
		id, err := c.searchUserID(ctx, username)
		if err != nil {
			return nil, err
		}
		profile, err := c.fetchUser(ctx, id)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, profile)
	}

	return profiles, nil
}

func (c *InstagramClient) searchUserID(ctx context.Context, username string) (string, error) {
	params := c.params()
	params.Set("q", username)

	var results searchResponse
	if err := c.api.GetJSON(ctx, "/users/search", params, &results); err != nil {
		return "", err
	}

	for _, result := range results.Data {
		if strings.EqualFold(result.Username, username) {
			return result.ID, nil
		}
	}

	c.logger.WithFields(logrus.Fields{
		"username": username,
		"results":  len(results.Data),
	}).Debug("No exact instagram search match")

	return "", upstream.NotFound(string(models.SiteInstagram), fmt.Sprintf("Can't find Instagram user named %s.", username))
}

func (c *InstagramClient) fetchUser(ctx context.Context, id string) (upstream.ProfileData, error) {
	var resp userResponse
	if err := c.api.GetJSON(ctx, "/users/"+url.PathEscape(id), c.params(), &resp); err != nil {
		return upstream.ProfileData{}, err
	}
	return resp.Data.ToProfileData(), nil
}

// FetchPostsPage returns one media/recent page. The API includes the post
// equal to min_id, which is dropped.
func (c *InstagramClient) FetchPostsPage(ctx context.Context, query upstream.PostsQuery) (*upstream.PostsPage, error) {
	params := c.params()
	if query.SinceID != "" {
		params.Set("min_id", query.SinceID)
	}
	if query.PageToken != "" {
		params.Set("max_id", query.PageToken)
	} else if query.MaxID != "" {
		params.Set("max_id", query.MaxID)
	}

	var resp mediaResponse
	endpoint := "/users/" + url.PathEscape(query.AuthorUpstreamID) + "/media/recent"
	if err := c.api.GetJSON(ctx, endpoint, params, &resp); err != nil {
		return nil, err
	}

	page := &upstream.PostsPage{
		NextToken: resp.Pagination.NextMaxID,
		Done:      resp.Pagination.NextMaxID == "",
	}
	for _, media := range resp.Data {
		if query.SinceID != "" && media.ID == query.SinceID {
			continue
		}
		page.Posts = append(page.Posts, media.ToPostData())
	}

	return page, nil
}

// FetchRelationsPage lists follows or followed-by. Entries carry enough of
// the account to create stubs directly.
func (c *InstagramClient) FetchRelationsPage(ctx context.Context, upstreamID string, kind upstream.RelationKind, cursor string) (*upstream.RelationsPage, error) {
	endpoint := "/users/" + url.PathEscape(upstreamID) + "/follows"
	if kind == upstream.RelationFollowers {
		endpoint = "/users/" + url.PathEscape(upstreamID) + "/followed-by"
	}

	params := c.params()
	if cursor != "" {
		params.Set("cursor", cursor)
	}

	var resp relationsResponse
	if err := c.api.GetJSON(ctx, endpoint, params, &resp); err != nil {
		return nil, err
	}

	page := &upstream.RelationsPage{
		NextCursor: resp.Pagination.NextCursor,
		Done:       resp.Pagination.NextCursor == "",
	}
	for _, user := range resp.Data {
		page.IDs = append(page.IDs, user.ID)
		page.Profiles = append(page.Profiles, user.ToProfileData())
	}

	return page, nil
}

// NormalizeAvatarURL returns the URL unchanged; Instagram serves a single size
func (c *InstagramClient) NormalizeAvatarURL(rawURL string) string {
	return rawURL
}

func (c *InstagramClient) params() url.Values {
	params := url.Values{}
	params.Set("access_token", c.config.AccessToken)
	return params
}
