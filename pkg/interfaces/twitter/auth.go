package twitter

import (
	"fmt"
	"net/http"

	"github.com/mrjones/oauth"

	"github.com/lisanmuaddib/profilegraph/pkg/interfaces/upstream"
)

const (
	RequestTokenURL   = "https://api.twitter.com/oauth/request_token"
	AuthorizeTokenURL = "https://api.twitter.com/oauth/authorize"
	AccessTokenURL    = "https://api.twitter.com/oauth/access_token"
)

// NewAuthenticatedDoer returns a request sender that signs every request.
// OAuth 1.0a user credentials take precedence over an application bearer
// token. Both variants send through the proxy aware transport.
func NewAuthenticatedDoer(config *TwitterConfig) (upstream.Doer, error) {
	if config.HasUserAuth() {
		return newUserDoer(config)
	}

	if config.BearerToken != "" {
		return &bearerDoer{
			client: &http.Client{Transport: upstream.NewTransport()},
			token:  config.BearerToken,
		}, nil
	}

	return nil, fmt.Errorf("either OAuth 1.0a credentials or Bearer token must be provided")
}

func newUserDoer(config *TwitterConfig) (upstream.Doer, error) {
	consumer := oauth.NewConsumer(config.ConsumerKey, config.ConsumerSecret, oauth.ServiceProvider{
		RequestTokenUrl:   RequestTokenURL,
		AuthorizeTokenUrl: AuthorizeTokenURL,
		AccessTokenUrl:    AccessTokenURL,
	})

	consumer.HttpClient = &http.Client{Transport: upstream.NewTransport()}

	token := oauth.AccessToken{
		Token:  config.AccessToken,
		Secret: config.AccessTokenSecret,
	}

	client, err := consumer.MakeHttpClient(&token)
	if err != nil {
		return nil, fmt.Errorf("failed to create OAuth client: %w", err)
	}

	return client, nil
}

type bearerDoer struct {
	client *http.Client
	token  string
}

func (b *bearerDoer) Do(req *http.Request) (*http.Response, error) {
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", b.token))
	return b.client.Do(req)
}
