package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/lisanmuaddib/profilegraph/pkg/metrics"
)

const (
	// DefaultTimeout bounds a single request when the context has no deadline
	DefaultTimeout = 30 * time.Second

	maxErrorBody = 4096
)

// Doer sends HTTP requests. *http.Client and OAuth signing clients satisfy it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config configures a Client for one site
type Config struct {
	Site       string
	BaseURL    string
	RateLimit  int           // Requests allowed per RateWindow, zero disables pacing
	RateWindow time.Duration // Window the rate limit applies to
	Logger     *logrus.Logger
}

// ClientOption allows for customization of the client
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(doer Doer) ClientOption {
	return func(c *Client) {
		c.http = doer
	}
}

// Client performs proxy routed, paced requests against one upstream site and
// maps failures onto Kind. It never retries.
type Client struct {
	site    string
	baseURL string
	http    Doer
	limiter *rate.Limiter
	logger  *logrus.Logger
}

// NewClient creates a Client. Without WithHTTPClient it sends requests
// through NewTransport.
func NewClient(cfg Config, opts ...ClientOption) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.New()
	}

	c := &Client{
		site:    cfg.Site,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Transport: NewTransport()},
		logger:  logger,
	}

	if cfg.RateLimit > 0 && cfg.RateWindow > 0 {
		c.limiter = rate.NewLimiter(rate.Every(cfg.RateWindow/time.Duration(cfg.RateLimit)), 1)
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Site returns the site name the client talks to
func (c *Client) Site() string {
	return c.site
}

// GetJSON issues a GET against endpoint and decodes the JSON body into out
func (c *Client) GetJSON(ctx context.Context, endpoint string, params url.Values, out interface{}) error {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()

	fullURL := c.baseURL + endpoint
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return NewError(KindUnknown, c.site, 0, "failed to create request", err)
	}
	req.Header.Set("Accept", "application/json")

	return c.doJSON(ctx, req, out)
}

// PostFormJSON issues a form encoded POST and decodes the JSON body into out
func (c *Client) PostFormJSON(ctx context.Context, endpoint string, form url.Values, out interface{}) error {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return NewError(KindUnknown, c.site, 0, "failed to create request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	return c.doJSON(ctx, req, out)
}

// Download fetches an absolute URL and returns its body and content type
func (c *Client) Download(ctx context.Context, rawURL string) (*Blob, error) {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, NewError(KindUnknown, c.site, 0, "failed to create request", err)
	}

	resp, err := c.send(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Communication(c.site, resp.StatusCode, fmt.Errorf("failed to read body: %w", err))
	}

	mime := resp.Header.Get("Content-Type")
	if mime == "" {
		mime = "application/octet-stream"
	}

	return &Blob{URL: rawURL, Mime: mime, Content: content}, nil
}

func (c *Client) doJSON(ctx context.Context, req *http.Request, out interface{}) error {
	resp, err := c.send(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return Communication(c.site, resp.StatusCode, fmt.Errorf("malformed response: %w", err))
	}
	return nil
}

// withDefaultTimeout applies DefaultTimeout when ctx has no deadline
func withDefaultTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, DefaultTimeout)
}

// send returns the response only for 2xx statuses
func (c *Client) send(ctx context.Context, req *http.Request) (*http.Response, error) {
	if ProxyFromContext(ctx) == nil {
		return nil, Configuration("No Piscina server configured.")
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, Communication(c.site, 0, fmt.Errorf("rate limiter wait failed: %w", err))
		}
	}

	log := c.logger.WithFields(logrus.Fields{
		"site":   c.site,
		"method": req.Method,
		"url":    req.URL.Redacted(),
	})
	log.Debug("Sending upstream request")

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues(c.site, "error").Inc()
		upErr := classifyTransportError(c.site, err)
		log.WithError(err).WithField("kind", upErr.Kind).Warn("Upstream request failed")
		return nil, upErr
	}

	metrics.UpstreamRequests.WithLabelValues(c.site, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	detail := describeErrorBody(resp.StatusCode, body)

	log.WithFields(logrus.Fields{
		"status_code": resp.StatusCode,
		"detail":      detail,
	}).Warn("Upstream returned error status")

	if resp.StatusCode == http.StatusNotFound {
		return nil, NewError(KindNotFound, c.site, resp.StatusCode, MessageAccountNotFound, errors.New(detail))
	}
	return nil, Communication(c.site, resp.StatusCode, errors.New(detail))
}

// classifyTransportError maps a failed exchange onto Communication when it
// is a recognized network failure and onto Unknown otherwise.
func classifyTransportError(site string, err error) *Error {
	inner := err
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		inner = urlErr.Err
	}

	var netErr net.Error
	switch {
	case errors.Is(inner, context.DeadlineExceeded), errors.Is(inner, context.Canceled):
		return Communication(site, 0, err)
	case errors.Is(inner, io.EOF), errors.Is(inner, io.ErrUnexpectedEOF):
		return Communication(site, 0, err)
	case errors.As(inner, &netErr):
		return Communication(site, 0, err)
	}

	return NewError(KindUnknown, site, 0, "unrecognized transport failure", err)
}

// describeErrorBody extracts the upstream error message from the common
// Twitter and Instagram error envelopes.
func describeErrorBody(status int, body []byte) string {
	var envelope struct {
		Errors []struct {
			Message string `json:"message"`
			Code    int    `json:"code"`
		} `json:"errors"`
		Meta struct {
			ErrorType    string `json:"error_type"`
			ErrorMessage string `json:"error_message"`
		} `json:"meta"`
	}

	if err := json.Unmarshal(body, &envelope); err == nil {
		if len(envelope.Errors) > 0 {
			return fmt.Sprintf("status=%d code=%d message=%s", status, envelope.Errors[0].Code, envelope.Errors[0].Message)
		}
		if envelope.Meta.ErrorMessage != "" {
			return fmt.Sprintf("status=%d type=%s message=%s", status, envelope.Meta.ErrorType, envelope.Meta.ErrorMessage)
		}
	}

	return fmt.Sprintf("status=%d body=%s", status, strings.TrimSpace(string(body)))
}
