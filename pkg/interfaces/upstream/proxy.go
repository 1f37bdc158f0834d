package upstream

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type proxyKey struct{}

// WithProxy returns a context whose upstream requests are routed through
// proxyURL
func WithProxy(ctx context.Context, proxyURL *url.URL) context.Context {
	return context.WithValue(ctx, proxyKey{}, proxyURL)
}

// ProxyFromContext returns the proxy attached by WithProxy, or nil
func ProxyFromContext(ctx context.Context) *url.URL {
	proxyURL, _ := ctx.Value(proxyKey{}).(*url.URL)
	return proxyURL
}

// ParseProxy validates a configured proxy endpoint
func ParseProxy(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, Configuration("No Piscina server configured.")
	}

	proxyURL, err := url.Parse(raw)
	if err != nil || proxyURL.Scheme == "" || proxyURL.Host == "" {
		return nil, Configuration("Piscina server URL is malformed: " + raw)
	}
	return proxyURL, nil
}

// NewTransport returns a transport that resolves the proxy from each
// request's context at call time
func NewTransport() *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = func(req *http.Request) (*url.URL, error) {
		return ProxyFromContext(req.Context()), nil
	}
	transport.ResponseHeaderTimeout = DefaultTimeout
	transport.IdleConnTimeout = 90 * time.Second
	return transport
}
