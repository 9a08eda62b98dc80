// Package httpclient is the outbound HTTP client shared by the classifier
// and the stream frame sources: per-request deadlines, pooled connections
// and a response hook for metrics.
package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"
)

const (
	// DefaultTimeout applies when the request context has no deadline
	DefaultTimeout = 10 * time.Second

	defaultUserAgent           = "WildWatch"
	defaultMaxIdleConnsPerHost = 8
	defaultIdleConnTimeout     = 90 * time.Second
	defaultDialTimeout         = 5 * time.Second
	defaultHeaderTimeout       = 10 * time.Second
)

// ResponseHook observes every completed request. resp is nil when err is set.
type ResponseHook func(req *http.Request, resp *http.Response, elapsed time.Duration, err error)

// Config configures a Client. Zero values take defaults.
type Config struct {
	Timeout             time.Duration
	UserAgent           string
	MaxIdleConnsPerHost int
}

// Client wraps http.Client with a default deadline and a User-Agent. Safe
// for concurrent use.
type Client struct {
	http      *http.Client
	timeout   time.Duration
	userAgent string

	hookMu sync.RWMutex
	hook   ResponseHook
}

// New returns a client for cfg; a nil cfg uses all defaults
func New(cfg *Config) *Client {
	var c Config
	if cfg != nil {
		c = *cfg
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	if c.MaxIdleConnsPerHost <= 0 {
		c.MaxIdleConnsPerHost = defaultMaxIdleConnsPerHost
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConnsPerHost:   c.MaxIdleConnsPerHost,
		IdleConnTimeout:       defaultIdleConnTimeout,
		ResponseHeaderTimeout: defaultHeaderTimeout,
	}
	return &Client{
		http:      &http.Client{Transport: transport},
		timeout:   c.Timeout,
		userAgent: c.UserAgent,
	}
}

// HTTPClient exposes the underlying client, for transport mocking in tests
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

// Timeout returns the default per-request deadline
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// SetResponseHook installs fn; nil removes it
func (c *Client) SetResponseHook(fn ResponseHook) {
	c.hookMu.Lock()
	c.hook = fn
	c.hookMu.Unlock()
}

// Do sends req under ctx, adding the default deadline when ctx has none.
// The caller closes the body of a non-nil response. The cancel func must be
// called once the body has been consumed.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, context.CancelFunc, error) {
	if req == nil {
		return nil, func() {}, fmt.Errorf("nil request")
	}

	cancel := context.CancelFunc(func() {})
	if _, ok := ctx.Deadline(); !ok {
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
	}
	req = req.WithContext(ctx)
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	start := time.Now()
	resp, err := c.http.Do(req)

	c.hookMu.RLock()
	hook := c.hook
	c.hookMu.RUnlock()
	if hook != nil {
		hook(req, resp, time.Since(start), err)
	}

	if err != nil {
		cancel()
		return nil, func() {}, err
	}
	return resp, cancel, nil
}

// Get issues a GET request
func (c *Client) Get(ctx context.Context, url string) (*http.Response, context.CancelFunc, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, func() {}, fmt.Errorf("create GET request: %w", err)
	}
	return c.Do(ctx, req)
}

// Post issues a POST request with body sent as contentType
func (c *Client) Post(ctx context.Context, url, contentType string, body []byte) (*http.Response, context.CancelFunc, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, func() {}, fmt.Errorf("create POST request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return c.Do(ctx, req)
}

// Close drops idle pooled connections
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}
