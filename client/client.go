// Package client is the HTTP transport used by every network-facing part of
// the resolver: retries with jittered backoff, cookies, content decoding and
// an optional request rate limit. It knows nothing about ciphers or formats.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"

	"github.com/ytget/ytresolve/errs"
	"github.com/ytget/ytresolve/internal/logger"
	"github.com/ytget/ytresolve/internal/metrics"
)

const (
	defaultTimeout = 30 * time.Second
	defaultRetries = 3

	userAgentValue = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
	acceptEncoding = "gzip, deflate, br"
)

// defaultTransport is a tuned HTTP transport reused across clients.
// Compression is negotiated and decoded by the client itself so brotli is
// available alongside gzip.
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   10,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ResponseHeaderTimeout: 10 * time.Second,
	ForceAttemptHTTP2:     true,
	DisableCompression:    true,
	ReadBufferSize:        16 * 1024,
	WriteBufferSize:       16 * 1024,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// Config holds optional client parameters. Zero values use defaults.
type Config struct {
	// Timeout bounds dialing, waiting for response headers and any single
	// body read. It never limits the total length of a transfer.
	Timeout   time.Duration
	Retries   int
	UserAgent string
	ProxyURL  string
	// RateLimit caps requests per second across the client; zero disables it.
	RateLimit float64
	// Burst is the limiter bucket size; defaults to 1.
	Burst int
	// DisableCookies turns off the in-memory cookie jar.
	DisableCookies bool
	// Retry overrides the backoff policy; zero fields use DefaultRetryPolicy.
	Retry RetryPolicy
}

// Client wraps http.Client with retry/backoff and default headers.
type Client struct {
	HTTPClient *http.Client
	// Timeout is the longest a body read may block; zero disables it.
	Timeout   time.Duration
	Retries   int
	UserAgent string
	Limiter   *rate.Limiter
	Policy    RetryPolicy

	log   *logger.ComponentLogger
	sleep func(ctx context.Context, d time.Duration) error
}

// Request describes one logical request; it may be sent several times.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is a fully read response with a decoded body.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	URL        string
}

// New creates a new Client with a tuned Transport, default timeout, and retries.
func New() *Client {
	return NewWith(Config{})
}

// NewWith creates a new client with provided config. Zero values use defaults.
func NewWith(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	retries := cfg.Retries
	if retries <= 0 {
		retries = defaultRetries
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = userAgentValue
	}

	tr := defaultTransport.Clone()
	tr.ResponseHeaderTimeout = timeout
	tr.DialContext = (&net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
	}).DialContext
	if cfg.ProxyURL != "" {
		if proxyFunc, err := proxyFromURLString(cfg.ProxyURL); err == nil {
			tr.Proxy = proxyFunc
		}
	}

	// No overall deadline: a media body may take far longer than timeout.
	hc := &http.Client{Transport: tr}
	if !cfg.DisableCookies {
		if jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List}); err == nil {
			hc.Jar = jar
		}
	}

	c := &Client{
		HTTPClient: hc,
		Timeout:    timeout,
		Retries:    retries,
		UserAgent:  ua,
		Policy:     cfg.Retry.withDefaults(),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		c.Limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return c
}

func (c *Client) logger() *logger.ComponentLogger {
	if c.log == nil {
		return logger.WithComponent(logger.ComponentClient)
	}
	return c.log
}

// Get fetches url and reads the whole decoded body.
func (c *Client) Get(ctx context.Context, url string) (*Response, error) {
	return c.Fetch(ctx, &Request{Method: http.MethodGet, URL: url})
}

// Fetch sends req with retries and reads the whole decoded body.
func (c *Client) Fetch(ctx context.Context, req *Request) (*Response, error) {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.classify(ctx, req.URL, err)
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		URL:        resp.Request.URL.String(),
	}, nil
}

// Do sends req with retries and returns the response with a decoding body
// reader for streaming. The caller must close the body. Body reads that
// stall past Timeout fail with a TIMEOUT error; other read failures are
// classified like request failures.
//
// Network failures, 5xx and 429 are retried; other 4xx statuses fail at once
// with a REJECTED transport error.
func (c *Client) Do(ctx context.Context, req *Request) (*http.Response, error) {
	attempts := c.Retries
	if attempts < 1 {
		attempts = 1
	}
	policy := c.Policy.withDefaults()
	log := c.logger()

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			metrics.HTTPRetries.Inc()
		}
		if c.Limiter != nil {
			if err := c.Limiter.Wait(ctx); err != nil {
				return nil, c.classify(ctx, req.URL, err)
			}
		}

		attemptCtx, cancel := context.WithCancelCause(ctx)
		httpReq, err := c.newRequest(attemptCtx, req)
		if err != nil {
			cancel(nil)
			return nil, errs.Network(req.URL, err)
		}
		resp, err := c.HTTPClient.Do(httpReq)
		if err != nil {
			cancel(nil)
			metrics.HTTPRequests.WithLabelValues("error").Inc()
			if ctx.Err() != nil {
				return nil, c.classify(ctx, req.URL, err)
			}
			lastErr = err
			log.Debug("request failed", map[string]interface{}{
				"url":     redact(req.URL),
				"attempt": attempt + 1,
				"error":   err.Error(),
			})
			if attempt+1 < attempts {
				if err := c.wait(ctx, policy.Backoff(attempt)); err != nil {
					return nil, c.classify(ctx, req.URL, err)
				}
			}
			continue
		}

		metrics.HTTPRequests.WithLabelValues(metrics.StatusClass(resp.StatusCode)).Inc()
		if resp.StatusCode < http.StatusBadRequest {
			resp.Body = newStallBody(c, ctx, attemptCtx, cancel, resp.Body, req.URL)
			if err := decodeBody(resp); err != nil {
				_ = resp.Body.Close()
				return nil, errs.Network(req.URL, err)
			}
			return resp, nil
		}

		drain(resp)
		cancel(nil)
		if !retryableStatus(resp.StatusCode) || attempt+1 == attempts {
			log.Debug("request rejected", map[string]interface{}{
				"url":    redact(req.URL),
				"status": resp.StatusCode,
			})
			return nil, errs.Rejected(resp.StatusCode, req.URL)
		}
		delay := policy.Backoff(attempt)
		if ra, ok := parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()); ok {
			delay = policy.clampRetryAfter(ra)
		}
		log.Debug("retrying", map[string]interface{}{
			"url":     redact(req.URL),
			"status":  resp.StatusCode,
			"attempt": attempt + 1,
			"delay":   delay.String(),
		})
		if err := c.wait(ctx, delay); err != nil {
			return nil, c.classify(ctx, req.URL, err)
		}
	}
	return nil, c.classify(ctx, req.URL, lastErr)
}

func (c *Client) newRequest(ctx context.Context, req *Request) (*http.Request, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, err
	}
	for k, v := range req.Header {
		httpReq.Header[k] = append([]string(nil), v...)
	}
	if httpReq.Header.Get("User-Agent") == "" {
		ua := c.UserAgent
		if ua == "" {
			ua = userAgentValue
		}
		httpReq.Header.Set("User-Agent", ua)
	}
	if httpReq.Header.Get("Accept-Encoding") == "" {
		httpReq.Header.Set("Accept-Encoding", acceptEncoding)
	}
	return httpReq, nil
}

func (c *Client) wait(ctx context.Context, d time.Duration) error {
	if c.sleep != nil {
		return c.sleep(ctx, d)
	}
	return sleepCtx(ctx, d)
}

// classify maps a terminal error to the transport taxonomy. Cancellation by
// the caller is returned as is, and so are errors already classified.
func (c *Client) classify(ctx context.Context, rawURL string, err error) error {
	if err == nil {
		return errs.Network(rawURL, errors.New("no attempts made"))
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	var classified *errs.Error
	if errors.As(err, &classified) {
		return err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return errs.Timeout(rawURL, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return errs.Timeout(rawURL, err)
	}
	return errs.Network(rawURL, err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

// redact drops the query string, which carries signatures and tokens.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	u.RawQuery = ""
	return u.String()
}

// proxyFromURLString parses a proxy URL and returns a Proxy function.
func proxyFromURLString(raw string) (func(*http.Request) (*url.URL, error), error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("proxy url %q: missing scheme or host", raw)
	}
	return http.ProxyURL(u), nil
}
