package client

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/ytget/ytresolve/errs"
)

// noSleep records requested delays without waiting.
func noSleep(delays *[]time.Duration) func(context.Context, time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return ctx.Err()
	}
}

func TestNew(t *testing.T) {
	client := New()

	if client.HTTPClient == nil {
		t.Fatal("Expected HTTPClient to be initialized")
	}
	if client.Timeout != defaultTimeout {
		t.Errorf("Expected timeout %v, got %v", defaultTimeout, client.Timeout)
	}
	if client.HTTPClient.Timeout != 0 {
		t.Errorf("Expected no overall http.Client timeout, got %v", client.HTTPClient.Timeout)
	}
	if client.Retries != defaultRetries {
		t.Errorf("Expected retries %d, got %d", defaultRetries, client.Retries)
	}
	if client.UserAgent != userAgentValue {
		t.Errorf("Expected user agent '%s', got '%s'", userAgentValue, client.UserAgent)
	}
	if client.HTTPClient.Jar == nil {
		t.Error("Expected cookie jar by default")
	}
	if client.Limiter != nil {
		t.Error("Expected no limiter by default")
	}
}

func TestNewWith(t *testing.T) {
	tests := []struct {
		name        string
		cfg         Config
		wantTimeout time.Duration
		wantRetries int
		wantUA      string
	}{
		{"custom", Config{Timeout: 10 * time.Second, Retries: 5, UserAgent: "Custom Agent", ProxyURL: "http://proxy.example.com:8080"}, 10 * time.Second, 5, "Custom Agent"},
		{"zero values", Config{}, defaultTimeout, defaultRetries, userAgentValue},
		{"negative values", Config{Timeout: -time.Second, Retries: -1}, defaultTimeout, defaultRetries, userAgentValue},
		{"invalid proxy", Config{ProxyURL: "invalid-proxy-url"}, defaultTimeout, defaultRetries, userAgentValue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewWith(tt.cfg)
			if client.Timeout != tt.wantTimeout {
				t.Errorf("timeout = %v, want %v", client.Timeout, tt.wantTimeout)
			}
			if client.Retries != tt.wantRetries {
				t.Errorf("retries = %d, want %d", client.Retries, tt.wantRetries)
			}
			if client.UserAgent != tt.wantUA {
				t.Errorf("user agent = %q, want %q", client.UserAgent, tt.wantUA)
			}
		})
	}
}

func TestNewWithRateLimitAndNoCookies(t *testing.T) {
	client := NewWith(Config{RateLimit: 5, DisableCookies: true})
	if client.Limiter == nil {
		t.Fatal("Expected limiter")
	}
	if client.Limiter.Burst() != 1 {
		t.Errorf("burst = %d, want 1", client.Limiter.Burst())
	}
	if client.HTTPClient.Jar != nil {
		t.Error("Expected no cookie jar")
	}
}

func TestGetSuccessAndHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("User-Agent"); got != userAgentValue {
			t.Errorf("User-Agent = %q", got)
		}
		if got := r.Header.Get("Accept-Encoding"); got != acceptEncoding {
			t.Errorf("Accept-Encoding = %q", got)
		}
		_, _ = w.Write([]byte("test response"))
	}))
	defer server.Close()

	resp, err := New().Get(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if resp.StatusCode != http.StatusOK || string(resp.Body) != "test response" {
		t.Errorf("unexpected response %d %q", resp.StatusCode, resp.Body)
	}
}

func TestFetchPostBodyAndCustomHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if r.Header.Get("User-Agent") != "custom" {
			t.Errorf("User-Agent = %q", r.Header.Get("User-Agent"))
		}
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(r.Body)
		_, _ = w.Write(buf.Bytes())
	}))
	defer server.Close()

	resp, err := New().Fetch(context.Background(), &Request{
		Method: http.MethodPost,
		URL:    server.URL,
		Header: http.Header{"User-Agent": {"custom"}},
		Body:   []byte(`{"videoId":"x"}`),
	})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(resp.Body) != `{"videoId":"x"}` {
		t.Errorf("echo = %q", resp.Body)
	}
}

func TestRetryOn5xx(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	var delays []time.Duration
	client := New()
	client.sleep = noSleep(&delays)
	client.Policy.Jitter = func(d time.Duration) time.Duration { return d }

	resp, err := client.Get(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(resp.Body) != "ok" {
		t.Errorf("body = %q", resp.Body)
	}
	if hits != 3 {
		t.Errorf("hits = %d, want 3", hits)
	}
	want := []time.Duration{200 * time.Millisecond, 400 * time.Millisecond}
	if len(delays) != len(want) {
		t.Fatalf("delays = %v, want %v", delays, want)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, delays[i], want[i])
		}
	}
}

func TestRetryAfterHonoured(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	var delays []time.Duration
	client := New()
	client.sleep = noSleep(&delays)

	if _, err := client.Get(context.Background(), server.URL); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(delays) != 1 || delays[0] != 2*time.Second {
		t.Errorf("delays = %v, want [2s]", delays)
	}
}

func TestRejectedNotRetried(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	_, err := New().Get(context.Background(), server.URL)
	if !errors.Is(err, errs.ErrRejected) {
		t.Fatalf("err = %v, want REJECTED", err)
	}
	if status, _ := errs.StatusOf(err); status != http.StatusForbidden {
		t.Errorf("status = %d", status)
	}
	if hits != 1 {
		t.Errorf("hits = %d, want 1", hits)
	}
}

func TestExhausted5xxRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	var delays []time.Duration
	client := New()
	client.sleep = noSleep(&delays)

	_, err := client.Get(context.Background(), server.URL)
	if status, ok := errs.StatusOf(err); !ok || status != http.StatusServiceUnavailable {
		t.Fatalf("err = %v, want REJECTED 503", err)
	}
	if len(delays) != defaultRetries-1 {
		t.Errorf("delays = %d, want %d", len(delays), defaultRetries-1)
	}
}

type failingTransport struct{ calls int32 }

func (f *failingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	atomic.AddInt32(&f.calls, 1)
	return nil, errors.New("connection reset")
}

func TestNetworkErrorExhausted(t *testing.T) {
	ft := &failingTransport{}
	var delays []time.Duration
	client := New()
	client.HTTPClient = &http.Client{Transport: ft}
	client.sleep = noSleep(&delays)

	_, err := client.Get(context.Background(), "http://example.invalid/")
	if !errors.Is(err, errs.ErrNetwork) {
		t.Fatalf("err = %v, want NETWORK", err)
	}
	if ft.calls != defaultRetries {
		t.Errorf("calls = %d, want %d", ft.calls, defaultRetries)
	}
}

func TestDeadlineIsTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := New().Get(ctx, server.URL)
	if !errs.IsTimeout(err) {
		t.Fatalf("err = %v, want TIMEOUT", err)
	}
}

func TestSlowBodyOutlivesTimeout(t *testing.T) {
	const chunks = 6
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for i := 0; i < chunks; i++ {
			_, _ = w.Write(bytes.Repeat([]byte{'a' + byte(i)}, 1024))
			flusher.Flush()
			time.Sleep(200 * time.Millisecond)
		}
	}))
	defer server.Close()

	client := NewWith(Config{Timeout: 500 * time.Millisecond})
	resp, err := client.Get(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(resp.Body) != chunks*1024 {
		t.Errorf("body length = %d, want %d", len(resp.Body), chunks*1024)
	}
}

func TestStalledBodyIsTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("partial"))
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := NewWith(Config{Timeout: 100 * time.Millisecond})
	start := time.Now()
	_, err := client.Get(context.Background(), server.URL)
	if !errs.IsTimeout(err) {
		t.Fatalf("err = %v, want TIMEOUT", err)
	}
	if took := time.Since(start); took > 2*time.Second {
		t.Errorf("stall detected after %v", took)
	}
}

func TestCancelledContextReturnedAsIs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	client := New()
	client.HTTPClient = &http.Client{Transport: &failingTransport{}}
	_, err := client.Get(ctx, "http://example.invalid/")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestContentDecoding(t *testing.T) {
	payload := []byte("decoded payload")
	encode := map[string]func([]byte) []byte{
		"gzip": func(b []byte) []byte {
			var buf bytes.Buffer
			zw := gzip.NewWriter(&buf)
			_, _ = zw.Write(b)
			_ = zw.Close()
			return buf.Bytes()
		},
		"br": func(b []byte) []byte {
			var buf bytes.Buffer
			bw := brotli.NewWriter(&buf)
			_, _ = bw.Write(b)
			_ = bw.Close()
			return buf.Bytes()
		},
		"deflate": func(b []byte) []byte {
			var buf bytes.Buffer
			zw := zlib.NewWriter(&buf)
			_, _ = zw.Write(b)
			_ = zw.Close()
			return buf.Bytes()
		},
	}
	for name, fn := range encode {
		t.Run(name, func(t *testing.T) {
			body := fn(payload)
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Encoding", name)
				_, _ = w.Write(body)
			}))
			defer server.Close()

			resp, err := New().Get(context.Background(), server.URL)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if !bytes.Equal(resp.Body, payload) {
				t.Errorf("body = %q", resp.Body)
			}
			if resp.Header.Get("Content-Encoding") != "" {
				t.Error("Content-Encoding should be removed after decoding")
			}
		})
	}
}

func TestCookiesPersist(t *testing.T) {
	var sawCookie atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("CONSENT"); err == nil && c.Value == "YES+" {
			sawCookie.Store(true)
		}
		http.SetCookie(w, &http.Cookie{Name: "CONSENT", Value: "YES+", Path: "/"})
	}))
	defer server.Close()

	client := New()
	for i := 0; i < 2; i++ {
		if _, err := client.Get(context.Background(), server.URL); err != nil {
			t.Fatalf("Get: %v", err)
		}
	}
	if !sawCookie.Load() {
		t.Error("cookie from first response should be sent on the second request")
	}
}

func TestProxyFromURLString(t *testing.T) {
	if fn, err := proxyFromURLString("http://proxy.example.com:8080"); err != nil || fn == nil {
		t.Fatalf("valid proxy: %v", err)
	}
	for _, raw := range []string{"://invalid-url", "invalid-proxy-url"} {
		if _, err := proxyFromURLString(raw); err == nil {
			t.Errorf("expected error for %q", raw)
		}
	}
}

func TestRedact(t *testing.T) {
	got := redact("https://rr1.example.com/videoplayback?sig=SECRET&n=abc")
	if got != "https://rr1.example.com/videoplayback" {
		t.Errorf("redact = %q", got)
	}
}
