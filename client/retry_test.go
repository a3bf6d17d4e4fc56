package client

import (
	"net/http"
	"testing"
	"time"
)

func TestBackoffCeiling(t *testing.T) {
	p := DefaultRetryPolicy
	p.Jitter = func(d time.Duration) time.Duration { return d }

	want := []time.Duration{
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		1600 * time.Millisecond,
		3 * time.Second,
		3 * time.Second,
	}
	for attempt, w := range want {
		if got := p.Backoff(attempt); got != w {
			t.Errorf("Backoff(%d) = %v, want %v", attempt, got, w)
		}
	}
}

func TestFullJitterBounds(t *testing.T) {
	p := DefaultRetryPolicy
	for i := 0; i < 100; i++ {
		d := p.Backoff(3)
		if d <= 0 || d > 1600*time.Millisecond {
			t.Fatalf("jittered delay %v out of (0, 1.6s]", d)
		}
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		in     string
		want   time.Duration
		wantOK bool
	}{
		{"", 0, false},
		{"5", 5 * time.Second, true},
		{"-1", 0, false},
		{now.Add(10 * time.Second).Format(http.TimeFormat), 10 * time.Second, true},
		{now.Add(-time.Minute).Format(http.TimeFormat), 0, true},
		{"soon", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseRetryAfter(tt.in, now)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("parseRetryAfter(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestClampRetryAfter(t *testing.T) {
	p := DefaultRetryPolicy.withDefaults()
	if got := p.clampRetryAfter(time.Hour); got != maxRetryAfter {
		t.Errorf("clamp = %v, want %v", got, maxRetryAfter)
	}
}

func TestRetryableStatus(t *testing.T) {
	tests := map[int]bool{
		http.StatusOK:                  false,
		http.StatusNotFound:            false,
		http.StatusForbidden:           false,
		http.StatusTooManyRequests:     true,
		http.StatusInternalServerError: true,
		http.StatusServiceUnavailable:  true,
	}
	for code, want := range tests {
		if got := retryableStatus(code); got != want {
			t.Errorf("retryableStatus(%d) = %v, want %v", code, got, want)
		}
	}
}
