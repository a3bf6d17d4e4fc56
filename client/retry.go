package client

import (
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 3 * time.Second
	maxRetryAfter  = 30 * time.Second
)

// RetryPolicy controls the delay between attempts.
type RetryPolicy struct {
	// Initial is the backoff ceiling for the first retry; it doubles per attempt.
	Initial time.Duration
	// Max caps the doubling.
	Max time.Duration
	// MaxRetryAfter caps a server supplied Retry-After.
	MaxRetryAfter time.Duration
	// Jitter returns a value in (0, d]; nil uses full random jitter.
	Jitter func(d time.Duration) time.Duration
}

// DefaultRetryPolicy doubles from 200ms up to 3s with full jitter and honours
// Retry-After up to 30s.
var DefaultRetryPolicy = RetryPolicy{
	Initial:       initialBackoff,
	Max:           maxBackoff,
	MaxRetryAfter: maxRetryAfter,
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.Initial <= 0 {
		p.Initial = DefaultRetryPolicy.Initial
	}
	if p.Max <= 0 {
		p.Max = DefaultRetryPolicy.Max
	}
	if p.MaxRetryAfter <= 0 {
		p.MaxRetryAfter = DefaultRetryPolicy.MaxRetryAfter
	}
	return p
}

// Backoff returns the delay before retry number attempt+1.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	ceiling := p.Initial
	for i := 0; i < attempt && ceiling < p.Max; i++ {
		ceiling *= 2
	}
	if ceiling > p.Max {
		ceiling = p.Max
	}
	if p.Jitter != nil {
		return p.Jitter(ceiling)
	}
	return fullJitter(ceiling)
}

func (p RetryPolicy) clampRetryAfter(d time.Duration) time.Duration {
	if d > p.MaxRetryAfter {
		return p.MaxRetryAfter
	}
	return d
}

func fullJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(d))) + 1
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// parseRetryAfter parses Retry-After as seconds or an HTTP date relative to now.
func parseRetryAfter(s string, now time.Time) (time.Duration, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(s); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(s); err == nil {
		d := t.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}
