package transport

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vietddude/anchorgate/internal/resilience/classify"
)

// Reset values at or above this are unix timestamps, below it they are
// seconds from now.
const unixResetThreshold = 1_000_000_000

// Delays parsed from headers are capped at a year.
const maxHintSeconds = 365 * 24 * 60 * 60

// ParseRateLimitHeaders extracts throttling hints from a response. It returns
// nil when none of the recognized headers are present.
//
// Recognized: Retry-After (delta seconds or HTTP-date), X-RateLimit-Limit,
// X-RateLimit-Remaining, X-RateLimit-Reset and X-RateLimit-Window.
func ParseRateLimitHeaders(h http.Header, now time.Time) *classify.RateLimitInfo {
	info := &classify.RateLimitInfo{}
	found := false

	if v := strings.TrimSpace(h.Get("Retry-After")); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil && secs >= 0 {
			info.RetryAfter = time.Duration(min(secs, maxHintSeconds) * float64(time.Second))
			found = true
		} else if at, err := http.ParseTime(v); err == nil {
			if d := at.Sub(now); d > 0 {
				info.RetryAfter = d
			}
			found = true
		}
	}

	if n, ok := headerInt(h, "X-RateLimit-Limit"); ok {
		info.Limit = &n
		found = true
	}
	if n, ok := headerInt(h, "X-RateLimit-Remaining"); ok {
		info.Remaining = &n
		found = true
	}
	if n, ok := headerInt(h, "X-RateLimit-Reset"); ok {
		if n >= unixResetThreshold {
			info.ResetAt = time.Unix(int64(n), 0)
		} else {
			info.ResetAt = now.Add(time.Duration(n) * time.Second)
		}
		found = true
	}
	if n, ok := headerInt(h, "X-RateLimit-Window"); ok {
		info.Window = time.Duration(min(n, maxHintSeconds)) * time.Second
		found = true
	}

	if !found {
		return nil
	}

	// Without an explicit Retry-After, an exhausted quota waits for the reset.
	if info.RetryAfter == 0 && info.Remaining != nil && *info.Remaining == 0 && !info.ResetAt.IsZero() {
		if d := info.ResetAt.Sub(now); d > 0 {
			info.RetryAfter = d
		}
	}
	return info
}

func headerInt(h http.Header, name string) (int, bool) {
	v := strings.TrimSpace(h.Get(name))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
