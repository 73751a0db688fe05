// Package httpx holds retry helpers shared by outbound clients and the
// background loops that reconnect to Temporal, Redis and source systems.
package httpx

import (
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// HTTPStatusCoder is implemented by errors that carry an upstream status.
type HTTPStatusCoder interface {
	HTTPStatusCode() int
}

// IsRetryableHTTPStatus is true for request timeout, rate limiting and 5xx.
func IsRetryableHTTPStatus(code int) bool {
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return true
	default:
		return code >= 500 && code < 600
	}
}

// IsRetryableError reports whether an outbound call is worth repeating.
// Caller cancellation is never retryable; deadlines on a single attempt are.
func IsRetryableError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var sc HTTPStatusCoder
	if errors.As(err, &sc) {
		return IsRetryableHTTPStatus(sc.HTTPStatusCode())
	}
	return false
}

// RetryAfterDuration honours a Retry-After header in either delta-seconds or
// HTTP-date form, falling back to fallback. The result never exceeds max
// when max is positive.
func RetryAfterDuration(resp *http.Response, fallback, max time.Duration) time.Duration {
	d := fallback
	if resp != nil {
		if v := strings.TrimSpace(resp.Header.Get("Retry-After")); v != "" {
			if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
				d = time.Duration(secs) * time.Second
			} else if at, err := http.ParseTime(v); err == nil {
				if until := time.Until(at); until > 0 {
					d = until
				}
			}
		}
	}
	if max > 0 && d > max {
		return max
	}
	return d
}

// Backoff returns base*2^(attempt-1) capped at max, with +/-20% jitter.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt && (max <= 0 || d < max); i++ {
		d <<= 1
	}
	if max > 0 && d > max {
		d = max
	}
	return JitterSleep(d)
}

// JitterSleep spreads d uniformly over [0.8d, 1.2d].
func JitterSleep(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	spread := int64(d) / 5
	if spread <= 0 {
		return d
	}
	return time.Duration(int64(d) - spread + rand.Int64N(2*spread+1))
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
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
