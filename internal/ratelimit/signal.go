// Package ratelimit turns provider throttling into waits and retries.
package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Header names consulted for throttling hints, in priority order.
const (
	HeaderInputTokensReset = "anthropic-ratelimit-input-tokens-reset"
	HeaderTokensReset      = "anthropic-ratelimit-tokens-reset"
	HeaderRetryAfter       = "retry-after"
)

// DefaultFudge is added to every wait so the retry lands after the window reopens.
const DefaultFudge = 500 * time.Millisecond

const (
	maxDuration = time.Duration(math.MaxInt64)
	minDuration = time.Duration(math.MinInt64)
	// maxSeconds is the largest whole number of seconds a Duration holds.
	maxSeconds = float64(math.MaxInt64 / int64(time.Second))
)

// Signal is the throttling hint extracted from one response.
type Signal struct {
	ResetAt    *time.Time
	RetryAfter *time.Duration
}

// SignalFromHeader reads the reset timestamp headers, falling back to retry-after
// (delta seconds or an HTTP date). Non-finite retry-after values are ignored and
// out-of-range ones saturate.
func SignalFromHeader(h http.Header) Signal {
	var s Signal
	for _, name := range []string{HeaderInputTokensReset, HeaderTokensReset} {
		raw := strings.TrimSpace(h.Get(name))
		if raw == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			s.ResetAt = &t
			return s
		}
	}

	raw := strings.TrimSpace(h.Get(HeaderRetryAfter))
	if raw == "" {
		return s
	}
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		if math.IsNaN(secs) || math.IsInf(secs, 0) {
			return s
		}
		d := secondsToDuration(secs)
		s.RetryAfter = &d
		return s
	}
	if t, err := http.ParseTime(raw); err == nil {
		s.ResetAt = &t
	}
	return s
}

// Wait computes how long to sleep before retrying: the time until the reset instant (or the
// retry-after delay) plus fudge, clamped at zero and rounded up to the millisecond.
func (s Signal) Wait(now time.Time, fudge time.Duration) time.Duration {
	var d time.Duration
	switch {
	case s.ResetAt != nil:
		d = addSaturating(s.ResetAt.Sub(now), fudge)
	case s.RetryAfter != nil:
		d = addSaturating(*s.RetryAfter, fudge)
	default:
		d = fudge
	}
	return ceilMillis(d)
}

func secondsToDuration(secs float64) time.Duration {
	switch {
	case secs >= maxSeconds:
		return maxDuration
	case secs <= -maxSeconds:
		return minDuration
	}
	return time.Duration(secs * float64(time.Second))
}

func addSaturating(a, b time.Duration) time.Duration {
	switch {
	case b > 0 && a > maxDuration-b:
		return maxDuration
	case b < 0 && a < minDuration-b:
		return minDuration
	}
	return a + b
}

func ceilMillis(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	if d > maxDuration-time.Millisecond {
		return d / time.Millisecond * time.Millisecond
	}
	return (d + time.Millisecond - 1) / time.Millisecond * time.Millisecond
}
