package xclient

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

const (
	rateLimitCode        = 88
	defaultRateLimitWait = time.Minute
)

// newLimiter paces requests; non-positive rates fall back to one per second.
func newLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		rps = 1
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// RateLimitedError signals that the lookup window is exhausted until Reset.
type RateLimitedError struct {
	Reset time.Time
}

func (e *RateLimitedError) Error() string {
	if e.Reset.IsZero() {
		return "lookup: rate limited"
	}
	return fmt.Sprintf("lookup: rate limited until %s", e.Reset.UTC().Format(time.RFC3339))
}

// Wait is how long to sleep from now before the window reopens.
func (e *RateLimitedError) Wait(now time.Time) time.Duration {
	if e.Reset.IsZero() {
		return defaultRateLimitWait
	}
	d := e.Reset.Sub(now) + time.Second
	if d < time.Second {
		d = time.Second
	}
	return d
}

func rateLimitedFrom(h http.Header) *RateLimitedError {
	if v := h.Get("x-rate-limit-reset"); v != "" {
		if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
			return &RateLimitedError{Reset: time.Unix(secs, 0)}
		}
	}
	return &RateLimitedError{}
}

// hasRateLimitCode detects the error-body form of a rate limit, which the
// API sometimes sends with a non-429 status.
func hasRateLimitCode(body []byte) bool {
	var e struct {
		Errors []struct {
			Code int `json:"code"`
		} `json:"errors"`
	}
	if json.Unmarshal(body, &e) != nil {
		return false
	}
	for _, x := range e.Errors {
		if x.Code == rateLimitCode {
			return true
		}
	}
	return false
}
