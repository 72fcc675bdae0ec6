package timeline

import (
	"errors"
	"fmt"
	"net/http"
)

// ProtocolDriftError means the platform's markup, script or payload no longer
// matches what the crawler expects. It is never retried.
type ProtocolDriftError struct {
	What string
	URL  string
}

func (e *ProtocolDriftError) Error() string {
	if e.URL == "" {
		return "protocol drift: " + e.What
	}
	return fmt.Sprintf("protocol drift: %s (%s)", e.What, e.URL)
}

// UnexpectedStatusError is returned for any HTTP status other than the wanted one.
type UnexpectedStatusError struct {
	URL  string
	Got  int
	Want int
}

func (e *UnexpectedStatusError) Error() string {
	return fmt.Sprintf("unexpected status from %s: got %d, want %d", e.URL, e.Got, e.Want)
}

// RateLimited reports whether the status was 429.
func (e *UnexpectedStatusError) RateLimited() bool { return e.Got == http.StatusTooManyRequests }

// RateLimitError is returned once consecutive rate limits exhaust the
// re-bootstrap budget.
type RateLimitError struct {
	Attempts int
	Err      error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited %d consecutive times: %v", e.Attempts, e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// ClassificationError is raised for a timeline entry whose identifier prefix
// is unknown. Skipping such entries silently undercounts results.
type ClassificationError struct {
	Timeline string
	EntryID  string
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("%s timeline: unrecognized entry %q", e.Timeline, e.EntryID)
}

// CrawlDelayError means the robots policy could not provide a crawl delay.
// It is a configuration error and is not retried.
type CrawlDelayError struct {
	URL string
	Err error
}

func (e *CrawlDelayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("crawl delay from %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("crawl delay from %s: no crawl-delay directive", e.URL)
}

func (e *CrawlDelayError) Unwrap() error { return e.Err }

// IsRateLimited reports whether err carries a 429 status.
func IsRateLimited(err error) bool {
	var se *UnexpectedStatusError
	return errors.As(err, &se) && se.RateLimited()
}
