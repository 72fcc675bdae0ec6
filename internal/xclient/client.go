// Package xclient talks to the official API. Only the bulk status lookup
// used for rehydrating ID-only results is implemented.
package xclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"

	"tweetstream/internal/logging"
	"tweetstream/internal/metrics"
	"tweetstream/internal/model"
)

// MaxLookupIDs is the most IDs one lookup call accepts.
const MaxLookupIDs = 100

// Lookuper resolves post IDs to posts. IDs absent from the result are
// deleted, protected or otherwise unavailable.
type Lookuper interface {
	Lookup(ctx context.Context, ids []string) (map[string]model.Tweet, error)
}

// Credentials authorize lookup calls. Complete OAuth 1.0a user credentials
// take precedence over an app-only bearer token.
type Credentials struct {
	BearerToken    string
	ConsumerKey    string
	ConsumerSecret string
	AccessToken    string
	AccessSecret   string
}

func (c Credentials) hasOAuth1() bool {
	return c.ConsumerKey != "" && c.ConsumerSecret != "" && c.AccessToken != "" && c.AccessSecret != ""
}

// HTTPClient is the v1.1 lookup client.
type HTTPClient struct {
	baseURL     string
	bearerToken string
	signer      *oauth1
	httpClient  *http.Client
	limiter     *rate.Limiter
	maxAttempts int
	baseBackoff time.Duration
	log         logging.Logger
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

type Option func(*HTTPClient)

func WithBaseURL(u string) Option { return func(c *HTTPClient) { c.baseURL = strings.TrimRight(u, "/") } }

func WithHTTPClient(h *http.Client) Option { return func(c *HTTPClient) { c.httpClient = h } }

// WithRate paces calls at rps requests per second.
func WithRate(rps float64) Option { return func(c *HTTPClient) { c.limiter = newLimiter(rps, 1) } }

// WithMaxAttempts bounds attempts per call for failures other than rate limits.
func WithMaxAttempts(n int) Option { return func(c *HTTPClient) { c.maxAttempts = n } }

func WithBackoff(d time.Duration) Option { return func(c *HTTPClient) { c.baseBackoff = d } }

func WithLogger(l logging.Logger) Option { return func(c *HTTPClient) { c.log = l } }

func NewHTTPClient(creds Credentials, opts ...Option) (*HTTPClient, error) {
	c := &HTTPClient{
		baseURL:     "https://api.twitter.com",
		bearerToken: creds.BearerToken,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		limiter:     newLimiter(1, 1),
		maxAttempts: 3,
		baseBackoff: 2 * time.Second,
		now:         time.Now,
		sleep:       sleepCtx,
	}
	if creds.hasOAuth1() {
		c.signer = newOAuth1(creds.ConsumerKey, creds.ConsumerSecret, creds.AccessToken, creds.AccessSecret)
	} else if creds.BearerToken == "" {
		return nil, errors.New("xclient: no credentials: set a bearer token or all four OAuth 1.0a values")
	}
	for _, o := range opts {
		o(c)
	}
	if c.maxAttempts < 1 {
		c.maxAttempts = 1
	}
	c.log = logging.OrDefault(c.log)
	return c, nil
}

// StatusError is a non-200 answer that is not a rate limit.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("lookup: status %d: %s", e.Code, e.Body)
}

// Lookup resolves up to MaxLookupIDs IDs. Rate limits are waited out until
// the advertised reset; other failures are retried a bounded number of times.
func (c *HTTPClient) Lookup(ctx context.Context, ids []string) (map[string]model.Tweet, error) {
	if len(ids) == 0 {
		return map[string]model.Tweet{}, nil
	}
	if len(ids) > MaxLookupIDs {
		return nil, fmt.Errorf("lookup: %d ids exceeds the limit of %d", len(ids), MaxLookupIDs)
	}
	for {
		var out map[string]model.Tweet
		backoff := retry.WithMaxRetries(uint64(c.maxAttempts-1), retry.NewExponential(c.baseBackoff))
		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			res, err := c.lookupOnce(ctx, ids)
			if err == nil {
				out = res
				return nil
			}
			var rl *RateLimitedError
			var se *StatusError
			if errors.As(err, &rl) || (errors.As(err, &se) && se.Code < 500) || ctx.Err() != nil {
				return err
			}
			c.log.WithFields(logging.Fields{"ids": len(ids), "error": err.Error()}).Warn("lookup_retry")
			return retry.RetryableError(err)
		})
		var rl *RateLimitedError
		if !errors.As(err, &rl) {
			return out, err
		}
		metrics.IncRateLimit("lookup")
		wait := rl.Wait(c.now())
		c.log.WithFields(logging.Fields{"wait": wait.String(), "reset": rl.Reset}).Warn("lookup_rate_limited")
		if err := c.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

func (c *HTTPClient) lookupOnce(ctx context.Context, ids []string) (map[string]model.Tweet, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("id", strings.Join(ids, ","))
	q.Set("map", "true")
	q.Set("tweet_mode", "extended")
	q.Set("include_entities", "true")
	endpoint := c.baseURL + "/1.1/statuses/lookup.json"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	c.auth(req)
	metrics.LookupRequests.Inc()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusTooManyRequests || hasRateLimitCode(body) {
		return nil, rateLimitedFrom(resp.Header)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode, Body: truncate(string(body), 256)}
	}

	var raw struct {
		ID map[string]json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("lookup: decode: %w", err)
	}
	out := make(map[string]model.Tweet, len(raw.ID))
	for id, doc := range raw.ID {
		if len(doc) == 0 || string(doc) == "null" {
			continue
		}
		t, err := model.ParseTweet(doc)
		if err != nil {
			return nil, fmt.Errorf("lookup: tweet %s: %w", id, err)
		}
		out[id] = t
	}
	return out, nil
}

func (c *HTTPClient) auth(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if c.signer != nil {
		c.signer.sign(req)
		return
	}
	req.Header.Set("Authorization", "Bearer "+c.bearerToken)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
