package timeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

const maxResponseBytes = 32 << 20

// fetcher issues single GET requests behind the crawl-delay gate. Transport
// failures and 5xx responses are retried by the policy; every other status,
// 429 included, is returned to the caller as an UnexpectedStatusError.
type fetcher struct {
	client   *http.Client
	gate     *CrawlDelay
	executor failsafe.Executor[[]byte]
}

func newFetcher(client *http.Client, gate *CrawlDelay, retries int, backoff time.Duration) *fetcher {
	if retries < 0 {
		retries = 0
	}
	if backoff <= 0 {
		backoff = time.Millisecond
	}
	policy := retrypolicy.NewBuilder[[]byte]().
		HandleIf(func(_ []byte, err error) bool { return retryable(err) }).
		WithBackoff(backoff, 30*backoff).
		WithJitterFactor(0.1).
		WithMaxRetries(retries).
		ReturnLastFailure().
		Build()
	return &fetcher{client: client, gate: gate, executor: failsafe.With[[]byte](policy)}
}

func retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *UnexpectedStatusError
	if errors.As(err, &se) {
		return se.Got >= 500
	}
	var drift *ProtocolDriftError
	var cd *CrawlDelayError
	return !errors.As(err, &drift) && !errors.As(err, &cd)
}

// get waits out the crawl delay, then fetches t and returns the body of a
// 200 response. prepare sets per-request headers.
func (f *fetcher) get(ctx context.Context, t Target, prepare func(*http.Request)) ([]byte, error) {
	return f.executor.WithContext(ctx).Get(func() ([]byte, error) {
		if err := f.gate.Wait(ctx); err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.String(), nil)
		if err != nil {
			return nil, err
		}
		if prepare != nil {
			prepare(req)
		}
		resp, err := f.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("get %s: %w", t.URL, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
			return nil, &UnexpectedStatusError{URL: t.URL, Got: resp.StatusCode, Want: http.StatusOK}
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", t.URL, err)
		}
		return body, nil
	})
}
