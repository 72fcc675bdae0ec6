package timeline

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/corpix/uarand"

	"tweetstream/internal/logging"
	"tweetstream/internal/metrics"
	"tweetstream/internal/model"
)

const (
	// DefaultMaxTweets caps a stream when the caller gives no limit.
	DefaultMaxTweets = 100
	// DefaultBatchSize is the page-size hint sent with batch requests.
	DefaultBatchSize = 20

	maxEmptyPages       = 3
	maxRateLimitRetries = 3
)

// Retriever builds streams over internal timelines. It is safe for
// concurrent use; each Stream it returns is not.
type Retriever struct {
	client           *http.Client
	endpoints        Endpoints
	gate             *CrawlDelay
	agent            string
	transportRetries int
	backoff          time.Duration
	log              logging.Logger
	fetcher          *fetcher
}

type Option func(*Retriever)

// WithCrawlDelay shares a process-wide crawl-delay gate. Without one no
// delay is observed.
func WithCrawlDelay(g *CrawlDelay) Option { return func(r *Retriever) { r.gate = g } }

func WithEndpoints(ep Endpoints) Option { return func(r *Retriever) { r.endpoints = ep } }

// WithUserAgent pins the user agent; by default each session picks a random one.
func WithUserAgent(ua string) Option { return func(r *Retriever) { r.agent = ua } }

// WithTransportRetries bounds retries of network errors and 5xx responses.
func WithTransportRetries(n int) Option { return func(r *Retriever) { r.transportRetries = n } }

func WithLogger(l logging.Logger) Option { return func(r *Retriever) { r.log = l } }

func withBackoff(d time.Duration) Option { return func(r *Retriever) { r.backoff = d } }

func NewRetriever(client *http.Client, opts ...Option) *Retriever {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	r := &Retriever{
		client:           client,
		endpoints:        DefaultEndpoints,
		transportRetries: 3,
		backoff:          time.Second,
	}
	for _, o := range opts {
		o(r)
	}
	r.log = logging.OrDefault(r.log)
	r.fetcher = newFetcher(r.client, r.gate, r.transportRetries, r.backoff)
	return r
}

func (r *Retriever) userAgent() string {
	if r.agent != "" {
		return r.agent
	}
	return uarand.GetRandom()
}

// Stream starts a lazy pull over tl. A nil maxTweets means unbounded.
// Nothing is fetched until the first call to Next.
func (r *Retriever) Stream(tl Timeline, maxTweets *int) *Stream {
	return &Stream{r: r, tl: tl, max: maxTweets, classifier: tl.NewClassifier()}
}

// PageFunc observes every classified page: the cursor it was fetched with,
// the cursor it returned and the number of posts it held.
type PageFunc func(cursor, next string, posts int)

// Stream is the pagination state machine over one timeline. Posts come
// back in platform order; duplicates across pages are passed through.
type Stream struct {
	r          *Retriever
	tl         Timeline
	max        *int
	classifier Classifier

	session    *Session
	cursor     string
	buf        []model.Tweet
	yielded    int
	emptyPages int
	pages      int
	done       bool
	err        error

	onPage PageFunc
}

// OnPage registers fn to observe each page. Call before the first Next.
func (s *Stream) OnPage(fn PageFunc) { s.onPage = fn }

// Tombstones is the number of deleted or withheld placeholders seen so far.
func (s *Stream) Tombstones() int { return s.classifier.Tombstones() }

// Next returns the next post, or io.EOF once the stream ended. Errors are
// sticky.
func (s *Stream) Next(ctx context.Context) (model.Tweet, error) {
	for {
		if s.err != nil {
			return model.Tweet{}, s.err
		}
		if s.max != nil && s.yielded >= *s.max {
			return model.Tweet{}, io.EOF
		}
		if len(s.buf) > 0 {
			t := s.buf[0]
			s.buf = s.buf[1:]
			s.yielded++
			metrics.TweetsYielded.WithLabelValues(s.tl.Kind()).Inc()
			return t, nil
		}
		if s.done {
			return model.Tweet{}, io.EOF
		}
		if err := s.fetchPage(ctx); err != nil {
			s.err = err
			return model.Tweet{}, err
		}
	}
}

// All drains the stream.
func (s *Stream) All(ctx context.Context) ([]model.Tweet, error) {
	var out []model.Tweet
	for {
		t, err := s.Next(ctx)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, t)
	}
}

// fetchPage fetches and classifies one page. A 429 from the landing page,
// the client script or the batch endpoint drops the session and counts
// toward the same consecutive rate-limit budget.
func (s *Stream) fetchPage(ctx context.Context) error {
	var body []byte
	for limited := 0; ; {
		var err error
		if s.session == nil {
			var sess Session
			if sess, err = s.r.bootstrap(ctx, s.tl); err == nil {
				s.session = &sess
			}
		}
		if err == nil {
			body, err = s.r.fetcher.get(ctx, s.tl.BatchRequest(s.r.endpoints, s.cursor), s.session.Apply)
			if err == nil {
				break
			}
		}
		if !IsRateLimited(err) {
			return err
		}
		limited++
		metrics.IncRateLimit(s.tl.Kind())
		if limited > maxRateLimitRetries {
			return &RateLimitError{Attempts: limited, Err: err}
		}
		s.r.log.WithFields(logging.Fields{
			"timeline": s.tl.Kind(),
			"attempt":  limited,
		}).Warn("rate_limited_rebootstrap")
		s.session = nil
	}

	page, err := ParsePage(body)
	if err != nil {
		return err
	}
	ids, next, err := s.classifier.Classify(page)
	if err != nil {
		return err
	}
	s.pages++
	metrics.PagesFetched.WithLabelValues(s.tl.Kind()).Inc()
	for _, id := range ids {
		t, err := page.Tweet(id)
		if err != nil {
			return err
		}
		s.buf = append(s.buf, t)
	}
	if s.onPage != nil {
		s.onPage(s.cursor, next, len(ids))
	}

	if len(ids) == 0 {
		s.emptyPages++
	} else {
		s.emptyPages = 0
	}
	switch {
	case next == "":
		s.done = true
	case s.emptyPages >= maxEmptyPages:
		s.r.log.WithFields(logging.Fields{"timeline": s.tl.Kind(), "pages": s.pages}).Debug("stream_empty_pages")
		s.done = true
	}
	s.cursor = next
	return nil
}
