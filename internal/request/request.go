// Package request describes what to retrieve: a typed, serializable value
// that knows which timeline it maps to.
package request

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"tweetstream/internal/timeline"
	"tweetstream/internal/util"
)

// Kind tags the request variant in its JSON form.
type Kind string

const (
	KindSearch  Kind = "search"
	KindReplies Kind = "replies"
	KindThread  Kind = "thread"
)

// Request is one of Search, Replies or Thread.
type Request interface {
	Kind() Kind
	// Limit is the result cap; nil means unbounded.
	Limit() *int
	Validate() error
	Timeline() timeline.Timeline
	isRequest()
}

// Search retrieves advanced-search results.
type Search struct {
	Query     string
	Since     Date
	Until     Date
	Filter    timeline.SearchFilter
	Lang      string
	MaxTweets *int
	BatchSize int
}

// Replies retrieves the direct replies to a post.
type Replies struct {
	TweetID   string
	MaxTweets *int
	BatchSize int
}

// Thread retrieves the self-thread its author wrote beneath a post.
type Thread struct {
	TweetID   string
	MaxTweets *int
	BatchSize int
}

// NewSearch returns a Search with default limits.
func NewSearch(query string) Search {
	return Search{Query: query, Filter: timeline.FilterTop, MaxTweets: Max(timeline.DefaultMaxTweets), BatchSize: timeline.DefaultBatchSize}
}

func NewReplies(tweetID string) Replies {
	return Replies{TweetID: tweetID, MaxTweets: Max(timeline.DefaultMaxTweets), BatchSize: timeline.DefaultBatchSize}
}

func NewThread(tweetID string) Thread {
	return Thread{TweetID: tweetID, MaxTweets: Max(timeline.DefaultMaxTweets), BatchSize: timeline.DefaultBatchSize}
}

// Max returns a result cap for the MaxTweets fields.
func Max(n int) *int { return &n }

func (Search) Kind() Kind  { return KindSearch }
func (Replies) Kind() Kind { return KindReplies }
func (Thread) Kind() Kind  { return KindThread }

func (s Search) Limit() *int  { return s.MaxTweets }
func (r Replies) Limit() *int { return r.MaxTweets }
func (t Thread) Limit() *int  { return t.MaxTweets }

func (Search) isRequest()  {}
func (Replies) isRequest() {}
func (Thread) isRequest()  {}

func (s Search) Validate() error {
	if strings.TrimSpace(s.Query) == "" {
		return errors.New("search: empty query")
	}
	if !s.Since.IsZero() && !s.Until.IsZero() && !s.Since.Before(s.Until) {
		return fmt.Errorf("search: since %s is not before until %s", s.Since, s.Until)
	}
	f, err := timeline.ParseSearchFilter(string(s.Filter))
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}
	if s.Filter != "" && s.Filter != f {
		return fmt.Errorf("search: filter %q must be written %q", s.Filter, f)
	}
	return validateLimits(s.MaxTweets, s.BatchSize)
}

func (r Replies) Validate() error {
	if err := validateTweetID(r.TweetID); err != nil {
		return fmt.Errorf("replies: %w", err)
	}
	return validateLimits(r.MaxTweets, r.BatchSize)
}

func (t Thread) Validate() error {
	if err := validateTweetID(t.TweetID); err != nil {
		return fmt.Errorf("thread: %w", err)
	}
	return validateLimits(t.MaxTweets, t.BatchSize)
}

func validateLimits(max *int, batchSize int) error {
	if batchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	if max != nil && *max < 0 {
		return fmt.Errorf("max tweets must not be negative, got %d", *max)
	}
	return nil
}

func validateTweetID(id string) error {
	if id == "" {
		return errors.New("empty tweet id")
	}
	for _, c := range id {
		if c < '0' || c > '9' {
			return fmt.Errorf("tweet id %q is not numeric", id)
		}
	}
	return nil
}

func (s Search) Timeline() timeline.Timeline {
	return timeline.Search{
		Query:     util.NormalizeWhitespace(s.Query),
		Since:     s.Since.Time(),
		Until:     s.Until.Time(),
		Filter:    s.Filter,
		Lang:      s.Lang,
		BatchSize: s.BatchSize,
	}
}

func (r Replies) Timeline() timeline.Timeline {
	return timeline.Replies{TweetID: r.TweetID, BatchSize: r.BatchSize}
}

func (t Thread) Timeline() timeline.Timeline {
	return timeline.Thread{TweetID: t.TweetID, BatchSize: t.BatchSize}
}

// NewStream starts a lazy stream of the posts r describes.
func NewStream(r Request, ret *timeline.Retriever) *timeline.Stream {
	return ret.Stream(r.Timeline(), r.Limit())
}

// Equal reports whether a and b describe the same retrieval. Requests are
// compared by their canonical JSON form.
func Equal(a, b Request) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ja, errA := Marshal(a)
	jb, errB := Marshal(b)
	return errA == nil && errB == nil && bytes.Equal(ja, jb)
}

// Date is a calendar day; the zero value means unset.
type Date struct{ t time.Time }

const dateLayout = "2006-01-02"

func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate accepts YYYY-MM-DD.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return Date{t: t}, nil
}

func (d Date) Time() time.Time    { return d.t }
func (d Date) IsZero() bool       { return d.t.IsZero() }
func (d Date) Before(o Date) bool { return d.t.Before(o.t) }
func (d Date) String() string     { return d.t.Format(dateLayout) }

func (d Date) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Date) UnmarshalText(b []byte) error {
	p, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = p
	return nil
}
