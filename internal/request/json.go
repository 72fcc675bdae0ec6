package request

import (
	"encoding/json"
	"fmt"

	"tweetstream/internal/timeline"
)

// wire is the tagged JSON form shared by all variants. max_tweets is always
// written so that null (unbounded) survives a round trip.
type wire struct {
	Type      Kind                  `json:"type"`
	Query     string                `json:"query,omitempty"`
	Since     *Date                 `json:"since,omitempty"`
	Until     *Date                 `json:"until,omitempty"`
	Filter    timeline.SearchFilter `json:"filter,omitempty"`
	Lang      string                `json:"lang,omitempty"`
	TweetID   string                `json:"tweet_id,omitempty"`
	MaxTweets *int                  `json:"max_tweets"`
	BatchSize int                   `json:"batch_size"`
}

// Marshal encodes r as a tagged JSON object.
func Marshal(r Request) ([]byte, error) {
	var w wire
	switch v := r.(type) {
	case Search:
		filter, err := timeline.ParseSearchFilter(string(v.Filter))
		if err != nil {
			return nil, err
		}
		w = wire{Type: KindSearch, Query: v.Query, Filter: filter, Lang: v.Lang, MaxTweets: v.MaxTweets, BatchSize: v.BatchSize}
		if !v.Since.IsZero() {
			w.Since = &v.Since
		}
		if !v.Until.IsZero() {
			w.Until = &v.Until
		}
	case Replies:
		w = wire{Type: KindReplies, TweetID: v.TweetID, MaxTweets: v.MaxTweets, BatchSize: v.BatchSize}
	case Thread:
		w = wire{Type: KindThread, TweetID: v.TweetID, MaxTweets: v.MaxTweets, BatchSize: v.BatchSize}
	default:
		return nil, fmt.Errorf("marshal request: unsupported type %T", r)
	}
	return json.Marshal(w)
}

// Unmarshal decodes a tagged JSON object. A missing max_tweets means the
// default cap; an explicit null means unbounded. A missing batch_size means
// the default page size.
func Unmarshal(b []byte) (Request, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	var w wire
	if err := json.Unmarshal(b, &w); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	if _, ok := fields["max_tweets"]; !ok {
		w.MaxTweets = Max(timeline.DefaultMaxTweets)
	}
	if _, ok := fields["batch_size"]; !ok {
		w.BatchSize = timeline.DefaultBatchSize
	}

	var r Request
	switch w.Type {
	case KindSearch:
		s := Search{Query: w.Query, Filter: w.Filter, Lang: w.Lang, MaxTweets: w.MaxTweets, BatchSize: w.BatchSize}
		if f, err := timeline.ParseSearchFilter(string(w.Filter)); err == nil {
			s.Filter = f
		}
		if w.Since != nil {
			s.Since = *w.Since
		}
		if w.Until != nil {
			s.Until = *w.Until
		}
		r = s
	case KindReplies:
		r = Replies{TweetID: w.TweetID, MaxTweets: w.MaxTweets, BatchSize: w.BatchSize}
	case KindThread:
		r = Thread{TweetID: w.TweetID, MaxTweets: w.MaxTweets, BatchSize: w.BatchSize}
	default:
		return nil, fmt.Errorf("decode request: unknown type %q", w.Type)
	}
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	return r, nil
}
