package timeline

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Endpoints are the base URLs of the mobile web client and its internal API.
type Endpoints struct {
	Mobile string
	API    string
}

var DefaultEndpoints = Endpoints{
	Mobile: "https://mobile.twitter.com",
	API:    "https://api.twitter.com",
}

// RobotsURL is where the crawl delay is read from.
func (e Endpoints) RobotsURL() string { return strings.TrimRight(e.Mobile, "/") + "/robots.txt" }

// Target is a GET request: base URL plus query parameters.
type Target struct {
	URL    string
	Params url.Values
}

func (t Target) String() string {
	if len(t.Params) == 0 {
		return t.URL
	}
	return t.URL + "?" + t.Params.Encode()
}

// Timeline is one timeline type's strategy: where to bootstrap, how to page,
// and how to classify a page. The pagination loop in Stream is shared.
type Timeline interface {
	Kind() string
	LandingRequest(ep Endpoints) Target
	BatchRequest(ep Endpoints, cursor string) Target
	NewClassifier() Classifier
}

// SearchFilter selects the search result tab.
type SearchFilter string

const (
	FilterTop    SearchFilter = "top"
	FilterLatest SearchFilter = "latest"
	FilterPhotos SearchFilter = "photos"
	FilterVideos SearchFilter = "videos"
)

// ParseSearchFilter accepts the lower-case names; empty means top.
func ParseSearchFilter(s string) (SearchFilter, error) {
	switch f := SearchFilter(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FilterTop, nil
	case FilterTop, FilterLatest, FilterPhotos, FilterVideos:
		return f, nil
	default:
		return "", fmt.Errorf("unknown search filter %q", s)
	}
}

// landingParam is the "f" parameter of the search page.
func (f SearchFilter) landingParam() string {
	switch f {
	case FilterLatest:
		return "live"
	case FilterPhotos:
		return "image"
	case FilterVideos:
		return "video"
	}
	return ""
}

const dateLayout = "2006-01-02"

// Search is the advanced-search timeline. Zero Since/Until mean unbounded.
type Search struct {
	Query     string
	Since     time.Time
	Until     time.Time
	Filter    SearchFilter
	Lang      string
	BatchSize int
}

func (s Search) Kind() string { return "search" }

// QueryString is the query as typed into the search box, operators included.
func (s Search) QueryString() string {
	parts := []string{s.Query}
	if !s.Since.IsZero() {
		parts = append(parts, "since:"+s.Since.Format(dateLayout))
	}
	if !s.Until.IsZero() {
		parts = append(parts, "until:"+s.Until.Format(dateLayout))
	}
	if s.Lang != "" {
		parts = append(parts, "lang:"+s.Lang)
	}
	return strings.Join(parts, " ")
}

func (s Search) LandingRequest(ep Endpoints) Target {
	p := url.Values{}
	p.Set("q", s.QueryString())
	p.Set("src", "typed_query")
	if f := s.Filter.landingParam(); f != "" {
		p.Set("f", f)
	}
	return Target{URL: ep.Mobile + "/search", Params: p}
}

func (s Search) BatchRequest(ep Endpoints, cursor string) Target {
	p := baseBatchParams()
	p.Set("q", s.QueryString())
	p.Set("count", strconv.Itoa(s.BatchSize))
	p.Set("query_source", "typed_query")
	p.Set("pc", "1")
	p.Set("spelling_corrections", "1")
	switch s.Filter {
	case FilterLatest:
		p.Set("tweet_search_mode", "live")
	case FilterPhotos:
		p.Set("result_filter", "image")
	case FilterVideos:
		p.Set("result_filter", "video")
	}
	if cursor != "" {
		p.Set("cursor", cursor)
	}
	return Target{URL: ep.API + "/2/search/adaptive.json", Params: p}
}

func (s Search) NewClassifier() Classifier { return &searchClassifier{} }

// Replies is the timeline of direct replies to a post.
type Replies struct {
	TweetID   string
	BatchSize int
}

func (r Replies) Kind() string { return "replies" }

func (r Replies) LandingRequest(ep Endpoints) Target { return conversationLanding(ep, r.TweetID) }

func (r Replies) BatchRequest(ep Endpoints, cursor string) Target {
	return conversationBatch(ep, r.TweetID, r.BatchSize, cursor)
}

func (r Replies) NewClassifier() Classifier {
	return newConversationClassifier(modeReplies, r.TweetID)
}

// Thread is the self-thread the author of a post wrote beneath it.
type Thread struct {
	TweetID   string
	BatchSize int
}

func (t Thread) Kind() string { return "thread" }

func (t Thread) LandingRequest(ep Endpoints) Target { return conversationLanding(ep, t.TweetID) }

func (t Thread) BatchRequest(ep Endpoints, cursor string) Target {
	return conversationBatch(ep, t.TweetID, t.BatchSize, cursor)
}

func (t Thread) NewClassifier() Classifier {
	return newConversationClassifier(modeThread, t.TweetID)
}

func conversationLanding(ep Endpoints, tweetID string) Target {
	return Target{URL: ep.Mobile + "/_/status/" + url.PathEscape(tweetID)}
}

func conversationBatch(ep Endpoints, tweetID string, batchSize int, cursor string) Target {
	p := baseBatchParams()
	p.Set("count", strconv.Itoa(batchSize))
	if cursor != "" {
		p.Set("cursor", cursor)
	}
	return Target{URL: ep.API + "/2/timeline/conversation/" + url.PathEscape(tweetID) + ".json", Params: p}
}

// baseBatchParams are the fixed parameters the web client sends with every
// timeline batch request.
func baseBatchParams() url.Values {
	p := url.Values{}
	for _, kv := range [][2]string{
		{"include_profile_interstitial_type", "1"},
		{"include_blocking", "1"},
		{"include_blocked_by", "1"},
		{"include_followed_by", "1"},
		{"include_want_retweets", "1"},
		{"include_mute_edge", "1"},
		{"include_can_dm", "1"},
		{"include_can_media_tag", "1"},
		{"skip_status", "1"},
		{"cards_platform", "Web-12"},
		{"include_cards", "1"},
		{"include_composer_source", "true"},
		{"include_ext_alt_text", "true"},
		{"include_reply_count", "1"},
		{"tweet_mode", "extended"},
		{"include_entities", "true"},
		{"include_user_entities", "true"},
		{"include_ext_media_color", "true"},
		{"include_ext_media_availability", "true"},
		{"send_error_codes", "true"},
		{"simple_quoted_tweets", "true"},
		{"ext", "mediaStats,highlightedLabel,cameraMoment"},
	} {
		p.Set(kv[0], kv[1])
	}
	return p
}
