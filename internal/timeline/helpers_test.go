package timeline

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"tweetstream/internal/logging"
)

const testBearer = "AAAAAAAAAAAAAAAAAAAAANRILgAAAAAAnNwIzUejRCOuH5E6I8xnZz4puTs%3D1Zv7ttfk8LF81IUq16cHjhLTvJu4FA33AGWWjCpTnA"

// pageBuilder assembles timeline batch responses.
type pageBuilder struct {
	tweets  map[string]any
	users   map[string]any
	entries []any
}

func newPage() *pageBuilder {
	return &pageBuilder{tweets: map[string]any{}, users: map[string]any{}}
}

func (b *pageBuilder) tweet(id, userID, replyTo string) *pageBuilder {
	tw := map[string]any{
		"id_str":      id,
		"created_at":  "Tue Apr 09 19:41:54 +0000 2019",
		"full_text":   "post " + id,
		"lang":        "en",
		"user_id_str": userID,
	}
	if replyTo != "" {
		tw["in_reply_to_status_id_str"] = replyTo
	}
	b.tweets[id] = tw
	b.users[userID] = map[string]any{"id_str": userID, "screen_name": "user" + userID, "name": "User " + userID}
	return b
}

func (b *pageBuilder) add(entries ...map[string]any) *pageBuilder {
	for _, e := range entries {
		b.entries = append(b.entries, e)
	}
	return b
}

func (b *pageBuilder) json(t *testing.T) []byte {
	t.Helper()
	doc := map[string]any{
		"globalObjects": map[string]any{"tweets": b.tweets, "users": b.users},
		"timeline": map[string]any{
			"instructions": []any{
				map[string]any{"clearCache": map[string]any{}},
				map[string]any{"addEntries": map[string]any{"entries": b.entries}},
			},
		},
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func (b *pageBuilder) parse(t *testing.T) *Page {
	t.Helper()
	p, err := ParsePage(b.json(t))
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func tweetEntry(entryID, tweetID string) map[string]any {
	return map[string]any{
		"entryId": entryID,
		"content": map[string]any{"item": map[string]any{"content": map[string]any{"tweet": map[string]any{"id": tweetID}}}},
	}
}

func promotedEntry(entryID, tweetID string) map[string]any {
	return map[string]any{
		"entryId": entryID,
		"content": map[string]any{"item": map[string]any{"content": map[string]any{"tweet": map[string]any{
			"id":               tweetID,
			"promotedMetadata": map[string]any{"advertiser_id": "1"},
		}}}},
	}
}

func cursorEntry(entryID, value string) map[string]any {
	return map[string]any{
		"entryId": entryID,
		"content": map[string]any{"operation": map[string]any{"cursor": map[string]any{"value": value, "cursorType": "Bottom"}}},
	}
}

func plainEntry(entryID string) map[string]any {
	return map[string]any{"entryId": entryID, "content": map[string]any{}}
}

func moduleEntry(entryID string, items ...map[string]any) map[string]any {
	return map[string]any{
		"entryId": entryID,
		"content": map[string]any{"timelineModule": map[string]any{"items": items}},
	}
}

func moduleTweet(moduleID, tweetID string) map[string]any {
	return map[string]any{
		"entryId": moduleID + "-tweet-" + tweetID,
		"item":    map[string]any{"content": map[string]any{"tweet": map[string]any{"id": tweetID}}},
	}
}

func moduleTombstone(moduleID, id string) map[string]any {
	return map[string]any{
		"entryId": moduleID + "-tombstone-" + id,
		"item":    map[string]any{"content": map[string]any{"tombstone": map[string]any{"displayType": "Inline"}}},
	}
}

func moduleCursor(moduleID, value string) map[string]any {
	return map[string]any{
		"entryId": moduleID + "-cursor-showMore-" + value,
		"item":    map[string]any{"content": map[string]any{"timelineCursor": map[string]any{"value": value}}},
	}
}

// fakePlatform serves the landing page, client script, robots policy and
// timeline batches of the mobile web client.
type fakePlatform struct {
	mu         sync.Mutex
	robots     string
	noGuest    bool
	bootstraps int
	requests   int
	batches    []*http.Request
	// landing, when set, gives the status of the n-th landing call (1-based).
	landing func(n int) int
	// page answers the n-th batch call (0-based).
	page func(n int, r *http.Request) (int, []byte)
}

func (f *fakePlatform) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.requests++
	path := r.URL.Path
	switch {
	case path == "/robots.txt":
		robots := f.robots
		f.mu.Unlock()
		io.WriteString(w, robots)
	case path == "/search" || strings.HasPrefix(path, "/_/status/"):
		f.bootstraps++
		n := f.bootstraps
		noGuest := f.noGuest
		landing := f.landing
		f.mu.Unlock()
		if landing != nil {
			if status := landing(n); status != http.StatusOK {
				w.WriteHeader(status)
				return
			}
		}
		fmt.Fprint(w, `<html><head><script src="/static/main.a1b2c3.js"></script></head><body>`)
		if !noGuest {
			fmt.Fprintf(w, `<script>document.cookie = decodeURIComponent("gt=10000%d; Max-Age=10800; Domain=.twitter.com; Path=/; Secure");</script>`, n)
		}
		fmt.Fprint(w, `</body></html>`)
	case path == "/static/main.a1b2c3.js":
		f.mu.Unlock()
		fmt.Fprintf(w, `var e={};e.token="%s";`, testBearer)
	case path == "/2/search/adaptive.json" || strings.HasPrefix(path, "/2/timeline/conversation/"):
		n := len(f.batches)
		f.batches = append(f.batches, r.Clone(r.Context()))
		page := f.page
		f.mu.Unlock()
		status, body := page(n, r)
		w.WriteHeader(status)
		w.Write(body)
	default:
		f.mu.Unlock()
		http.NotFound(w, r)
	}
}

func (f *fakePlatform) counts() (requests, bootstraps, batches int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests, f.bootstraps, len(f.batches)
}

func (f *fakePlatform) batch(i int) *http.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.batches[i]
}

func newTestRetriever(t *testing.T, f *fakePlatform, opts ...Option) *Retriever {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	base := []Option{
		WithEndpoints(Endpoints{Mobile: srv.URL, API: srv.URL}),
		WithUserAgent("tweetstream-test"),
		WithTransportRetries(0),
		WithLogger(logging.NewLogger(io.Discard, "error")),
		withBackoff(time.Millisecond),
	}
	return NewRetriever(srv.Client(), append(base, opts...)...)
}

func intPtr(n int) *int { return &n }
