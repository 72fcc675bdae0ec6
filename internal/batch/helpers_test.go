package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"tweetstream/internal/logging"
	"tweetstream/internal/model"
	"tweetstream/internal/request"
	"tweetstream/internal/timeline"
)

const testBearer = "AAAAAAAAAAAAAAAAAAAAANRILgAAAAAAnNwIzUejRCOuH5E6I8xnZz4puTs%3D1Zv7ttfk8LF81IUq16cHjhLTvJu4FA33AGWWjCpTnA"

// searchPlatform answers every search query from a fixed table, keyed by the
// query's first word, in a single page. Unknown words get a 404.
type searchPlatform struct {
	mu      sync.Mutex
	results map[string][]string
	queries []string
}

func (p *searchPlatform) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/search":
		fmt.Fprint(w, `<html><head><script src="/static/main.a1b2c3.js"></script></head><body>`+
			`<script>document.cookie = decodeURIComponent("gt=1234567; Max-Age=10800; Path=/");</script></body></html>`)
	case "/static/main.a1b2c3.js":
		fmt.Fprintf(w, `var e={};e.token="%s";`, testBearer)
	case "/2/search/adaptive.json":
		word := strings.Fields(r.URL.Query().Get("q"))[0]
		p.mu.Lock()
		p.queries = append(p.queries, word)
		ids, ok := p.results[word]
		p.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(searchPage(ids))
	default:
		http.NotFound(w, r)
	}
}

func (p *searchPlatform) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queries)
}

func (p *searchPlatform) set(word string, ids ...string) {
	p.mu.Lock()
	p.results[word] = ids
	p.mu.Unlock()
}

func searchPage(ids []string) []byte {
	tweets := map[string]any{}
	var entries []any
	for _, id := range ids {
		tweets[id] = map[string]any{"id_str": id, "full_text": "post " + id, "user_id_str": "10"}
		entries = append(entries, map[string]any{
			"entryId": "sq-I-t-" + id,
			"content": map[string]any{"item": map[string]any{"content": map[string]any{"tweet": map[string]any{"id": id}}}},
		})
	}
	doc := map[string]any{
		"globalObjects": map[string]any{
			"tweets": tweets,
			"users":  map[string]any{"10": map[string]any{"id_str": "10", "screen_name": "ten"}},
		},
		"timeline": map[string]any{"instructions": []any{map[string]any{"addEntries": map[string]any{"entries": entries}}}},
	}
	b, _ := json.Marshal(doc)
	return b
}

func newSearchPlatform(t *testing.T, results map[string][]string) (*searchPlatform, *timeline.Retriever) {
	t.Helper()
	p := &searchPlatform{results: results}
	srv := httptest.NewServer(p)
	t.Cleanup(srv.Close)
	ret := timeline.NewRetriever(srv.Client(),
		timeline.WithEndpoints(timeline.Endpoints{Mobile: srv.URL, API: srv.URL}),
		timeline.WithUserAgent("tweetstream-test"),
		timeline.WithTransportRetries(0),
		timeline.WithLogger(quietLogger()),
	)
	return p, ret
}

func quietLogger() logging.Logger { return logging.NewLogger(io.Discard, "error") }

func searchEntry(t *testing.T, id, query string) JobEntry {
	t.Helper()
	s := request.NewSearch(query)
	if err := s.Validate(); err != nil {
		t.Fatal(err)
	}
	return JobEntry{ID: id, Request: s}
}

func tweetsOf(t *testing.T, ids ...string) []model.Tweet {
	t.Helper()
	out := make([]model.Tweet, len(ids))
	for i, id := range ids {
		tw, err := model.ParseTweet([]byte(fmt.Sprintf(`{"id_str":%q,"full_text":"post %s"}`, id, id)))
		if err != nil {
			t.Fatal(err)
		}
		out[i] = tw
	}
	return out
}

// fakeLookup serves posts for every id except the missing ones and records
// each chunk it was asked for.
type fakeLookup struct {
	mu      sync.Mutex
	missing map[string]bool
	chunks  [][]string
}

func (f *fakeLookup) Lookup(_ context.Context, ids []string) (map[string]model.Tweet, error) {
	f.mu.Lock()
	f.chunks = append(f.chunks, append([]string(nil), ids...))
	f.mu.Unlock()
	out := map[string]model.Tweet{}
	for _, id := range ids {
		if f.missing[id] {
			continue
		}
		tw, err := model.ParseTweet([]byte(fmt.Sprintf(`{"id_str":%q,"full_text":"rehydrated %s"}`, id, id)))
		if err != nil {
			return nil, err
		}
		out[id] = tw
	}
	return out, nil
}

type failingLookup struct{}

func (failingLookup) Lookup(context.Context, []string) (map[string]model.Tweet, error) {
	return nil, fmt.Errorf("lookup unavailable")
}
