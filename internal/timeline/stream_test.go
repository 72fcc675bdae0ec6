package timeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"sort"
	"testing"
)

func TestStreamMaxTweetsZeroMakesNoRequests(t *testing.T) {
	f := &fakePlatform{page: func(int, *http.Request) (int, []byte) {
		t.Error("no batch expected")
		return 0, nil
	}}
	r := newTestRetriever(t, f)
	s := r.Stream(Search{Query: "q", BatchSize: 20}, intPtr(0))
	if _, err := s.Next(context.Background()); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
	if requests, _, _ := f.counts(); requests != 0 {
		t.Fatalf("%d requests issued", requests)
	}
}

func TestStreamPaginatesUntilCursorAbsent(t *testing.T) {
	p1 := newPage().tweet("1", "10", "").tweet("2", "11", "").
		add(tweetEntry("sq-I-t-1", "1"), tweetEntry("sq-I-t-2", "2"), cursorEntry("sq-cursor-bottom", "c1")).
		json(t)
	p2 := newPage().tweet("3", "10", "").add(tweetEntry("sq-I-t-3", "3")).json(t)
	f := &fakePlatform{page: func(n int, _ *http.Request) (int, []byte) {
		if n == 0 {
			return http.StatusOK, p1
		}
		return http.StatusOK, p2
	}}
	r := newTestRetriever(t, f)
	s := r.Stream(Search{Query: "trump", Filter: FilterLatest, Lang: "en", BatchSize: 20}, nil)
	got, err := s.All(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, tw := range got {
		ids = append(ids, tw.ID())
	}
	if want := []string{"1", "2", "3"}; !reflect.DeepEqual(ids, want) {
		t.Fatalf("ids %v, want %v", ids, want)
	}
	if u, ok := got[1].User(); !ok || u.ID != "11" {
		t.Fatalf("author not embedded: %v", got[1])
	}

	_, bootstraps, batches := f.counts()
	if bootstraps != 1 || batches != 2 {
		t.Fatalf("bootstraps=%d batches=%d", bootstraps, batches)
	}
	first, second := f.batch(0), f.batch(1)
	if first.URL.Query().Has("cursor") || second.URL.Query().Get("cursor") != "c1" {
		t.Fatalf("cursors %q then %q", first.URL.Query().Get("cursor"), second.URL.Query().Get("cursor"))
	}
	if q := first.URL.Query(); q.Get("q") != "trump lang:en" || q.Get("tweet_search_mode") != "live" || q.Get("count") != "20" {
		t.Fatalf("batch params %v", q)
	}
	if first.Header.Get("Authorization") != "Bearer "+testBearer || first.Header.Get("x-guest-token") != "100001" {
		t.Fatalf("session headers %v", first.Header)
	}
	if first.Header.Get("User-Agent") != "tweetstream-test" {
		t.Fatalf("user agent %q", first.Header.Get("User-Agent"))
	}
}

func endlessPages(t *testing.T, perPage int) func(int, *http.Request) (int, []byte) {
	return func(n int, _ *http.Request) (int, []byte) {
		b := newPage()
		for i := 0; i < perPage; i++ {
			id := fmt.Sprintf("%d%02d", n+1, i)
			b.tweet(id, "10", "").add(tweetEntry("sq-I-t-"+id, id))
		}
		b.add(cursorEntry("sq-cursor-bottom", fmt.Sprintf("c%d", n+1)))
		return http.StatusOK, b.json(t)
	}
}

func TestStreamStopsAtMaxTweets(t *testing.T) {
	f := &fakePlatform{page: endlessPages(t, 2)}
	r := newTestRetriever(t, f)
	got, err := r.Stream(Search{Query: "q", BatchSize: 2}, intPtr(3)).All(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	seen := map[string]bool{}
	for _, tw := range got {
		seen[tw.ID()] = true
	}
	if len(got) != 3 || len(seen) != 3 {
		t.Fatalf("got %d tweets, %d distinct", len(got), len(seen))
	}
	if _, _, batches := f.counts(); batches != 2 {
		t.Fatalf("%d batches, want 2", batches)
	}
}

func TestStreamStopsAfterThreeEmptyPages(t *testing.T) {
	f := &fakePlatform{page: endlessPages(t, 0)}
	r := newTestRetriever(t, f)
	got, err := r.Stream(Search{Query: "q", BatchSize: 20}, nil).All(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("got %d tweets", len(got))
	}
	if _, _, batches := f.counts(); batches != 3 {
		t.Fatalf("%d batches, want 3", batches)
	}
}

func TestStreamRebootstrapsOnRateLimit(t *testing.T) {
	first := newPage().tweet("1", "10", "").add(tweetEntry("sq-I-t-1", "1"), cursorEntry("sq-cursor-bottom", "c1")).json(t)
	last := newPage().tweet("2", "10", "").add(tweetEntry("sq-I-t-2", "2")).json(t)
	f := &fakePlatform{page: func(n int, _ *http.Request) (int, []byte) {
		switch n {
		case 0:
			return http.StatusOK, first
		case 1, 2:
			return http.StatusTooManyRequests, nil
		}
		return http.StatusOK, last
	}}
	r := newTestRetriever(t, f)
	got, err := r.Stream(Search{Query: "q", BatchSize: 20}, nil).All(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d tweets", len(got))
	}
	_, bootstraps, batches := f.counts()
	if bootstraps != 3 || batches != 4 {
		t.Fatalf("bootstraps=%d batches=%d", bootstraps, batches)
	}
	for i := 1; i < 4; i++ {
		if c := f.batch(i).URL.Query().Get("cursor"); c != "c1" {
			t.Fatalf("batch %d used cursor %q", i, c)
		}
	}
	if tok := f.batch(3).Header.Get("x-guest-token"); tok != "100003" {
		t.Fatalf("stale guest token %q after re-bootstrap", tok)
	}
}

func TestStreamCountsLandingRateLimits(t *testing.T) {
	page := newPage().tweet("1", "10", "").add(tweetEntry("sq-I-t-1", "1")).json(t)
	f := &fakePlatform{
		landing: func(n int) int {
			if n == 2 {
				return http.StatusTooManyRequests
			}
			return http.StatusOK
		},
		page: func(n int, _ *http.Request) (int, []byte) {
			if n == 0 {
				return http.StatusTooManyRequests, nil
			}
			return http.StatusOK, page
		},
	}
	r := newTestRetriever(t, f)
	got, err := r.Stream(Search{Query: "q", BatchSize: 20}, nil).All(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d tweets", len(got))
	}
	_, bootstraps, batches := f.counts()
	if bootstraps != 3 || batches != 2 {
		t.Fatalf("bootstraps=%d batches=%d", bootstraps, batches)
	}
	if tok := f.batch(1).Header.Get("x-guest-token"); tok != "100003" {
		t.Fatalf("guest token %q", tok)
	}
}

func TestStreamLandingRateLimitsExhaustBudget(t *testing.T) {
	f := &fakePlatform{
		landing: func(n int) int {
			if n > 1 {
				return http.StatusTooManyRequests
			}
			return http.StatusOK
		},
		page: func(int, *http.Request) (int, []byte) { return http.StatusTooManyRequests, nil },
	}
	r := newTestRetriever(t, f)
	_, err := r.Stream(Search{Query: "q", BatchSize: 20}, nil).All(context.Background())
	var rle *RateLimitError
	if !errors.As(err, &rle) || rle.Attempts != 4 {
		t.Fatalf("expected RateLimitError after 4 attempts, got %v", err)
	}
	if _, bootstraps, batches := f.counts(); bootstraps != 4 || batches != 1 {
		t.Fatalf("bootstraps=%d batches=%d", bootstraps, batches)
	}
}

func TestStreamRateLimitExhausted(t *testing.T) {
	f := &fakePlatform{page: func(int, *http.Request) (int, []byte) {
		return http.StatusTooManyRequests, nil
	}}
	r := newTestRetriever(t, f)
	_, err := r.Stream(Replies{TweetID: "1", BatchSize: 20}, nil).All(context.Background())
	var rle *RateLimitError
	if !errors.As(err, &rle) || rle.Attempts != 4 {
		t.Fatalf("expected RateLimitError after 4 attempts, got %v", err)
	}
	if !IsRateLimited(err) {
		t.Fatal("rate limit error should carry the 429 status")
	}
	if _, bootstraps, batches := f.counts(); bootstraps != 4 || batches != 4 {
		t.Fatalf("bootstraps=%d batches=%d", bootstraps, batches)
	}
}

func TestStreamStatusErrorsPropagate(t *testing.T) {
	f := &fakePlatform{page: func(int, *http.Request) (int, []byte) {
		return http.StatusNotFound, nil
	}}
	r := newTestRetriever(t, f, WithTransportRetries(2))
	s := r.Stream(Thread{TweetID: "1", BatchSize: 20}, nil)
	_, err := s.Next(context.Background())
	var se *UnexpectedStatusError
	if !errors.As(err, &se) || se.Got != http.StatusNotFound || se.Want != http.StatusOK {
		t.Fatalf("expected 404 status error, got %v", err)
	}
	if _, _, batches := f.counts(); batches != 1 {
		t.Fatalf("4xx must not be retried, saw %d batches", batches)
	}
	if _, again := s.Next(context.Background()); again != err {
		t.Fatal("stream errors are sticky")
	}
}

func TestStreamRetriesServerErrors(t *testing.T) {
	page := newPage().tweet("1", "10", "").add(tweetEntry("sq-I-t-1", "1")).json(t)
	f := &fakePlatform{page: func(n int, _ *http.Request) (int, []byte) {
		if n < 2 {
			return http.StatusServiceUnavailable, nil
		}
		return http.StatusOK, page
	}}
	r := newTestRetriever(t, f, WithTransportRetries(2))
	got, err := r.Stream(Search{Query: "q", BatchSize: 20}, nil).All(context.Background())
	if err != nil || len(got) != 1 {
		t.Fatalf("got %d tweets, err %v", len(got), err)
	}
	if _, bootstraps, _ := f.counts(); bootstraps != 1 {
		t.Fatalf("5xx must not re-bootstrap, saw %d", bootstraps)
	}
}

func TestStreamMissingGuestTokenIsDrift(t *testing.T) {
	f := &fakePlatform{noGuest: true, page: func(int, *http.Request) (int, []byte) {
		t.Error("no batch expected")
		return 0, nil
	}}
	r := newTestRetriever(t, f, WithTransportRetries(2))
	_, err := r.Stream(Search{Query: "q", BatchSize: 20}, nil).Next(context.Background())
	var drift *ProtocolDriftError
	if !errors.As(err, &drift) {
		t.Fatalf("expected ProtocolDriftError, got %v", err)
	}
	if _, bootstraps, _ := f.counts(); bootstraps != 1 {
		t.Fatalf("drift must not be retried, saw %d bootstraps", bootstraps)
	}
}

func TestRepliesStreamScenario(t *testing.T) {
	const focal = "1115689254271819777"
	raw := repliesFixture(t).json(t)
	f := &fakePlatform{page: func(int, *http.Request) (int, []byte) { return http.StatusOK, raw }}
	r := newTestRetriever(t, f)
	s := r.Stream(Replies{TweetID: focal, BatchSize: 20}, nil)
	got, err := s.All(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, tw := range got {
		ids = append(ids, tw.ID())
	}
	sort.Strings(ids)
	want := []string{
		"1115690002233556993",
		"1115692135808999424",
		"1115692500730171392",
		"1115903315773153280",
		"1115947355000406016",
	}
	if !reflect.DeepEqual(ids, want) {
		t.Fatalf("ids %v, want %v", ids, want)
	}
	if f.batch(0).URL.Path != "/2/timeline/conversation/"+focal+".json" {
		t.Fatalf("batch path %s", f.batch(0).URL.Path)
	}
	if s.Tombstones() != 2 {
		t.Fatalf("tombstones %d", s.Tombstones())
	}
}

func TestStreamReportsPages(t *testing.T) {
	f := &fakePlatform{page: endlessPages(t, 1)}
	r := newTestRetriever(t, f)
	s := r.Stream(Search{Query: "q", BatchSize: 1}, intPtr(2))
	var cursors []string
	s.OnPage(func(cursor, next string, posts int) {
		cursors = append(cursors, cursor+">"+next)
	})
	if _, err := s.All(context.Background()); err != nil {
		t.Fatal(err)
	}
	if want := []string{">c1", "c1>c2"}; !reflect.DeepEqual(cursors, want) {
		t.Fatalf("pages %v, want %v", cursors, want)
	}
}
