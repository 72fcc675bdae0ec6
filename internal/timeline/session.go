package timeline

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"regexp"

	"github.com/PuerkitoBio/goquery"

	"tweetstream/internal/logging"
	"tweetstream/internal/metrics"
)

var (
	mainScriptPattern = regexp.MustCompile(`main\.[0-9a-zA-Z]+\.js$`)
	guestTokenPattern = regexp.MustCompile(`decodeURIComponent\("gt=([0-9]+);`)
	bearerPattern     = regexp.MustCompile(`"(AAAAAAAAAAAAAAAAAAAAA[A-Za-z0-9%]+)"`)
)

// Session is the anonymous credential pair scraped from the web client.
type Session struct {
	UserAgent   string
	GuestToken  string
	BearerToken string
}

// Apply sets the headers the internal API expects.
func (s Session) Apply(req *http.Request) {
	req.Header.Set("User-Agent", s.UserAgent)
	req.Header.Set("Authorization", "Bearer "+s.BearerToken)
	req.Header.Set("x-guest-token", s.GuestToken)
	req.Header.Set("Cookie", "gt="+s.GuestToken)
}

// bootstrap loads the landing page of tl and derives a fresh session from it:
// the guest token from an inline script and the bearer token from the main
// client bundle the page references.
func (r *Retriever) bootstrap(ctx context.Context, tl Timeline) (Session, error) {
	metrics.Bootstraps.Inc()
	s := Session{UserAgent: r.userAgent()}
	landing := tl.LandingRequest(r.endpoints)
	body, err := r.fetcher.get(ctx, landing, func(req *http.Request) {
		req.Header.Set("User-Agent", s.UserAgent)
	})
	if err != nil {
		return Session{}, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Session{}, &ProtocolDriftError{What: "unparseable landing page", URL: landing.URL}
	}
	var scriptURL string
	doc.Find("script[src]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		src, _ := sel.Attr("src")
		if mainScriptPattern.MatchString(src) {
			scriptURL = src
			return false
		}
		return true
	})
	if scriptURL == "" {
		return Session{}, &ProtocolDriftError{What: "main script not referenced", URL: landing.URL}
	}
	if scriptURL, err = resolveRef(landing.URL, scriptURL); err != nil {
		return Session{}, &ProtocolDriftError{What: "bad main script reference", URL: landing.URL}
	}

	m := guestTokenPattern.FindSubmatch(body)
	if m == nil {
		return Session{}, &ProtocolDriftError{What: "guest token not found", URL: landing.URL}
	}
	s.GuestToken = string(m[1])

	script, err := r.fetcher.get(ctx, Target{URL: scriptURL}, func(req *http.Request) {
		req.Header.Set("User-Agent", s.UserAgent)
	})
	if err != nil {
		return Session{}, err
	}
	m = bearerPattern.FindSubmatch(script)
	if m == nil {
		return Session{}, &ProtocolDriftError{What: "bearer token not found", URL: scriptURL}
	}
	s.BearerToken = string(m[1])

	r.log.WithFields(logging.Fields{
		"timeline": tl.Kind(),
		"script":   scriptURL,
	}).Debug("session_bootstrapped")
	return s, nil
}

func resolveRef(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return b.ResolveReference(u).String(), nil
}
