package timeline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const maxRobotsBytes = 512 << 10

type ignoreCrawlDelayKey struct{}

// WithoutCrawlDelay marks every request made under ctx as exempt from the
// crawl-delay sleep.
func WithoutCrawlDelay(ctx context.Context) context.Context {
	return context.WithValue(ctx, ignoreCrawlDelayKey{}, true)
}

// CrawlDelayIgnored reports whether ctx was marked by WithoutCrawlDelay.
func CrawlDelayIgnored(ctx context.Context) bool {
	v, _ := ctx.Value(ignoreCrawlDelayKey{}).(bool)
	return v
}

// CrawlDelay holds the crawl delay advertised by the site's robots policy.
// One instance is shared by every retriever in the process; the delay is
// fetched on first use and never refreshed.
type CrawlDelay struct {
	client    *http.Client
	robotsURL string
	agent     string

	loaded atomic.Bool
	mu     sync.Mutex
	delay  time.Duration

	// next is the earliest time the following request may go out.
	slotMu sync.Mutex
	next   time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewCrawlDelay creates the gate. agent is the user-agent token matched
// against robots groups; the "*" group is used when no group matches.
func NewCrawlDelay(client *http.Client, robotsURL, agent string) *CrawlDelay {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &CrawlDelay{
		client:    client,
		robotsURL: robotsURL,
		agent:     agent,
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

// Delay returns the cached crawl delay, fetching the robots policy on first call.
func (g *CrawlDelay) Delay(ctx context.Context) (time.Duration, error) {
	if g.loaded.Load() {
		return g.delay, nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.loaded.Load() {
		return g.delay, nil
	}
	d, err := g.fetch(ctx)
	if err != nil {
		return 0, err
	}
	g.delay = d
	g.loaded.Store(true)
	return d, nil
}

// Wait sleeps for the crawl delay unless ctx is marked by WithoutCrawlDelay.
// Concurrent callers are spaced one delay apart, so the process as a whole
// sends at most one request per crawl-delay window.
func (g *CrawlDelay) Wait(ctx context.Context) error {
	if g == nil || CrawlDelayIgnored(ctx) {
		return nil
	}
	d, err := g.Delay(ctx)
	if err != nil {
		return err
	}
	return g.sleep(ctx, g.reserve(d))
}

// reserve claims the next request slot and returns how long to sleep for it.
func (g *CrawlDelay) reserve(d time.Duration) time.Duration {
	g.slotMu.Lock()
	defer g.slotMu.Unlock()
	now := g.now()
	start := now
	if g.next.After(start) {
		start = g.next
	}
	g.next = start.Add(d)
	return g.next.Sub(now)
}

func (g *CrawlDelay) fetch(ctx context.Context) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.robotsURL, nil)
	if err != nil {
		return 0, &CrawlDelayError{URL: g.robotsURL, Err: err}
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return 0, &CrawlDelayError{URL: g.robotsURL, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, &CrawlDelayError{URL: g.robotsURL, Err: &UnexpectedStatusError{URL: g.robotsURL, Got: resp.StatusCode, Want: http.StatusOK}}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		return 0, &CrawlDelayError{URL: g.robotsURL, Err: err}
	}
	d, ok := parseCrawlDelay(string(body), g.agent)
	if !ok {
		return 0, &CrawlDelayError{URL: g.robotsURL}
	}
	return d, nil
}

// parseCrawlDelay returns the Crawl-delay for the group matching agent,
// falling back to the "*" group. Consecutive user-agent lines form one group.
func parseCrawlDelay(body, agent string) (time.Duration, bool) {
	agent = strings.ToLower(agent)
	var (
		wildcard, specific         time.Duration
		haveWildcard, haveSpecific bool
		currentAgents              []string
		lastDirective              string
	)
	for _, line := range strings.Split(body, "\n") {
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		directive := strings.ToLower(strings.TrimSpace(parts[0]))
		value := strings.TrimSpace(parts[1])
		switch directive {
		case "user-agent":
			if lastDirective == "user-agent" {
				currentAgents = append(currentAgents, strings.ToLower(value))
			} else {
				currentAgents = []string{strings.ToLower(value)}
			}
		case "crawl-delay":
			secs, err := strconv.ParseFloat(value, 64)
			if err != nil || secs < 0 || len(currentAgents) == 0 {
				break
			}
			d := time.Duration(secs * float64(time.Second))
			for _, a := range currentAgents {
				switch {
				case a == "*":
					wildcard, haveWildcard = d, true
				case agent != "" && strings.HasPrefix(agent, a):
					specific, haveSpecific = d, true
				}
			}
		}
		lastDirective = directive
	}
	if haveSpecific {
		return specific, true
	}
	return wildcard, haveWildcard
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (g *CrawlDelay) String() string {
	if !g.loaded.Load() {
		return fmt.Sprintf("CrawlDelay(%s, unloaded)", g.robotsURL)
	}
	return fmt.Sprintf("CrawlDelay(%s, %s)", g.robotsURL, g.delay)
}
