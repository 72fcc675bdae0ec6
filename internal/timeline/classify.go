package timeline

import (
	"strings"
)

// Classifier maps one page to the ordered post IDs it contains and the cursor
// of the next page ("" when the timeline ended). Classifiers may keep state
// across pages of the same stream.
type Classifier interface {
	Classify(p *Page) (ids []string, next string, err error)
	Tombstones() int
}

type searchClassifier struct{}

func (searchClassifier) Tombstones() int { return 0 }

func (searchClassifier) Classify(p *Page) ([]string, string, error) {
	var ids []string
	var next string
	for _, e := range p.entries() {
		id := e.EntryID
		switch {
		case strings.HasPrefix(id, "sq-I-t-"):
			if e.Content.Item == nil || e.Content.Item.Content.Tweet == nil {
				return nil, "", &ProtocolDriftError{What: "search entry " + id + " has no tweet"}
			}
			tw := e.Content.Item.Content.Tweet
			if present(tw.PromotedMetadata) {
				continue
			}
			ids = append(ids, tw.ID)
		case strings.HasPrefix(id, "sq-cursor-bottom"):
			c, ok := e.Content.cursor()
			if !ok {
				return nil, "", &ProtocolDriftError{What: "cursor entry " + id + " has no value"}
			}
			next = c
		case strings.HasPrefix(id, "sq-cursor-top"),
			strings.HasPrefix(id, "sq-I-u-"),
			strings.HasPrefix(id, "sq-M-"),
			strings.HasPrefix(id, "sq-E-"),
			strings.HasPrefix(id, "sq-C-"):
			// user results, modules, events and carousels
		default:
			return nil, "", &ClassificationError{Timeline: "search", EntryID: id}
		}
	}
	return ids, next, nil
}

func present(raw []byte) bool {
	return len(raw) > 0 && string(raw) != "null"
}

type conversationMode int

const (
	modeReplies conversationMode = iota
	modeThread
)

func (m conversationMode) String() string {
	if m == modeThread {
		return "thread"
	}
	return "replies"
}

// conversationClassifier handles both conversation-based timelines. Replies
// yields the head of every conversation module. Thread yields posts by the
// focal author that continue the focal post or an already-yielded post.
type conversationClassifier struct {
	mode        conversationMode
	focalID     string
	focalAuthor string
	thread      map[string]bool
	tombstones  int
}

func newConversationClassifier(mode conversationMode, focalID string) *conversationClassifier {
	return &conversationClassifier{
		mode:    mode,
		focalID: focalID,
		thread:  map[string]bool{focalID: true},
	}
}

func (c *conversationClassifier) Tombstones() int { return c.tombstones }

func (c *conversationClassifier) Classify(p *Page) ([]string, string, error) {
	if c.focalAuthor == "" {
		if m, ok := p.meta(c.focalID); ok {
			c.focalAuthor = m.UserID
		}
	}
	var ids []string
	var next string
	for _, e := range p.entries() {
		id := e.EntryID
		switch {
		case strings.HasPrefix(id, "tweet-"):
			if e.Content.Item == nil || e.Content.Item.Content.Tweet == nil {
				return nil, "", &ProtocolDriftError{What: "conversation entry " + id + " has no tweet"}
			}
			if c.mode == modeThread && c.continuesThread(p, e.Content.Item.Content.Tweet.ID) {
				ids = append(ids, e.Content.Item.Content.Tweet.ID)
			}
		case strings.HasPrefix(id, "conversationThread-"):
			got, err := c.classifyModule(p, e)
			if err != nil {
				return nil, "", err
			}
			ids = append(ids, got...)
		case strings.HasPrefix(id, "tombstone-"):
			c.tombstones++
		case strings.HasPrefix(id, "cursor-bottom-"),
			strings.HasPrefix(id, "cursor-showMoreThreads"):
			cur, ok := e.Content.cursor()
			if !ok {
				return nil, "", &ProtocolDriftError{What: "cursor entry " + id + " has no value"}
			}
			next = cur
		case strings.HasPrefix(id, "cursor-top-"),
			strings.HasPrefix(id, "label-"),
			strings.HasPrefix(id, "spacer-"):
		default:
			return nil, "", &ClassificationError{Timeline: c.mode.String(), EntryID: id}
		}
	}
	return ids, next, nil
}

func (c *conversationClassifier) classifyModule(p *Page, e entry) ([]string, error) {
	if e.Content.TimelineModule == nil {
		return nil, &ProtocolDriftError{What: "conversation module " + e.EntryID + " has no items"}
	}
	var ids []string
	for i, item := range e.Content.TimelineModule.Items {
		rest := strings.TrimPrefix(item.EntryID, e.EntryID)
		switch {
		case strings.Contains(rest, "-tweet-"):
			tw := item.Item.Content.Tweet
			if tw == nil {
				return nil, &ProtocolDriftError{What: "module item " + item.EntryID + " has no tweet"}
			}
			switch c.mode {
			case modeReplies:
				if i == 0 {
					ids = append(ids, tw.ID)
				}
			case modeThread:
				if c.continuesThread(p, tw.ID) {
					ids = append(ids, tw.ID)
				}
			}
		case strings.Contains(rest, "-tombstone-"):
			c.tombstones++
		case strings.Contains(rest, "cursor"):
			// "show more" inside a module expands that branch only
		default:
			return nil, &ClassificationError{Timeline: c.mode.String(), EntryID: item.EntryID}
		}
	}
	return ids, nil
}

// continuesThread records and reports whether id is the focal author's
// reply to a post already in the thread.
func (c *conversationClassifier) continuesThread(p *Page, id string) bool {
	if id == c.focalID || c.thread[id] || c.focalAuthor == "" {
		return false
	}
	m, ok := p.meta(id)
	if !ok || m.UserID != c.focalAuthor || !c.thread[m.InReplyToStatusID] {
		return false
	}
	c.thread[id] = true
	return true
}
