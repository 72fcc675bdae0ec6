package timeline

import (
	"encoding/json"
	"fmt"

	"tweetstream/internal/model"
)

// Page is one decoded timeline batch response.
type Page struct {
	GlobalObjects struct {
		Tweets map[string]json.RawMessage `json:"tweets"`
		Users  map[string]json.RawMessage `json:"users"`
	} `json:"globalObjects"`
	Timeline struct {
		Instructions []instruction `json:"instructions"`
	} `json:"timeline"`
}

type instruction struct {
	AddEntries *struct {
		Entries []entry `json:"entries"`
	} `json:"addEntries"`
	ReplaceEntry *struct {
		EntryIDToReplace string `json:"entryIdToReplace"`
		Entry            entry  `json:"entry"`
	} `json:"replaceEntry"`
}

type entry struct {
	EntryID   string       `json:"entryId"`
	SortIndex string       `json:"sortIndex"`
	Content   entryContent `json:"content"`
}

type entryContent struct {
	Item *struct {
		Content itemContent `json:"content"`
	} `json:"item"`
	Operation *struct {
		Cursor cursorValue `json:"cursor"`
	} `json:"operation"`
	TimelineModule *struct {
		Items []moduleItem `json:"items"`
	} `json:"timelineModule"`
}

type itemContent struct {
	Tweet *struct {
		ID               string          `json:"id"`
		PromotedMetadata json.RawMessage `json:"promotedMetadata"`
	} `json:"tweet"`
	Tombstone      json.RawMessage `json:"tombstone"`
	TimelineCursor *cursorValue    `json:"timelineCursor"`
}

type moduleItem struct {
	EntryID string `json:"entryId"`
	Item    struct {
		Content itemContent `json:"content"`
	} `json:"item"`
}

type cursorValue struct {
	Value      string `json:"value"`
	CursorType string `json:"cursorType"`
}

// ParsePage decodes a raw batch response.
func ParsePage(raw []byte) (*Page, error) {
	var p Page
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &ProtocolDriftError{What: fmt.Sprintf("undecodable timeline page: %v", err)}
	}
	return &p, nil
}

// entries returns addEntries and replaceEntry entries in document order.
// Other instruction kinds carry no content.
func (p *Page) entries() []entry {
	var out []entry
	for _, in := range p.Timeline.Instructions {
		switch {
		case in.AddEntries != nil:
			out = append(out, in.AddEntries.Entries...)
		case in.ReplaceEntry != nil:
			out = append(out, in.ReplaceEntry.Entry)
		}
	}
	return out
}

// tweetMeta is the subset of a post the classifiers need.
type tweetMeta struct {
	UserID            string `json:"user_id_str"`
	InReplyToStatusID string `json:"in_reply_to_status_id_str"`
}

func (p *Page) meta(id string) (tweetMeta, bool) {
	raw, ok := p.GlobalObjects.Tweets[id]
	if !ok {
		return tweetMeta{}, false
	}
	var m tweetMeta
	if err := json.Unmarshal(raw, &m); err != nil {
		return tweetMeta{}, false
	}
	return m, true
}

// Tweet materialises a classified post with its author embedded.
func (p *Page) Tweet(id string) (model.Tweet, error) {
	raw, ok := p.GlobalObjects.Tweets[id]
	if !ok {
		return model.Tweet{}, &ProtocolDriftError{What: "classified tweet " + id + " missing from globalObjects"}
	}
	if m, ok := p.meta(id); ok {
		if user, ok := p.GlobalObjects.Users[m.UserID]; ok {
			merged, err := model.WithUser(raw, user)
			if err != nil {
				return model.Tweet{}, err
			}
			raw = merged
		}
	}
	return model.ParseTweet(raw)
}

func (c entryContent) cursor() (string, bool) {
	if c.Operation != nil && c.Operation.Cursor.Value != "" {
		return c.Operation.Cursor.Value, true
	}
	if c.Item != nil && c.Item.Content.TimelineCursor != nil && c.Item.Content.TimelineCursor.Value != "" {
		return c.Item.Content.TimelineCursor.Value, true
	}
	return "", false
}
