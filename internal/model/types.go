package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// CreatedAtLayout is the platform's timestamp format, e.g. "Wed Apr 10 18:19:27 +0000 2019".
const CreatedAtLayout = time.RubyDate

// User is the author object embedded in a Tweet.
type User struct {
	ID         string `json:"id_str"`
	ScreenName string `json:"screen_name"`
	Name       string `json:"name"`
}

// Tweet wraps a post's raw JSON document. The raw bytes are what gets
// persisted; the decoded fields are read-only conveniences.
type Tweet struct {
	raw  json.RawMessage
	core tweetCore
}

type tweetCore struct {
	ID                string `json:"id_str"`
	CreatedAt         string `json:"created_at"`
	FullText          string `json:"full_text"`
	Text              string `json:"text"`
	Lang              string `json:"lang"`
	InReplyToStatusID string `json:"in_reply_to_status_id_str"`
	UserID            string `json:"user_id_str"`
	User              *User  `json:"user"`
}

// ParseTweet decodes a raw post document. It must carry an id_str.
func ParseTweet(raw []byte) (Tweet, error) {
	var t Tweet
	if err := t.UnmarshalJSON(raw); err != nil {
		return Tweet{}, err
	}
	return t, nil
}

func (t *Tweet) UnmarshalJSON(b []byte) error {
	var core tweetCore
	if err := json.Unmarshal(b, &core); err != nil {
		return fmt.Errorf("decode tweet: %w", err)
	}
	if core.ID == "" {
		return errors.New("decode tweet: missing id_str")
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, b); err != nil {
		return fmt.Errorf("decode tweet: %w", err)
	}
	t.raw = compact.Bytes()
	t.core = core
	return nil
}

func (t Tweet) MarshalJSON() ([]byte, error) {
	if t.raw == nil {
		return []byte("null"), nil
	}
	return t.raw, nil
}

// Raw returns the compacted source document.
func (t Tweet) Raw() json.RawMessage { return t.raw }

func (t Tweet) ID() string { return t.core.ID }

// Text returns full_text, falling back to the truncated text field.
func (t Tweet) Text() string {
	if t.core.FullText != "" {
		return t.core.FullText
	}
	return t.core.Text
}

func (t Tweet) Lang() string { return t.core.Lang }

func (t Tweet) InReplyToStatusID() string { return t.core.InReplyToStatusID }

// CreatedAt parses created_at; the zero time is returned when absent or malformed.
func (t Tweet) CreatedAt() time.Time {
	ts, err := time.Parse(CreatedAtLayout, t.core.CreatedAt)
	if err != nil {
		return time.Time{}
	}
	return ts.UTC()
}

// AuthorID prefers the embedded user object over user_id_str.
func (t Tweet) AuthorID() string {
	if t.core.User != nil && t.core.User.ID != "" {
		return t.core.User.ID
	}
	return t.core.UserID
}

// User returns the embedded author, if any.
func (t Tweet) User() (User, bool) {
	if t.core.User == nil {
		return User{}, false
	}
	return *t.core.User, true
}

// Equal compares tweets structurally.
func (t Tweet) Equal(o Tweet) bool { return bytes.Equal(t.raw, o.raw) }

func (t Tweet) String() string {
	u, _ := t.User()
	return fmt.Sprintf("Tweet(%s, @%s)", t.ID(), u.ScreenName)
}

// WithUser returns the raw tweet document with the author object embedded
// under "user", replacing any existing value.
func WithUser(rawTweet, rawUser json.RawMessage) (json.RawMessage, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(rawTweet, &doc); err != nil {
		return nil, fmt.Errorf("embed user: %w", err)
	}
	doc["user"] = rawUser
	return json.Marshal(doc)
}
