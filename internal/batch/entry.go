// Package batch executes retrieval requests durably: one metadata file and
// one data artifact per job, resumable across runs.
package batch

import (
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"tweetstream/internal/request"
)

// SerializedError is the persisted capture of a failed attempt.
type SerializedError struct {
	Time    time.Time `json:"time"`
	Type    string    `json:"type"`
	Message string    `json:"message"`
	Trace   []string  `json:"trace"`
}

// CaptureError records err with the dynamic type of its innermost cause and
// the current goroutine stack.
func CaptureError(err error, now time.Time) *SerializedError {
	inner := err
	for {
		next := errors.Unwrap(inner)
		if next == nil {
			break
		}
		inner = next
	}
	trace := strings.Split(strings.TrimRight(string(debug.Stack()), "\n"), "\n")
	return &SerializedError{
		Time:    now.UTC(),
		Type:    fmt.Sprintf("%T", inner),
		Message: err.Error(),
		Trace:   trace,
	}
}

func (e *SerializedError) Error() string { return e.Type + ": " + e.Message }

// State is where a job stands after its latest attempt.
type State int

const (
	StatePending State = iota
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	}
	return "pending"
}

// Outcome is Pending, Completed{At} or Failed{Err}. A completed job carries
// no error.
type Outcome struct {
	state State
	at    time.Time
	err   *SerializedError
}

func Pending() Outcome { return Outcome{} }

func Completed(at time.Time) Outcome { return Outcome{state: StateCompleted, at: at.UTC()} }

func Failed(err *SerializedError) Outcome { return Outcome{state: StateFailed, err: err} }

func (o Outcome) State() State { return o.state }

// Err is the capture of the failed attempt; nil unless Failed.
func (o Outcome) Err() *SerializedError { return o.err }

func (o Outcome) CompletedAt() (time.Time, bool) { return o.at, o.state == StateCompleted }

// JobEntry pairs a request with the outcome of its latest attempt.
type JobEntry struct {
	ID      string
	Request request.Request
	Outcome Outcome
}

// NewJobEntry wraps r under a fresh random id.
func NewJobEntry(r request.Request) JobEntry {
	return JobEntry{ID: uuid.NewString(), Request: r}
}

// Completed reports whether the job's results were fully materialised.
func (e JobEntry) Completed() bool { return e.Outcome.State() == StateCompleted }

type entryJSON struct {
	ID          string           `json:"id"`
	Request     json.RawMessage  `json:"request"`
	CompletedAt *time.Time       `json:"completed_at"`
	Exception   *SerializedError `json:"exception"`
}

func (e JobEntry) MarshalJSON() ([]byte, error) {
	req, err := request.Marshal(e.Request)
	if err != nil {
		return nil, err
	}
	w := entryJSON{ID: e.ID, Request: req}
	switch e.Outcome.State() {
	case StateCompleted:
		at := e.Outcome.at
		w.CompletedAt = &at
	case StateFailed:
		w.Exception = e.Outcome.err
	}
	return json.Marshal(w)
}

func (e *JobEntry) UnmarshalJSON(b []byte) error {
	var w entryJSON
	if err := json.Unmarshal(b, &w); err != nil {
		return fmt.Errorf("decode job entry: %w", err)
	}
	if w.ID == "" {
		return errors.New("decode job entry: missing id")
	}
	req, err := request.Unmarshal(w.Request)
	if err != nil {
		return fmt.Errorf("decode job entry %s: %w", w.ID, err)
	}
	out := JobEntry{ID: w.ID, Request: req}
	switch {
	case w.CompletedAt != nil:
		out.Outcome = Completed(*w.CompletedAt)
	case w.Exception != nil:
		out.Outcome = Failed(w.Exception)
	}
	*e = out
	return nil
}
