package batch

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"tweetstream/internal/request"
)

// Batch is an ordered collection of job entries; identity is insertion order.
type Batch struct {
	entries []JobEntry
	ids     map[string]bool
}

func NewBatch() *Batch { return &Batch{ids: map[string]bool{}} }

// Add appends an entry. IDs must be unique within a batch.
func (b *Batch) Add(e JobEntry) error {
	if b.ids[e.ID] {
		return fmt.Errorf("batch: duplicate job id %s", e.ID)
	}
	if err := e.Request.Validate(); err != nil {
		return fmt.Errorf("batch: job %s: %w", e.ID, err)
	}
	b.ids[e.ID] = true
	b.entries = append(b.entries, e)
	return nil
}

// Append wraps r in a new entry and adds it.
func (b *Batch) Append(r request.Request) (JobEntry, error) {
	e := NewJobEntry(r)
	return e, b.Add(e)
}

func (b *Batch) Entries() []JobEntry { return append([]JobEntry(nil), b.entries...) }

func (b *Batch) Len() int { return len(b.entries) }

// LoadBatch reads a batch file: one JSON job entry per line. A missing file
// is an empty batch.
func LoadBatch(path string) (*Batch, error) {
	b := NewBatch()
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return b, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64<<10), 16<<20)
	for n := 1; sc.Scan(); n++ {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var e JobEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, n, err)
		}
		if err := b.Add(e); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, n, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return b, nil
}

// Save rewrites the whole batch file.
func (b *Batch) Save(path string) error {
	var buf bytes.Buffer
	for _, e := range b.entries {
		line, err := json.Marshal(e)
		if err != nil {
			return err
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return writeFileAtomic(path, buf.Bytes(), 0o644)
}

// AppendEntry appends one entry to the batch file without rewriting it.
func AppendEntry(path string, e JobEntry) error {
	if err := e.Request.Validate(); err != nil {
		return err
	}
	line, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
