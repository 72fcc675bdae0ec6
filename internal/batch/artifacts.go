package batch

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ulikunitz/xz"

	"tweetstream/internal/model"
)

const (
	metaSuffix = ".meta.json"
	dataSuffix = ".data.jsonl.xz"
	idsSuffix  = ".ids"
	tmpSuffix  = ".tmp"
)

func metaPath(dir, id string) string { return filepath.Join(dir, id+metaSuffix) }
func dataPath(dir, id string) string { return filepath.Join(dir, id+dataSuffix) }
func idsPath(dir, id string) string  { return filepath.Join(dir, id+idsSuffix) }

// CorruptArtifactError means a completed job's data or IDs file is missing
// or cannot be decoded.
type CorruptArtifactError struct {
	Path string
	Err  error
}

func (e *CorruptArtifactError) Error() string {
	return fmt.Sprintf("corrupt artifact %s: %v", e.Path, e.Err)
}

func (e *CorruptArtifactError) Unwrap() error { return e.Err }

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// writeFileAtomic writes to a sibling temp file and renames it into place.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp := path + tmpSuffix
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func writeMeta(dir string, e JobEntry) error {
	b, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(metaPath(dir, e.ID), append(b, '\n'), 0o644)
}

func readMeta(path string) (JobEntry, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return JobEntry{}, err
	}
	var e JobEntry
	if err := json.Unmarshal(b, &e); err != nil {
		return JobEntry{}, fmt.Errorf("%s: %w", path, err)
	}
	return e, nil
}

// tweetWriter streams posts into an xz-compressed JSON-lines temp file. The
// final name only appears on Commit.
type tweetWriter struct {
	final string
	f     *os.File
	xw    *xz.Writer
	bw    *bufio.Writer
	n     int
}

func newTweetWriter(path string) (*tweetWriter, error) {
	f, err := os.Create(path + tmpSuffix)
	if err != nil {
		return nil, err
	}
	xw, err := xz.NewWriter(f)
	if err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return nil, err
	}
	return &tweetWriter{final: path, f: f, xw: xw, bw: bufio.NewWriter(xw)}, nil
}

func (w *tweetWriter) Write(t model.Tweet) error {
	raw := t.Raw()
	if len(raw) == 0 {
		return errors.New("write tweet: empty document")
	}
	if _, err := w.bw.Write(raw); err != nil {
		return err
	}
	w.n++
	return w.bw.WriteByte('\n')
}

func (w *tweetWriter) Commit() error {
	err := w.bw.Flush()
	if cerr := w.xw.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = w.f.Sync()
	}
	if cerr := w.f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(w.f.Name(), w.final)
	}
	if err != nil {
		_ = os.Remove(w.f.Name())
	}
	return err
}

func (w *tweetWriter) Abort() {
	_ = w.f.Close()
	_ = os.Remove(w.f.Name())
}

func writeTweets(path string, tweets []model.Tweet) error {
	w, err := newTweetWriter(path)
	if err != nil {
		return err
	}
	for _, t := range tweets {
		if err := w.Write(t); err != nil {
			w.Abort()
			return err
		}
	}
	return w.Commit()
}

func readTweets(path string) ([]model.Tweet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &CorruptArtifactError{Path: path, Err: err}
	}
	defer f.Close()
	xr, err := xz.NewReader(bufio.NewReader(f))
	if err != nil {
		return nil, &CorruptArtifactError{Path: path, Err: err}
	}
	var out []model.Tweet
	br := bufio.NewReader(xr)
	for n := 1; ; n++ {
		line, err := br.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			t, perr := model.ParseTweet(line)
			if perr != nil {
				return nil, &CorruptArtifactError{Path: path, Err: fmt.Errorf("line %d: %w", n, perr)}
			}
			out = append(out, t)
		}
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, &CorruptArtifactError{Path: path, Err: err}
		}
	}
}

func writeIDs(path string, ids []string) error {
	var b strings.Builder
	for _, id := range ids {
		b.WriteString(id)
		b.WriteByte('\n')
	}
	return writeFileAtomic(path, []byte(b.String()), 0o644)
}

func readIDs(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, &CorruptArtifactError{Path: path, Err: err}
	}
	var ids []string
	for n, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		for _, c := range line {
			if c < '0' || c > '9' {
				return nil, &CorruptArtifactError{Path: path, Err: fmt.Errorf("line %d: %q is not a post id", n+1, line)}
			}
		}
		ids = append(ids, line)
	}
	return ids, nil
}

// removeStray deletes leftovers of an interrupted or failed attempt.
func removeStray(dir, id string) error {
	for _, p := range []string{dataPath(dir, id), dataPath(dir, id) + tmpSuffix, idsPath(dir, id) + tmpSuffix, metaPath(dir, id) + tmpSuffix} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}
