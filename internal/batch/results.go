package batch

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"tweetstream/internal/model"
)

// Results is a read view over a results directory.
type Results struct {
	dir     string
	entries []JobEntry
}

// OpenResults loads every job metadata file in dir, sorted by job id. A
// completed job whose data and IDs files are both missing is reported as a
// CorruptArtifactError.
func OpenResults(dir string) (*Results, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*"+metaSuffix))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	r := &Results{dir: dir}
	for _, p := range paths {
		e, err := readMeta(p)
		if err != nil {
			return nil, err
		}
		if id := strings.TrimSuffix(filepath.Base(p), metaSuffix); id != e.ID {
			return nil, fmt.Errorf("%s: metadata belongs to job %s", p, e.ID)
		}
		if e.Completed() && !fileExists(dataPath(dir, e.ID)) && !fileExists(idsPath(dir, e.ID)) {
			return nil, &CorruptArtifactError{Path: dataPath(dir, e.ID), Err: os.ErrNotExist}
		}
		r.entries = append(r.entries, e)
	}
	return r, nil
}

func (r *Results) Dir() string { return r.dir }

// Entries returns every job with metadata, completed or not.
func (r *Results) Entries() []JobEntry { return append([]JobEntry(nil), r.entries...) }

// Completed returns the jobs whose results were fully materialised.
func (r *Results) Completed() []JobEntry {
	var out []JobEntry
	for _, e := range r.entries {
		if e.Completed() {
			out = append(out, e)
		}
	}
	return out
}

// Tweets decodes the data file of a completed job.
func (r *Results) Tweets(e JobEntry) ([]model.Tweet, error) {
	return readTweets(dataPath(r.dir, e.ID))
}

// TweetIDs returns the ordered post ids of a completed job, from its IDs
// file when present and otherwise from its data file.
func (r *Results) TweetIDs(e JobEntry) ([]string, error) {
	if p := idsPath(r.dir, e.ID); fileExists(p) {
		return readIDs(p)
	}
	tweets, err := r.Tweets(e)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(tweets))
	for i, t := range tweets {
		ids[i] = t.ID()
	}
	return ids, nil
}

// Verify fully decodes every completed job's artifacts.
func (r *Results) Verify() error {
	for _, e := range r.Completed() {
		if p := dataPath(r.dir, e.ID); fileExists(p) {
			if _, err := readTweets(p); err != nil {
				return err
			}
		}
		if p := idsPath(r.dir, e.ID); fileExists(p) {
			if _, err := readIDs(p); err != nil {
				return err
			}
		}
	}
	return nil
}
