package batch

import (
	"bytes"
	"os"
	"path/filepath"
	"slices"

	"tweetstream/internal/logging"
)

// Idify writes the ordered post ids of every completed job in in to out, one
// "<id>.ids" file plus a copy of the metadata per job. A job that is already
// an IDs file is copied through; an identical IDs file in out is left
// untouched. When in and out are the same directory the data files are
// removed once their IDs are written.
func Idify(in, out string, log logging.Logger) (int, error) {
	log = logging.OrDefault(log)
	res, err := OpenResults(in)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(out, 0o755); err != nil {
		return 0, err
	}
	inPlace := sameDir(in, out)
	n := 0
	for _, e := range res.Completed() {
		ids, err := res.TweetIDs(e)
		if err != nil {
			return n, err
		}
		if err := writeIDsIfChanged(idsPath(out, e.ID), ids); err != nil {
			return n, err
		}
		if inPlace {
			if err := os.Remove(dataPath(in, e.ID)); err != nil && !os.IsNotExist(err) {
				return n, err
			}
		} else if err := copyMetaIfChanged(in, out, e.ID); err != nil {
			return n, err
		}
		log.WithFields(logging.Fields{"job": e.ID, "ids": len(ids)}).Info("job_idified")
		n++
	}
	return n, nil
}

func sameDir(a, b string) bool {
	aa, err1 := filepath.Abs(a)
	bb, err2 := filepath.Abs(b)
	return err1 == nil && err2 == nil && filepath.Clean(aa) == filepath.Clean(bb)
}

func writeIDsIfChanged(path string, ids []string) error {
	if fileExists(path) {
		old, err := readIDs(path)
		if err == nil && slices.Equal(old, ids) {
			return nil
		}
	}
	return writeIDs(path, ids)
}

func copyMetaIfChanged(in, out, id string) error {
	src, err := os.ReadFile(metaPath(in, id))
	if err != nil {
		return err
	}
	if dst, err := os.ReadFile(metaPath(out, id)); err == nil && bytes.Equal(src, dst) {
		return nil
	}
	return writeFileAtomic(metaPath(out, id), src, 0o644)
}
