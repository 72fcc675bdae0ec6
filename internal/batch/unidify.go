package batch

import (
	"context"
	"fmt"
	"os"
	"slices"

	"tweetstream/internal/logging"
	"tweetstream/internal/model"
	"tweetstream/internal/xclient"
)

// ownedIDs is one job's ordered membership, fixed before any lookup runs.
type ownedIDs struct {
	entry JobEntry
	ids   []string
}

// Unidify rehydrates every completed job in in into a data file in out. IDs
// are looked up in chunks of chunkSize that may span jobs; the results are
// then redistributed onto each job in its original order. IDs the lookup
// does not return are dropped.
func Unidify(ctx context.Context, lookup xclient.Lookuper, in, out string, chunkSize int, log logging.Logger) (int, error) {
	log = logging.OrDefault(log)
	if chunkSize <= 0 || chunkSize > xclient.MaxLookupIDs {
		chunkSize = xclient.MaxLookupIDs
	}
	res, err := OpenResults(in)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(out, 0o755); err != nil {
		return 0, err
	}

	var owners []ownedIDs
	var unique []string
	seen := map[string]bool{}
	for _, e := range res.Completed() {
		ids, err := res.TweetIDs(e)
		if err != nil {
			return 0, err
		}
		owners = append(owners, ownedIDs{entry: e, ids: ids})
		for _, id := range ids {
			if !seen[id] {
				seen[id] = true
				unique = append(unique, id)
			}
		}
	}

	found := make(map[string]model.Tweet, len(unique))
	for chunk := range slices.Chunk(unique, chunkSize) {
		got, err := lookup.Lookup(ctx, chunk)
		if err != nil {
			return 0, fmt.Errorf("unidify: %w", err)
		}
		for id, t := range got {
			found[id] = t
		}
	}
	log.WithFields(logging.Fields{"ids": len(unique), "found": len(found)}).Info("lookup_finished")

	for _, o := range owners {
		tweets := make([]model.Tweet, 0, len(o.ids))
		for _, id := range o.ids {
			if t, ok := found[id]; ok {
				tweets = append(tweets, t)
			}
		}
		if err := writeTweets(dataPath(out, o.entry.ID), tweets); err != nil {
			return 0, err
		}
		if err := os.Remove(idsPath(out, o.entry.ID)); err != nil && !os.IsNotExist(err) {
			return 0, err
		}
		if !sameDir(in, out) {
			if err := writeMeta(out, o.entry); err != nil {
				return 0, err
			}
		}
		log.WithFields(logging.Fields{"job": o.entry.ID, "ids": len(o.ids), "tweets": len(tweets)}).Info("job_unidified")
	}
	return len(owners), nil
}
