package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"tweetstream/internal/logging"
	"tweetstream/internal/metrics"
	"tweetstream/internal/request"
	"tweetstream/internal/store/journal"
	"tweetstream/internal/timeline"
)

// Journal receives one record per job attempt and the cursors a job walks.
// *journal.DB implements it.
type Journal interface {
	StartRun(ctx context.Context, jobID string, started time.Time) (int64, error)
	FinishRun(ctx context.Context, runID int64, state string, finished time.Time, tweets int, errMsg string) error
	SaveCursor(ctx context.Context, key, value string) error
}

// JobConflictError means a metadata file already exists for the job id but
// describes a different request. The stray files must be removed by hand.
type JobConflictError struct {
	ID   string
	Path string
}

func (e *JobConflictError) Error() string {
	return fmt.Sprintf("job %s: %s holds a different request; remove it to rerun", e.ID, e.Path)
}

// Status is the terminal state of one job within a run.
type Status string

const (
	StatusSuccess Status = journal.StateSuccess
	StatusSkipped Status = journal.StateSkipped
	StatusFailed  Status = journal.StateFailed
)

// JobResult is the outcome of one job within a run.
type JobResult struct {
	ID     string
	Status Status
	Tweets int
	Err    error
}

// Report summarises a run. Results keep the order of the submitted entries.
type Report struct {
	Results []JobResult
}

func (r Report) count(s Status) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == s {
			n++
		}
	}
	return n
}

func (r Report) Succeeded() int { return r.count(StatusSuccess) }
func (r Report) Skipped() int   { return r.count(StatusSkipped) }
func (r Report) Failed() int    { return r.count(StatusFailed) }

// OK reports whether no job failed.
func (r Report) OK() bool { return r.Failed() == 0 }

// Executor runs job entries across a bounded worker pool, one metadata file
// and one data file per job under the results directory.
type Executor struct {
	ret     *timeline.Retriever
	workers int
	journal Journal
	log     logging.Logger
	now     func() time.Time
}

type ExecutorOption func(*Executor)

// WithWorkers sets the number of concurrent jobs; values below 1 mean 1.
func WithWorkers(n int) ExecutorOption { return func(e *Executor) { e.workers = n } }

func WithJournal(j Journal) ExecutorOption { return func(e *Executor) { e.journal = j } }

func WithExecutorLogger(l logging.Logger) ExecutorOption { return func(e *Executor) { e.log = l } }

func NewExecutor(ret *timeline.Retriever, opts ...ExecutorOption) *Executor {
	e := &Executor{ret: ret, workers: 1, now: time.Now}
	for _, o := range opts {
		o(e)
	}
	if e.workers < 1 {
		e.workers = 1
	}
	e.log = logging.OrDefault(e.log)
	return e
}

// Run executes every entry whose results are not already on disk. Per-job
// failures are recorded in the report and in the job's metadata file; the
// returned error is reserved for problems with the results directory or a
// cancelled context.
func (x *Executor) Run(ctx context.Context, entries []JobEntry, dir string) (Report, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Report{}, fmt.Errorf("results dir: %w", err)
	}
	report := Report{Results: make([]JobResult, len(entries))}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(x.workers)
	for i, entry := range entries {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			res := x.runJob(gctx, entry, dir)
			mu.Lock()
			report.Results[i] = res
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}
	x.log.WithFields(logging.Fields{
		"jobs": len(entries), "succeeded": report.Succeeded(),
		"skipped": report.Skipped(), "failed": report.Failed(),
	}).Info("batch_finished")
	return report, nil
}

func (x *Executor) runJob(ctx context.Context, entry JobEntry, dir string) JobResult {
	log := x.log.WithFields(logging.Fields{"job": entry.ID, "kind": entry.Request.Kind()})
	res := JobResult{ID: entry.ID}

	stored, err := readMeta(metaPath(dir, entry.ID))
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		res.Status, res.Err = StatusFailed, err
		x.record(ctx, entry.ID, x.now(), res)
		log.WithError(err).Error("job_metadata_unreadable")
		return res
	case !request.Equal(stored.Request, entry.Request):
		res.Status, res.Err = StatusFailed, &JobConflictError{ID: entry.ID, Path: metaPath(dir, entry.ID)}
		x.record(ctx, entry.ID, x.now(), res)
		log.WithError(res.Err).Error("job_conflict")
		return res
	case stored.Completed() && !fileExists(dataPath(dir, entry.ID)) && !fileExists(idsPath(dir, entry.ID)):
		res.Status, res.Err = StatusFailed, &CorruptArtifactError{Path: dataPath(dir, entry.ID), Err: os.ErrNotExist}
		x.record(ctx, entry.ID, x.now(), res)
		log.WithError(res.Err).Error("job_artifact_missing")
		return res
	case stored.Completed():
		res.Status = StatusSkipped
		x.record(ctx, entry.ID, x.now(), res)
		log.Debug("job_skipped")
		return res
	}

	started := x.now()
	runID := x.startRun(ctx, entry.ID, started)
	log.Info("job_started")
	n, err := x.materialize(ctx, entry, dir)
	if err == nil {
		entry.Outcome = Completed(x.now())
		err = writeMeta(dir, entry)
	}
	if err != nil {
		res.Status, res.Err = StatusFailed, err
		_ = removeStray(dir, entry.ID)
		entry.Outcome = Failed(CaptureError(err, x.now()))
		if werr := writeMeta(dir, entry); werr != nil {
			log.WithError(werr).Error("job_metadata_write_failed")
		}
		log.WithError(err).Warn("job_failed")
	} else {
		res.Status, res.Tweets = StatusSuccess, n
		log.WithField("tweets", n).Info("job_completed")
	}
	metrics.ObserveJobDuration(started)
	x.finishRun(ctx, runID, res)
	return res
}

// materialize streams the job's request into its data file. A previous
// attempt's leftovers are removed first.
func (x *Executor) materialize(ctx context.Context, entry JobEntry, dir string) (int, error) {
	if err := removeStray(dir, entry.ID); err != nil {
		return 0, err
	}
	w, err := newTweetWriter(dataPath(dir, entry.ID))
	if err != nil {
		return 0, err
	}
	stream := request.NewStream(entry.Request, x.ret)
	if x.journal != nil {
		key := "job:" + entry.ID
		stream.OnPage(func(_, next string, _ int) {
			if next != "" {
				_ = x.journal.SaveCursor(ctx, key, next)
			}
		})
	}
	for {
		t, err := stream.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			w.Abort()
			return 0, err
		}
		if err := w.Write(t); err != nil {
			w.Abort()
			return 0, err
		}
	}
	if err := w.Commit(); err != nil {
		return 0, err
	}
	return w.n, nil
}

func (x *Executor) startRun(ctx context.Context, id string, at time.Time) int64 {
	if x.journal == nil {
		return 0
	}
	runID, err := x.journal.StartRun(ctx, id, at)
	if err != nil {
		x.log.WithError(err).WithField("job", id).Warn("journal_start_failed")
		return 0
	}
	return runID
}

func (x *Executor) finishRun(ctx context.Context, runID int64, res JobResult) {
	metrics.IncJob(string(res.Status))
	if x.journal == nil || runID == 0 {
		return
	}
	msg := ""
	if res.Err != nil {
		msg = res.Err.Error()
	}
	if err := x.journal.FinishRun(ctx, runID, string(res.Status), x.now(), res.Tweets, msg); err != nil {
		x.log.WithError(err).WithField("job", res.ID).Warn("journal_finish_failed")
	}
}

// record journals a job that finished without running.
func (x *Executor) record(ctx context.Context, id string, at time.Time, res JobResult) {
	x.finishRun(ctx, x.startRun(ctx, id, at), res)
}
