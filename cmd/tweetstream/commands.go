package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"tweetstream/internal/batch"
	"tweetstream/internal/cmdlog"
	"tweetstream/internal/config"
	"tweetstream/internal/logging"
	"tweetstream/internal/model"
	"tweetstream/internal/request"
	"tweetstream/internal/theme"
	"tweetstream/internal/timeline"
)

// limitFlags are shared by the request-building commands.
type limitFlags struct {
	max       int
	batchSize int
	toBatch   string
}

func (f *limitFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.max, "max", timeline.DefaultMaxTweets, "maximum posts to retrieve; negative means unbounded")
	cmd.Flags().IntVar(&f.batchSize, "batch-size", timeline.DefaultBatchSize, "page-size hint sent with each batch request")
	cmd.Flags().StringVar(&f.toBatch, "to-batch", "", "append the request to this batch file instead of running it")
}

func (f *limitFlags) maxTweets() *int {
	if f.max < 0 {
		return nil
	}
	return request.Max(f.max)
}

func (a *app) searchCmd() *cobra.Command {
	var lf limitFlags
	var since, until, filter, lang string
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Retrieve posts matching a search query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdlog.Run("search", func() error {
				s := request.NewSearch(args[0])
				s.Lang = lang
				s.MaxTweets, s.BatchSize = lf.maxTweets(), lf.batchSize
				f, err := timeline.ParseSearchFilter(filter)
				if err != nil {
					return err
				}
				s.Filter = f
				if since != "" {
					if s.Since, err = request.ParseDate(since); err != nil {
						return err
					}
				}
				if until != "" {
					if s.Until, err = request.ParseDate(until); err != nil {
						return err
					}
				}
				return a.runOrEnqueue(cmd, s, lf.toBatch)
			})
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "earliest day, YYYY-MM-DD")
	cmd.Flags().StringVar(&until, "until", "", "day after the last, YYYY-MM-DD")
	cmd.Flags().StringVar(&filter, "filter", "top", "top, latest, photos or videos")
	cmd.Flags().StringVar(&lang, "lang", "", "language code")
	lf.register(cmd)
	return cmd
}

func (a *app) conversationCmd(name, short string) *cobra.Command {
	var lf limitFlags
	cmd := &cobra.Command{
		Use:   name + " <post-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdlog.Run(name, func() error {
				var r request.Request
				if name == "thread" {
					t := request.NewThread(args[0])
					t.MaxTweets, t.BatchSize = lf.maxTweets(), lf.batchSize
					r = t
				} else {
					rp := request.NewReplies(args[0])
					rp.MaxTweets, rp.BatchSize = lf.maxTweets(), lf.batchSize
					r = rp
				}
				return a.runOrEnqueue(cmd, r, lf.toBatch)
			})
		},
	}
	lf.register(cmd)
	return cmd
}

// runOrEnqueue appends r to a batch file, or streams its posts to stdout as
// JSON lines.
func (a *app) runOrEnqueue(cmd *cobra.Command, r request.Request, batchFile string) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if batchFile != "" {
		e := batch.NewJobEntry(r)
		if err := batch.AppendEntry(batchFile, e); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "appended job %s to %s\n", e.ID, batchFile)
		return nil
	}
	stream := request.NewStream(r, a.retriever())
	if err := writeJSONLines(a.crawlContext(cmd.Context()), cmd.OutOrStdout(), stream.Next); err != nil {
		return err
	}
	if n := stream.Tombstones(); n > 0 {
		logging.Info("tombstones_skipped", map[string]any{"count": n})
	}
	return nil
}

// writeJSONLines drains next into out, one raw post per line.
func writeJSONLines(ctx context.Context, out io.Writer, next func(context.Context) (model.Tweet, error)) error {
	w := bufio.NewWriter(out)
	for {
		t, err := next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			_ = w.Flush()
			return err
		}
		if _, err := w.Write(t.Raw()); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
		if err := w.WriteByte('\n'); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

func (a *app) batchCmd() *cobra.Command {
	var batchFile, resultsDir string
	var workers int
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Run every incomplete job of a batch file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmdlog.Run("batch", func() error {
				b, err := batch.LoadBatch(batchFile)
				if err != nil {
					return err
				}
				if workers <= 0 {
					workers = a.cfg.Batch.Workers
				}
				opts := []batch.ExecutorOption{batch.WithWorkers(workers), batch.WithExecutorLogger(logging.Default())}
				db, err := a.openJournal(resultsDir)
				if err != nil {
					return err
				}
				if db != nil {
					defer db.Close()
					opts = append(opts, batch.WithJournal(db))
				}
				x := batch.NewExecutor(a.retriever(), opts...)
				rep, err := x.Run(a.crawlContext(cmd.Context()), b.Entries(), resultsDir)
				printReport(cmd.OutOrStdout(), rep)
				if err != nil {
					return err
				}
				if !rep.OK() {
					return fmt.Errorf("%d of %d jobs failed", rep.Failed(), len(rep.Results))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&batchFile, "batch-file", "", "batch file, one job per line")
	cmd.Flags().StringVar(&resultsDir, "results-dir", "", "directory for job metadata and data files")
	cmd.Flags().IntVar(&workers, "workers", 0, "concurrent jobs; 0 uses the configured value")
	_ = cmd.MarkFlagRequired("batch-file")
	_ = cmd.MarkFlagRequired("results-dir")
	return cmd
}

func printReport(w io.Writer, rep batch.Report) {
	for _, r := range rep.Results {
		if r.ID == "" {
			continue
		}
		line := fmt.Sprintf("%-36s %s", r.ID, theme.Status(string(r.Status)))
		if r.Status == batch.StatusSuccess {
			line += fmt.Sprintf(" (%d posts)", r.Tweets)
		}
		if r.Err != nil {
			line += ": " + r.Err.Error()
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "%s %d succeeded, %d skipped, %d failed\n",
		theme.Heading("batch:"), rep.Succeeded(), rep.Skipped(), rep.Failed())
}

func (a *app) idifyCmd() *cobra.Command {
	var in, out string
	cmd := &cobra.Command{
		Use:   "idify",
		Short: "Reduce completed results to bare post ids",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmdlog.Run("idify", func() error {
				n, err := batch.Idify(in, out, logging.Default())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "idified %d jobs into %s\n", n, out)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&in, "in", "", "results directory to read")
	cmd.Flags().StringVar(&out, "out", "", "directory for the ids files")
	_ = cmd.MarkFlagRequired("in")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func (a *app) unidifyCmd() *cobra.Command {
	var in, out string
	cmd := &cobra.Command{
		Use:   "unidify",
		Short: "Rehydrate bare post ids through the official lookup API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmdlog.Run("unidify", func() error {
				client, err := a.lookupClient()
				if err != nil {
					return err
				}
				n, err := batch.Unidify(cmd.Context(), client, in, out, a.cfg.Lookup.ChunkSize, logging.Default())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "unidified %d jobs into %s\n", n, out)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&in, "in", "", "directory of ids files")
	cmd.Flags().StringVar(&out, "out", "", "directory for the rehydrated data files")
	_ = cmd.MarkFlagRequired("in")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func (a *app) statusCmd() *cobra.Command {
	var resultsDir string
	var verify bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Summarise job metadata and the execution journal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmdlog.Run("status", func() error {
				return a.printStatus(cmd.Context(), cmd.OutOrStdout(), resultsDir, verify)
			})
		},
	}
	cmd.Flags().StringVar(&resultsDir, "results-dir", "", "results directory")
	cmd.Flags().BoolVar(&verify, "verify", false, "fully decode every completed artifact")
	_ = cmd.MarkFlagRequired("results-dir")
	return cmd
}

func (a *app) printStatus(ctx context.Context, w io.Writer, dir string, verify bool) error {
	res, err := batch.OpenResults(dir)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, theme.Heading("jobs:"))
	for _, e := range res.Entries() {
		state := e.Outcome.State().String()
		line := fmt.Sprintf("  %-36s %-8s %s", e.ID, e.Request.Kind(), theme.Status(state))
		if err := e.Outcome.Err(); err != nil {
			line += ": " + err.Error()
		}
		fmt.Fprintln(w, line)
	}
	if verify {
		if err := res.Verify(); err != nil {
			return err
		}
		fmt.Fprintln(w, "all completed artifacts decode")
	}

	db, err := a.openJournal(dir)
	if err != nil || db == nil {
		return err
	}
	defer db.Close()
	runs, err := db.LatestRuns(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, theme.Heading("latest runs:"))
	for _, r := range runs {
		line := fmt.Sprintf("  %-36s %s %d posts", r.JobID, theme.Status(r.State), r.Tweets)
		if r.State != "success" && r.State != "skipped" {
			if cur, err := db.LoadCursor(ctx, "job:"+r.JobID); err == nil && cur != "" {
				line += " last cursor " + cur
			}
		}
		fmt.Fprintln(w, line)
	}
	return nil
}

func initCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.Save(path, config.Default()); err != nil {
				return err
			}
			abs, _ := filepath.Abs(path)
			theme.PrintBanner(cmd.OutOrStdout())
			fmt.Fprintln(cmd.OutOrStdout(), "Config written to:", abs)
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", defaultConfigPath, "path to write config")
	return cmd
}
