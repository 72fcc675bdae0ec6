package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"tweetstream/internal/config"
	"tweetstream/internal/logging"
	"tweetstream/internal/metrics"
	"tweetstream/internal/store/journal"
	"tweetstream/internal/theme"
	"tweetstream/internal/timeline"
	"tweetstream/internal/xclient"
)

const defaultConfigPath = "./tweetstream.yaml"

// app carries what every subcommand needs after config load.
type app struct {
	cfgPath string
	cfg     config.Config
	gate    *timeline.CrawlDelay
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "tweetstream",
		Short:         "Crawl search, replies and thread timelines into resumable batches",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "init" {
				return nil
			}
			return a.load()
		},
		Run: func(cmd *cobra.Command, _ []string) {
			theme.PrintBanner(cmd.OutOrStdout())
			_ = cmd.Help()
		},
	}
	root.PersistentFlags().StringVar(&a.cfgPath, "config", defaultConfigPath, "config path")
	root.AddCommand(
		a.searchCmd(),
		a.conversationCmd("replies", "Retrieve the direct replies to a post"),
		a.conversationCmd("thread", "Retrieve the author's self-reply thread below a post"),
		a.batchCmd(),
		a.idifyCmd(),
		a.unidifyCmd(),
		a.statusCmd(),
		initCmd(),
	)
	return root
}

func (a *app) load() error {
	config.LoadEnvFiles()
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a.cfg = cfg
	logging.SetDefault(logging.NewLogger(os.Stderr, cfg.Log.Level))
	metrics.StartServer(cfg.Metrics.Addr)
	return nil
}

func (a *app) httpClient() *http.Client {
	return &http.Client{Timeout: a.cfg.Crawl.Timeout}
}

// retriever builds a retriever sharing one crawl-delay gate per process.
func (a *app) retriever() *timeline.Retriever {
	client := a.httpClient()
	if a.gate == nil {
		a.gate = timeline.NewCrawlDelay(client, timeline.DefaultEndpoints.RobotsURL(), a.cfg.Crawl.UserAgent)
	}
	return timeline.NewRetriever(client,
		timeline.WithCrawlDelay(a.gate),
		timeline.WithUserAgent(a.cfg.Crawl.UserAgent),
		timeline.WithTransportRetries(a.cfg.Crawl.TransportRetries),
		timeline.WithLogger(logging.Default()),
	)
}

// crawlContext marks ctx so the crawl-delay sleep is skipped when configured.
func (a *app) crawlContext(ctx context.Context) context.Context {
	if a.cfg.Crawl.IgnoreCrawlDelay {
		return timeline.WithoutCrawlDelay(ctx)
	}
	return ctx
}

func (a *app) lookupClient() (*xclient.HTTPClient, error) {
	c := a.cfg.Credentials
	return xclient.NewHTTPClient(xclient.Credentials{
		BearerToken:    c.BearerToken,
		ConsumerKey:    c.ConsumerKey,
		ConsumerSecret: c.ConsumerSecret,
		AccessToken:    c.AccessToken,
		AccessSecret:   c.AccessSecret,
	},
		xclient.WithHTTPClient(a.httpClient()),
		xclient.WithRate(a.cfg.Lookup.RequestsPerSecond),
		xclient.WithMaxAttempts(a.cfg.Lookup.MaxAttempts),
		xclient.WithLogger(logging.Default()),
	)
}

// openJournal opens the execution journal; relative paths resolve against
// the results directory.
func (a *app) openJournal(resultsDir string) (*journal.DB, error) {
	path := a.cfg.Batch.JournalPath
	if path == "" {
		return nil, nil
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(resultsDir, path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return journal.Open(path)
}
