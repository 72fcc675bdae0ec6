package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PagesFetched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tweetstream_pages_fetched_total",
		Help: "Timeline batch pages fetched",
	}, []string{"timeline"})
	TweetsYielded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tweetstream_tweets_yielded_total",
		Help: "Tweets yielded by retriever streams",
	}, []string{"timeline"})
	RateLimits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tweetstream_rate_limits_total",
		Help: "Rate-limit responses observed",
	}, []string{"endpoint"})
	Bootstraps = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tweetstream_bootstraps_total",
		Help: "Guest sessions bootstrapped",
	})
	Jobs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tweetstream_jobs_total",
		Help: "Batch jobs by final state",
	}, []string{"state"})
	JobDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tweetstream_job_duration_seconds",
		Help:    "Batch job execution duration seconds",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})
	LookupRequests = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tweetstream_lookup_requests_total",
		Help: "Official bulk lookup requests issued",
	})
	CommandRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tweetstream_command_runs_total",
		Help: "CLI command invocations",
	}, []string{"command"})
	CommandErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tweetstream_command_errors_total",
		Help: "CLI command failures",
	}, []string{"command"})
)

func init() {
	prometheus.MustRegister(PagesFetched, TweetsYielded, RateLimits, Bootstraps, Jobs, JobDuration,
		LookupRequests, CommandRuns, CommandErrors)
}

// StartServer starts a metrics HTTP server on addr (e.g., ":9090"). Empty addr is a no-op.
func StartServer(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	go func() { _ = http.ListenAndServe(addr, mux) }()
}

// ObserveJobDuration records a job run duration.
func ObserveJobDuration(start time.Time) { JobDuration.Observe(time.Since(start).Seconds()) }

func IncRateLimit(endpoint string) { RateLimits.WithLabelValues(endpoint).Inc() }
func IncJob(state string)          { Jobs.WithLabelValues(state).Inc() }
func IncCommandRun(cmd string)     { CommandRuns.WithLabelValues(cmd).Inc() }
func IncCommandError(cmd string)   { CommandErrors.WithLabelValues(cmd).Inc() }
