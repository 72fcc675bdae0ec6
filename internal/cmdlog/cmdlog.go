package cmdlog

import (
	"time"

	"tweetstream/internal/logging"
	"tweetstream/internal/metrics"
)

// Run executes f as the named CLI command, counting it and logging the outcome.
func Run(cmd string, f func() error) error {
	metrics.IncCommandRun(cmd)
	start := time.Now()
	err := f()
	if err != nil {
		metrics.IncCommandError(cmd)
		logging.Error(cmd+"_error", map[string]any{"error": err.Error(), "elapsed": time.Since(start).String()})
	} else {
		logging.Info(cmd+"_ok", map[string]any{"elapsed": time.Since(start).String()})
	}
	return err
}
