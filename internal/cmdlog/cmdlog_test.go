package cmdlog

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"tweetstream/internal/logging"
)

func TestRunLogsOutcome(t *testing.T) {
	var buf bytes.Buffer
	prev := logging.Default()
	logging.SetDefault(logging.NewLogger(&buf, "info"))
	defer logging.SetDefault(prev)

	if err := Run("idify", func() error { return nil }); err != nil {
		t.Fatal(err)
	}
	boom := errors.New("boom")
	if err := Run("unidify", func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("error not passed through: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "idify_ok") || !strings.Contains(out, "unidify_error") {
		t.Fatalf("missing log lines: %s", out)
	}
}
