package theme

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fatih/color"
)

func TestStatusLabels(t *testing.T) {
	color.NoColor = true
	for _, s := range []string{"success", "skipped", "failed", "running"} {
		if got := Status(s); got != s {
			t.Fatalf("Status(%q) = %q without colour", s, got)
		}
	}
}

func TestPrintBanner(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	PrintBanner(&buf)
	if !strings.Contains(buf.String(), "TWEETSTREAM") {
		t.Fatalf("banner %q", buf.String())
	}
}
