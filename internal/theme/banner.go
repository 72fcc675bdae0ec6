package theme

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

var (
	cyan    = color.New(color.FgCyan).SprintFunc()
	magenta = color.New(color.FgMagenta, color.Bold).SprintFunc()
	yellow  = color.New(color.FgYellow).SprintFunc()
	green   = color.New(color.FgGreen).SprintFunc()
	red     = color.New(color.FgRed, color.Bold).SprintFunc()
)

// Banner returns the CLI banner.
func Banner() string {
	return "" +
		magenta("  ~ TWEETSTREAM ~") + "\n" +
		cyan("  ═══╦═══ ╦   ╦ ╔═══") + "\n" +
		cyan("     ║    ║ ╦ ║ ╚══╗") + "\n" +
		cyan("     ╩    ╚═╩═╝ ═══╝") + "\n" +
		yellow("  ──────────────────────") + "\n" +
		"  resumable timeline crawls, one job at a time\n"
}

// PrintBanner writes the banner to w.
func PrintBanner(w io.Writer) {
	fmt.Fprint(w, Banner())
}

// Status colours a job state label: success and skipped in green and
// yellow, failed in red, anything else in cyan.
func Status(state string) string {
	switch state {
	case "success", "completed":
		return green(state)
	case "skipped":
		return yellow(state)
	case "failed":
		return red(state)
	}
	return cyan(state)
}

// Heading colours a section title.
func Heading(s string) string { return magenta(s) }
