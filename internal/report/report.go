// Package report renders scan summaries to the console and writes the JSON
// scan artifact.
package report

import (
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/anstrom/portscout/internal/scanning"
)

// Renderer prints scan progress and the final summary table.
type Renderer struct {
	mu  sync.Mutex
	out io.Writer

	open     *color.Color
	closed   *color.Color
	filtered *color.Color

	// ShowServices appends the well-known service label to open ports.
	ShowServices bool
}

// NewRenderer creates a renderer writing to out. Colour escapes are only
// emitted when colorize is true.
func NewRenderer(out io.Writer, colorize bool) *Renderer {
	r := &Renderer{
		out:          out,
		open:         color.New(color.FgGreen),
		closed:       color.New(color.FgRed),
		filtered:     color.New(color.FgYellow),
		ShowServices: true,
	}
	if !colorize {
		r.open.DisableColor()
		r.closed.DisableColor()
		r.filtered.DisableColor()
	} else {
		r.open.EnableColor()
		r.closed.EnableColor()
		r.filtered.EnableColor()
	}
	return r
}

func (r *Renderer) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = fmt.Fprintf(r.out, format, args...)
}

// ScanStarted prints the scan banner line.
func (r *Renderer) ScanStarted(target, address string, ports []int) {
	if len(ports) == 0 {
		r.printf("Scanning %s (%s)\n", target, address)
		return
	}
	r.printf("Scanning %s (%s) ports %d-%d\n", target, address, slices.Min(ports), slices.Max(ports))
}

// Progress prints a progress line. It matches scanning.ProgressFunc.
func (r *Renderer) Progress(done, total int) {
	r.printf("Scanned %d/%d ports...\n", done, total)
}

// ResolutionFailed prints the message shown when a target cannot be resolved.
func (r *Renderer) ResolutionFailed(target string) {
	r.printf("Could not resolve %s\n", target)
}

// Saved reports where the JSON artifact was written.
func (r *Renderer) Saved(path string) {
	r.printf("Saved results -> %s\n", path)
}

// Rows returns the Ports/Status table rows for a summary: one row per open
// port, then compressed ranges for closed and filtered ports.
func (r *Renderer) Rows(summary *scanning.ScanSummary) [][]string {
	rows := make([][]string, 0, len(summary.Open)+2)

	for _, p := range summary.Open {
		display := fmt.Sprintf("%d", p.Port)
		if p.HasBanner() {
			display = fmt.Sprintf("%d (%s)", p.Port, *p.Banner)
		}
		if r.ShowServices {
			if label, ok := scanning.ServiceLabel(p.Port); ok {
				display += " [" + label + "]"
			}
		}
		rows = append(rows, []string{r.open.Sprint(display), r.open.Sprint("Open")})
	}
	for _, entry := range scanning.CompressRanges(summary.Closed) {
		rows = append(rows, []string{r.closed.Sprint(entry), r.closed.Sprint("Closed")})
	}
	for _, entry := range scanning.CompressRanges(summary.Filtered) {
		rows = append(rows, []string{r.filtered.Sprint(entry), r.filtered.Sprint("Filtered")})
	}
	return rows
}

// Summary prints the completion line, the summary table and the totals.
func (r *Renderer) Summary(summary *scanning.ScanSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, _ = fmt.Fprintf(r.out, "\nScan complete in %.2fs\n\n", summary.Duration)
	_, _ = fmt.Fprintln(r.out, "Scan Summary:")

	table := tablewriter.NewWriter(r.out)
	table.Header("Ports", "Status")
	for _, row := range r.Rows(summary) {
		if err := table.Append(row); err != nil {
			return fmt.Errorf("failed to append table row: %w", err)
		}
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("failed to render summary table: %w", err)
	}

	_, _ = fmt.Fprintf(r.out, "\nTotals: Open=%d, Closed=%d, Filtered=%d\n",
		len(summary.Open), len(summary.Closed), len(summary.Filtered))
	return nil
}
