package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/anstrom/portscout/internal/db"
	"github.com/anstrom/portscout/internal/report"
	"github.com/anstrom/portscout/internal/scanning"
)

const scanTimeFormat = "2006-01-02 15:04:05"

var (
	scansTarget  string
	scansLimit   int
	scansOffset  int
	scansNoColor bool
)

// scanHistory is the read side of db.ScanRepository.
type scanHistory interface {
	Get(ctx context.Context, id uuid.UUID) (*db.ScanRecord, error)
	List(ctx context.Context, target string, limit, offset int) ([]db.ScanListItem, error)
}

// scansCmd represents the scans command.
var scansCmd = &cobra.Command{
	Use:   "scans",
	Short: "Browse stored scan results",
	Long: `List scan summaries stored with --save-db, or show one in full. "show"
also accepts the path of a JSON result file.`,
	Example: `  portscout scans list
  portscout scans list --target 10.0.0.5 --limit 10
  portscout scans show 3f1c9a8e-5d1b-4b7e-9a51-0c2f1d9e7a44
  portscout scans show scans/scan_localhost_20240501T120000Z.json`,
}

var scansListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored scans, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("error loading config: %w", err)
		}
		return withDatabase(cmd.Context(), cfg, func(database *db.DB) error {
			return listScans(cmd.Context(), cmd.OutOrStdout(), db.NewScanRepository(database))
		})
	},
}

var scansShowCmd = &cobra.Command{
	Use:   "show <scan-id|file.json>",
	Short: "Show one scan summary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if strings.HasSuffix(args[0], ".json") {
			summary, err := report.ReadJSON(args[0])
			if err != nil {
				return err
			}
			return printStoredSummary(out, summary)
		}

		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid scan id %q: %w", args[0], err)
		}
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("error loading config: %w", err)
		}
		return withDatabase(cmd.Context(), cfg, func(database *db.DB) error {
			return showScan(cmd.Context(), out, db.NewScanRepository(database), id)
		})
	},
}

func init() {
	rootCmd.AddCommand(scansCmd)
	scansCmd.AddCommand(scansListCmd)
	scansCmd.AddCommand(scansShowCmd)

	scansListCmd.Flags().StringVar(&scansTarget, "target", "", "Only show scans of this target")
	scansListCmd.Flags().IntVar(&scansLimit, "limit", 20, "Maximum number of scans to show")
	scansListCmd.Flags().IntVar(&scansOffset, "offset", 0, "Number of scans to skip")
	scansShowCmd.Flags().BoolVar(&scansNoColor, "no-color", false, "Disable coloured output")
}

func listScans(ctx context.Context, out io.Writer, history scanHistory) error {
	items, err := history.List(ctx, scansTarget, scansLimit, scansOffset)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Fprintln(out, "No scans stored.")
		return nil
	}

	table := tablewriter.NewWriter(out)
	table.Header("ID", "Target", "IP", "Time (UTC)", "Duration", "Open", "Closed", "Filtered")
	for _, item := range items {
		if err := table.Append([]string{
			item.ID.String(),
			item.Target,
			item.IP,
			item.Timestamp.UTC().Format(scanTimeFormat),
			fmt.Sprintf("%.2fs", item.DurationS),
			fmt.Sprintf("%d", item.Open),
			fmt.Sprintf("%d", item.Closed),
			fmt.Sprintf("%d", item.Filtered),
		}); err != nil {
			return fmt.Errorf("failed to append table row: %w", err)
		}
	}
	return table.Render()
}

func showScan(ctx context.Context, out io.Writer, history scanHistory, id uuid.UUID) error {
	record, err := history.Get(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Scan %s (stored %s)\n", record.ID, record.CreatedAt.UTC().Format(scanTimeFormat))
	return printStoredSummary(out, record.Summary)
}

func printStoredSummary(out io.Writer, summary *scanning.ScanSummary) error {
	fmt.Fprintf(out, "Target: %s (%s) at %s\n", summary.Target, summary.IP,
		summary.Timestamp.UTC().Format(scanning.TimestampLayout))
	return report.NewRenderer(out, !scansNoColor).Summary(summary)
}
