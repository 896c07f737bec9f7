package cli

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/anstrom/portscout/internal/config"
	"github.com/anstrom/portscout/internal/db"
	"github.com/anstrom/portscout/internal/errors"
	"github.com/anstrom/portscout/internal/logging"
	"github.com/anstrom/portscout/internal/profiles"
	"github.com/anstrom/portscout/internal/report"
	"github.com/anstrom/portscout/internal/scanning"
)

// scanOptions holds the scan command flags. Zero values defer to the
// profile or the config file.
type scanOptions struct {
	ports         string
	category      string
	profile       string
	timeout       time.Duration
	bannerTimeout time.Duration
	concurrency   int
	outputDir     string
	saveDB        bool
	noJSON        bool
	noColor       bool
}

var scanOpts scanOptions

// scanRunner runs one scan. *scanning.Coordinator implements it.
type scanRunner interface {
	Run(ctx context.Context, req *scanning.ScanRequest) (*scanning.ScanSummary, error)
}

// newScanRunner is swapped out in tests.
var newScanRunner = func(opts scanning.CoordinatorOptions) scanRunner {
	return scanning.NewCoordinator(opts)
}

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan [target]",
	Short: "Scan a host for open TCP ports",
	Long: `Resolve the target, probe every selected port with a TCP connect and
read a banner from each open port.

Ports come from --ports, a --category, or a saved --profile. Explicit
flags override the profile. Results are printed as a summary table and,
unless disabled, written to a JSON file in the output directory.`,
	Example: `  portscout scan localhost --ports 1-1024
  portscout scan 192.168.1.10 --category web
  portscout scan --profile web-servers
  portscout scan example.com --ports 22,80,443 --timeout 1s --save-db`,
	Args: cobra.MaximumNArgs(1),
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().StringVarP(&scanOpts.ports, "ports", "p", "", "Ports to scan, e.g. '22,80,8000-8100'")
	scanCmd.Flags().StringVarP(&scanOpts.category, "category", "c", "",
		"Port category: "+categoryNames())
	scanCmd.Flags().StringVar(&scanOpts.profile, "profile", "", "Saved scan profile to use")
	scanCmd.Flags().DurationVar(&scanOpts.timeout, "timeout", 0, "Per-port connect timeout (default from config)")
	scanCmd.Flags().DurationVar(&scanOpts.bannerTimeout, "banner-timeout", 0, "Banner read timeout (default from config)")
	scanCmd.Flags().IntVar(&scanOpts.concurrency, "concurrency", 0, "Ports probed at once (default from config)")
	scanCmd.Flags().StringVarP(&scanOpts.outputDir, "output-dir", "o", "", "Directory for the JSON result file")
	scanCmd.Flags().BoolVar(&scanOpts.saveDB, "save-db", false, "Store the summary in the database")
	scanCmd.Flags().BoolVar(&scanOpts.noJSON, "no-json", false, "Do not write the JSON result file")
	scanCmd.Flags().BoolVar(&scanOpts.noColor, "no-color", false, "Disable coloured output")

	scanCmd.MarkFlagsMutuallyExclusive("ports", "category")
}

func categoryNames() string {
	cats := scanning.Categories()
	names := make([]string, len(cats))
	for i, c := range cats {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var target string
	if len(args) > 0 {
		target = args[0]
	}

	lookup := func(ctx context.Context, name string) (*profiles.Profile, error) {
		var p *profiles.Profile
		err := withProfiles(ctx, cfg, func(m *profiles.Manager) error {
			var getErr error
			p, getErr = m.Get(ctx, name)
			return getErr
		})
		return p, err
	}

	req, err := buildScanRequest(ctx, cfg, target, &scanOpts, lookup)
	if err != nil {
		return err
	}
	return executeScan(ctx, cmd.OutOrStdout(), cfg, req, &scanOpts)
}

// profileLookup loads a profile by name.
type profileLookup func(ctx context.Context, name string) (*profiles.Profile, error)

// buildScanRequest merges defaults, an optional profile and explicit flags.
func buildScanRequest(
	ctx context.Context,
	cfg *config.Config,
	target string,
	opts *scanOptions,
	lookup profileLookup,
) (*scanning.ScanRequest, error) {
	defaults := cfg.ScanDefaults()

	var req *scanning.ScanRequest
	if opts.profile != "" {
		p, err := lookup(ctx, opts.profile)
		if err != nil {
			return nil, fmt.Errorf("failed to load profile %q: %w", opts.profile, err)
		}
		req = p.ScanRequest(defaults)
	} else {
		req = &scanning.ScanRequest{
			Timeout:       defaults.Timeout,
			BannerTimeout: defaults.BannerTimeout,
			Concurrency:   defaults.Concurrency,
		}
	}

	if target = strings.TrimSpace(target); target != "" {
		req.Target = target
	}
	if opts.ports != "" || opts.category != "" || req.Ports == nil {
		ports, err := scanning.SelectPorts(opts.ports, opts.category)
		if err != nil {
			return nil, errors.WrapScanError(errors.CodeValidation, err.Error(), err)
		}
		req.Ports = ports
	}
	if opts.timeout > 0 {
		req.Timeout = opts.timeout
	}
	if opts.bannerTimeout > 0 {
		req.BannerTimeout = opts.bannerTimeout
	}
	if opts.concurrency > 0 {
		req.Concurrency = opts.concurrency
	}

	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}

// executeScan runs req, renders the result to out and persists it. A
// resolution failure prints "Could not resolve <target>" and fails without
// further output.
func executeScan(ctx context.Context, out io.Writer, cfg *config.Config, req *scanning.ScanRequest, opts *scanOptions) error {
	renderer := report.NewRenderer(out, !opts.noColor && !color.NoColor)

	coordOpts := cfg.CoordinatorOptions()
	coordOpts.Progress = renderer.Progress
	coordOpts.Started = func(address string) {
		renderer.ScanStarted(req.Target, address, req.Ports)
	}
	coordOpts.Logger = logging.Default()

	summary, err := newScanRunner(coordOpts).Run(ctx, req)
	if err != nil {
		if errors.IsResolutionError(err) {
			renderer.ResolutionFailed(req.Target)
			return errSilentExit
		}
		return err
	}

	if err := renderer.Summary(summary); err != nil {
		return err
	}

	var persistErrs []error
	if cfg.Scanning.SaveJSON && !opts.noJSON {
		dir := cfg.Scanning.OutputDir
		if opts.outputDir != "" {
			dir = opts.outputDir
		}
		path, err := report.WriteJSON(dir, summary)
		if err != nil {
			persistErrs = append(persistErrs, err)
		} else {
			renderer.Saved(path)
		}
	}

	if opts.saveDB || cfg.Scanning.SaveDatabase {
		err := withDatabase(ctx, cfg, func(database *db.DB) error {
			id, err := db.NewScanRepository(database).Save(ctx, summary)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Stored scan %s\n", id)
			return nil
		})
		if err != nil {
			persistErrs = append(persistErrs, fmt.Errorf("failed to store scan: %w", err))
		}
	}

	return stderrors.Join(persistErrs...)
}
