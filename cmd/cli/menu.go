package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/anstrom/portscout/internal/scanning"
)

var menuOpts scanOptions

// menuCmd walks the user through category and target selection.
var menuCmd = &cobra.Command{
	Use:   "menu [target]",
	Short: "Pick a port category interactively and scan",
	Long: `Prompt for a port category (or a custom start/end range) and a target,
then run the scan exactly like the scan command would.`,
	Example: `  portscout menu
  portscout menu 192.168.1.10`,
	Args: cobra.MaximumNArgs(1),
	RunE: runMenu,
}

func init() {
	rootCmd.AddCommand(menuCmd)

	menuCmd.Flags().BoolVar(&menuOpts.noJSON, "no-json", false, "Do not write the JSON result file")
	menuCmd.Flags().BoolVar(&menuOpts.saveDB, "save-db", false, "Store the summary in the database")
	menuCmd.Flags().BoolVar(&menuOpts.noColor, "no-color", false, "Disable coloured output")
}

func runMenu(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	var target string
	if len(args) > 0 {
		target = args[0]
	}

	out := cmd.OutOrStdout()
	ports, target, err := promptScan(bufio.NewReader(cmd.InOrStdin()), out, target)
	if err != nil {
		return err
	}

	defaults := cfg.ScanDefaults()
	req := &scanning.ScanRequest{
		Target:        target,
		Ports:         ports,
		Timeout:       defaults.Timeout,
		BannerTimeout: defaults.BannerTimeout,
		Concurrency:   defaults.Concurrency,
	}
	if err := req.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return executeScan(ctx, out, cfg, req, &menuOpts)
}

// promptScan asks for a category, falling back to a custom range on any
// other answer, then for the target unless one was given.
func promptScan(in *bufio.Reader, out io.Writer, target string) ([]int, string, error) {
	categories := scanning.Categories()

	fmt.Fprintln(out, "Select port category to scan:")
	for i, c := range categories {
		fmt.Fprintf(out, "%d - %s\n", i+1, categoryTitle(c))
	}

	choice, err := prompt(in, out, fmt.Sprintf("Enter choice (1-%d): ", len(categories)))
	if err != nil {
		return nil, "", err
	}

	var ports []int
	if n, convErr := strconv.Atoi(choice); convErr == nil && n >= 1 && n <= len(categories) {
		if ports, err = scanning.CategoryPorts(categories[n-1]); err != nil {
			return nil, "", err
		}
	} else {
		fmt.Fprintln(out, "Invalid choice, defaulting to custom range")
		start, err := promptInt(in, out, "Start port: ")
		if err != nil {
			return nil, "", err
		}
		end, err := promptInt(in, out, "End port: ")
		if err != nil {
			return nil, "", err
		}
		if ports, err = scanning.PortRange(start, end); err != nil {
			return nil, "", err
		}
	}

	if target == "" {
		if target, err = prompt(in, out, "Target (ip or hostname): "); err != nil {
			return nil, "", err
		}
	}
	return ports, target, nil
}

func categoryTitle(c scanning.Category) string {
	switch c {
	case scanning.CategoryWeb:
		return "Web ports"
	case scanning.CategoryDatabase:
		return "Database ports"
	case scanning.CategoryEmail:
		return "Email ports"
	case scanning.CategoryAdmin:
		return "Admin/Other ports"
	}
	return string(c)
}

func prompt(in *bufio.Reader, out io.Writer, label string) (string, error) {
	fmt.Fprint(out, label)
	line, err := in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func promptInt(in *bufio.Reader, out io.Writer, label string) (int, error) {
	text, err := prompt(in, out, label)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(text)
	if err != nil {
		return 0, fmt.Errorf("invalid port number %q", text)
	}
	return n, nil
}
