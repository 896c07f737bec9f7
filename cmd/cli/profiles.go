package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/anstrom/portscout/internal/profiles"
	"github.com/anstrom/portscout/internal/scanning"
)

const profileTimeFormat = "2006-01-02 15:04:05"

var (
	profileTarget      string
	profilePorts       string
	profileCategory    string
	profileTimeout     time.Duration
	profileConcurrency int
)

// profilesCmd represents the profiles command.
var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "Manage scan profiles",
	Long: `Save, list, show and delete named scan profiles. A profile stores a
target, a port selection, a timeout and a concurrency limit, and can be
used with "portscout scan --profile <name>".`,
	Example: `  portscout profiles save web --target 10.0.0.5 --category web
  portscout profiles list
  portscout profiles show web
  portscout profiles delete web`,
}

var profilesSaveCmd = &cobra.Command{
	Use:   "save <profile-name>",
	Short: "Create or replace a scan profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithProfiles(cmd, func(ctx context.Context, m *profiles.Manager, defaults profiles.Defaults) error {
			return saveProfile(ctx, cmd.OutOrStdout(), m, defaults, args[0])
		})
	},
}

var profilesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved scan profiles",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithProfiles(cmd, func(ctx context.Context, m *profiles.Manager, _ profiles.Defaults) error {
			return listProfiles(ctx, cmd.OutOrStdout(), m)
		})
	},
}

var profilesShowCmd = &cobra.Command{
	Use:   "show <profile-name>",
	Short: "Show details of a scan profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithProfiles(cmd, func(ctx context.Context, m *profiles.Manager, _ profiles.Defaults) error {
			return showProfile(ctx, cmd.OutOrStdout(), m, args[0])
		})
	},
}

var profilesDeleteCmd = &cobra.Command{
	Use:   "delete <profile-name>",
	Short: "Delete a scan profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithProfiles(cmd, func(ctx context.Context, m *profiles.Manager, _ profiles.Defaults) error {
			if err := m.Delete(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted profile %s\n", args[0])
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(profilesCmd)
	profilesCmd.AddCommand(profilesSaveCmd)
	profilesCmd.AddCommand(profilesListCmd)
	profilesCmd.AddCommand(profilesShowCmd)
	profilesCmd.AddCommand(profilesDeleteCmd)

	profilesSaveCmd.Flags().StringVar(&profileTarget, "target", "", "Target host (required)")
	profilesSaveCmd.Flags().StringVarP(&profilePorts, "ports", "p", "", "Ports, e.g. '22,80,8000-8100'")
	profilesSaveCmd.Flags().StringVarP(&profileCategory, "category", "c", "", "Port category: "+categoryNames())
	profilesSaveCmd.Flags().DurationVar(&profileTimeout, "timeout", 0, "Per-port connect timeout (default from config)")
	profilesSaveCmd.Flags().IntVar(&profileConcurrency, "concurrency", 0, "Ports probed at once (default from config)")
	profilesSaveCmd.MarkFlagsMutuallyExclusive("ports", "category")
	if err := profilesSaveCmd.MarkFlagRequired("target"); err != nil {
		panic(err)
	}
}

// runWithProfiles loads the config and runs op against the profile store.
func runWithProfiles(cmd *cobra.Command, op func(context.Context, *profiles.Manager, profiles.Defaults) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	ctx := cmd.Context()
	return withProfiles(ctx, cfg, func(m *profiles.Manager) error {
		return op(ctx, m, cfg.ScanDefaults())
	})
}

func saveProfile(ctx context.Context, out io.Writer, m *profiles.Manager, defaults profiles.Defaults, name string) error {
	ports, err := scanning.SelectPorts(profilePorts, profileCategory)
	if err != nil {
		return err
	}

	p := profiles.Profile{
		Name:        name,
		Target:      profileTarget,
		Ports:       ports,
		Timeout:     defaults.Timeout,
		Concurrency: defaults.Concurrency,
	}
	if profileTimeout > 0 {
		p.Timeout = profileTimeout
	}
	if profileConcurrency > 0 {
		p.Concurrency = profileConcurrency
	}

	saved, err := m.Save(ctx, p)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Saved profile %s (%s, %d ports)\n", saved.Name, saved.Target, len(saved.Ports))
	return nil
}

func listProfiles(ctx context.Context, out io.Writer, m *profiles.Manager) error {
	names, err := m.List(ctx)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Fprintln(out, "No profiles saved.")
		return nil
	}

	table := tablewriter.NewWriter(out)
	table.Header("Name", "Target", "Ports", "Timeout", "Concurrency")
	for _, name := range names {
		p, err := m.Get(ctx, name)
		if err != nil {
			return err
		}
		if err := table.Append([]string{
			p.Name,
			p.Target,
			truncatePorts(scanning.CompressPorts(p.Ports)),
			p.Timeout.String(),
			fmt.Sprintf("%d", p.Concurrency),
		}); err != nil {
			return fmt.Errorf("failed to append table row: %w", err)
		}
	}
	return table.Render()
}

func showProfile(ctx context.Context, out io.Writer, m *profiles.Manager, name string) error {
	p, err := m.Get(ctx, name)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Name:        %s\n", p.Name)
	fmt.Fprintf(out, "Target:      %s\n", p.Target)
	fmt.Fprintf(out, "Ports:       %s\n", strings.Join(scanning.CompressPorts(p.Ports), ","))
	fmt.Fprintf(out, "Port count:  %d\n", len(p.Ports))
	fmt.Fprintf(out, "Timeout:     %s\n", p.Timeout)
	fmt.Fprintf(out, "Concurrency: %d\n", p.Concurrency)
	fmt.Fprintf(out, "Created:     %s\n", p.CreatedAt.UTC().Format(profileTimeFormat))
	return nil
}

// truncatePorts keeps list rows readable for profiles with many ranges.
func truncatePorts(ranges []string) string {
	const maxRanges = 5
	if len(ranges) <= maxRanges {
		return strings.Join(ranges, ",")
	}
	return strings.Join(ranges[:maxRanges], ",") + fmt.Sprintf(",... (+%d)", len(ranges)-maxRanges)
}
