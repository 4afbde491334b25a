package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/offsync/internal/connectivity"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	DataDir    string
	BaseURL    string
	Verbose    bool
	Format     string // "json" | "text"

	// Source overrides the reachability probe used by commands that talk to
	// the remote (for testing). Nil probes the configured address.
	Source connectivity.Source
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the offsync CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "offsync",
		Short: "offsync - offline-first operation queue",
		Long: `offsync queues mutations durably while the network is unavailable and
replays them in order, with capped exponential backoff, once it returns.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to a YAML or JSON config file")
	cmd.PersistentFlags().StringVar(&opts.DataDir, "data-dir", "", "directory for the queue and snapshot cache (default: platform data dir)")
	cmd.PersistentFlags().StringVar(&opts.BaseURL, "base-url", "", "remote service base URL (overrides config)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(newEnqueueCommand(opts))
	cmd.AddCommand(newListCommand(opts))
	cmd.AddCommand(newStatusCommand(opts))
	cmd.AddCommand(newSyncCommand(opts))
	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newPurgeCommand(opts))
	cmd.AddCommand(newRecoverCommand(opts))
	cmd.AddCommand(newGetCommand(opts))
	cmd.AddCommand(newTestCommand(opts))

	return cmd
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}
