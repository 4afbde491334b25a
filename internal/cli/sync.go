package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/offsync/internal/engine"
)

// PassView is the CLI rendering of a replay pass.
type PassView struct {
	Skipped     bool `json:"skipped"`
	Interrupted bool `json:"interrupted"`
	Attempted   int  `json:"attempted"`
	Succeeded   int  `json:"succeeded"`
	Retried     int  `json:"retried"`
	Abandoned   int  `json:"abandoned"`
	Failed      int  `json:"failed"`
	Released    int  `json:"released"`
}

func passView(res engine.PassResult) PassView {
	return PassView{
		Skipped:     res.Skipped || res.AlreadyRunning,
		Interrupted: res.Interrupted,
		Attempted:   res.Attempted,
		Succeeded:   res.Succeeded,
		Retried:     res.Retried,
		Abandoned:   res.Abandoned,
		Failed:      res.Failed,
		Released:    res.Released,
	}
}

func newSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one replay pass now",
		Long: `Replay eligible queued operations against the remote once.

The remote must be reachable; if it is not, nothing is sent and the command
exits with status 1. Records that fail retryably are rescheduled with
backoff and reported as retried.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(rootOpts, cmd)
		},
	}
}

func runSync(opts *RootOptions, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)

	rt, err := openRuntime(opts, cmd, withRemote)
	if err != nil {
		return err
	}
	defer rt.close()
	if err := rt.requireRemote(); err != nil {
		return err
	}

	res, err := rt.engine.Replay(cmd.Context())
	if err != nil {
		return reportError(f, "replay failed", err)
	}

	view := passView(res)
	if err := f.Success(view, func(w io.Writer) error {
		return renderPass(w, view)
	}); err != nil {
		return err
	}
	if view.Skipped {
		return NewExitError(ExitFailure, "remote unreachable; nothing replayed")
	}
	return nil
}

func renderPass(w io.Writer, v PassView) error {
	if v.Skipped {
		_, err := fmt.Fprintln(w, "Pass skipped: remote unreachable.")
		return err
	}
	fmt.Fprintf(w, "attempted %d: %d succeeded, %d retried, %d abandoned, %d failed\n",
		v.Attempted, v.Succeeded, v.Retried, v.Abandoned, v.Failed)
	if v.Interrupted {
		fmt.Fprintf(w, "interrupted: connectivity lost (%d released)\n", v.Released)
	}
	return nil
}

// CountResult reports how many records a maintenance command touched.
type CountResult struct {
	Count int `json:"count"`
}

func newPurgeCommand(rootOpts *RootOptions) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete finished records past the retention window",
		Long: `Delete SUCCEEDED and FAILED records that finished longer ago than the
retention window. Pending and in-flight records are never removed.

Examples:
  offsync purge
  offsync purge --older-than 24h`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			rt, err := openRuntime(rootOpts, cmd, localOnly)
			if err != nil {
				return err
			}
			defer rt.close()

			window := rt.cfg.RecordRetentionWindow
			if cmd.Flags().Changed("older-than") {
				window = olderThan
			}
			n, err := rt.engine.Purge(cmd.Context(), window)
			if err != nil {
				return reportError(f, "purge failed", err)
			}
			return f.Success(CountResult{Count: n}, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "purged %d records finished more than %s ago\n", n, window)
				return err
			})
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "retention window (default: recordRetentionWindow from config)")
	return cmd
}

func newRecoverCommand(rootOpts *RootOptions) *cobra.Command {
	var claimTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Return stale in-flight claims to the queue",
		Long: `Return IN_FLIGHT records claimed longer ago than the claim timeout to
PENDING so the next pass retries them. Use after a crash left claims behind.
The attempt count is not changed.

Examples:
  offsync recover
  offsync recover --claim-timeout 0s`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			rt, err := openRuntime(rootOpts, cmd, localOnly)
			if err != nil {
				return err
			}
			defer rt.close()

			timeout := rt.cfg.ClaimTimeout
			if cmd.Flags().Changed("claim-timeout") {
				timeout = claimTimeout
			}
			n, err := rt.engine.RecoverStale(cmd.Context(), timeout)
			if err != nil {
				return reportError(f, "recover failed", err)
			}
			return f.Success(CountResult{Count: n}, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "recovered %d stale claims\n", n)
				return err
			})
		},
	}

	cmd.Flags().DurationVar(&claimTimeout, "claim-timeout", 0, "claim age after which a record is recovered (default: claimTimeout from config)")
	return cmd
}
