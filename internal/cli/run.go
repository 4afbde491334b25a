package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/offsync/internal/engine"
	"github.com/roach88/offsync/internal/fanout"
	"github.com/roach88/offsync/internal/scheduler"
)

func newRunCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Keep the queue draining in the background",
		Long: `Start the connectivity monitor and the replay scheduler and run until
interrupted.

A pass runs immediately when the remote becomes reachable and then every
syncIntervalWhileConnected while it stays reachable. Stale claims are
recovered at startup and finished records are purged once per
purgeInterval. Engine events are written to the log.

Example:
  offsync run --base-url https://api.example.com --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(rootOpts, cmd)
		},
	}
}

func runDaemon(opts *RootOptions, cmd *cobra.Command) error {
	rt, err := openRuntime(opts, cmd, withRemote)
	if err != nil {
		return err
	}
	defer rt.close()
	if err := rt.requireRemote(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched, err := scheduler.New(rt.engine, rt.monitor, rt.cfg.SchedulerConfig(), scheduler.WithLogger(rt.logger))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create scheduler", err)
	}

	events := rt.engine.Subscribe()
	logged := make(chan struct{})
	go func() {
		defer close(logged)
		logEvents(rt.logger, events)
	}()
	defer func() {
		events.Cancel()
		<-logged
	}()

	if err := sched.Start(ctx); err != nil {
		return exitFor("failed to start scheduler", err)
	}

	rt.logger.Info("offsync running",
		"queue", rt.cfg.QueuePath,
		"remote", rt.cfg.Remote.BaseURL,
		"connectivity", rt.monitor.Current().String(),
	)
	fmt.Fprintln(cmd.OutOrStdout(), "offsync running. Press Ctrl-C to stop.")

	<-ctx.Done()
	sched.Stop()

	rt.logger.Info("offsync stopped gracefully", "runs", sched.Runs())
	return nil
}

// logEvents writes engine events to the log until sub is cancelled.
func logEvents(logger *slog.Logger, sub *fanout.Subscription[engine.Event]) {
	for ev := range sub.C() {
		attrs := []any{"seq", ev.Seq}
		if ev.RecordID != "" {
			attrs = append(attrs,
				"record_id", ev.RecordID,
				"resource", ev.ResourceID,
				"operation", string(ev.Operation),
				"attempt", ev.Attempt,
			)
		}
		if ev.Delay > 0 {
			attrs = append(attrs, "delay", ev.Delay)
		}
		if ev.Reason != "" {
			attrs = append(attrs, "reason", ev.Reason)
		}
		if ev.State != nil {
			attrs = append(attrs, "state", ev.State.String())
		}

		level := slog.LevelInfo
		switch ev.Type {
		case engine.EventSyncRetry, engine.EventSyncAbandoned, engine.EventSyncFailed:
			level = slog.LevelWarn
		case engine.EventSyncStarted:
			level = slog.LevelDebug
		}
		logger.Log(context.Background(), level, string(ev.Type), attrs...)
	}
}
