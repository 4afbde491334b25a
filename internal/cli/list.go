package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/offsync/internal/record"
	"github.com/roach88/offsync/internal/store"
)

// ListOptions holds flags for the list command.
type ListOptions struct {
	*RootOptions
	Status   string
	Resource string
	Limit    int
}

// RecordView is the CLI rendering of a queued record.
type RecordView struct {
	ID             string          `json:"id"`
	Type           string          `json:"operation_type"`
	ResourceID     string          `json:"resource_id"`
	Status         string          `json:"status"`
	AttemptCount   int             `json:"attempt_count"`
	Payload        json.RawMessage `json:"payload"`
	CreatedAt      time.Time       `json:"created_at"`
	NextEligibleAt time.Time       `json:"next_eligible_at"`
	LastError      string          `json:"last_error,omitempty"`
}

func viewOf(rec record.Record) RecordView {
	return RecordView{
		ID:             rec.ID,
		Type:           string(rec.Type),
		ResourceID:     rec.ResourceID,
		Status:         string(rec.Status),
		AttemptCount:   rec.AttemptCount,
		Payload:        json.RawMessage(rec.Payload),
		CreatedAt:      rec.CreatedAt,
		NextEligibleAt: rec.NextEligibleAt,
		LastError:      rec.LastError,
	}
}

func newListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued operations",
		Long: `List operation records in queue order.

Examples:
  offsync list
  offsync list --status pending --resource cart-42
  offsync list --format json --limit 10`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Status, "status", "", "filter by status (pending, in_flight, succeeded, failed)")
	cmd.Flags().StringVar(&opts.Resource, "resource", "", "filter by resource ID")
	cmd.Flags().IntVar(&opts.Limit, "limit", 100, "maximum records to show (0 for all)")

	return cmd
}

func runList(opts *ListOptions, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	filter := store.Filter{ResourceID: opts.Resource, Limit: opts.Limit}
	if opts.Status != "" {
		status, err := record.ParseStatus(strings.ToUpper(opts.Status))
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --status", err)
		}
		filter.Status = status
	}

	rt, err := openRuntime(opts.RootOptions, cmd, localOnly)
	if err != nil {
		return err
	}
	defer rt.close()

	recs, err := rt.queue.List(cmd.Context(), filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list queue", err)
	}

	views := make([]RecordView, len(recs))
	for i, rec := range recs {
		views[i] = viewOf(rec)
	}
	return f.Success(views, func(w io.Writer) error {
		return renderRecords(w, views)
	})
}

func renderRecords(w io.Writer, views []RecordView) error {
	if len(views) == 0 {
		_, err := fmt.Fprintln(w, "No operations.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tRESOURCE\tSTATUS\tATTEMPTS\tLAST ERROR")
	for _, v := range views {
		lastErr := v.LastError
		if lastErr == "" {
			lastErr = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			v.ID, v.Type, v.ResourceID, v.Status, v.AttemptCount, lastErr)
	}
	return tw.Flush()
}

// StatusResult is the status command output.
type StatusResult struct {
	Counts     map[record.Status]int `json:"counts"`
	Total      int                   `json:"total"`
	CachedKeys int                   `json:"cached_keys"`
}

func newStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue counts per status",
		Long: `Show how many operation records are in each status and how many
snapshots the read cache holds.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(rootOpts, cmd)
		},
	}
}

func runStatus(opts *RootOptions, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)

	rt, err := openRuntime(opts, cmd, localOnly)
	if err != nil {
		return err
	}
	defer rt.close()

	counts, err := rt.queue.Counts(cmd.Context())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to count queue", err)
	}
	keys, err := rt.cache.Keys()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read snapshot cache", err)
	}

	out := StatusResult{Counts: counts, CachedKeys: len(keys)}
	for _, n := range counts {
		out.Total += n
	}
	return f.Success(out, func(w io.Writer) error {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		for _, st := range record.ValidStatuses {
			fmt.Fprintf(tw, "%s\t%d\n", st, counts[st])
		}
		fmt.Fprintf(tw, "TOTAL\t%d\n", out.Total)
		fmt.Fprintf(tw, "CACHED SNAPSHOTS\t%d\n", out.CachedKeys)
		return tw.Flush()
	})
}
