package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/offsync/internal/engine"
)

// ReadView is the CLI rendering of one read emission.
type ReadView struct {
	Key       string    `json:"key"`
	Value     any       `json:"value,omitempty"`
	FetchedAt time.Time `json:"fetched_at,omitzero"`
	Stale     bool      `json:"stale"`
	Error     string    `json:"error,omitempty"`
}

func readView(r engine.ReadResult) ReadView {
	v := ReadView{Key: r.Key, FetchedAt: r.FetchedAt, Stale: r.Stale}
	if r.Value != nil {
		if json.Valid(r.Value) {
			v.Value = json.RawMessage(r.Value)
		} else {
			v.Value = string(r.Value)
		}
	}
	if r.Err != nil {
		v.Error = r.Err.Error()
	}
	return v
}

func newGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Read a resource, cache first",
		Long: `Print the cached snapshot of a resource immediately, marked stale, then
refresh it from the remote when reachable and print the fresh value.

Offline, only the cached snapshot is printed. With neither a snapshot nor a
reachable remote the command exits with status 1.

Example:
  offsync get cart-42`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(rootOpts, args[0], cmd)
		},
	}
}

func runGet(opts *RootOptions, key string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)

	rt, err := openRuntime(opts, cmd, withRemote)
	if err != nil {
		return err
	}
	defer rt.close()

	var (
		views    []ReadView
		gotValue bool
		last     error
	)
	for r := range rt.engine.Read(cmd.Context(), key, nil) {
		views = append(views, readView(r))
		if r.Value != nil {
			gotValue = true
		}
		last = r.Err
		if f.Format != "json" {
			renderRead(f.Writer, r)
		}
	}

	if f.Format == "json" {
		if err := f.Success(views, nil); err != nil {
			return err
		}
	}
	if !gotValue {
		if errors.Is(last, engine.ErrNoSnapshot) {
			return NewExitError(ExitFailure, fmt.Sprintf("%s: no cached snapshot and remote unavailable", key))
		}
		return WrapExitError(ExitFailure, "read failed", last)
	}
	if last != nil {
		f.VerboseLog("refresh failed, showing cached snapshot: %v", last)
	}
	return nil
}

func renderRead(w io.Writer, r engine.ReadResult) {
	switch {
	case r.Value == nil:
		// Failure without data is reported through the exit error.
	case r.Err != nil:
		fmt.Fprintf(w, "[stale %s, refresh failed: %v] %s\n", r.FetchedAt.Format(time.RFC3339), r.Err, r.Value)
	case r.Stale:
		fmt.Fprintf(w, "[stale %s] %s\n", r.FetchedAt.Format(time.RFC3339), r.Value)
	default:
		fmt.Fprintf(w, "[fresh] %s\n", r.Value)
	}
}
