package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/offsync/internal/engine"
	"github.com/roach88/offsync/internal/record"
)

// EnqueueOptions holds flags for the enqueue command.
type EnqueueOptions struct {
	*RootOptions
	Payload string
	ID      string
}

// EnqueueResult is the enqueue command output.
type EnqueueResult struct {
	RecordID      string    `json:"record_id"`
	Status        string    `json:"status"`
	NextAttemptAt time.Time `json:"next_attempt_at"`
}

func newEnqueueCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EnqueueOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "enqueue <type> <resource-id>",
		Short: "Durably queue an operation for replay",
		Long: `Validate an operation against the schema and append it to the durable
queue without contacting the remote. It is sent by the next replay pass.

Passing --id makes the call idempotent: enqueueing the same ID twice keeps
the first record.

Examples:
  offsync enqueue ADD cart-42 --payload '{"sku":"apple","qty":2}'
  offsync enqueue REMOVE cart-42 --id op-7`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnqueue(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Payload, "payload", "{}", "JSON payload")
	cmd.Flags().StringVar(&opts.ID, "id", "", "record ID / idempotency key (default: generated UUIDv7)")

	return cmd
}

func runEnqueue(opts *EnqueueOptions, opType, resourceID string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	rt, err := openRuntime(opts.RootOptions, cmd, localOnly)
	if err != nil {
		return err
	}
	defer rt.close()

	res, err := rt.engine.Enqueue(cmd.Context(), engine.WriteRequest{
		ID:         opts.ID,
		Type:       record.OperationType(strings.ToUpper(opType)),
		ResourceID: resourceID,
		Payload:    []byte(opts.Payload),
	})
	if err != nil {
		return reportError(f, "enqueue failed", err)
	}

	out := EnqueueResult{RecordID: res.RecordID, Status: string(res.Status), NextAttemptAt: res.NextAttemptAt}
	return f.Success(out, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "queued %s (%s %s)\n", res.RecordID, strings.ToUpper(opType), resourceID)
		return err
	})
}

// reportError writes a JSON error envelope when requested and returns the
// matching exit error.
func reportError(f *OutputFormatter, message string, err error) error {
	exit := exitFor(message, err)
	if f.Format == "json" {
		_ = f.Error(errorCode(err), exit.Error(), nil)
	}
	return exit
}
