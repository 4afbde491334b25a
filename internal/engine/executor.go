package engine

import (
	"context"

	"github.com/roach88/offsync/internal/record"
)

// OutcomeKind classifies a remote execution result.
type OutcomeKind int

const (
	// OutcomeSuccess: the remote applied the operation.
	OutcomeSuccess OutcomeKind = iota + 1
	// OutcomeRetryable: transient failure (unreachable, timeout, 5xx).
	OutcomeRetryable
	// OutcomeTerminal: permanent rejection (validation 4xx, conflict, not found).
	OutcomeTerminal
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeTerminal:
		return "terminal"
	}
	return "unknown"
}

// Outcome is what an Executor reports for one attempt.
type Outcome struct {
	Kind   OutcomeKind
	Reason string
}

// Success returns a successful outcome.
func Success() Outcome { return Outcome{Kind: OutcomeSuccess} }

// Retryable returns a transient failure outcome.
func Retryable(reason string) Outcome { return Outcome{Kind: OutcomeRetryable, Reason: reason} }

// Terminal returns a permanent failure outcome.
func Terminal(reason string) Outcome { return Outcome{Kind: OutcomeTerminal, Reason: reason} }

// Executor performs one operation against the remote service.
//
// Implementations classify their own transport errors before returning:
// the engine never inspects raw network errors. Execute must honour ctx;
// an attempt cut short by ctx is reported as retryable.
type Executor interface {
	Execute(ctx context.Context, op record.Operation) Outcome
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, op record.Operation) Outcome

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, op record.Operation) Outcome {
	return f(ctx, op)
}

// execute runs one attempt bounded by the configured timeout and normalizes
// the result: a deadline hit or an unknown kind becomes retryable.
func (e *Engine) execute(ctx context.Context, op record.Operation) Outcome {
	execCtx := ctx
	if e.executeTimeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, e.executeTimeout)
		defer cancel()
	}

	out := e.executor.Execute(execCtx, op)
	switch out.Kind {
	case OutcomeSuccess, OutcomeTerminal:
		return out
	case OutcomeRetryable:
		if out.Reason == "" {
			out.Reason = "retryable failure"
		}
		return out
	}
	if err := execCtx.Err(); err != nil {
		return Retryable(err.Error())
	}
	return Retryable("executor returned no outcome")
}
