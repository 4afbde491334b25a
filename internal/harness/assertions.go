package harness

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/roach88/offsync/internal/record"
	"github.com/roach88/offsync/internal/store"
)

// AssertionContext provides what final-state assertions need.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
}

// AssertionError is returned when an assertion fails.
// It includes the trace to help debug the failure.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, ev := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s %s %s", ev.Seq, ev.At, ev.Kind, ev.Name)
		if ev.RecordID != "" {
			fmt.Fprintf(&buf, " record=%s", ev.RecordID)
		}
		if ev.Outcome != "" {
			fmt.Fprintf(&buf, " outcome=%s", ev.Outcome)
		}
		if ev.Reason != "" {
			fmt.Fprintf(&buf, " reason=%q", ev.Reason)
		}
		buf.WriteByte('\n')
	}
	return buf.String()
}

// attempts returns the attempt events in trace order, optionally filtered.
func attempts(trace []TraceEvent, keep func(TraceEvent) bool) []TraceEvent {
	var out []TraceEvent
	for _, ev := range trace {
		if ev.isAttempt() && (keep == nil || keep(ev)) {
			out = append(out, ev)
		}
	}
	return out
}

// assertAttemptOrder checks that remote attempts ran in exactly the given order.
func assertAttemptOrder(trace []TraceEvent, a Assertion) error {
	var got []string
	for _, ev := range attempts(trace, func(ev TraceEvent) bool {
		return a.Resource == "" || ev.ResourceID == a.Resource
	}) {
		got = append(got, ev.RecordID)
	}
	if slices.Equal(got, a.Records) {
		return nil
	}

	scope := "all resources"
	if a.Resource != "" {
		scope = "resource " + a.Resource
	}
	return &AssertionError{
		Type:     AssertAttemptOrder,
		Expected: fmt.Sprintf("attempts %v on %s", a.Records, scope),
		Actual:   fmt.Sprintf("attempts %v", got),
		Trace:    trace,
	}
}

// assertEventCount checks that an event occurred exactly Count times.
func assertEventCount(trace []TraceEvent, a Assertion) error {
	n := 0
	for _, ev := range trace {
		if ev.Kind == KindEvent && ev.Name == a.Event && (a.Record == "" || ev.RecordID == a.Record) {
			n++
		}
	}
	if n == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertEventCount,
		Expected: fmt.Sprintf("%s exactly %d times", a.Event, a.Count),
		Actual:   fmt.Sprintf("found %d times", n),
		Trace:    trace,
	}
}

// assertAttemptSpacing checks the clock gaps between consecutive attempts
// on one record.
func assertAttemptSpacing(trace []TraceEvent, a Assertion) error {
	evs := attempts(trace, func(ev TraceEvent) bool { return ev.RecordID == a.Record })
	var got []time.Duration
	for i := 1; i < len(evs); i++ {
		got = append(got, evs[i].offset-evs[i-1].offset)
	}

	want := make([]time.Duration, len(a.Gaps))
	for i, g := range a.Gaps {
		want[i] = time.Duration(g)
	}
	if slices.Equal(got, want) {
		return nil
	}
	return &AssertionError{
		Type:     AssertAttemptSpacing,
		Expected: fmt.Sprintf("gaps %v between attempts on %s", want, a.Record),
		Actual:   fmt.Sprintf("gaps %v", got),
		Trace:    trace,
	}
}

// assertRecordState checks a record's final status and attempt count.
func assertRecordState(actx *AssertionContext, trace []TraceEvent, a Assertion) error {
	rec, err := actx.Store.Get(actx.Ctx, a.Record)
	if errors.Is(err, store.ErrNotFound) {
		return &AssertionError{
			Type:     AssertRecordState,
			Expected: fmt.Sprintf("record %s with status %s", a.Record, strings.ToUpper(a.Status)),
			Actual:   "record not found",
			Trace:    trace,
		}
	}
	if err != nil {
		return fmt.Errorf("record_state: %w", err)
	}

	want := record.Status(strings.ToUpper(a.Status))
	countOK := a.AttemptCount == nil || *a.AttemptCount == rec.AttemptCount
	if rec.Status == want && countOK {
		return nil
	}

	expected := fmt.Sprintf("record %s with status %s", a.Record, want)
	if a.AttemptCount != nil {
		expected += fmt.Sprintf(" and attempt_count %d", *a.AttemptCount)
	}
	return &AssertionError{
		Type:     AssertRecordState,
		Expected: expected,
		Actual:   fmt.Sprintf("status %s, attempt_count %d, last_error %q", rec.Status, rec.AttemptCount, rec.LastError),
		Trace:    trace,
	}
}

// assertPendingCount checks how many PENDING records remain.
func assertPendingCount(actx *AssertionContext, trace []TraceEvent, a Assertion) error {
	recs, err := actx.Store.List(actx.Ctx, store.Filter{Status: record.StatusPending, ResourceID: a.Resource})
	if err != nil {
		return fmt.Errorf("pending_count: %w", err)
	}
	if len(recs) == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertPendingCount,
		Expected: fmt.Sprintf("%d pending records", a.Count),
		Actual:   fmt.Sprintf("%d pending records", len(recs)),
		Trace:    trace,
	}
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertAttemptOrder:
			err = assertAttemptOrder(result.Trace, a)
		case AssertEventCount:
			err = assertEventCount(result.Trace, a)
		case AssertAttemptSpacing:
			err = assertAttemptSpacing(result.Trace, a)
		case AssertRecordState:
			err = assertRecordState(actx, result.Trace, a)
		case AssertPendingCount:
			err = assertPendingCount(actx, result.Trace, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %s", i, err.Error()))
		}
	}
	return errs
}
