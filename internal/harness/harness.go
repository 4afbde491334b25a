package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/roach88/offsync/internal/connectivity"
	"github.com/roach88/offsync/internal/engine"
	"github.com/roach88/offsync/internal/fanout"
	"github.com/roach88/offsync/internal/record"
	"github.com/roach88/offsync/internal/retry"
	"github.com/roach88/offsync/internal/store"
	"github.com/roach88/offsync/internal/testutil"
)

// eventWait bounds how long the harness waits for events it knows are coming.
const eventWait = 5 * time.Second

// Harness is the scenario execution engine.
// It runs scenarios against a real engine with a fake clock and a scripted remote.
type Harness struct {
	store   *store.Store
	engine  *engine.Engine
	monitor *connectivity.Monitor
	source  *connectivity.ManualSource
	clock   *testutil.FakeClock
	events  *fanout.Subscription[engine.Event]
	logger  *slog.Logger

	start   time.Time
	state   connectivity.State
	lastSeq int64
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh in-memory queue for isolation.
// Execution errors (queue failures, malformed steps) are returned as
// errors; failed expectations and assertions are reported in the result.
func Run(scenario *Scenario) (*Result, error) {
	h, err := newHarness(scenario)
	if err != nil {
		return nil, err
	}
	defer h.close()

	ctx := context.Background()
	result := NewResult()

	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, step.Do, err)
		}
	}

	actx := &AssertionContext{Store: h.store, Ctx: ctx}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(scenario *Scenario) (*Harness, error) {
	initial, err := parseState(scenario.Config.Initial)
	if err != nil {
		return nil, err
	}

	policy := retry.Default()
	if scenario.Config.MaxAttempts > 0 {
		policy.MaxAttempts = scenario.Config.MaxAttempts
	}
	if scenario.Config.BaseRetryDelay > 0 {
		policy.Base = time.Duration(scenario.Config.BaseRetryDelay)
	}
	if scenario.Config.MaxRetryDelay > 0 {
		policy.Cap = time.Duration(scenario.Config.MaxRetryDelay)
	}

	remote, err := newScriptedRemote(scenario.Remote)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(":memory:", store.WithMaxAttempts(policy.MaxAttempts))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	src := connectivity.NewManualSource(initial)
	mon, err := connectivity.NewMonitor(src, connectivity.WithLogger(logger))
	if err != nil {
		st.Close()
		return nil, err
	}

	clock := testutil.NewFakeClock(testutil.Epoch)
	eng, err := engine.New(st, remote, mon,
		engine.WithClock(clock),
		engine.WithPolicy(policy),
		engine.WithLogger(logger),
		engine.WithIDGenerator(&counterIDs{}),
		engine.WithMirrorOnlineWrites(scenario.Config.Mirror),
	)
	if err != nil {
		mon.Close()
		st.Close()
		return nil, err
	}

	return &Harness{
		store:   st,
		engine:  eng,
		monitor: mon,
		source:  src,
		clock:   clock,
		events:  eng.Subscribe(),
		logger:  logger,
		start:   clock.Now(),
		state:   initial,
	}, nil
}

func (h *Harness) close() {
	h.events.Cancel()
	h.engine.Close()
	h.monitor.Close()
	h.store.Close()
}

// executeStep runs one step, traces it, then traces the events it caused.
func (h *Harness) executeStep(ctx context.Context, i int, step Step, result *Result) error {
	entry := TraceEvent{Kind: KindStep, Name: step.Do, offset: h.elapsed()}
	var counts map[string]int
	expectConnectivity := false

	switch step.Do {
	case StepEnqueue, StepWrite:
		req, err := writeRequest(step.Args)
		if err != nil {
			return err
		}
		entry.RecordID = req.ID
		entry.ResourceID = req.ResourceID
		entry.Operation = string(req.Type)

		var res engine.WriteResult
		if step.Do == StepEnqueue {
			res, err = h.engine.Enqueue(ctx, req)
		} else {
			res, err = h.engine.Write(ctx, req)
		}
		if res.RecordID != "" {
			entry.RecordID = res.RecordID
		}
		entry.Outcome, err = writeOutcome(res, err)
		if err != nil {
			return err
		}

	case StepConnect:
		name, _ := step.Args["transport"].(string)
		if name == "" {
			name = "unmetered"
		}
		next, err := parseState(name)
		if err != nil {
			return err
		}
		expectConnectivity = h.setState(next)
		entry.State = next.String()

	case StepDisconnect:
		expectConnectivity = h.setState(connectivity.Offline())
		entry.State = connectivity.Offline().String()

	case StepAdvance:
		raw, _ := step.Args["by"].(string)
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		h.clock.Advance(d)
		entry.Delay = d.String()

	case StepReplay:
		res, err := h.engine.Replay(ctx)
		if err != nil {
			return err
		}
		entry.Outcome = passOutcome(res)
		counts = passCounts(res)

	default:
		return fmt.Errorf("unknown action %q", step.Do)
	}

	result.add(entry)
	if step.Expect != nil {
		checkExpect(i, step, entry.Outcome, counts, result)
	}

	h.logger.Info("step completed", "step", i, "do", step.Do, "outcome", entry.Outcome)
	return h.collect(result, expectConnectivity)
}

func (h *Harness) setState(next connectivity.State) bool {
	changed := next != h.state
	h.state = next
	h.source.Set(next)
	return changed
}

func (h *Harness) elapsed() time.Duration {
	return h.clock.Now().Sub(h.start)
}

// collect traces every event emitted so far. When waitConnectivity is set
// it also waits for the asynchronously forwarded connectivity change.
func (h *Harness) collect(result *Result, waitConnectivity bool) error {
	target := h.engine.LastEventSeq()
	timeout := time.NewTimer(eventWait)
	defer timeout.Stop()

	for h.lastSeq < target || waitConnectivity {
		select {
		case ev, ok := <-h.events.C():
			if !ok {
				return errors.New("event stream closed")
			}
			h.lastSeq = ev.Seq
			if ev.Type == engine.EventConnectivityChanged {
				waitConnectivity = false
			}
			result.add(h.traceEvent(ev))
		case <-timeout.C:
			return fmt.Errorf("timed out waiting for events (have seq %d, want %d)", h.lastSeq, target)
		}
	}
	return nil
}

func (h *Harness) traceEvent(ev engine.Event) TraceEvent {
	te := TraceEvent{
		Kind:       KindEvent,
		Name:       string(ev.Type),
		RecordID:   ev.RecordID,
		ResourceID: ev.ResourceID,
		Operation:  string(ev.Operation),
		Attempt:    ev.Attempt,
		Reason:     ev.Reason,
		offset:     ev.At.Sub(h.start),
	}
	if ev.Delay > 0 {
		te.Delay = ev.Delay.String()
	}
	if ev.State != nil {
		te.State = ev.State.String()
	}
	return te
}

func checkExpect(i int, step Step, outcome string, counts map[string]int, result *Result) {
	if outcome != step.Expect.Outcome {
		result.AddError(fmt.Sprintf("steps[%d] %s: expected outcome %q, got %q", i, step.Do, step.Expect.Outcome, outcome))
	}
	keys := make([]string, 0, len(step.Expect.Counts))
	for k := range step.Expect.Counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		got, ok := counts[k]
		if !ok {
			result.AddError(fmt.Sprintf("steps[%d] %s: no counter %q", i, step.Do, k))
			continue
		}
		if want := step.Expect.Counts[k]; got != want {
			result.AddError(fmt.Sprintf("steps[%d] %s: expected %s=%d, got %d", i, step.Do, k, want, got))
		}
	}
}

func writeRequest(args map[string]any) (engine.WriteRequest, error) {
	str := func(key string) string {
		v, _ := args[key].(string)
		return v
	}
	req := engine.WriteRequest{
		ID:         str("id"),
		Type:       record.OperationType(str("type")),
		ResourceID: str("resource"),
	}
	if p, ok := args["payload"]; ok && p != nil {
		b, err := json.Marshal(p)
		if err != nil {
			return engine.WriteRequest{}, fmt.Errorf("payload: %w", err)
		}
		req.Payload = b
	}
	return req, nil
}

// writeOutcome names a write result. Engine errors that callers are meant
// to handle become outcomes; storage errors are returned.
func writeOutcome(res engine.WriteResult, err error) (string, error) {
	if err == nil {
		return string(res.Status), nil
	}
	if res.Status == engine.WriteAbandoned {
		return string(engine.WriteAbandoned), nil
	}
	var se *engine.SyncError
	if errors.As(err, &se) && se.Code != engine.ErrCodeQueueStorage {
		return string(se.Code), nil
	}
	return "", err
}

func passOutcome(res engine.PassResult) string {
	switch {
	case res.AlreadyRunning:
		return "already_running"
	case res.Skipped:
		return "skipped"
	case res.Interrupted:
		return "interrupted"
	}
	return "completed"
}

func passCounts(res engine.PassResult) map[string]int {
	return map[string]int{
		"attempted": res.Attempted,
		"succeeded": res.Succeeded,
		"retried":   res.Retried,
		"abandoned": res.Abandoned,
		"failed":    res.Failed,
		"released":  res.Released,
	}
}

// parseState maps a scenario connectivity name to a state.
func parseState(s string) (connectivity.State, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "offline":
		return connectivity.Offline(), nil
	case "online", "unmetered":
		return connectivity.Online(connectivity.TransportUnmetered), nil
	case "metered":
		return connectivity.Online(connectivity.TransportMetered), nil
	}
	return connectivity.State{}, fmt.Errorf("unknown connectivity %q (want offline, online, metered or unmetered)", s)
}

// counterIDs generates rec-1, rec-2, ... for writes without an explicit ID.
type counterIDs struct {
	n atomic.Int64
}

func (c *counterIDs) Generate() string {
	return fmt.Sprintf("rec-%d", c.n.Add(1))
}
