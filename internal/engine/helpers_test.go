package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/offsync/internal/connectivity"
	"github.com/roach88/offsync/internal/fanout"
	"github.com/roach88/offsync/internal/record"
	"github.com/roach88/offsync/internal/retry"
	"github.com/roach88/offsync/internal/store"
	"github.com/roach88/offsync/internal/testutil"
)

// call is one observed executor invocation.
type call struct {
	Op record.Operation
	At time.Time
}

// scriptedExecutor replays per-resource outcome scripts. Once a resource's
// script is exhausted it returns fallback (success unless set).
type scriptedExecutor struct {
	mu       sync.Mutex
	clock    Clock
	scripts  map[string][]Outcome
	fallback Outcome
	calls    []call
	hook     func(ctx context.Context, op record.Operation)
}

func newScriptedExecutor(clock Clock) *scriptedExecutor {
	return &scriptedExecutor{clock: clock, scripts: map[string][]Outcome{}, fallback: Success()}
}

func (s *scriptedExecutor) script(resource string, outcomes ...Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[resource] = append(s.scripts[resource], outcomes...)
}

func (s *scriptedExecutor) Execute(ctx context.Context, op record.Operation) Outcome {
	s.mu.Lock()
	s.calls = append(s.calls, call{Op: op, At: s.clock.Now()})
	hook := s.hook
	var out Outcome
	if script := s.scripts[op.ResourceID]; len(script) > 0 {
		out = script[0]
		s.scripts[op.ResourceID] = script[1:]
	} else {
		out = s.fallback
	}
	s.mu.Unlock()

	if hook != nil {
		hook(ctx, op)
	}
	return out
}

func (s *scriptedExecutor) Calls() []call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]call(nil), s.calls...)
}

func (s *scriptedExecutor) callIDs() []string {
	calls := s.Calls()
	ids := make([]string, len(calls))
	for i, c := range calls {
		ids[i] = c.Op.RecordID
	}
	return ids
}

type fixture struct {
	engine *Engine
	queue  *store.Store
	clock  *testutil.FakeClock
	source *connectivity.ManualSource
	exec   *scriptedExecutor
	events *fanout.Subscription[Event]
}

type fixtureConfig struct {
	state       connectivity.State
	maxAttempts int
	opts        []Option
}

func newFixture(t *testing.T, cfg fixtureConfig) *fixture {
	t.Helper()
	if cfg.maxAttempts == 0 {
		cfg.maxAttempts = retry.DefaultMaxAttempts
	}
	if cfg.state == (connectivity.State{}) {
		cfg.state = connectivity.Online(connectivity.TransportUnmetered)
	}

	clock := testutil.NewFakeClock(testutil.Epoch)
	q := testutil.OpenQueue(t, store.WithMaxAttempts(cfg.maxAttempts))
	monitor, src := testutil.NewMonitor(t, cfg.state)
	exec := newScriptedExecutor(clock)

	policy := retry.Default()
	policy.MaxAttempts = cfg.maxAttempts

	opts := append([]Option{
		WithClock(clock),
		WithLogger(testutil.DiscardLogger()),
		WithPolicy(policy),
	}, cfg.opts...)

	eng, err := New(q, exec, monitor, opts...)
	require.NoError(t, err)
	t.Cleanup(eng.Close)

	sub := eng.Subscribe()
	t.Cleanup(sub.Cancel)

	return &fixture{engine: eng, queue: q, clock: clock, source: src, exec: exec, events: sub}
}

// enqueue queues a write without touching the network.
func (f *fixture) enqueue(t *testing.T, id string, typ record.OperationType, resource, payload string) {
	t.Helper()
	_, err := f.engine.Enqueue(context.Background(), WriteRequest{
		ID:         id,
		Type:       typ,
		ResourceID: resource,
		Payload:    []byte(payload),
	})
	require.NoError(t, err)
}

func (f *fixture) replay(t *testing.T) PassResult {
	t.Helper()
	res, err := f.engine.Replay(context.Background())
	require.NoError(t, err)
	return res
}

func (f *fixture) get(t *testing.T, id string) record.Record {
	t.Helper()
	rec, err := f.queue.Get(context.Background(), id)
	require.NoError(t, err)
	return rec
}

// drain collects events already published, waiting briefly for stragglers.
func (f *fixture) drain() []Event {
	var out []Event
	for {
		select {
		case ev := <-f.events.C():
			out = append(out, ev)
		case <-time.After(50 * time.Millisecond):
			return out
		}
	}
}

func eventTypes(evs []Event) []EventType {
	out := make([]EventType, len(evs))
	for i, ev := range evs {
		out[i] = ev.Type
	}
	return out
}
