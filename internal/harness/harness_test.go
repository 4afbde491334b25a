package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarios(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRun_OfflineWritesEmitNoEvents(t *testing.T) {
	scenario, err := ParseScenario([]byte(minimalScenario))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	require.Len(t, result.Trace, 1)
	assert.Equal(t, KindStep, result.Trace[0].Kind)
	assert.Equal(t, "rec-1", result.Trace[0].RecordID, "generated IDs are sequential")
	assert.Equal(t, "queued", result.Trace[0].Outcome)
}

func TestRun_ReplayWhileOfflineIsSkipped(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: offline_replay
description: replay without connectivity does nothing
steps:
  - do: enqueue
    args: {id: r-1, type: ADD, resource: cart-1}
  - do: replay
    expect:
      outcome: skipped
assertions:
  - type: record_state
    record: r-1
    status: pending
    attempt_count: 0
  - type: event_count
    event: sync-started
    count: 0
`))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_ExpectMismatchFails(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: mismatch
description: expectations that do not hold are reported
config:
  initial: online
steps:
  - do: write
    args: {id: w-1, type: ADD, resource: cart-1}
    expect:
      outcome: queued
  - do: replay
    expect:
      outcome: completed
      counts:
        attempted: 2
        bogus: 1
assertions:
  - type: pending_count
    count: 0
`))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 3)
	assert.Contains(t, result.Errors[0], `expected outcome "queued", got "applied"`)
	assert.Contains(t, result.Errors[1], "expected attempted=2, got 0")
	assert.Contains(t, result.Errors[2], `no counter "bogus"`)
}

func TestRun_ValidationOutcome(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: bad_payload
description: invalid payloads are rejected before queueing
steps:
  - do: write
    args:
      type: ADD
      resource: "   "
    expect:
      outcome: VALIDATION
assertions:
  - type: pending_count
    count: 0
`))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_DisconnectAndMirror(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: mirror
description: online writes are mirrored, offline ones queued
config:
  initial: metered
  mirror_online_writes: true
steps:
  - do: write
    args: {id: m-1, type: ADD, resource: cart-1}
    expect:
      outcome: applied
  - do: disconnect
  - do: write
    args: {id: m-2, type: ADD, resource: cart-1}
    expect:
      outcome: queued
  - do: connect
    args: {transport: metered}
  - do: replay
    expect:
      outcome: completed
      counts:
        succeeded: 1
assertions:
  - type: record_state
    record: m-1
    status: succeeded
  - type: record_state
    record: m-2
    status: succeeded
  - type: attempt_order
    records: [m-1, m-2]
  - type: event_count
    event: connectivity-changed
    count: 2
`))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	var states []string
	for _, ev := range result.Trace {
		if ev.Name == "connectivity-changed" {
			states = append(states, ev.State)
		}
	}
	assert.Equal(t, []string{"offline", "online/metered"}, states)
}

func TestParseState(t *testing.T) {
	for _, name := range []string{"", "offline", "OFFLINE"} {
		s, err := parseState(name)
		require.NoError(t, err)
		assert.False(t, s.Connected, name)
	}
	s, err := parseState("metered")
	require.NoError(t, err)
	assert.Equal(t, "online/metered", s.String())

	_, err = parseState("wifi")
	assert.Error(t, err)
}
