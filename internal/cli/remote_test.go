package cli

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/offsync/internal/connectivity"
)

func offlineOpts() *RootOptions {
	return &RootOptions{Source: connectivity.NewManualSource(connectivity.Offline())}
}

func TestSync_ReplaysInOrder(t *testing.T) {
	remote := newFakeRemote(t)
	dir := t.TempDir()
	enqueueSample(t, dir)

	var out PassView
	res := execute(t, nil, dir, "--base-url", remote.URL, "--format", "json", "sync")
	require.NoError(t, res.err, res.stderr)
	decodeData(t, res.stdout, &out)

	assert.Equal(t, PassView{Attempted: 3, Succeeded: 3}, out)
	assert.Equal(t, []string{"op-1", "op-2", "op-3"}, remote.received())

	res = execute(t, nil, dir, "list", "--status", "pending")
	require.NoError(t, res.err)
	assert.Equal(t, "No operations.\n", res.stdout)
}

func TestSync_RetryableFailure(t *testing.T) {
	remote := newFakeRemote(t)
	remote.setStatus(http.StatusServiceUnavailable)
	dir := t.TempDir()
	enqueueSample(t, dir)

	res := execute(t, nil, dir, "--base-url", remote.URL, "sync")
	require.NoError(t, res.err, res.stderr)
	assert.Equal(t, "attempted 2: 0 succeeded, 2 retried, 0 abandoned, 0 failed\n", res.stdout,
		"op-2 waits behind op-1 on cart-42")

	var views []RecordView
	res = execute(t, nil, dir, "--format", "json", "list", "--resource", "cart-42")
	require.NoError(t, res.err)
	decodeData(t, res.stdout, &views)
	require.Len(t, views, 2)
	assert.Equal(t, 1, views[0].AttemptCount)
	assert.Contains(t, views[0].LastError, "503")
	assert.Equal(t, 0, views[1].AttemptCount)
}

func TestSync_TerminalFailure(t *testing.T) {
	remote := newFakeRemote(t)
	remote.setStatus(http.StatusUnprocessableEntity)
	dir := t.TempDir()
	require.NoError(t, execute(t, nil, dir, "enqueue", "ADD", "cart-1", "--id", "t-1").err)

	res := execute(t, nil, dir, "--base-url", remote.URL, "sync")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "1 failed")

	time.Sleep(10 * time.Millisecond)
	var out CountResult
	res = execute(t, nil, dir, "--format", "json", "purge", "--older-than", "0s")
	require.NoError(t, res.err)
	decodeData(t, res.stdout, &out)
	assert.Equal(t, 1, out.Count)
}

func TestSync_Offline(t *testing.T) {
	remote := newFakeRemote(t)
	dir := t.TempDir()
	enqueueSample(t, dir)

	res := execute(t, offlineOpts(), dir, "--base-url", remote.URL, "sync")
	require.Error(t, res.err)
	assert.Equal(t, ExitFailure, GetExitCode(res.err))
	assert.Equal(t, "Pass skipped: remote unreachable.\n", res.stdout)
	assert.Empty(t, remote.received())
}

func TestSync_RequiresRemote(t *testing.T) {
	res := execute(t, nil, t.TempDir(), "sync")
	require.Error(t, res.err)
	assert.Equal(t, ExitCommandError, GetExitCode(res.err))
	assert.Contains(t, res.err.Error(), "remote.baseURL is not configured")
}

func TestSync_InvalidBaseURL(t *testing.T) {
	res := execute(t, nil, t.TempDir(), "--base-url", "ftp://example.com", "sync")
	require.Error(t, res.err)
	assert.Equal(t, ExitCommandError, GetExitCode(res.err))
}

func TestGet_CacheFirst(t *testing.T) {
	remote := newFakeRemote(t)
	remote.setResource("cart-42", `{"items":2}`)
	dir := t.TempDir()

	res := execute(t, nil, dir, "--base-url", remote.URL, "get", "cart-42")
	require.NoError(t, res.err, res.stderr)
	assert.Equal(t, "[fresh] {\"items\":2}\n", res.stdout)

	remote.setResource("cart-42", `{"items":3}`)
	var views []ReadView
	res = execute(t, nil, dir, "--base-url", remote.URL, "--format", "json", "get", "cart-42")
	require.NoError(t, res.err)
	decodeData(t, res.stdout, &views)
	require.Len(t, views, 2)
	assert.True(t, views[0].Stale)
	assert.JSONEq(t, `{"items":2}`, string(mustJSON(t, views[0].Value)))
	assert.False(t, views[1].Stale)
	assert.JSONEq(t, `{"items":3}`, string(mustJSON(t, views[1].Value)))

	res = execute(t, offlineOpts(), dir, "--base-url", remote.URL, "get", "cart-42")
	require.NoError(t, res.err)
	assert.Regexp(t, `^\[stale [^\]]+\] \{"items":3\}\n$`, res.stdout)

	res = execute(t, nil, dir, "status", "--format", "json")
	require.NoError(t, res.err)
	var status StatusResult
	decodeData(t, res.stdout, &status)
	assert.Equal(t, 1, status.CachedKeys)
}

func TestGet_NoSnapshotOffline(t *testing.T) {
	res := execute(t, nil, t.TempDir(), "get", "cart-42")
	require.Error(t, res.err)
	assert.Equal(t, ExitFailure, GetExitCode(res.err))
	assert.Contains(t, res.err.Error(), "no cached snapshot")
}

func TestGet_RemoteMissing(t *testing.T) {
	remote := newFakeRemote(t)
	res := execute(t, nil, t.TempDir(), "--base-url", remote.URL, "get", "nope")
	require.Error(t, res.err)
	assert.Equal(t, ExitFailure, GetExitCode(res.err))
	assert.Contains(t, res.err.Error(), "404")
}

func TestRun_DrainsUntilCancelled(t *testing.T) {
	remote := newFakeRemote(t)
	dir := t.TempDir()
	require.NoError(t, execute(t, nil, dir, "enqueue", "ADD", "cart-1", "--id", "r-1").err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan cliRun, 1)
	go func() {
		done <- executeContext(t, ctx, nil, dir, "--base-url", remote.URL, "run")
	}()

	select {
	case id := <-remote.seen:
		assert.Equal(t, "r-1", id)
	case <-time.After(5 * time.Second):
		t.Fatal("run never replayed the queue")
	}
	cancel()

	var res cliRun
	select {
	case res = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancellation")
	}
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "offsync running")
	assert.Contains(t, res.stderr, "offsync stopped gracefully")
}
