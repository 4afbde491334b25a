package cli

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbeAddress(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"http://api.example.com", "api.example.com:80"},
		{"https://api.example.com/v1", "api.example.com:443"},
		{"http://127.0.0.1:8080", "127.0.0.1:8080"},
		{"https://[::1]:9443", "[::1]:9443"},
	}
	for _, tt := range tests {
		got, err := probeAddress(tt.url)
		require.NoError(t, err, tt.url)
		assert.Equal(t, tt.want, got)
	}

	_, err := probeAddress("/relative/only")
	assert.Error(t, err)
}

func TestLoadConfig_Precedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "offsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
maxAttempts: 5
baseRetryDelay: 2s
remote:
  baseURL: http://from-file.example
`), 0o644))

	t.Setenv("OFFSYNC_MAX_ATTEMPTS", "7")
	t.Setenv("OFFSYNC_REMOTE_BASE_URL", "http://from-env.example")

	cfg, err := loadConfig(&RootOptions{ConfigPath: path, DataDir: dir})
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.MaxAttempts, "env beats file")
	assert.Equal(t, 2*time.Second, cfg.BaseRetryDelay, "file beats defaults")
	assert.Equal(t, "http://from-env.example", cfg.Remote.BaseURL)
	assert.Equal(t, filepath.Join(dir, "queue.db"), cfg.QueuePath)
	assert.Equal(t, filepath.Join(dir, "snapshots"), cfg.CachePath)

	cfg, err = loadConfig(&RootOptions{ConfigPath: path, DataDir: dir, BaseURL: "http://from-flag.example"})
	require.NoError(t, err)
	assert.Equal(t, "http://from-flag.example", cfg.Remote.BaseURL, "flag beats env")
}

func TestLoadConfig_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("maxAttempts: 0\n"), 0o644))

	_, err := loadConfig(&RootOptions{ConfigPath: path, DataDir: t.TempDir()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestSchemaFileOverride(t *testing.T) {
	dir := t.TempDir()
	schemaPath := filepath.Join(dir, "ops.cue")
	require.NoError(t, os.WriteFile(schemaPath, []byte(`
operations: {
	RENAME: {
		payload: {name: string}
	}
}
`), 0o644))
	cfgPath := filepath.Join(dir, "offsync.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("schemaFile: "+schemaPath+"\n"), 0o644))

	res := execute(t, nil, dir, "--config", cfgPath, "enqueue", "RENAME", "doc-1", "--payload", `{"name":"draft"}`)
	require.NoError(t, res.err, res.stderr)

	res = execute(t, nil, dir, "--config", cfgPath, "enqueue", "ADD", "cart-1")
	require.Error(t, res.err)
	assert.Equal(t, ExitFailure, GetExitCode(res.err))
}
