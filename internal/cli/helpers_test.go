package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// cliRun is one CLI invocation's output.
type cliRun struct {
	stdout string
	stderr string
	err    error
}

// execute runs the root command with args against dataDir.
func execute(t *testing.T, opts *RootOptions, dataDir string, args ...string) cliRun {
	t.Helper()
	return executeContext(t, context.Background(), opts, dataDir, args...)
}

func executeContext(t *testing.T, ctx context.Context, opts *RootOptions, dataDir string, args ...string) cliRun {
	t.Helper()
	if opts == nil {
		opts = &RootOptions{}
	}
	cmd := newRootCommand(opts)
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--data-dir", dataDir}, args...))
	err := cmd.ExecuteContext(ctx)
	return cliRun{stdout: out.String(), stderr: errOut.String(), err: err}
}

// decodeData unmarshals the data field of a JSON CLIResponse into v.
func decodeData(t *testing.T, stdout string, v any) CLIResponse {
	t.Helper()
	var raw struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
		Error  *CLIError       `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &raw), stdout)
	if v != nil && len(raw.Data) > 0 {
		require.NoError(t, json.Unmarshal(raw.Data, v))
	}
	return CLIResponse{Status: raw.Status, Error: raw.Error}
}

// fakeRemote is an httptest server that records operations and serves
// resources.
type fakeRemote struct {
	*httptest.Server

	mu        sync.Mutex
	ops       []string
	status    int
	resources map[string]string
	seen      chan string
}

func newFakeRemote(t *testing.T) *fakeRemote {
	t.Helper()
	r := &fakeRemote{
		status:    http.StatusOK,
		resources: map[string]string{},
		seen:      make(chan string, 100),
	}
	r.Server = httptest.NewServer(http.HandlerFunc(r.handle))
	t.Cleanup(r.Close)
	return r
}

func (r *fakeRemote) handle(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case req.Method == http.MethodPost && strings.HasPrefix(req.URL.Path, "/operations/"):
		id := req.Header.Get("Idempotency-Key")
		r.ops = append(r.ops, id)
		r.seen <- id
		w.WriteHeader(r.status)
	case req.Method == http.MethodGet && strings.HasPrefix(req.URL.Path, "/resources/"):
		body, ok := r.resources[strings.TrimPrefix(req.URL.Path, "/resources/")]
		if !ok {
			http.NotFound(w, req)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	default:
		http.Error(w, "unexpected request", http.StatusBadRequest)
	}
}

func (r *fakeRemote) received() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ops...)
}

func (r *fakeRemote) setResource(key, body string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resources[key] = body
}

func (r *fakeRemote) setStatus(code int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = code
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}
