package harness

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/roach88/offsync/internal/engine"
	"github.com/roach88/offsync/internal/record"
)

// scriptedRemote returns pre-scripted outcomes per resource.
type scriptedRemote struct {
	mu      sync.Mutex
	scripts map[string][]engine.Outcome
}

func newScriptedRemote(scripts map[string][]string) (*scriptedRemote, error) {
	r := &scriptedRemote{scripts: make(map[string][]engine.Outcome, len(scripts))}
	for resource, entries := range scripts {
		for _, entry := range entries {
			out, err := parseOutcome(entry)
			if err != nil {
				return nil, err
			}
			r.scripts[resource] = append(r.scripts[resource], out)
		}
	}
	return r, nil
}

func (r *scriptedRemote) Execute(_ context.Context, op record.Operation) engine.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	script := r.scripts[op.ResourceID]
	if len(script) == 0 {
		return engine.Success()
	}
	r.scripts[op.ResourceID] = script[1:]
	return script[0]
}

// parseOutcome parses "kind" or "kind: reason".
func parseOutcome(s string) (engine.Outcome, error) {
	kind, reason, _ := strings.Cut(s, ":")
	kind = strings.ToLower(strings.TrimSpace(kind))
	reason = strings.TrimSpace(reason)

	switch kind {
	case "success":
		return engine.Success(), nil
	case "retryable":
		if reason == "" {
			reason = "service unavailable"
		}
		return engine.Retryable(reason), nil
	case "terminal":
		if reason == "" {
			reason = "rejected"
		}
		return engine.Terminal(reason), nil
	}
	return engine.Outcome{}, fmt.Errorf("unknown outcome %q (want success, retryable or terminal)", s)
}
