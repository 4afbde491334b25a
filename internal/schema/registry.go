// Package schema loads operation-type definitions written in CUE and
// validates write intents against them before they reach the queue.
//
// A registry maps each known operation type to an optional resource-id
// constraint and an optional payload constraint. Types absent from the
// registry are unrecognized: writes of such types are rejected, and queued
// records of such types fail terminally at replay.
package schema

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/offsync/internal/record"
)

//go:embed default.cue
var defaultSchema []byte

// Registry holds compiled operation definitions.
//
// Thread-safety: cue.Context is not safe for concurrent use, so all
// evaluation is serialized behind mu.
type Registry struct {
	mu    sync.Mutex
	ctx   *cue.Context
	ops   map[record.OperationType]cue.Value
	types []record.OperationType
}

// Error is a validation failure with an optional CUE source position.
type Error struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Default returns the registry compiled from the built-in schema.
func Default() *Registry {
	r, err := Load(defaultSchema, "default.cue")
	if err != nil {
		panic(fmt.Sprintf("schema: built-in schema invalid: %v", err))
	}
	return r
}

// LoadFile compiles the CUE file at path.
func LoadFile(path string) (*Registry, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	return Load(src, path)
}

// Load compiles CUE source. The source must define a top-level
// "operations" struct with one field per operation type.
func Load(src []byte, filename string) (*Registry, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError("schema", err)
	}

	opsVal := v.LookupPath(cue.ParsePath("operations"))
	if !opsVal.Exists() {
		return nil, &Error{Field: "operations", Message: "operations is required", Pos: v.Pos()}
	}

	iter, err := opsVal.Fields()
	if err != nil {
		return nil, formatCUEError("operations", err)
	}

	r := &Registry{ctx: ctx, ops: make(map[record.OperationType]cue.Value)}
	for iter.Next() {
		name := record.OperationType(iter.Label())
		r.ops[name] = iter.Value()
		r.types = append(r.types, name)
	}
	if len(r.types) == 0 {
		return nil, &Error{Field: "operations", Message: "at least one operation type is required", Pos: opsVal.Pos()}
	}
	sort.Slice(r.types, func(i, j int) bool { return r.types[i] < r.types[j] })
	return r, nil
}

// Known reports whether t is a recognized operation type.
func (r *Registry) Known(t record.OperationType) bool {
	_, ok := r.ops[t]
	return ok
}

// Types returns the recognized operation types in sorted order.
func (r *Registry) Types() []record.OperationType {
	out := make([]record.OperationType, len(r.types))
	copy(out, r.types)
	return out
}

// Validate checks a write intent. The resource id is validated in NFC form
// and the payload must be a JSON object satisfying the type's constraint.
func (r *Registry) Validate(t record.OperationType, resourceID string, payload []byte) error {
	def, ok := r.ops[t]
	if !ok {
		return &Error{Field: "operation_type", Message: fmt.Sprintf("unknown operation type %q (known: %s)", t, r.typeList())}
	}

	resourceID = record.NormalizeResourceID(resourceID)
	if strings.TrimSpace(resourceID) == "" {
		return &Error{Field: "resource_id", Message: "resource id is required"}
	}

	canonical, err := record.Canonicalize(payload)
	if err != nil {
		return &Error{Field: "payload", Message: err.Error()}
	}
	if len(canonical) == 0 || canonical[0] != '{' {
		return &Error{Field: "payload", Message: "payload must be a JSON object"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if c := def.LookupPath(cue.ParsePath("resource")); c.Exists() {
		u := c.Unify(r.ctx.Encode(resourceID))
		if err := u.Validate(cue.Concrete(true)); err != nil {
			return formatCUEError("resource_id", err)
		}
	}

	if c := def.LookupPath(cue.ParsePath("payload")); c.Exists() {
		data := r.ctx.CompileBytes(canonical, cue.Filename("payload.json"))
		if err := data.Err(); err != nil {
			return formatCUEError("payload", err)
		}
		if err := c.Unify(data).Validate(cue.Concrete(true)); err != nil {
			return formatCUEError("payload", err)
		}
	}
	return nil
}

func (r *Registry) typeList() string {
	names := make([]string, len(r.types))
	for i, t := range r.types {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

// formatCUEError keeps the first CUE error and its position.
func formatCUEError(field string, err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return &Error{Field: field, Message: err.Error()}
	}
	first := errs[0]
	e := &Error{Field: field, Message: first.Error()}
	if positions := errors.Positions(first); len(positions) > 0 {
		e.Pos = positions[0]
	}
	return e
}
