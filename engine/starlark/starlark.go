// Package starlark provides a Starlark-backed execution engine.
//
// Instrument state lives in a single globals environment that persists
// across instructions, the way a scripting console keeps its variables
// between commands. An instruction that assigns the variable `response`
// binds the command's result value, mirroring the legacy console convention
// of assigning to a well-known response variable; the binding is cleared
// once it has been reported so a later command without an assignment yields
// an empty result.
package starlark

import (
	"context"
	"errors"
	"sync"

	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/retort-io/retort/engine"
)

// ResponseVar is the global an instruction assigns to bind a result value.
const ResponseVar = "response"

// Engine evaluates instructions as Starlark source against a persistent
// globals environment. Safe for use by a single executor loop; Evaluate is
// serialized internally so the environment never sees concurrent mutation.
type Engine struct {
	mu      sync.Mutex
	globals starlark.StringDict
}

// New creates an engine with an empty environment.
func New() *Engine {
	return &Engine{globals: make(starlark.StringDict)}
}

// Name implements engine.Engine.
func (e *Engine) Name() string { return "starlark" }

// Evaluate implements engine.Engine. Runtime errors surface as
// *engine.Fault with the Starlark error class as the fault code.
func (e *Engine) Evaluate(ctx context.Context, instruction string) (engine.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	thread := &starlark.Thread{Name: "retort"}

	// Cancellation is cooperative: a canceled context aborts the Starlark
	// thread at its next safepoint.
	watchDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			thread.Cancel(ctx.Err().Error())
		case <-watchDone:
		}
	}()
	defer close(watchDone)

	opts := &syntax.FileOptions{
		GlobalReassign:  true,
		TopLevelControl: true,
		Set:             true,
		While:           true,
	}

	globals, err := starlark.ExecFileOptions(opts, thread, "<instruction>", instruction, e.globals)
	if err != nil {
		return engine.Result{}, classify(err)
	}

	// Persist bindings for later instructions.
	for name, value := range globals {
		e.globals[name] = value
	}

	if bound, ok := e.globals[ResponseVar]; ok {
		delete(e.globals, ResponseVar)
		return engine.Result{Value: render(bound), Bound: true}, nil
	}
	return engine.Result{}, nil
}

// classify maps Starlark errors to engine faults.
func classify(err error) error {
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		return &engine.Fault{Code: "EvalError", Message: evalErr.Msg}
	}

	var resolveErrs resolve.ErrorList
	if errors.As(err, &resolveErrs) && len(resolveErrs) > 0 {
		return &engine.Fault{Code: "ResolveError", Message: resolveErrs[0].Msg}
	}

	var syntaxErr syntax.Error
	if errors.As(err, &syntaxErr) {
		return &engine.Fault{Code: "SyntaxError", Message: syntaxErr.Msg}
	}

	return &engine.Fault{Code: "StarlarkError", Message: err.Error()}
}

// render converts a Starlark value to its reply payload text.
// Strings render unquoted; everything else uses Starlark notation.
func render(v starlark.Value) string {
	if s, ok := starlark.AsString(v); ok {
		return s
	}
	return v.String()
}

// Verify Engine implements the engine interface.
var _ engine.Engine = (*Engine)(nil)
