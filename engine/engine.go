// Package engine defines the execution engine boundary.
//
// The executor loop hands an opaque instruction string to an Engine and
// receives either normal completion with an optional bound result value, or
// a runtime fault. The instruction vocabulary belongs entirely to the
// engine; the protocol never inspects it beyond the reserved sentinels.
package engine

import (
	"context"
	"fmt"
)

// Result is the outcome of a successful evaluation.
type Result struct {
	// Value is the bound result value, empty when nothing was bound.
	Value string
	// Bound reports whether the instruction bound a result value.
	Bound bool
}

// Fault is a runtime fault raised by the engine while evaluating an
// instruction. It is recoverable from the executor's perspective: the loop
// reports it on the reply file and keeps polling.
type Fault struct {
	// Code is the engine-supplied fault code.
	Code string
	// Message is the engine diagnostic.
	Message string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("engine fault %s: %s", f.Code, f.Message)
}

// Engine evaluates instruction strings.
// Implementations return a *Fault error for runtime faults; any other error
// is treated by the executor as a fault with code "engine".
type Engine interface {
	// Name identifies the engine implementation for logs and metrics.
	Name() string

	// Evaluate runs one instruction. The context bounds evaluation only
	// cooperatively; the protocol offers no out-of-band cancel.
	Evaluate(ctx context.Context, instruction string) (Result, error)
}
