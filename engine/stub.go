package engine

import (
	"context"
	"sync"
)

// Stub is a scripted Engine for tests and for `retort serve --engine stub`.
// Responses and faults are keyed by instruction text; unknown instructions
// evaluate to an unbound success. All calls are recorded.
type Stub struct {
	mu     sync.Mutex
	values map[string]string
	faults map[string]*Fault
	calls  []string
}

// NewStub creates an empty scripted engine.
func NewStub() *Stub {
	return &Stub{
		values: make(map[string]string),
		faults: make(map[string]*Fault),
	}
}

// Name implements Engine.
func (s *Stub) Name() string { return "stub" }

// Bind scripts a bound result value for an instruction.
func (s *Stub) Bind(instruction, value string) *Stub {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[instruction] = value
	return s
}

// FailWith scripts a runtime fault for an instruction.
func (s *Stub) FailWith(instruction, code, message string) *Stub {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[instruction] = &Fault{Code: code, Message: message}
	return s
}

// Evaluate implements Engine by consulting the script.
func (s *Stub) Evaluate(_ context.Context, instruction string) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, instruction)

	if fault, ok := s.faults[instruction]; ok {
		return Result{}, fault
	}
	if value, ok := s.values[instruction]; ok {
		return Result{Value: value, Bound: true}, nil
	}
	return Result{}, nil
}

// Calls returns a copy of the instructions evaluated so far.
func (s *Stub) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}

// Verify Stub implements Engine.
var _ Engine = (*Stub)(nil)
