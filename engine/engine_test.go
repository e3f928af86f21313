package engine

import (
	"context"
	"errors"
	"testing"
)

func TestStub_ScriptedValue(t *testing.T) {
	s := NewStub().Bind("response = status()", "PRERUN")

	res, err := s.Evaluate(context.Background(), "response = status()")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !res.Bound || res.Value != "PRERUN" {
		t.Errorf("result = %+v, want bound %q", res, "PRERUN")
	}
}

func TestStub_ScriptedFault(t *testing.T) {
	s := NewStub().FailWith("Bogus", "E42", "unknown instruction")

	_, err := s.Evaluate(context.Background(), "Bogus")
	var fault *Fault
	if !errors.As(err, &fault) {
		t.Fatalf("error = %v, want *Fault", err)
	}
	if fault.Code != "E42" {
		t.Errorf("fault code = %q, want %q", fault.Code, "E42")
	}
}

func TestStub_UnknownInstructionUnbound(t *testing.T) {
	s := NewStub()

	res, err := s.Evaluate(context.Background(), "PumpAll ON")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Bound || res.Value != "" {
		t.Errorf("result = %+v, want unbound empty", res)
	}
}

func TestStub_RecordsCalls(t *testing.T) {
	s := NewStub()
	_, _ = s.Evaluate(context.Background(), "a")
	_, _ = s.Evaluate(context.Background(), "b")

	calls := s.Calls()
	if len(calls) != 2 || calls[0] != "a" || calls[1] != "b" {
		t.Errorf("calls = %v, want [a b]", calls)
	}
}

func TestFault_Error(t *testing.T) {
	f := &Fault{Code: "EvalError", Message: "division by zero"}
	want := "engine fault EvalError: division by zero"
	if f.Error() != want {
		t.Errorf("Error() = %q, want %q", f.Error(), want)
	}
}
