// Package channel implements file-channel framing and record parsing per
// PROTOCOL.md.
//
// The channel is a pair of plain files on a shared filesystem: a command
// file the client overwrites and the executor polls, and a reply file the
// executor appends to and the client polls. Records are newline-delimited;
// a reader never trusts an unterminated trailing line.
package channel

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/retort-io/retort/types"
)

// RecordErrorKind classifies record parsing errors.
type RecordErrorKind int

const (
	// RecordErrorEmpty indicates an empty or whitespace-only record.
	RecordErrorEmpty RecordErrorKind = iota
	// RecordErrorMalformed indicates a record missing required fields.
	RecordErrorMalformed
	// RecordErrorBadSequence indicates a sequence field that is not a
	// non-negative integer.
	RecordErrorBadSequence
	// RecordErrorBadKind indicates an unknown reply kind token.
	RecordErrorBadKind
)

// RecordError represents a record parsing error. Pollers treat any
// RecordError as "no record yet": the writer may be mid-write, and the next
// poll interval will see the finished record.
type RecordError struct {
	Kind RecordErrorKind
	Msg  string
	Err  error
}

func (e *RecordError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

// IsRecordError returns true if err is a record parsing error.
func IsRecordError(err error) bool {
	var recErr *RecordError
	return errors.As(err, &recErr)
}

// EncodeCommand renders a command record as a single line, without the
// trailing newline.
func EncodeCommand(cmd *types.Command) string {
	return fmt.Sprintf("%d %s", cmd.Sequence, cmd.Instruction)
}

// ParseCommand parses a single command record line.
// The instruction runs to end of line and may itself contain spaces.
func ParseCommand(line string) (*types.Command, error) {
	line = strings.TrimRight(line, "\r")
	if strings.TrimSpace(line) == "" {
		return nil, &RecordError{Kind: RecordErrorEmpty, Msg: "empty command record"}
	}

	seqField, instruction, found := strings.Cut(line, " ")
	if !found || instruction == "" {
		return nil, &RecordError{
			Kind: RecordErrorMalformed,
			Msg:  fmt.Sprintf("command record %q has no instruction", line),
		}
	}

	seq, err := strconv.Atoi(seqField)
	if err != nil || seq < 0 {
		return nil, &RecordError{
			Kind: RecordErrorBadSequence,
			Msg:  fmt.Sprintf("command record has bad sequence %q", seqField),
			Err:  err,
		}
	}

	return &types.Command{Sequence: seq, Instruction: instruction}, nil
}

// EncodeReply renders a reply record as a single line, without the trailing
// newline. ACK and DONE carry no payload; RESULT and ERROR keep their
// payload even when empty (the trailing space marks an empty payload).
func EncodeReply(r *types.Reply) string {
	switch r.Kind {
	case types.ReplyAck, types.ReplyDone:
		return fmt.Sprintf("%d %s", r.Sequence, r.Kind)
	default:
		return fmt.Sprintf("%d %s %s", r.Sequence, r.Kind, r.Payload)
	}
}

// ParseReply parses a single reply record line.
func ParseReply(line string) (*types.Reply, error) {
	line = strings.TrimRight(line, "\r")
	if strings.TrimSpace(line) == "" {
		return nil, &RecordError{Kind: RecordErrorEmpty, Msg: "empty reply record"}
	}

	seqField, rest, found := strings.Cut(line, " ")
	if !found {
		return nil, &RecordError{
			Kind: RecordErrorMalformed,
			Msg:  fmt.Sprintf("reply record %q has no kind", line),
		}
	}

	seq, err := strconv.Atoi(seqField)
	if err != nil || seq < 0 {
		return nil, &RecordError{
			Kind: RecordErrorBadSequence,
			Msg:  fmt.Sprintf("reply record has bad sequence %q", seqField),
			Err:  err,
		}
	}

	kindField, payload, _ := strings.Cut(rest, " ")
	kind := types.ReplyKind(kindField)
	if !kind.Valid() {
		return nil, &RecordError{
			Kind: RecordErrorBadKind,
			Msg:  fmt.Sprintf("reply record has unknown kind %q", kindField),
		}
	}

	return &types.Reply{Sequence: seq, Kind: kind, Payload: payload}, nil
}
