// Package types defines the protocol vocabulary shared by the executor loop
// and the client driver per PROTOCOL.md.
package types

import "fmt"

// ReplyKind is the reply record discriminator per PROTOCOL.md.
type ReplyKind string

// Reply kind constants per PROTOCOL.md.
const (
	ReplyAck    ReplyKind = "ACK"
	ReplyResult ReplyKind = "RESULT"
	ReplyDone   ReplyKind = "DONE"
	ReplyError  ReplyKind = "ERROR"
)

// IsTerminal returns true if this reply kind ends the handshake for its
// sequence. Exactly one terminal record follows every accepted non-exit
// command.
func (k ReplyKind) IsTerminal() bool {
	return k == ReplyDone || k == ReplyError
}

// Valid returns true if k is one of the four protocol reply kinds.
func (k ReplyKind) Valid() bool {
	switch k {
	case ReplyAck, ReplyResult, ReplyDone, ReplyError:
		return true
	}
	return false
}

// Reserved instruction values per PROTOCOL.md. These are handled by the
// executor loop before evaluation and never reach the execution engine.
const (
	// ExitSentinel terminates the executor loop. It produces no reply
	// records at all: exit means silence.
	ExitSentinel = "Exit"

	// ResetSentinel resets the executor's high-water mark to zero. It is
	// replied to like a successful no-value command (ACK, RESULT, DONE).
	ResetSentinel = "ResetCounter"

	// NoopSentinel is the harmless instruction the channel initializer
	// writes at sequence 0. It is never accepted by a fresh executor.
	NoopSentinel = "Noop"
)

// MaxSequence is the highest sequence a client allocates for ordinary
// commands. On reaching it, the client issues a counter reset at
// MaxSequence+1 and starts over at 1.
const MaxSequence = 255

// Command is a command record: one live record in the command file,
// last write wins.
type Command struct {
	// Sequence is the strictly increasing command number, unique per
	// session. Zero is reserved for the initializer sentinel.
	Sequence int
	// Instruction is the opaque string evaluated by the execution engine.
	Instruction string
}

// Validate checks command well-formedness per PROTOCOL.md.
func (c *Command) Validate() error {
	if c.Sequence < 0 {
		return fmt.Errorf("sequence must be >= 0, got %d", c.Sequence)
	}
	if c.Instruction == "" {
		return fmt.Errorf("instruction must not be empty")
	}
	return nil
}

// Reserved returns true if the instruction is one of the reserved values
// the executor handles without consulting the engine.
func (c *Command) Reserved() bool {
	switch c.Instruction {
	case ExitSentinel, ResetSentinel, NoopSentinel:
		return true
	}
	return false
}

// Reply is a single reply record appended by the executor.
type Reply struct {
	// Sequence echoes the command this reply responds to.
	Sequence int
	// Kind is the record discriminator.
	Kind ReplyKind
	// Payload is the result value for RESULT, the diagnostic for ERROR,
	// and empty for ACK and DONE.
	Payload string
}
