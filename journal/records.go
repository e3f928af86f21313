// Package journal persists a transcript of completed command exchanges.
//
// The executor appends one length-prefixed msgpack frame per completed
// command to a journal file. The journal is a side channel for audit and
// debugging only: the protocol on the reply file is authoritative, and a
// journal failure never fails the loop.
package journal

// Outcome classifies how an exchange ended.
type Outcome string

// Outcome constants.
const (
	OutcomeDone    Outcome = "done"
	OutcomeFaulted Outcome = "faulted"
	OutcomeReset   Outcome = "reset"
	OutcomeExit    Outcome = "exit"
)

// ExchangeRecord is the journal frame payload for one completed exchange.
// All fields use msgpack tags to keep the on-disk format stable across
// refactors.
type ExchangeRecord struct {
	// SessionID is the executor session that processed the command.
	SessionID string `msgpack:"session_id" json:"session_id"`
	// Sequence is the command sequence number.
	Sequence int `msgpack:"sequence" json:"sequence"`
	// Instruction is the raw instruction text.
	Instruction string `msgpack:"instruction" json:"instruction"`
	// Outcome is the exchange outcome discriminator.
	Outcome Outcome `msgpack:"outcome" json:"outcome"`
	// Value is the bound result value, empty unless Outcome is done.
	Value string `msgpack:"value" json:"value"`
	// FaultCode is the engine fault code, empty unless Outcome is faulted.
	FaultCode string `msgpack:"fault_code,omitempty" json:"fault_code,omitempty"`
	// Diagnostic is the ERROR payload, empty unless Outcome is faulted.
	Diagnostic string `msgpack:"diagnostic,omitempty" json:"diagnostic,omitempty"`
	// AcceptedAt is the ISO 8601 UTC time the command was acknowledged.
	AcceptedAt string `msgpack:"accepted_at" json:"accepted_at"`
	// DurationMs is the time from acceptance to the terminal record.
	DurationMs int64 `msgpack:"duration_ms" json:"duration_ms"`
}
