// Package adapter defines the completion-notification boundary.
//
// Adapters publish command completion notifications to downstream systems
// (a LIMS, a scheduler, a dashboard). The executor loop owns adapter
// lifecycle; publishing is best-effort and never affects the reply file,
// which stays the authoritative protocol surface.
package adapter

import "context"

// CommandCompletedEvent is the payload published when a command reaches its
// terminal reply record.
type CommandCompletedEvent struct {
	Version     string `json:"version"`
	EventType   string `json:"event_type"` // always "command_completed"
	SessionID   string `json:"session_id"`
	Sequence    int    `json:"sequence"`
	Instruction string `json:"instruction"`
	Outcome     string `json:"outcome"` // done or faulted
	Value       string `json:"value,omitempty"`
	FaultCode   string `json:"fault_code,omitempty"`
	Diagnostic  string `json:"diagnostic,omitempty"`
	Engine      string `json:"engine"`
	Timestamp   string `json:"timestamp"` // ISO 8601
	DurationMs  int64  `json:"duration_ms"`
}

// Adapter publishes command completion events to a downstream system.
// Implementations must be safe for reuse across a session.
type Adapter interface {
	// Publish sends a completion event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *CommandCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}
