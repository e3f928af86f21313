// Package metrics provides per-session counters for the executor loop.
//
// The Collector accumulates counters during a single session. It is a leaf
// package with no internal dependencies. All increment methods are
// nil-receiver safe so callers can run without metrics wired.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of session counters.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Command lifecycle
	CommandsAccepted  int64
	CommandsSucceeded int64
	CommandsFaulted   int64
	DuplicatesIgnored int64
	MalformedPolls    int64

	// Reply file
	RepliesWritten int64

	// Side channels
	JournalFailures int64
	AdapterFailures int64

	// Dimensions (informational, set at construction)
	SessionID string
	Engine    string
}

// Collector accumulates counters during a single executor session.
// Thread-safe via sync.Mutex.
type Collector struct {
	mu sync.Mutex

	commandsAccepted  int64
	commandsSucceeded int64
	commandsFaulted   int64
	duplicatesIgnored int64
	malformedPolls    int64
	repliesWritten    int64
	journalFailures   int64
	adapterFailures   int64

	sessionID string
	engine    string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(sessionID, engine string) *Collector {
	return &Collector{sessionID: sessionID, engine: engine}
}

// IncCommandAccepted records a newly accepted sequence.
func (c *Collector) IncCommandAccepted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.commandsAccepted++
	c.mu.Unlock()
}

// IncCommandSucceeded records a command that reached DONE.
func (c *Collector) IncCommandSucceeded() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.commandsSucceeded++
	c.mu.Unlock()
}

// IncCommandFaulted records a command that reached ERROR.
func (c *Collector) IncCommandFaulted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.commandsFaulted++
	c.mu.Unlock()
}

// IncDuplicateIgnored records a suppressed write of an already-processed
// sequence (a real duplicate, not the idle re-read of an unchanged file).
func (c *Collector) IncDuplicateIgnored() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.duplicatesIgnored++
	c.mu.Unlock()
}

// IncMalformedPoll records a poll that found an unparseable record.
func (c *Collector) IncMalformedPoll() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.malformedPolls++
	c.mu.Unlock()
}

// IncReplyWritten records one appended reply record.
func (c *Collector) IncReplyWritten() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.repliesWritten++
	c.mu.Unlock()
}

// IncJournalFailure records a failed journal append.
func (c *Collector) IncJournalFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.journalFailures++
	c.mu.Unlock()
}

// IncAdapterFailure records a failed adapter publish.
func (c *Collector) IncAdapterFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.adapterFailures++
	c.mu.Unlock()
}

// Snapshot returns an immutable point-in-time view of all counters.
// The Collector can continue to be mutated independently.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		CommandsAccepted:  c.commandsAccepted,
		CommandsSucceeded: c.commandsSucceeded,
		CommandsFaulted:   c.commandsFaulted,
		DuplicatesIgnored: c.duplicatesIgnored,
		MalformedPolls:    c.malformedPolls,
		RepliesWritten:    c.repliesWritten,
		JournalFailures:   c.journalFailures,
		AdapterFailures:   c.adapterFailures,
		SessionID:         c.sessionID,
		Engine:            c.engine,
	}
}
