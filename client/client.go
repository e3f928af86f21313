// Package client implements the client driver side of the file channel.
//
// The driver runs inside the automation process. It allocates monotonically
// increasing sequence numbers, writes command records, and polls the reply
// file until it observes the full handshake for the sequence it issued, per
// PROTOCOL.md. A timeout is an unknown outcome, not a failure: the executor
// may still complete the instruction, and the caller owns any retry policy.
package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/retort-io/retort/channel"
	"github.com/retort-io/retort/log"
	"github.com/retort-io/retort/types"
)

// Default driver timings.
const (
	// DefaultPollInterval is the reply-file polling interval.
	DefaultPollInterval = 100 * time.Millisecond
	// DefaultAckTimeout bounds the wait for the ACK record.
	DefaultAckTimeout = 10 * time.Second
	// DefaultExecTimeout bounds the wait from ACK to the terminal record.
	DefaultExecTimeout = 60 * time.Second
	// DefaultSendRetries is the number of command write retries.
	DefaultSendRetries = 3
)

// sendBackoff is the pause between command write attempts.
const sendBackoff = 50 * time.Millisecond

// ErrClosed is returned by Submit after Shutdown.
var ErrClosed = errors.New("client: session closed")

// TimeoutPhase identifies which wait a TimeoutError interrupted.
type TimeoutPhase string

// Timeout phases.
const (
	// PhaseAck means the executor never acknowledged the command.
	PhaseAck TimeoutPhase = "ack"
	// PhaseExecution means the command was acknowledged but no terminal
	// record arrived in time.
	PhaseExecution TimeoutPhase = "execution"
)

// TimeoutError reports an expired wait. The outcome of the command is
// unknown: the executor loop cannot be interrupted and may still complete
// the instruction after the driver stops waiting.
type TimeoutError struct {
	// Phase is the wait that expired.
	Phase TimeoutPhase
	// Sequence is the command that went unanswered.
	Sequence int
	// Elapsed is how long the driver waited.
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("client: timed out in %s phase for sequence %d after %s",
		e.Phase, e.Sequence, e.Elapsed)
}

// IsTimeout returns true if err is a *TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// ExecutionFault reports an ERROR reply: the executor accepted the command
// and the engine raised a runtime fault evaluating it.
type ExecutionFault struct {
	// Sequence is the faulted command.
	Sequence int
	// Instruction is the submitted instruction text.
	Instruction string
	// Code is the engine fault code extracted from the diagnostic,
	// empty if the diagnostic does not carry one.
	Code string
	// Diagnostic is the full ERROR payload.
	Diagnostic string
}

func (e *ExecutionFault) Error() string {
	return fmt.Sprintf("client: execution fault for sequence %d: %s", e.Sequence, e.Diagnostic)
}

// Config configures a client driver.
type Config struct {
	// CommandPath is the path to the command file (overwritten).
	CommandPath string
	// ReplyPath is the path to the reply file (polled).
	ReplyPath string
	// PollInterval is the reply-file polling interval (default 100ms).
	PollInterval time.Duration
	// AckTimeout bounds the wait for ACK (default 10s).
	AckTimeout time.Duration
	// ExecTimeout bounds the wait from ACK to DONE or ERROR (default 60s).
	ExecTimeout time.Duration
	// SendRetries is the number of command write retries (default 3).
	SendRetries int
	// Session is the session identity. If nil, a fresh client session
	// is created.
	Session *types.SessionMeta
	// Logger is the session logger. If nil, one is created from Session.
	Logger *log.Logger
}

// Client is the client driver. Submit, Reset and Shutdown serialize on an
// internal mutex: the protocol allows one in-flight command per channel.
type Client struct {
	config   Config
	session  *types.SessionMeta
	logger   *log.Logger
	commands *channel.CommandFile
	replies  *channel.ReplyReader

	mu     sync.Mutex
	seq    int
	closed bool
}

// New creates a client driver for an already-initialized channel.
func New(config Config) (*Client, error) {
	if config.CommandPath == "" || config.ReplyPath == "" {
		return nil, fmt.Errorf("client requires command and reply file paths")
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.AckTimeout <= 0 {
		config.AckTimeout = DefaultAckTimeout
	}
	if config.ExecTimeout <= 0 {
		config.ExecTimeout = DefaultExecTimeout
	}
	if config.SendRetries < 0 {
		return nil, fmt.Errorf("send retries must be >= 0, got %d", config.SendRetries)
	}
	if config.SendRetries == 0 {
		config.SendRetries = DefaultSendRetries
	}

	session := config.Session
	if session == nil {
		session = types.NewSessionMeta(types.RoleClient)
	}
	logger := config.Logger
	if logger == nil {
		logger = log.NewLogger(session)
	}

	return &Client{
		config:   config,
		session:  session,
		logger:   logger,
		commands: channel.NewCommandFile(config.CommandPath),
		replies:  channel.NewReplyReader(config.ReplyPath),
	}, nil
}

// Sequence returns the last allocated sequence number.
func (c *Client) Sequence() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Resume sets the allocation point so the next Submit uses seq+1. Used by
// one-shot callers that continue a session started by an earlier process;
// seq must be the highest sequence already accepted by the executor.
func (c *Client) Resume(seq int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seq > c.seq {
		c.seq = seq
	}
}

// Submit writes one instruction and blocks until its handshake completes.
//
// Returns the bound result value (possibly empty) on DONE, an
// *ExecutionFault on ERROR, and a *TimeoutError when a wait expires.
// There is no fourth outcome. Reserved instructions are rejected: use
// Shutdown for the exit sentinel; counter resets are automatic.
func (c *Client) Submit(ctx context.Context, instruction string) (string, error) {
	if (&types.Command{Instruction: instruction}).Reserved() {
		return "", fmt.Errorf("client: %q is a reserved instruction", instruction)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", ErrClosed
	}

	// The sequence space is bounded: wrap by resetting the executor's
	// high-water mark before reusing low numbers.
	if c.seq >= types.MaxSequence {
		if err := c.resetLocked(ctx); err != nil {
			return "", err
		}
	}
	c.seq++
	return c.exchange(ctx, c.seq, instruction)
}

// Reset instructs the executor to reset its high-water mark to zero and
// restarts local allocation from 1. Submit performs this automatically at
// the end of the sequence space.
func (c *Client) Reset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return c.resetLocked(ctx)
}

// resetLocked issues the reset sentinel one past the current sequence and
// waits for its handshake. Caller holds c.mu.
func (c *Client) resetLocked(ctx context.Context) error {
	resetSeq := c.seq + 1
	if _, err := c.exchange(ctx, resetSeq, types.ResetSentinel); err != nil {
		return fmt.Errorf("counter reset at sequence %d: %w", resetSeq, err)
	}
	c.seq = 0
	c.logger.Info("sequence counter reset", map[string]any{
		"reset_sequence": resetSeq,
	})
	return nil
}

// Shutdown writes the exit sentinel as the session's final command and
// closes the client. Exit produces no reply records, so there is nothing to
// wait for; the executor stops after it polls the sentinel.
func (c *Client) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}

	c.seq++
	cmd := &types.Command{Sequence: c.seq, Instruction: types.ExitSentinel}
	if err := c.send(ctx, cmd); err != nil {
		return err
	}
	c.closed = true
	c.logger.Info("exit sentinel sent", map[string]any{
		"sequence": cmd.Sequence,
	})
	return nil
}

// exchange sends one command and waits for its handshake. Caller holds c.mu.
func (c *Client) exchange(ctx context.Context, sequence int, instruction string) (string, error) {
	// The reply file is append-only, so a sequence reused after a counter
	// reset still has the previous epoch's records in it. Snapshot how
	// many this sequence already has; await honors only records appended
	// after the send.
	existing, _, err := c.replies.ReadAll()
	if err != nil {
		return "", fmt.Errorf("poll reply file: %w", err)
	}
	stale := len(channel.RepliesFor(existing, sequence))

	cmd := &types.Command{Sequence: sequence, Instruction: instruction}
	if err := c.send(ctx, cmd); err != nil {
		return "", err
	}
	return c.await(ctx, cmd, stale)
}

// send writes the command record with bounded retries. A transient write
// failure (the executor host momentarily holding the file) resolves on a
// later attempt; a persistent one surfaces after the last retry.
func (c *Client) send(ctx context.Context, cmd *types.Command) error {
	attempts := 1 + c.config.SendRetries
	var lastErr error
	for i := range attempts {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(sendBackoff):
			}
		}
		if lastErr = c.commands.Write(cmd); lastErr == nil {
			return nil
		}
		c.logger.Warn("command write failed", map[string]any{
			"sequence": cmd.Sequence,
			"attempt":  i + 1,
			"error":    lastErr.Error(),
		})
	}
	return fmt.Errorf("send command %d after %d attempts: %w", cmd.Sequence, attempts, lastErr)
}

// await polls the reply file until the handshake for cmd completes or a
// phase deadline expires. The first stale records for this sequence are
// ignored: they belong to an earlier epoch of the sequence space.
func (c *Client) await(ctx context.Context, cmd *types.Command, stale int) (string, error) {
	start := time.Now()
	ackSeen := false
	var ackAt time.Time

	ticker := time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()

	for {
		replies, skipped, err := c.replies.ReadAll()
		if err != nil {
			return "", fmt.Errorf("poll reply file: %w", err)
		}
		if skipped > 0 {
			c.logger.Debug("skipped malformed reply records", map[string]any{
				"count": skipped,
			})
		}

		mine := channel.RepliesFor(replies, cmd.Sequence)
		if len(mine) <= stale {
			mine = nil
		} else {
			mine = mine[stale:]
		}
		value := ""
		for _, r := range mine {
			switch r.Kind {
			case types.ReplyAck:
				if !ackSeen {
					ackSeen = true
					ackAt = time.Now()
				}
			case types.ReplyResult:
				value = r.Payload
			case types.ReplyDone:
				return value, nil
			case types.ReplyError:
				return "", &ExecutionFault{
					Sequence:    cmd.Sequence,
					Instruction: cmd.Instruction,
					Code:        faultCode(r.Payload),
					Diagnostic:  r.Payload,
				}
			}
		}

		if !ackSeen && time.Since(start) > c.config.AckTimeout {
			return "", &TimeoutError{
				Phase:    PhaseAck,
				Sequence: cmd.Sequence,
				Elapsed:  time.Since(start),
			}
		}
		if ackSeen && time.Since(ackAt) > c.config.ExecTimeout {
			return "", &TimeoutError{
				Phase:    PhaseExecution,
				Sequence: cmd.Sequence,
				Elapsed:  time.Since(start),
			}
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

// faultCode extracts the engine fault code from an ERROR diagnostic of the
// form `command <seq> "<instruction>": <code>: <message>`. Best effort:
// returns empty for any other shape.
func faultCode(diagnostic string) string {
	_, rest, found := strings.Cut(diagnostic, `": `)
	if !found {
		return ""
	}
	code, _, found := strings.Cut(rest, ":")
	if !found {
		return ""
	}
	return strings.TrimSpace(code)
}
