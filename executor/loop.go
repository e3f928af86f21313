// Package executor implements the executor side of the file channel.
//
// The loop runs inside the instrument-control process. Each poll it reads
// the command file, accepts any record whose sequence is strictly above the
// session high-water mark, acknowledges it, evaluates the instruction via
// the configured engine, and appends the terminal reply per PROTOCOL.md.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/retort-io/retort/adapter"
	"github.com/retort-io/retort/channel"
	"github.com/retort-io/retort/engine"
	"github.com/retort-io/retort/journal"
	"github.com/retort-io/retort/log"
	"github.com/retort-io/retort/metrics"
	"github.com/retort-io/retort/types"
)

// State is the loop's observable lifecycle state.
type State string

// Loop states. The loop cycles Idle -> Parsing -> Executing -> Reporting ->
// Idle and reaches Stopped exactly once, after the exit sentinel or
// cancellation.
const (
	StateIdle      State = "idle"
	StateParsing   State = "parsing"
	StateExecuting State = "executing"
	StateReporting State = "reporting"
	StateStopped   State = "stopped"
)

// DefaultPollInterval is the default command-file polling interval.
const DefaultPollInterval = 500 * time.Millisecond

// Config configures an executor loop.
type Config struct {
	// CommandPath is the path to the command file (polled).
	CommandPath string
	// ReplyPath is the path to the reply file (appended).
	ReplyPath string
	// PollInterval is the command-file polling interval (default 500ms).
	PollInterval time.Duration
	// Engine evaluates accepted instructions.
	Engine engine.Engine
	// Session is the session identity. If nil, a fresh executor session
	// is created.
	Session *types.SessionMeta
	// Logger is the session logger. If nil, one is created from Session.
	Logger *log.Logger
	// Collector records session counters. If nil, no metrics are
	// recorded (all Collector methods are nil-safe).
	Collector *metrics.Collector
	// Journal receives one ExchangeRecord per completed command.
	// If nil, no transcript is kept. Journal failures never fail the
	// loop.
	Journal *journal.Writer
	// Adapter publishes a completion event per terminal reply.
	// If nil, no events are published. Publish failures never fail the
	// loop.
	Adapter adapter.Adapter
}

// Loop is the executor polling loop. Single-threaded: Run owns all protocol
// state; Mark and State are safe to call concurrently for observation.
type Loop struct {
	config   Config
	session  *types.SessionMeta
	logger   *log.Logger
	commands *channel.CommandFile
	replies  *channel.ReplyWriter

	mu    sync.Mutex
	state State
	mark  int
	// lastAccepted is the sequence of the most recently accepted command.
	// It tracks the mark except after a counter reset, when the reset
	// record still lingers in the command file above the zeroed mark.
	lastAccepted int
	lastStale    int
}

// New creates an executor loop. The reply file is opened for append
// immediately so an unwritable path fails here, not mid-session.
func New(config Config) (*Loop, error) {
	if config.Engine == nil {
		return nil, fmt.Errorf("executor requires an engine")
	}
	if config.CommandPath == "" || config.ReplyPath == "" {
		return nil, fmt.Errorf("executor requires command and reply file paths")
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}

	session := config.Session
	if session == nil {
		session = types.NewSessionMeta(types.RoleExecutor)
	}
	logger := config.Logger
	if logger == nil {
		logger = log.NewLogger(session)
	}

	replies, err := channel.NewReplyWriter(config.ReplyPath)
	if err != nil {
		return nil, fmt.Errorf("open reply file: %w", err)
	}

	return &Loop{
		config:       config,
		session:      session,
		logger:       logger,
		commands:     channel.NewCommandFile(config.CommandPath),
		replies:      replies,
		state:        StateIdle,
		lastAccepted: -1,
		lastStale:    -1,
	}, nil
}

// Mark returns the session high-water mark: the highest sequence accepted
// so far, or zero after a counter reset.
func (l *Loop) Mark() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mark
}

// State returns the loop's current lifecycle state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// Close releases the reply file handle. Safe after Run returns.
func (l *Loop) Close() error {
	return l.replies.Close()
}

// Run polls the command file until the exit sentinel is accepted or ctx is
// canceled. Cancellation is cooperative: an in-flight instruction is
// reported before the loop notices.
//
// Returns nil on clean exit, ctx.Err() on cancellation, and a non-nil error
// only if the reply file becomes unwritable (the channel contract is broken
// and the loop cannot report anything further).
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("executor loop started", map[string]any{
		"command_file":  l.config.CommandPath,
		"reply_file":    l.config.ReplyPath,
		"engine":        l.config.Engine.Name(),
		"poll_interval": l.config.PollInterval.String(),
	})

	ticker := time.NewTicker(l.config.PollInterval)
	defer ticker.Stop()

	for {
		stop, err := l.poll(ctx)
		if err != nil {
			l.setState(StateStopped)
			l.logger.Error("executor loop failed", map[string]any{
				"error": err.Error(),
			})
			return err
		}
		if stop {
			l.stopClean("executor loop stopped")
			return nil
		}

		select {
		case <-ctx.Done():
			l.stopClean("executor loop canceled")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *Loop) stopClean(message string) {
	l.setState(StateStopped)
	snap := l.config.Collector.Snapshot()
	l.logger.Info(message, map[string]any{
		"commands_accepted":  snap.CommandsAccepted,
		"commands_succeeded": snap.CommandsSucceeded,
		"commands_faulted":   snap.CommandsFaulted,
		"duplicates_ignored": snap.DuplicatesIgnored,
	})
}

// poll performs one polling iteration. Returns stop=true after the exit
// sentinel is accepted.
func (l *Loop) poll(ctx context.Context) (stop bool, err error) {
	l.setState(StateParsing)
	defer func() {
		if !stop && err == nil {
			l.setState(StateIdle)
		}
	}()

	cmd, readErr := l.commands.Read()
	if readErr != nil {
		// Missing file, torn write, or malformed record: all mean
		// "no new command yet" per PROTOCOL.md.
		var recErr *channel.RecordError
		if errors.As(readErr, &recErr) && recErr.Kind != channel.RecordErrorEmpty {
			l.config.Collector.IncMalformedPoll()
			l.logger.Debug("malformed command record ignored", map[string]any{
				"error": readErr.Error(),
			})
		}
		return false, nil
	}

	l.mu.Lock()
	mark := l.mark
	lastAccepted := l.lastAccepted
	l.mu.Unlock()

	if cmd.Sequence <= mark || cmd.Sequence == lastAccepted {
		// Stale or already-processed record. The lastAccepted check
		// covers the reset record lingering above a zeroed mark: it
		// was processed once and must not be re-acknowledged. Count
		// each distinct stale write once, not every poll it lingers.
		l.mu.Lock()
		seen := l.lastStale == cmd.Sequence
		l.lastStale = cmd.Sequence
		l.mu.Unlock()
		if !seen && cmd.Sequence != lastAccepted {
			l.config.Collector.IncDuplicateIgnored()
			l.logger.Debug("duplicate command ignored", map[string]any{
				"sequence": cmd.Sequence,
				"mark":     mark,
			})
		}
		return false, nil
	}

	// Accept: advance the mark before any other work so a crash cannot
	// replay the command within this session.
	l.mu.Lock()
	l.mark = cmd.Sequence
	l.lastAccepted = cmd.Sequence
	l.lastStale = -1
	l.mu.Unlock()

	acceptedAt := time.Now().UTC()
	l.config.Collector.IncCommandAccepted()

	if cmd.Instruction == types.ExitSentinel {
		// Exit means silence: no ACK, no terminal record.
		l.logger.Info("exit sentinel accepted", map[string]any{
			"sequence": cmd.Sequence,
		})
		l.journalExchange(cmd, journal.OutcomeExit, "", nil, acceptedAt)
		return true, nil
	}

	// ACK before evaluation per PROTOCOL.md.
	if err := l.reply(cmd.Sequence, types.ReplyAck, ""); err != nil {
		return false, err
	}

	if cmd.Instruction == types.ResetSentinel {
		l.setState(StateReporting)
		if err := l.reply(cmd.Sequence, types.ReplyResult, ""); err != nil {
			return false, err
		}
		if err := l.reply(cmd.Sequence, types.ReplyDone, ""); err != nil {
			return false, err
		}
		l.mu.Lock()
		l.mark = 0
		l.mu.Unlock()
		l.config.Collector.IncCommandSucceeded()
		l.journalExchange(cmd, journal.OutcomeReset, "", nil, acceptedAt)
		l.logger.Info("sequence counter reset", map[string]any{
			"sequence": cmd.Sequence,
		})
		return false, nil
	}

	l.setState(StateExecuting)
	result, evalErr := l.config.Engine.Evaluate(ctx, cmd.Instruction)
	l.setState(StateReporting)

	if evalErr != nil {
		fault := asFault(evalErr)
		diagnostic := fmt.Sprintf("command %d %q: %s: %s",
			cmd.Sequence, cmd.Instruction, fault.Code, fault.Message)
		// ERROR is terminal: no RESULT, no DONE.
		if err := l.reply(cmd.Sequence, types.ReplyError, diagnostic); err != nil {
			return false, err
		}
		l.config.Collector.IncCommandFaulted()
		l.journalExchange(cmd, journal.OutcomeFaulted, "", fault, acceptedAt)
		l.publish(ctx, cmd, journal.OutcomeFaulted, "", fault, acceptedAt)
		l.logger.Warn("instruction faulted", map[string]any{
			"sequence":   cmd.Sequence,
			"fault_code": fault.Code,
			"diagnostic": fault.Message,
		})
		return false, nil
	}

	if err := l.reply(cmd.Sequence, types.ReplyResult, result.Value); err != nil {
		return false, err
	}
	if err := l.reply(cmd.Sequence, types.ReplyDone, ""); err != nil {
		return false, err
	}
	l.config.Collector.IncCommandSucceeded()
	l.journalExchange(cmd, journal.OutcomeDone, result.Value, nil, acceptedAt)
	l.publish(ctx, cmd, journal.OutcomeDone, result.Value, nil, acceptedAt)
	l.logger.Info("instruction completed", map[string]any{
		"sequence": cmd.Sequence,
		"bound":    result.Bound,
		"duration": time.Since(acceptedAt).String(),
	})
	return false, nil
}

func (l *Loop) reply(sequence int, kind types.ReplyKind, payload string) error {
	r := &types.Reply{Sequence: sequence, Kind: kind, Payload: payload}
	if err := l.replies.Append(r); err != nil {
		return fmt.Errorf("append %s reply for sequence %d: %w", kind, sequence, err)
	}
	l.config.Collector.IncReplyWritten()
	return nil
}

func (l *Loop) journalExchange(cmd *types.Command, outcome journal.Outcome, value string, fault *engine.Fault, acceptedAt time.Time) {
	if l.config.Journal == nil {
		return
	}
	rec := &journal.ExchangeRecord{
		SessionID:   l.session.SessionID,
		Sequence:    cmd.Sequence,
		Instruction: cmd.Instruction,
		Outcome:     outcome,
		Value:       value,
		AcceptedAt:  acceptedAt.Format(time.RFC3339Nano),
		DurationMs:  time.Since(acceptedAt).Milliseconds(),
	}
	if fault != nil {
		rec.FaultCode = fault.Code
		rec.Diagnostic = fault.Message
	}
	if err := l.config.Journal.Append(rec); err != nil {
		l.config.Collector.IncJournalFailure()
		l.logger.Warn("journal append failed", map[string]any{
			"sequence": cmd.Sequence,
			"error":    err.Error(),
		})
	}
}

func (l *Loop) publish(ctx context.Context, cmd *types.Command, outcome journal.Outcome, value string, fault *engine.Fault, acceptedAt time.Time) {
	if l.config.Adapter == nil {
		return
	}
	event := &adapter.CommandCompletedEvent{
		Version:     types.Version,
		EventType:   "command_completed",
		SessionID:   l.session.SessionID,
		Sequence:    cmd.Sequence,
		Instruction: cmd.Instruction,
		Outcome:     string(outcome),
		Value:       value,
		Engine:      l.config.Engine.Name(),
		Timestamp:   acceptedAt.Format(time.RFC3339Nano),
		DurationMs:  time.Since(acceptedAt).Milliseconds(),
	}
	if fault != nil {
		event.FaultCode = fault.Code
		event.Diagnostic = fault.Message
	}
	if err := l.config.Adapter.Publish(ctx, event); err != nil {
		l.config.Collector.IncAdapterFailure()
		l.logger.Warn("adapter publish failed (best effort)", map[string]any{
			"sequence": cmd.Sequence,
			"error":    err.Error(),
		})
	}
}

// asFault normalizes any engine error to a *engine.Fault.
func asFault(err error) *engine.Fault {
	var fault *engine.Fault
	if errors.As(err, &fault) {
		return fault
	}
	return &engine.Fault{Code: "engine", Message: err.Error()}
}
