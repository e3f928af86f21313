package executor

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/retort-io/retort/adapter"
	"github.com/retort-io/retort/channel"
	"github.com/retort-io/retort/engine"
	"github.com/retort-io/retort/iox"
	"github.com/retort-io/retort/journal"
	"github.com/retort-io/retort/log"
	"github.com/retort-io/retort/metrics"
	"github.com/retort-io/retort/types"
)

// harness wires a loop onto a freshly initialized temp channel.
type harness struct {
	loop      *Loop
	commands  *channel.CommandFile
	collector *metrics.Collector
	cmdPath   string
	replyPath string
}

func newHarness(t *testing.T, eng engine.Engine, opts ...func(*Config)) *harness {
	t.Helper()
	dir := t.TempDir()
	cmdPath := filepath.Join(dir, "command.txt")
	replyPath := filepath.Join(dir, "reply.txt")
	if err := channel.Init(cmdPath, replyPath); err != nil {
		t.Fatalf("init channel: %v", err)
	}

	session := types.NewSessionMeta(types.RoleExecutor)
	collector := metrics.NewCollector(session.SessionID, eng.Name())
	config := Config{
		CommandPath: cmdPath,
		ReplyPath:   replyPath,
		Engine:      eng,
		Session:     session,
		Logger:      log.NewLogger(session).WithOutput(io.Discard),
		Collector:   collector,
	}
	for _, opt := range opts {
		opt(&config)
	}

	loop, err := New(config)
	if err != nil {
		t.Fatalf("new loop: %v", err)
	}
	t.Cleanup(iox.CloseFunc(loop))

	return &harness{
		loop:      loop,
		commands:  channel.NewCommandFile(cmdPath),
		collector: collector,
		cmdPath:   cmdPath,
		replyPath: replyPath,
	}
}

func (h *harness) send(t *testing.T, sequence int, instruction string) {
	t.Helper()
	if err := h.commands.Write(&types.Command{Sequence: sequence, Instruction: instruction}); err != nil {
		t.Fatalf("write command %d: %v", sequence, err)
	}
}

func (h *harness) poll(t *testing.T) bool {
	t.Helper()
	stop, err := h.loop.poll(t.Context())
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	return stop
}

func (h *harness) replies(t *testing.T) []*types.Reply {
	t.Helper()
	replies, skipped, err := channel.NewReplyReader(h.replyPath).ReadAll()
	if err != nil {
		t.Fatalf("read replies: %v", err)
	}
	if skipped != 0 {
		t.Fatalf("reply file has %d malformed records", skipped)
	}
	return replies
}

func assertHandshake(t *testing.T, replies []*types.Reply, sequence int, value string) {
	t.Helper()
	got := channel.RepliesFor(replies, sequence)
	if len(got) != 3 {
		t.Fatalf("sequence %d: got %d replies, want 3 (ACK, RESULT, DONE)", sequence, len(got))
	}
	if got[0].Kind != types.ReplyAck {
		t.Errorf("first reply = %s, want ACK", got[0].Kind)
	}
	if got[1].Kind != types.ReplyResult || got[1].Payload != value {
		t.Errorf("second reply = %s %q, want RESULT %q", got[1].Kind, got[1].Payload, value)
	}
	if got[2].Kind != types.ReplyDone {
		t.Errorf("third reply = %s, want DONE", got[2].Kind)
	}
}

func TestLoop_SuccessHandshake(t *testing.T) {
	eng := engine.NewStub().Bind("Measure", "42")
	h := newHarness(t, eng)

	h.send(t, 1, "Measure")
	if stop := h.poll(t); stop {
		t.Fatal("poll reported stop for an ordinary command")
	}

	assertHandshake(t, h.replies(t), 1, "42")
	if h.loop.Mark() != 1 {
		t.Errorf("mark = %d, want 1", h.loop.Mark())
	}
	snap := h.collector.Snapshot()
	if snap.CommandsAccepted != 1 || snap.CommandsSucceeded != 1 {
		t.Errorf("snapshot = %+v, want 1 accepted 1 succeeded", snap)
	}
}

func TestLoop_UnboundResultIsEmpty(t *testing.T) {
	h := newHarness(t, engine.NewStub())

	h.send(t, 1, "PumpAll ON")
	h.poll(t)

	assertHandshake(t, h.replies(t), 1, "")
}

func TestLoop_DuplicateSuppressed(t *testing.T) {
	eng := engine.NewStub()
	h := newHarness(t, eng)

	h.send(t, 1, "PumpAll ON")
	h.poll(t)

	// The same record lingers in the command file until the client
	// overwrites it. Further polls must not re-execute it.
	h.poll(t)
	h.poll(t)

	if calls := eng.Calls(); len(calls) != 1 {
		t.Fatalf("engine evaluated %d times, want 1", len(calls))
	}
	if got := h.replies(t); len(got) != 3 {
		t.Fatalf("got %d replies, want 3", len(got))
	}
}

func TestLoop_StrictlyGreaterAcceptance(t *testing.T) {
	eng := engine.NewStub()
	h := newHarness(t, eng)

	h.send(t, 5, "first")
	h.poll(t)

	// A rewind below the high-water mark is ignored, even though the
	// record itself is fresh.
	h.send(t, 3, "stale")
	h.poll(t)
	h.poll(t)

	h.send(t, 6, "second")
	h.poll(t)

	calls := eng.Calls()
	if len(calls) != 2 || calls[0] != "first" || calls[1] != "second" {
		t.Fatalf("engine calls = %v, want [first second]", calls)
	}
	snap := h.collector.Snapshot()
	if snap.DuplicatesIgnored != 1 {
		t.Errorf("duplicates ignored = %d, want 1 (stale write counted once)", snap.DuplicatesIgnored)
	}
}

func TestLoop_AckPrecedesEvaluation(t *testing.T) {
	probe := &ackProbe{}
	h := newHarness(t, probe)
	probe.check = func() bool {
		replies, _, err := channel.NewReplyReader(h.replyPath).ReadAll()
		if err != nil {
			return false
		}
		got := channel.RepliesFor(replies, 1)
		return len(got) == 1 && got[0].Kind == types.ReplyAck
	}

	h.send(t, 1, "anything")
	h.poll(t)

	if !probe.sawAck {
		t.Fatal("ACK was not on the reply file when evaluation began")
	}
}

// ackProbe is an engine that inspects the reply file from inside Evaluate.
type ackProbe struct {
	check  func() bool
	sawAck bool
}

func (p *ackProbe) Name() string { return "probe" }

func (p *ackProbe) Evaluate(context.Context, string) (engine.Result, error) {
	p.sawAck = p.check()
	return engine.Result{}, nil
}

func TestLoop_FaultIsolation(t *testing.T) {
	eng := engine.NewStub().
		FailWith("Inject BadVial", "EvalError", "vial 99 not found").
		Bind("Inject Vial1", "ok")
	h := newHarness(t, eng)

	h.send(t, 1, "Inject BadVial")
	h.poll(t)

	replies := h.replies(t)
	got := channel.RepliesFor(replies, 1)
	if len(got) != 2 {
		t.Fatalf("faulted sequence: got %d replies, want 2 (ACK, ERROR)", len(got))
	}
	if got[0].Kind != types.ReplyAck || got[1].Kind != types.ReplyError {
		t.Fatalf("replies = %s, %s; want ACK, ERROR", got[0].Kind, got[1].Kind)
	}
	for _, want := range []string{"1", "Inject BadVial", "EvalError", "vial 99 not found"} {
		if !strings.Contains(got[1].Payload, want) {
			t.Errorf("diagnostic %q missing %q", got[1].Payload, want)
		}
	}

	// The loop survives the fault and processes the next command.
	h.send(t, 2, "Inject Vial1")
	h.poll(t)
	assertHandshake(t, h.replies(t), 2, "ok")

	snap := h.collector.Snapshot()
	if snap.CommandsFaulted != 1 || snap.CommandsSucceeded != 1 {
		t.Errorf("snapshot = %+v, want 1 faulted 1 succeeded", snap)
	}
}

func TestLoop_OpaqueErrorBecomesEngineFault(t *testing.T) {
	h := newHarness(t, &opaqueFailEngine{})

	h.send(t, 1, "anything")
	h.poll(t)

	got := channel.RepliesFor(h.replies(t), 1)
	if len(got) != 2 || got[1].Kind != types.ReplyError {
		t.Fatalf("replies = %v, want ACK then ERROR", got)
	}
	if !strings.Contains(got[1].Payload, "engine") {
		t.Errorf("diagnostic %q missing fallback fault code", got[1].Payload)
	}
}

type opaqueFailEngine struct{}

func (*opaqueFailEngine) Name() string { return "opaque" }

func (*opaqueFailEngine) Evaluate(context.Context, string) (engine.Result, error) {
	return engine.Result{}, os.ErrDeadlineExceeded
}

func TestLoop_ExitProducesSilence(t *testing.T) {
	eng := engine.NewStub()
	h := newHarness(t, eng)

	h.send(t, 1, "warmup")
	h.poll(t)
	before := len(h.replies(t))

	h.send(t, 2, types.ExitSentinel)
	if stop := h.poll(t); !stop {
		t.Fatal("poll did not report stop for the exit sentinel")
	}

	if after := len(h.replies(t)); after != before {
		t.Errorf("exit appended %d reply records, want none", after-before)
	}
	if calls := eng.Calls(); len(calls) != 1 {
		t.Errorf("exit sentinel reached the engine: calls = %v", calls)
	}
}

func TestLoop_CounterReset(t *testing.T) {
	eng := engine.NewStub()
	h := newHarness(t, eng)

	h.send(t, 255, "last ordinary command")
	h.poll(t)

	h.send(t, 256, types.ResetSentinel)
	h.poll(t)

	assertHandshake(t, h.replies(t), 256, "")
	if h.loop.Mark() != 0 {
		t.Fatalf("mark = %d after reset, want 0", h.loop.Mark())
	}
	if calls := eng.Calls(); len(calls) != 1 {
		t.Errorf("reset sentinel reached the engine: calls = %v", calls)
	}

	// The reset record lingers in the command file above the zeroed mark
	// until the client writes again. Further polls must not re-accept it.
	h.poll(t)
	h.poll(t)
	if got := channel.RepliesFor(h.replies(t), 256); len(got) != 3 {
		t.Fatalf("lingering reset record re-acknowledged: %d replies for 256, want 3", len(got))
	}
	if h.loop.Mark() != 0 {
		t.Fatalf("mark = %d after re-polling the reset record, want 0", h.loop.Mark())
	}
	if snap := h.collector.Snapshot(); snap.CommandsAccepted != 2 {
		t.Errorf("commands accepted = %d, want 2", snap.CommandsAccepted)
	}

	// The sequence space is reusable after the reset.
	h.send(t, 1, "fresh start")
	h.poll(t)
	if calls := eng.Calls(); len(calls) != 2 {
		t.Fatalf("post-reset command not evaluated: calls = %v", calls)
	}
}

func TestLoop_MalformedRecordTolerated(t *testing.T) {
	eng := engine.NewStub()
	h := newHarness(t, eng)

	if err := os.WriteFile(h.cmdPath, []byte("not a command record\n"), 0o644); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	h.poll(t)

	if got := h.replies(t); len(got) != 0 {
		t.Fatalf("malformed record produced %d replies", len(got))
	}
	if snap := h.collector.Snapshot(); snap.MalformedPolls != 1 {
		t.Errorf("malformed polls = %d, want 1", snap.MalformedPolls)
	}

	// Recovery: the next well-formed record is processed normally.
	h.send(t, 1, "recovered")
	h.poll(t)
	if calls := eng.Calls(); len(calls) != 1 || calls[0] != "recovered" {
		t.Fatalf("engine calls = %v, want [recovered]", calls)
	}
}

func TestLoop_TornWriteInvisible(t *testing.T) {
	eng := engine.NewStub()
	h := newHarness(t, eng)

	// No trailing newline: the writer may still be mid-write.
	if err := os.WriteFile(h.cmdPath, []byte("1 Measure"), 0o644); err != nil {
		t.Fatalf("write torn record: %v", err)
	}
	h.poll(t)
	if calls := eng.Calls(); len(calls) != 0 {
		t.Fatal("torn record was executed")
	}

	if err := os.WriteFile(h.cmdPath, []byte("1 Measure\n"), 0o644); err != nil {
		t.Fatalf("complete record: %v", err)
	}
	h.poll(t)
	if calls := eng.Calls(); len(calls) != 1 {
		t.Fatal("completed record was not executed")
	}
}

func TestLoop_JournalTranscript(t *testing.T) {
	dir := t.TempDir()
	journalPath := filepath.Join(dir, "journal.bin")
	writer, err := journal.NewWriter(journalPath)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(iox.CloseFunc(writer))

	eng := engine.NewStub().
		Bind("Measure", "42").
		FailWith("Break", "EvalError", "boom")
	h := newHarness(t, eng, func(c *Config) { c.Journal = writer })

	h.send(t, 1, "Measure")
	h.poll(t)
	h.send(t, 2, "Break")
	h.poll(t)
	h.send(t, 3, types.ExitSentinel)
	h.poll(t)

	records, err := journal.ReadAll(journalPath)
	if err != nil {
		t.Fatalf("read journal: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d journal records, want 3", len(records))
	}
	if records[0].Outcome != journal.OutcomeDone || records[0].Value != "42" {
		t.Errorf("record 0 = %+v, want done with value 42", records[0])
	}
	if records[1].Outcome != journal.OutcomeFaulted || records[1].FaultCode != "EvalError" {
		t.Errorf("record 1 = %+v, want faulted EvalError", records[1])
	}
	if records[2].Outcome != journal.OutcomeExit {
		t.Errorf("record 2 = %+v, want exit", records[2])
	}
}

// captureAdapter records published events; fails every publish when broken.
type captureAdapter struct {
	events []*adapter.CommandCompletedEvent
	broken bool
}

func (a *captureAdapter) Publish(_ context.Context, event *adapter.CommandCompletedEvent) error {
	if a.broken {
		return os.ErrClosed
	}
	a.events = append(a.events, event)
	return nil
}

func (a *captureAdapter) Close() error { return nil }

func TestLoop_AdapterEvents(t *testing.T) {
	capture := &captureAdapter{}
	eng := engine.NewStub().
		Bind("Measure", "42").
		FailWith("Break", "EvalError", "boom")
	h := newHarness(t, eng, func(c *Config) { c.Adapter = capture })

	h.send(t, 1, "Measure")
	h.poll(t)
	h.send(t, 2, "Break")
	h.poll(t)

	if len(capture.events) != 2 {
		t.Fatalf("got %d events, want 2", len(capture.events))
	}
	if capture.events[0].Outcome != "done" || capture.events[0].Value != "42" {
		t.Errorf("event 0 = %+v, want done with value 42", capture.events[0])
	}
	if capture.events[1].Outcome != "faulted" || capture.events[1].FaultCode != "EvalError" {
		t.Errorf("event 1 = %+v, want faulted EvalError", capture.events[1])
	}
	if capture.events[0].EventType != "command_completed" {
		t.Errorf("event type = %q", capture.events[0].EventType)
	}
}

func TestLoop_AdapterFailureDoesNotFailLoop(t *testing.T) {
	h := newHarness(t, engine.NewStub(), func(c *Config) {
		c.Adapter = &captureAdapter{broken: true}
	})

	h.send(t, 1, "Measure")
	h.poll(t)

	assertHandshake(t, h.replies(t), 1, "")
	if snap := h.collector.Snapshot(); snap.AdapterFailures != 1 {
		t.Errorf("adapter failures = %d, want 1", snap.AdapterFailures)
	}
}

func TestLoop_RunStopsOnExit(t *testing.T) {
	h := newHarness(t, engine.NewStub(), func(c *Config) {
		c.PollInterval = 5 * time.Millisecond
	})

	done := make(chan error, 1)
	go func() {
		done <- h.loop.Run(t.Context())
	}()

	h.send(t, 1, "warmup")
	h.send(t, 2, types.ExitSentinel)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v, want nil on clean exit", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after the exit sentinel")
	}
	if h.loop.State() != StateStopped {
		t.Errorf("state = %s, want stopped", h.loop.State())
	}
}

func TestLoop_RunStopsOnCancel(t *testing.T) {
	h := newHarness(t, engine.NewStub(), func(c *Config) {
		c.PollInterval = 5 * time.Millisecond
	})

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() {
		done <- h.loop.Run(ctx)
	}()

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("run returned %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancellation")
	}
}

func TestNew_Validation(t *testing.T) {
	dir := t.TempDir()
	if _, err := New(Config{CommandPath: filepath.Join(dir, "c"), ReplyPath: filepath.Join(dir, "r")}); err == nil {
		t.Error("New accepted a config without an engine")
	}
	if _, err := New(Config{Engine: engine.NewStub()}); err == nil {
		t.Error("New accepted a config without channel paths")
	}
}
