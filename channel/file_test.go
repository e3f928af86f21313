package channel

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/text/encoding/unicode"

	"github.com/retort-io/retort/iox"
	"github.com/retort-io/retort/types"
)

func tempChannel(t *testing.T) (cmdPath, replyPath string) {
	t.Helper()
	dir := t.TempDir()
	return filepath.Join(dir, "cmd"), filepath.Join(dir, "reply")
}

func TestCommandFile_OverwriteSemantics(t *testing.T) {
	cmdPath, _ := tempChannel(t)
	f := NewCommandFile(cmdPath)

	if err := f.Write(&types.Command{Sequence: 1, Instruction: "first"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := f.Write(&types.Command{Sequence: 2, Instruction: "second command"}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := f.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.Sequence != 2 || got.Instruction != "second command" {
		t.Errorf("Read = %+v, want sequence 2 %q", got, "second command")
	}

	// The file holds exactly one record.
	data, err := os.ReadFile(cmdPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "2 second command\n" {
		t.Errorf("file content = %q, want %q", data, "2 second command\n")
	}
}

func TestCommandFile_ReadMissingFile(t *testing.T) {
	cmdPath, _ := tempChannel(t)
	f := NewCommandFile(cmdPath)

	_, err := f.Read()
	if !IsRecordError(err) {
		t.Errorf("Read on missing file = %v, want *RecordError", err)
	}
}

func TestCommandFile_TornWriteInvisible(t *testing.T) {
	cmdPath, _ := tempChannel(t)

	// A record without its terminating newline is a write in progress.
	if err := os.WriteFile(cmdPath, []byte("3 PumpAll O"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err := NewCommandFile(cmdPath).Read()
	if !IsRecordError(err) {
		t.Errorf("Read of torn record = %v, want *RecordError", err)
	}
}

func TestReplyFile_AppendAndReadAll(t *testing.T) {
	_, replyPath := tempChannel(t)

	w, err := NewReplyWriter(replyPath)
	if err != nil {
		t.Fatalf("NewReplyWriter: %v", err)
	}
	t.Cleanup(iox.CloseFunc(w))

	records := []*types.Reply{
		{Sequence: 1, Kind: types.ReplyAck},
		{Sequence: 1, Kind: types.ReplyResult, Payload: "42"},
		{Sequence: 1, Kind: types.ReplyDone},
		{Sequence: 2, Kind: types.ReplyAck},
		{Sequence: 2, Kind: types.ReplyError, Payload: "it broke"},
	}
	for _, r := range records {
		if err := w.Append(r); err != nil {
			t.Fatalf("Append %+v: %v", r, err)
		}
	}

	replies, skipped, err := NewReplyReader(replyPath).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if skipped != 0 {
		t.Errorf("skipped = %d, want 0", skipped)
	}
	if len(replies) != len(records) {
		t.Fatalf("len(replies) = %d, want %d", len(replies), len(records))
	}
	for i, r := range replies {
		if *r != *records[i] {
			t.Errorf("replies[%d] = %+v, want %+v", i, r, records[i])
		}
	}

	forTwo := RepliesFor(replies, 2)
	if len(forTwo) != 2 || forTwo[1].Kind != types.ReplyError {
		t.Errorf("RepliesFor(2) = %+v, want ACK then ERROR", forTwo)
	}
}

func TestReplyFile_TornTrailingLineInvisible(t *testing.T) {
	_, replyPath := tempChannel(t)

	content := "1 ACK\n1 RESULT 42\n1 DON"
	if err := os.WriteFile(replyPath, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	replies, skipped, err := NewReplyReader(replyPath).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(replies) != 2 {
		t.Fatalf("len(replies) = %d, want 2 (torn line invisible)", len(replies))
	}
	if skipped != 0 {
		t.Errorf("skipped = %d, want 0", skipped)
	}
}

func TestReplyFile_MalformedLinesSkipped(t *testing.T) {
	_, replyPath := tempChannel(t)

	content := "1 ACK\ngarbage line\n1 DONE\n"
	if err := os.WriteFile(replyPath, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	replies, skipped, err := NewReplyReader(replyPath).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(replies) != 2 {
		t.Errorf("len(replies) = %d, want 2", len(replies))
	}
	if skipped != 1 {
		t.Errorf("skipped = %d, want 1", skipped)
	}
}

// The legacy instrument application writes the reply file in UTF-16 with a
// BOM. The reader must decode it transparently.
func TestReplyFile_UTF16Decoded(t *testing.T) {
	_, replyPath := tempChannel(t)

	encoder := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder()
	encoded, err := encoder.Bytes([]byte("7 ACK\n7 RESULT PRERUN\n7 DONE\n"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := os.WriteFile(replyPath, encoded, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	replies, _, err := NewReplyReader(replyPath).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(replies) != 3 {
		t.Fatalf("len(replies) = %d, want 3", len(replies))
	}
	if replies[1].Payload != "PRERUN" {
		t.Errorf("RESULT payload = %q, want %q", replies[1].Payload, "PRERUN")
	}
}

func TestInit(t *testing.T) {
	cmdPath, replyPath := tempChannel(t)

	// Stale state from a previous session.
	if err := os.WriteFile(cmdPath, []byte("9 RunMethod\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.WriteFile(replyPath, []byte("9 ACK\n9 DONE\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := Init(cmdPath, replyPath); err != nil {
		t.Fatalf("Init: %v", err)
	}

	cmd, err := NewCommandFile(cmdPath).Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if cmd.Sequence != 0 || cmd.Instruction != types.NoopSentinel {
		t.Errorf("command = %+v, want sequence 0 %s", cmd, types.NoopSentinel)
	}

	replies, _, err := NewReplyReader(replyPath).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(replies) != 0 {
		t.Errorf("reply file not emptied: %+v", replies)
	}
}

func TestInit_UnwritablePathFailsLoudly(t *testing.T) {
	dir := t.TempDir()
	// A directory cannot be truncated as a command file.
	err := Init(dir, filepath.Join(dir, "reply"))
	if err == nil {
		t.Fatal("Init accepted an unwritable command path")
	}
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Init error = %T, want *ConfigError", err)
	}
}
