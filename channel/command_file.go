package channel

import (
	"fmt"
	"os"
	"strings"

	"github.com/retort-io/retort/iox"
	"github.com/retort-io/retort/types"
)

// CommandFile is the client-written, executor-read half of the channel.
// It holds exactly the most recently written record: writes truncate,
// they never append.
type CommandFile struct {
	path string
}

// NewCommandFile creates a command file handle for the given path.
func NewCommandFile(path string) *CommandFile {
	return &CommandFile{path: path}
}

// Path returns the underlying file path.
func (f *CommandFile) Path() string {
	return f.path
}

// Write overwrites the file with a single command record.
// The write is flushed before returning so a poller on the other side sees
// either the old record or the complete new one.
func (f *CommandFile) Write(cmd *types.Command) error {
	if err := cmd.Validate(); err != nil {
		return fmt.Errorf("invalid command: %w", err)
	}

	file, err := os.OpenFile(f.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open command file %s: %w", f.path, err)
	}
	defer iox.DiscardClose(file)

	if _, err := file.WriteString(EncodeCommand(cmd) + "\n"); err != nil {
		return fmt.Errorf("write command file %s: %w", f.path, err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("sync command file %s: %w", f.path, err)
	}
	return nil
}

// Read reads and parses the single live command record.
// A missing file, a torn record, or any parse failure surfaces as a
// *RecordError: the poll loop treats all of these as "no new command yet".
func (f *CommandFile) Read() (*types.Command, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, &RecordError{
			Kind: RecordErrorEmpty,
			Msg:  fmt.Sprintf("command file %s unreadable", f.path),
			Err:  err,
		}
	}

	content := string(data)
	// Only a newline-terminated record is complete; a writer may be
	// mid-write otherwise.
	idx := strings.IndexByte(content, '\n')
	if idx < 0 {
		return nil, &RecordError{
			Kind: RecordErrorEmpty,
			Msg:  "command record not yet terminated",
		}
	}

	return ParseCommand(content[:idx])
}
