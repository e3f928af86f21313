package channel

import (
	"fmt"
	"os"

	"github.com/retort-io/retort/types"
)

// ConfigError indicates the channel paths are unusable at startup.
// It is fatal: a missing channel is a configuration error, not a transient
// fault, and initialization is never retried.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("channel path %s unusable: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Init initializes the channel per PROTOCOL.md: the command file is
// truncated to the sequence-0 sentinel record and the reply file is
// truncated to empty, so no stale command from a previous session is ever
// replayed. Must run exactly once, before either loop starts polling.
func Init(commandPath, replyPath string) error {
	cmdFile := NewCommandFile(commandPath)
	sentinel := &types.Command{Sequence: 0, Instruction: types.NoopSentinel}
	if err := cmdFile.Write(sentinel); err != nil {
		return &ConfigError{Path: commandPath, Err: err}
	}

	if err := os.WriteFile(replyPath, nil, 0o644); err != nil {
		return &ConfigError{Path: replyPath, Err: err}
	}
	return nil
}
